// Package build holds information about the binary, set at link time with -ldflags "-X ...".
package build

import "runtime"

var (
	ReleaseVersion = "0.1.0"
	GitCommit      = "none"
	BuildTime      = "unknown"
	GoVersion      = runtime.Version()
)
