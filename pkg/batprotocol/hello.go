package batprotocol

import (
	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"github.com/batsched/batsched/internal/common/edcerrors"
)

// ProtocolVersion is the version of the protocol implemented by this package.
// Peers must agree on the major version.
const ProtocolVersion = "1.0.0"

// Features lists the optional simulation features a decision component may request in its EDCHello.
type Features struct {
	DynamicRegistration               bool `json:"dynamic_registration"`
	ProfileReuse                      bool `json:"profile_reuse"`
	AcknowledgeDynamicJobs            bool `json:"acknowledge_dynamic_jobs"`
	ForwardProfilesOnJobSubmission    bool `json:"forward_profiles_on_job_submission"`
	ForwardProfilesOnJobsKilled       bool `json:"forward_profiles_on_jobs_killed"`
	ForwardProfilesOnSimulationBegins bool `json:"forward_profiles_on_simulation_begins"`
	ForwardUnknownExternalEvents      bool `json:"forward_unknown_external_events"`
}

// FeatureBits is the bitset form of Features.
type FeatureBits uint8

const (
	FeatureDynamicRegistration FeatureBits = 1 << iota
	FeatureProfileReuse
	FeatureAcknowledgeDynamicJobs
	FeatureForwardProfilesOnJobSubmission
	FeatureForwardProfilesOnJobsKilled
	FeatureForwardProfilesOnSimulationBegins
	FeatureForwardUnknownExternalEvents
)

func (f Features) Bits() FeatureBits {
	var bits FeatureBits
	set := func(enabled bool, bit FeatureBits) {
		if enabled {
			bits |= bit
		}
	}
	set(f.DynamicRegistration, FeatureDynamicRegistration)
	set(f.ProfileReuse, FeatureProfileReuse)
	set(f.AcknowledgeDynamicJobs, FeatureAcknowledgeDynamicJobs)
	set(f.ForwardProfilesOnJobSubmission, FeatureForwardProfilesOnJobSubmission)
	set(f.ForwardProfilesOnJobsKilled, FeatureForwardProfilesOnJobsKilled)
	set(f.ForwardProfilesOnSimulationBegins, FeatureForwardProfilesOnSimulationBegins)
	set(f.ForwardUnknownExternalEvents, FeatureForwardUnknownExternalEvents)
	return bits
}

func FeaturesFromBits(bits FeatureBits) Features {
	return Features{
		DynamicRegistration:               bits&FeatureDynamicRegistration != 0,
		ProfileReuse:                      bits&FeatureProfileReuse != 0,
		AcknowledgeDynamicJobs:            bits&FeatureAcknowledgeDynamicJobs != 0,
		ForwardProfilesOnJobSubmission:    bits&FeatureForwardProfilesOnJobSubmission != 0,
		ForwardProfilesOnJobsKilled:       bits&FeatureForwardProfilesOnJobsKilled != 0,
		ForwardProfilesOnSimulationBegins: bits&FeatureForwardProfilesOnSimulationBegins != 0,
		ForwardUnknownExternalEvents:      bits&FeatureForwardUnknownExternalEvents != 0,
	}
}

// Has returns true if all features in bits are enabled.
func (b FeatureBits) Has(bits FeatureBits) bool {
	return b&bits == bits
}

// CheckProtocolVersion returns an *edcerrors.ErrHandshake unless received is a semantic version
// with the same major version as ProtocolVersion.
func CheckProtocolVersion(received string) error {
	supported := semver.MustParse(ProtocolVersion)
	version, err := semver.NewVersion(received)
	if err != nil {
		return errors.WithStack(&edcerrors.ErrHandshake{
			Supported: ProtocolVersion,
			Received:  received,
			Message:   err.Error(),
		})
	}
	if version.Major() != supported.Major() {
		return errors.WithStack(&edcerrors.ErrHandshake{
			Supported: ProtocolVersion,
			Received:  received,
			Message:   "major versions differ",
		})
	}
	return nil
}

// NewEDCHello returns the hello a decision component sends in reply to a BatsimHello.
func NewEDCHello(name, version, commit string, features Features) *EDCHello {
	return &EDCHello{
		BatprotocolVersion:          ProtocolVersion,
		DecisionComponentName:       name,
		DecisionComponentVersion:    version,
		DecisionComponentCommit:     commit,
		RequestedSimulationFeatures: features,
	}
}
