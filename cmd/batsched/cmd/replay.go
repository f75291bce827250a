package cmd

import (
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-zglob"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"sigs.k8s.io/yaml"

	"github.com/batsched/batsched/internal/common/edccontext"
	"github.com/batsched/batsched/internal/edc"
	"github.com/batsched/batsched/internal/edc/configuration"
	"github.com/batsched/batsched/internal/replay"
	"github.com/batsched/batsched/pkg/batprotocol"
)

func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay workloads on platforms through the decision component.",
		RunE:  runReplays,
	}
	cmd.Flags().String("platforms", "", "Glob pattern specifying platforms to replay on.")
	cmd.Flags().String("workloads", "", "Glob pattern specifying workloads to replay.")
	cmd.Flags().String("configs", "", "Glob pattern specifying decision component configurations. Defaults are used if empty.")
	cmd.Flags().String("format", "json", "Message format: json or binary.")
	cmd.Flags().String("output", "", "File to write results to, as YAML. Results are only logged if empty.")
	cmd.Flags().String("metricsOutput", "", "File to write decision component metrics to, in the Prometheus text format.")
	cmd.Flags().Bool("showEdcLogs", false, "Show decision component logs.")
	return cmd
}

func runReplays(cmd *cobra.Command, args []string) error {
	// Get command-line arguments.
	platformPattern, err := cmd.Flags().GetString("platforms")
	if err != nil {
		return err
	}
	workloadPattern, err := cmd.Flags().GetString("workloads")
	if err != nil {
		return err
	}
	configPattern, err := cmd.Flags().GetString("configs")
	if err != nil {
		return err
	}
	formatName, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	metricsOutput, err := cmd.Flags().GetString("metricsOutput")
	if err != nil {
		return err
	}
	showEdcLogs, err := cmd.Flags().GetBool("showEdcLogs")
	if err != nil {
		return err
	}
	format, err := batprotocol.ParseFormat(formatName)
	if err != nil {
		return err
	}

	platforms, err := replay.PlatformSpecsFromPattern(platformPattern)
	if err != nil {
		return err
	}
	workloads, err := replay.WorkloadSpecsFromPattern(workloadPattern)
	if err != nil {
		return err
	}
	configsByFilePath, err := configsFromPattern(configPattern)
	if err != nil {
		return err
	}
	if len(platforms) == 0 || len(workloads) == 0 {
		return errors.New("no platform or no workload matched")
	}

	ctx := edccontext.Background()
	ctx.Infof("batsched replay")
	ctx.Infof("Platforms: %d, Workloads: %d, Configs: %v", len(platforms), len(workloads), maps.Keys(configsByFilePath))

	// Set up a replayer for each combination of (platform, workload, config).
	registry := prometheus.NewRegistry()
	replayers := make([]*replay.Replayer, 0)
	for _, platform := range platforms {
		for _, workload := range workloads {
			for configPath, config := range configsByFilePath {
				logger := logrus.New()
				logger.SetFormatter(logrus.StandardLogger().Formatter)
				logger.SetOutput(io.Discard)
				if showEdcLogs {
					logger.SetOutput(logrus.StandardLogger().Out)
				}
				registerer := prometheus.WrapRegistererWith(prometheus.Labels{
					"platform": platform.Name,
					"workload": workload.Name,
					"config":   configPath,
				}, registry)
				component, err := edc.NewComponent(logger, registerer)
				if err != nil {
					return err
				}
				replayers = append(replayers, replay.NewReplayer(platform, workload, component, config, format))
			}
		}
	}

	// Run replayers.
	results := make([]*replay.Result, len(replayers))
	g, ctx := edccontext.ErrGroup(ctx)
	for i, r := range replayers {
		i, r := i, r
		g.Go(func() error {
			result, err := r.Run(ctx)
			if err != nil {
				return errors.WithMessagef(err, "replay of %s on %s failed", r.Workload.Name, r.Platform.Name)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if metricsOutput != "" {
		if err := writeMetrics(registry, metricsOutput); err != nil {
			return err
		}
	}
	if output == "" {
		return nil
	}
	data, err := yaml.Marshal(results)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(output, data, 0o644))
}

func writeMetrics(gatherer prometheus.Gatherer, filePath string) error {
	metricFamilies, err := gatherer.Gather()
	if err != nil {
		return errors.WithStack(err)
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	for _, mf := range metricFamilies {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			return errors.WithStack(err)
		}
	}
	return errors.WithStack(f.Close())
}

// configsFromPattern returns the initialization payloads matching pattern by file path.
// An empty pattern selects the default configuration. Every file must hold a valid configuration.
func configsFromPattern(pattern string) (map[string][]byte, error) {
	if pattern == "" {
		return map[string][]byte{"default": nil}, nil
	}
	filePaths, err := zglob.Glob(pattern)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	slices.Sort(filePaths)
	rv := make(map[string][]byte, len(filePaths))
	for _, filePath := range filePaths {
		if _, err := configuration.LoadFile(filePath); err != nil {
			return nil, errors.WithMessagef(err, "invalid configuration %s", filePath)
		}
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		rv[filepath.Clean(filePath)] = data
	}
	return rv, nil
}
