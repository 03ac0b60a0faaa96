package cli

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"

	"reservoir/pkg/backend"
	"reservoir/pkg/metrics"
)

// backendInfo строка вывода команды backends
type backendInfo struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
	Healthy bool   `json:"healthy" yaml:"healthy"`
}

func newBackendsCommand(flags *globalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List registered backends and probe their health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry := backend.NewRegistryFromConfig(configFrom(cmd).Backends)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			health := registry.Health(ctx)

			m := metrics.Get()
			var infos []backendInfo
			for _, name := range registry.Names() {
				b, err := registry.Get(name)
				if err != nil {
					return err
				}
				m.RecordHealth(name, health[name])
				infos = append(infos, backendInfo{Name: name, Version: b.Version(), Healthy: health[name]})
			}

			return newPrinter(cmd.OutOrStdout(), flags).emit(infos, func(w io.Writer) {
				if len(infos) == 0 {
					fmt.Fprintln(w, "no backends enabled")
					return
				}
				fmt.Fprintln(w, "NAME\tVERSION\tHEALTH")
				for _, info := range infos {
					state := "ok"
					if !info.Healthy {
						state = "unavailable"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, info.Version, state)
				}
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "health probe deadline")
	return cmd
}

// versionInfo вывод команды version
type versionInfo struct {
	Version   string `json:"version" yaml:"version"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Commit    string `json:"commit,omitempty" yaml:"commit,omitempty"`
}

func newVersionCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the simctl version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versionInfo{Version: Version}
			if bi, ok := debug.ReadBuildInfo(); ok {
				info.GoVersion = bi.GoVersion
				for _, s := range bi.Settings {
					if s.Key == "vcs.revision" {
						info.Commit = s.Value
					}
				}
			}
			return newPrinter(cmd.OutOrStdout(), flags).emit(info, func(w io.Writer) {
				fmt.Fprintf(w, "simctl %s (%s)\n", info.Version, info.GoVersion)
			})
		},
	}
}
