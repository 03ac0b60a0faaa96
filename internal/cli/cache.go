package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"reservoir/pkg/apperror"
	"reservoir/pkg/cache"
	"reservoir/pkg/config"
)

func newCacheCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the result cache",
		Long:  "Only a shared (redis) cache outlives a single simctl process; the memory driver is always empty here.",
	}
	cmd.AddCommand(newCacheStatsCommand(flags), newCacheClearCommand(flags))
	return cmd
}

// cacheStatsView вывод cache stats
type cacheStatsView struct {
	Driver   string           `json:"driver" yaml:"driver"`
	Keys     int64            `json:"keys" yaml:"keys"`
	Hits     int64            `json:"hits" yaml:"hits"`
	Misses   int64            `json:"misses" yaml:"misses"`
	HitRate  float64          `json:"hit_rate" yaml:"hit_rate"`
	Bytes    int64            `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	ByPrefix map[string]int64 `json:"by_prefix,omitempty" yaml:"by_prefix,omitempty"`
}

func newCacheStatsCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print result cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rc, err := openResultCache(configFrom(cmd))
			if err != nil {
				return err
			}
			defer rc.Close()

			st, err := rc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			view := cacheStatsView{
				Driver: st.Backend, Keys: st.TotalKeys, Hits: st.Hits, Misses: st.Misses,
				HitRate: st.HitRate, Bytes: st.MemoryBytes, ByPrefix: st.KeysByPrefix,
			}
			return newPrinter(cmd.OutOrStdout(), flags).emit(view, func(w io.Writer) {
				fmt.Fprintf(w, "driver:\t%s\n", view.Driver)
				fmt.Fprintf(w, "keys:\t%d\n", view.Keys)
				fmt.Fprintf(w, "hit rate:\t%.2f (%d/%d)\n", view.HitRate, view.Hits, view.Hits+view.Misses)
			})
		},
	}
}

func newCacheClearCommand(flags *globalFlags) *cobra.Command {
	var backendName string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop cached results, all or for one backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rc, err := openResultCache(configFrom(cmd))
			if err != nil {
				return err
			}
			defer rc.Close()

			var removed int64
			if backendName != "" {
				removed, err = rc.Invalidate(cmd.Context(), backendName)
			} else {
				removed, err = rc.InvalidateAll(cmd.Context())
			}
			if err != nil {
				return err
			}
			out := map[string]int64{"removed": removed}
			return newPrinter(cmd.OutOrStdout(), flags).emit(out, func(w io.Writer) {
				fmt.Fprintf(w, "removed %d cached result(s)\n", removed)
			})
		},
	}
	cmd.Flags().StringVarP(&backendName, "backend", "b", "", "only results of this backend")
	return cmd
}

func openResultCache(cfg *config.Config) (*cache.ResultCache, error) {
	if !cfg.Cache.Enabled {
		return nil, apperror.New(apperror.CodeInvalidArgument,
			"result cache is disabled; set cache.enabled or SIMCTL_CACHE_ENABLED=true")
	}
	c, err := cache.New(cache.FromConfig(&cfg.Cache))
	if err != nil {
		return nil, err
	}
	return cache.NewResultCache(c, cfg.Cache.DefaultTTL), nil
}
