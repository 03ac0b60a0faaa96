package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"reservoir/pkg/apperror"
	"reservoir/pkg/config"
	"reservoir/pkg/database"
	"reservoir/pkg/domain"
	"reservoir/pkg/jobs"
)

// historyRow строка списка архива
type historyRow struct {
	ID         string        `json:"id" yaml:"id"`
	Backend    string        `json:"backend" yaml:"backend"`
	Title      string        `json:"title,omitempty" yaml:"title,omitempty"`
	Status     domain.Status `json:"status" yaml:"status"`
	Cached     bool          `json:"cached,omitempty" yaml:"cached,omitempty"`
	Cells      int           `json:"cells" yaml:"cells"`
	Timesteps  int           `json:"timesteps" yaml:"timesteps"`
	FinishedAt time.Time     `json:"finished_at" yaml:"finished_at"`
}

// historyDetail вывод history show
type historyDetail struct {
	historyRow      `yaml:",inline"`
	BackendVersion  string    `json:"backend_version,omitempty" yaml:"backend_version,omitempty"`
	RequestHash     string    `json:"request_hash" yaml:"request_hash"`
	Error           string    `json:"error,omitempty" yaml:"error,omitempty"`
	WallTimeSeconds float64   `json:"wall_time_seconds" yaml:"wall_time_seconds"`
	Converged       bool      `json:"converged" yaml:"converged"`
	Warnings        []string  `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	SubmittedAt     time.Time `json:"submitted_at" yaml:"submitted_at"`
	ResultPath      string    `json:"result_path,omitempty" yaml:"result_path,omitempty"`
}

func newHistoryCommand(flags *globalFlags) *cobra.Command {
	var (
		backendName string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived jobs",
		Long:  "Reads finished jobs from the postgres archive (database.enabled must be set).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			arch, closeDB, err := openArchive(cmd.Context(), configFrom(cmd))
			if err != nil {
				return err
			}
			defer closeDB()

			list, err := arch.ListRecent(cmd.Context(), backendName, limit)
			if err != nil {
				return err
			}
			rows := make([]historyRow, len(list))
			for i, s := range list {
				rows[i] = historyRow{
					ID: s.ID, Backend: s.Backend, Title: s.Title, Status: s.Status, Cached: s.Cached,
					Cells: s.CellCount, Timesteps: s.TimestepCount, FinishedAt: s.FinishedAt,
				}
			}

			return newPrinter(cmd.OutOrStdout(), flags).emit(rows, func(w io.Writer) {
				if len(rows) == 0 {
					fmt.Fprintln(w, "archive is empty")
					return
				}
				fmt.Fprintln(w, "ID\tBACKEND\tSTATUS\tCELLS\tSTEPS\tFINISHED")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
						r.ID, r.Backend, r.Status, r.Cells, r.Timesteps, r.FinishedAt.Format(time.RFC3339))
				}
			})
		},
	}
	cmd.Flags().StringVarP(&backendName, "backend", "b", "", "only jobs of this backend")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs (at most 100)")

	cmd.AddCommand(newHistoryShowCommand(flags))
	return cmd
}

func newHistoryShowCommand(flags *globalFlags) *cobra.Command {
	var resultOut string
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one archived job and optionally export its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arch, closeDB, err := openArchive(cmd.Context(), configFrom(cmd))
			if err != nil {
				return err
			}
			defer closeDB()

			rec, err := arch.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			detail := historyDetail{
				historyRow: historyRow{
					ID: rec.ID, Backend: rec.Backend, Title: rec.Title, Status: rec.Status, Cached: rec.Cached,
					Cells: rec.CellCount, Timesteps: rec.TimestepCount, FinishedAt: rec.FinishedAt,
				},
				BackendVersion:  rec.BackendVersion,
				RequestHash:     rec.RequestHash,
				Error:           rec.Error,
				WallTimeSeconds: rec.WallTimeSeconds,
				Converged:       rec.Converged,
				Warnings:        rec.Warnings,
				SubmittedAt:     rec.SubmittedAt,
			}
			if resultOut != "" {
				if rec.Result == nil {
					return apperror.Newf(apperror.CodeDataUnavailable, "job %s has no archived result", rec.ID)
				}
				if err := domain.SaveResult(resultOut, rec.Result); err != nil {
					return err
				}
				detail.ResultPath = resultOut
			}

			return newPrinter(cmd.OutOrStdout(), flags).emit(detail, func(w io.Writer) {
				fmt.Fprintf(w, "job:\t%s\n", detail.ID)
				fmt.Fprintf(w, "backend:\t%s %s\n", detail.Backend, detail.BackendVersion)
				fmt.Fprintf(w, "status:\t%s\n", detail.Status)
				if detail.Error != "" {
					fmt.Fprintf(w, "error:\t%s\n", detail.Error)
				}
				fmt.Fprintf(w, "grid:\t%d cells, %d timesteps\n", detail.Cells, detail.Timesteps)
				fmt.Fprintf(w, "wall time:\t%.1fs\n", detail.WallTimeSeconds)
				fmt.Fprintf(w, "request:\t%s\n", detail.RequestHash)
				if detail.ResultPath != "" {
					fmt.Fprintf(w, "result:\t%s\n", detail.ResultPath)
				}
				writeList(w, "warnings", detail.Warnings)
			})
		},
	}
	cmd.Flags().StringVarP(&resultOut, "result", "r", "", "write the archived UnifiedResult JSON here")
	return cmd
}

// openArchive подключается к архиву без запуска оркестратора
func openArchive(ctx context.Context, cfg *config.Config) (*jobs.PostgresArchive, func(), error) {
	if !cfg.Database.Enabled {
		return nil, nil, apperror.New(apperror.CodeInvalidArgument,
			"job archive is disabled; set database.enabled or SIMCTL_DATABASE_ENABLED=true")
	}
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return jobs.NewPostgresArchive(db), db.Close, nil
}
