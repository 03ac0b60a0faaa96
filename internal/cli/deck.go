package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reservoir/pkg/apperror"
	"reservoir/pkg/audit"
	"reservoir/pkg/backend"
	"reservoir/pkg/deck"
	"reservoir/pkg/domain"
	"reservoir/pkg/metrics"
	"reservoir/pkg/telemetry"
)

// parseSummary вывод команды parse
type parseSummary struct {
	Path        string             `json:"path" yaml:"path"`
	Title       string             `json:"title,omitempty" yaml:"title,omitempty"`
	Units       string             `json:"units" yaml:"units"`
	Dimensions  [3]int             `json:"dimensions" yaml:"dimensions"`
	Phases      []string           `json:"phases" yaml:"phases"`
	Wells       int                `json:"wells" yaml:"wells"`
	Timesteps   int                `json:"timesteps" yaml:"timesteps"`
	Includes    []string           `json:"includes,omitempty" yaml:"includes,omitempty"`
	Unsupported []string           `json:"unsupported,omitempty" yaml:"unsupported,omitempty"`
	Warnings    []string           `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Errors      []string           `json:"errors,omitempty" yaml:"errors,omitempty"`
	Request     *domain.SimRequest `json:"request,omitempty" yaml:"request,omitempty"`
	MapError    string             `json:"map_error,omitempty" yaml:"map_error,omitempty"`
}

func newParseCommand(flags *globalFlags) *cobra.Command {
	var (
		requestOut string
		strict     bool
	)
	cmd := &cobra.Command{
		Use:   "parse <deck.DATA>",
		Short: "Parse an ECLIPSE deck and map it to a simulation request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, span := telemetry.StartSpan(cmd.Context(), "cli.parse")
			start := time.Now()

			res, err := deck.NewParser().ParseFile(args[0])
			if err != nil {
				telemetry.EndSpan(span, err)
				return err
			}
			metrics.Get().RecordDeckProblems(len(res.Errors), len(res.Unsupported))
			span.SetAttributes(telemetry.DeckAttributes(len(res.Sections), len(res.Errors), len(res.Unsupported))...)

			sum := summarize(res)
			req, mapErr := deck.ToSimRequest(res)
			if mapErr != nil {
				sum.MapError = mapErr.Error()
			} else {
				sum.Request = req
			}

			entry := audit.NewEntry(audit.ActionParse).
				Resource(audit.ResourceDeck, args[0]).
				Duration(time.Since(start)).
				Meta("unsupported", len(res.Unsupported))
			if mapErr != nil {
				entry.Error(string(apperror.Code(mapErr)), mapErr.Error())
			}
			_ = audit.Log(ctx, entry.Build()) //nolint:errcheck // аудит не влияет на результат

			if requestOut != "" && req != nil {
				data, err := domain.EncodeRequestYAML(req)
				if err != nil {
					telemetry.EndSpan(span, err)
					return err
				}
				if err := os.WriteFile(requestOut, data, 0o644); err != nil {
					telemetry.EndSpan(span, err)
					return fmt.Errorf("write request: %w", err)
				}
			}

			if err := newPrinter(cmd.OutOrStdout(), flags).emit(sum, func(w io.Writer) { writeParseSummary(w, sum) }); err != nil {
				telemetry.EndSpan(span, err)
				return err
			}

			switch {
			case strict && !res.OK():
				err = apperror.Newf(apperror.CodeDeckSyntax, "deck has %d format errors", len(res.Errors))
			case strict && len(res.Unsupported) > 0:
				err = apperror.Newf(apperror.CodeUnsupportedKeyword, "deck uses unsupported keywords: %s",
					strings.Join(res.Unsupported, ", "))
			case mapErr != nil:
				err = mapErr
			}
			telemetry.EndSpan(span, err)
			return err
		},
	}
	cmd.Flags().StringVar(&requestOut, "request-out", "", "write the mapped request as YAML to this file")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on format errors or unsupported keywords")
	return cmd
}

func summarize(res *deck.ParseResult) *parseSummary {
	sum := &parseSummary{
		Path:        res.Path,
		Title:       res.Title,
		Units:       string(res.Units),
		Dimensions:  res.Dimens,
		Wells:       len(res.WellSpecs),
		Timesteps:   len(res.Schedule),
		Includes:    res.Includes,
		Unsupported: res.Unsupported,
		Warnings:    res.Warnings,
	}
	for _, p := range res.Phases {
		sum.Phases = append(sum.Phases, string(p))
	}
	for _, e := range res.Errors {
		sum.Errors = append(sum.Errors, e.Error())
	}
	return sum
}

func writeParseSummary(w io.Writer, s *parseSummary) {
	fmt.Fprintf(w, "Deck:\t%s\n", s.Path)
	if s.Title != "" {
		fmt.Fprintf(w, "Title:\t%s\n", s.Title)
	}
	fmt.Fprintf(w, "Units:\t%s\n", s.Units)
	fmt.Fprintf(w, "Grid:\t%d x %d x %d\n", s.Dimensions[0], s.Dimensions[1], s.Dimensions[2])
	fmt.Fprintf(w, "Phases:\t%s\n", strings.Join(s.Phases, ", "))
	fmt.Fprintf(w, "Wells:\t%d\n", s.Wells)
	fmt.Fprintf(w, "Timesteps:\t%d\n", s.Timesteps)
	if s.MapError != "" {
		fmt.Fprintf(w, "Mapping:\tfailed: %s\n", s.MapError)
	} else {
		fmt.Fprintf(w, "Mapping:\tok (%d cells)\n", s.Request.Grid.TotalCells())
	}
	writeList(w, "Includes", s.Includes)
	writeList(w, "Unsupported keywords", s.Unsupported)
	writeList(w, "Warnings", s.Warnings)
	writeList(w, "Errors", s.Errors)
}

func newGenerateCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "generate <request.yaml>",
		Short: "Generate an ECLIPSE deck from a simulation request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := domain.LoadRequest(args[0])
			if err != nil {
				return err
			}
			if err := req.Validate(); err != nil {
				return err
			}
			text, err := deck.Generate(req)
			if err != nil {
				return err
			}

			entry := audit.NewEntry(audit.ActionGenerate).
				Resource(audit.ResourceDeck, args[0]).
				Meta("cells", req.Grid.TotalCells()).
				Build()
			_ = audit.Log(cmd.Context(), entry) //nolint:errcheck // аудит не влияет на результат

			if out == "" || out == "-" {
				_, err = io.WriteString(cmd.OutOrStdout(), text)
				return err
			}
			return os.WriteFile(out, []byte(text), 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "file", "f", "", "output deck path (default: stdout)")
	return cmd
}

// validationReport вывод команды validate
type validationReport struct {
	Path     string              `json:"path" yaml:"path"`
	Valid    bool                `json:"valid" yaml:"valid"`
	Request  []string            `json:"request,omitempty" yaml:"request,omitempty"`
	Backends map[string][]string `json:"backends,omitempty" yaml:"backends,omitempty"`
}

func newValidateCommand(flags *globalFlags) *cobra.Command {
	var backends []string
	cmd := &cobra.Command{
		Use:   "validate <request.yaml|deck.DATA>",
		Short: "Validate a request against field bounds and backend limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := loadRequest(args[0])
			if err != nil {
				return err
			}

			rep := &validationReport{Path: args[0], Valid: true}
			if ve := req.ValidationErrors(); ve.HasErrors() {
				rep.Valid = false
				rep.Request = ve.Messages()
			}

			registry := backend.NewRegistryFromConfig(configFrom(cmd).Backends)
			if len(backends) == 0 {
				backends = registry.Names()
			}
			rep.Backends = make(map[string][]string, len(backends))
			for _, name := range backends {
				b, err := registry.Get(name)
				if err != nil {
					return err
				}
				problems := b.Validate(req)
				if problems == nil {
					problems = []string{}
				}
				rep.Backends[name] = problems
				if len(problems) > 0 {
					rep.Valid = false
				}
			}

			if err := newPrinter(cmd.OutOrStdout(), flags).emit(rep, func(w io.Writer) { writeValidation(w, rep, backends) }); err != nil {
				return err
			}
			if !rep.Valid {
				return apperror.New(apperror.CodeValidationFailed, "request is not valid")
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&backends, "backend", "b", nil, "backends to check (default: all registered)")
	return cmd
}

func writeValidation(w io.Writer, rep *validationReport, order []string) {
	status := "valid"
	if !rep.Valid {
		status = "INVALID"
	}
	fmt.Fprintf(w, "%s:\t%s\n", rep.Path, status)
	writeList(w, "Request", rep.Request)
	for _, name := range order {
		problems := rep.Backends[name]
		if len(problems) == 0 {
			fmt.Fprintf(w, "%s:\tok\n", name)
			continue
		}
		writeList(w, name, problems)
	}
}

// withTimeout ограничивает ctx, если d > 0
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
