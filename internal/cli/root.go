// Package cli команды simctl
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"reservoir/pkg/apperror"
	"reservoir/pkg/config"
	"reservoir/pkg/logger"

	// Адаптеры регистрируют свои фабрики в init
	_ "reservoir/pkg/backend/mrst"
	_ "reservoir/pkg/backend/opm"
)

// Коды выхода
const (
	ExitOK         = 0
	ExitError      = 1
	ExitValidation = 2
	ExitJobFailed  = 3
)

// Version задаётся при сборке через -ldflags
var Version = "dev"

// globalFlags флаги корневой команды
type globalFlags struct {
	configFile string
	logLevel   string
	output     string
}

type cfgKey struct{}

// NewRootCommand собирает дерево команд
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "simctl",
		Short:         "Run and compare reservoir simulations on OPM Flow and MRST",
		Long:          "simctl parses ECLIPSE decks, runs them on pluggable simulator backends through a bounded job orchestrator and compares the results.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKey{}, cfg))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "config file (default: simctl.yaml in the working directory)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "text", "output format: text, json, yaml")

	root.AddCommand(
		newParseCommand(flags),
		newGenerateCommand(),
		newValidateCommand(flags),
		newRunCommand(flags),
		newBatchCommand(flags),
		newBenchCommand(flags),
		newCompareCommand(flags),
		newBackendsCommand(flags),
		newHistoryCommand(flags),
		newCacheCommand(flags),
		newVersionCommand(flags),
	)
	return root
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	var opts []config.LoaderOption
	if flags.configFile != "" {
		opts = append(opts, config.WithConfigFile(flags.configFile))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	// stdout принадлежит выводу команд
	output := cfg.Log.Output
	if output == "" || output == "stdout" {
		output = "stderr"
	}
	logger.InitWithConfig(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      output,
		FilePath:    cfg.Log.FilePath,
		MaxSize:     cfg.Log.MaxSize,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAge:      cfg.Log.MaxAge,
		Compress:    cfg.Log.Compress,
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
	})
	return cfg, nil
}

func configFrom(cmd *cobra.Command) *config.Config {
	if cfg, ok := cmd.Context().Value(cfgKey{}).(*config.Config); ok {
		return cfg
	}
	return nil
}

// Execute запускает CLI и возвращает код выхода
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, NewRootCommand(), os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, root *cobra.Command, args []string, stdout, stderr io.Writer) int {
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitCode(err)
}

// errJobFailed задача дошла до FAILED; подробности уже выведены
var errJobFailed = errors.New("one or more jobs failed")

func exitCode(err error) int {
	if errors.Is(err, errJobFailed) {
		return ExitJobFailed
	}
	switch apperror.Code(err) {
	case apperror.CodeValidationFailed, apperror.CodeInvalidGrid, apperror.CodeInvalidWell,
		apperror.CodeInvalidFluid, apperror.CodeInvalidSchedule, apperror.CodeGridTooLarge,
		apperror.CodeDeckSyntax, apperror.CodeInvalidArgument:
		return ExitValidation
	}
	return ExitError
}
