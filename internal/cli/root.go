package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vcscsvcscs/regimen/internal/adherence"
	"github.com/vcscsvcscs/regimen/internal/config"
	"github.com/vcscsvcscs/regimen/internal/conflict"
	"github.com/vcscsvcscs/regimen/internal/schedule"
	"go.uber.org/zap"
)

// RootOptions holds global flags and the engine settings shared by all commands
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json" | "yaml"

	Conflict      conflict.Config
	Adherence     adherence.Config
	LookaheadDays int

	Logger *zap.Logger
	// Now is the clock used when a command has no explicit reference time
	Now func() time.Time
}

// ValidFormats defines the allowed output formats
var ValidFormats = []string{"text", "json", "yaml"}

// DefaultOptions returns options carrying the built-in engine defaults
func DefaultOptions() *RootOptions {
	return &RootOptions{
		Format:        "text",
		Conflict:      conflict.DefaultConfig(),
		Adherence:     adherence.DefaultConfig(),
		LookaheadDays: schedule.DefaultMaxLookaheadDays,
		Logger:        zap.NewNop(),
		Now:           time.Now,
	}
}

// NewRootCommand creates the schedctl root command. Engine settings are
// read from the same environment as the server.
func NewRootCommand() *cobra.Command {
	opts := DefaultOptions()

	cmd := &cobra.Command{
		Use:   "schedctl",
		Short: "Inspect medication schedules offline",
		Long: `schedctl validates schedule files, computes upcoming doses,
detects conflicts between schedules and reconciles dose logs into
adherence statistics without a running server.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.load()
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output on stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewNextCommand(opts))
	cmd.AddCommand(NewDueCommand(opts))
	cmd.AddCommand(NewConflictsCommand(opts))
	cmd.AddCommand(NewAdherenceCommand(opts))

	return cmd
}

func (o *RootOptions) load() error {
	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	o.Conflict = cfg.Engine.ConflictConfig()
	o.Adherence = cfg.Engine.AdherenceConfig()
	o.LookaheadDays = cfg.Engine.MaxLookaheadDays

	if o.Verbose {
		zapCfg := zap.NewDevelopmentConfig()
		zapCfg.OutputPaths = []string{"stderr"}
		logger, err := zapCfg.Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
			return nil
		}
		o.Logger = logger
	}
	return nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format: o.Format,
		Writer: cmd.OutOrStdout(),
	}
}

func (o *RootOptions) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *RootOptions) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
