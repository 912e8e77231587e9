package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	EnvFile string
	DBPath  string // overrides STUDIO_BRAIN_DB_PATH when set
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"json", "text"}

// NewRootCommand creates the root command for the studiobrain CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "studiobrain",
		Short: "Studio Brain capability runtime",
		Long: `Studio Brain mediates side-effecting actions proposed by agents and staff.

Every action is a proposal that must be approved before it executes, is
subject to a global kill switch and per-capability quotas, and leaves an
audit trail that can be exported as a signed bundle.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "json", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "path to SQLite database (default from STUDIO_BRAIN_DB_PATH)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewAuditExportCommand(opts))
	cmd.AddCommand(NewAuditVerifyCommand(opts))
	cmd.AddCommand(NewAuditPruneCommand(opts))
	cmd.AddCommand(NewPolicyLintCommand(opts))
	cmd.AddCommand(NewStateComputeCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// setupLogging installs a text handler on stderr as the default logger.
func setupLogging(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
