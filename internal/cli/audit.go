package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/studiobrain/internal/audit"
	"github.com/roach88/studiobrain/internal/exportsink"
)

// Export limits.
const (
	DefaultExportLimit = 1000
	MaxExportLimit     = 50000
)

// ExportOptions holds flags for the audit-export command.
type ExportOptions struct {
	*RootOptions
	OutDir string
	Limit  int

	// Now overrides the clock used for generatedAt and the file name (for
	// testing). If nil, defaults to time.Now.
	Now func() time.Time
}

// ExportResult is printed on success.
type ExportResult struct {
	OK                 bool   `json:"ok"`
	OutputPath         string `json:"outputPath"`
	MirrorPath         string `json:"mirrorPath,omitempty"`
	Rows               int    `json:"rows"`
	PayloadHash        string `json:"payloadHash"`
	SignatureAlgorithm string `json:"signatureAlgorithm"`
}

// NewAuditExportCommand creates the audit-export command.
func NewAuditExportCommand(rootOpts *RootOptions) *cobra.Command {
	return newAuditExportCommand(&ExportOptions{RootOptions: rootOpts})
}

func newAuditExportCommand(opts *ExportOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit-export",
		Short: "Write a signed bundle of recent audit events",
		Long: `Export the most recent audit events as a self-verifying JSON bundle.

The bundle is signed with HMAC-SHA256 when STUDIO_BRAIN_EXPORT_SIGNING_KEY
is set. When STUDIO_BRAIN_EXPORT_S3_BUCKET is set the bundle is also
uploaded to S3.

Example:
  studiobrain audit-export --out ./exports
  studiobrain audit-export --out /tmp --limit 5000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.OutDir, "out", ".", "output directory")
	cmd.Flags().IntVar(&opts.Limit, "limit", DefaultExportLimit, fmt.Sprintf("number of recent events to export (max %d)", MaxExportLimit))

	return cmd
}

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultExportLimit
	}
	return min(n, MaxExportLimit)
}

func runAuditExport(opts *ExportOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)
	ctx := commandContext(cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	events, err := st.ListRecentAuditEvents(ctx, clampLimit(opts.Limit))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read audit events", err)
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	generatedAt := now().UTC()
	bundle, err := audit.BuildBundle(events, audit.BuildOptions{
		SigningKey:  cfg.Export.SigningKey,
		GeneratedAt: generatedAt,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build bundle", err)
	}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode bundle", err)
	}

	name := fmt.Sprintf("audit-export-%s.json", generatedAt.Format("20060102T150405Z"))
	outputPath, err := exportsink.FileSink{Dir: opts.OutDir}.Put(ctx, name, data)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to write bundle", err)
	}

	result := ExportResult{
		OK:                 true,
		OutputPath:         outputPath,
		Rows:               bundle.Manifest.RowCount,
		PayloadHash:        bundle.Manifest.PayloadHash,
		SignatureAlgorithm: bundle.Manifest.SignatureAlgorithm,
	}

	if cfg.S3Enabled() {
		mirror, err := exportsink.NewS3Sink(ctx, exportsink.S3Config{
			Bucket:    cfg.Export.S3Bucket,
			Region:    cfg.Export.S3Region,
			Endpoint:  cfg.Export.S3Endpoint,
			PathStyle: cfg.Export.S3PathStyle,
			Prefix:    cfg.Export.S3Prefix,
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to configure S3 mirror", err)
		}
		result.MirrorPath, err = mirror.Put(ctx, name, data)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to upload bundle", err)
		}
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Result(result, fmt.Sprintf("exported %d rows to %s (%s)", result.Rows, result.OutputPath, result.SignatureAlgorithm))
}

// VerifyOptions holds flags for the audit-verify command.
type VerifyOptions struct {
	*RootOptions
}

// NewAuditVerifyCommand creates the audit-verify command.
func NewAuditVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit-verify <bundle.json>",
		Short: "Verify an exported audit bundle",
		Long: `Recompute the payload hash of an exported bundle and, for signed
bundles, the HMAC signature using STUDIO_BRAIN_EXPORT_SIGNING_KEY.

Exits 1 when verification fails.

Example:
  studiobrain audit-verify ./exports/audit-export-20260314T093000Z.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditVerify(opts, args[0], cmd)
		},
	}

	return cmd
}

func runAuditVerify(opts *VerifyOptions, path string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read bundle", err)
	}
	bundle, err := audit.Decode(data)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to decode bundle", err)
	}

	res := audit.VerifyBundle(bundle, cfg.Export.SigningKey)
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	text := "bundle verified"
	if !res.OK {
		text = "verification failed: " + res.Reason
	}
	if err := out.Result(res, text); err != nil {
		return err
	}
	if !res.OK {
		return NewExitError(ExitFailure, "verification failed: "+res.Reason)
	}
	return nil
}

// PruneOptions holds flags for the audit-prune command.
type PruneOptions struct {
	*RootOptions
	Days int
}

// PruneResult is printed on success.
type PruneResult struct {
	OK      bool      `json:"ok"`
	Deleted int64     `json:"deleted"`
	Cutoff  time.Time `json:"cutoff"`
}

// NewAuditPruneCommand creates the audit-prune command.
func NewAuditPruneCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PruneOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit-prune",
		Short: "Delete audit events older than a retention window",
		Long: `Delete audit events older than --days. This is irreversible; export
first if the rows must be kept.

Example:
  studiobrain audit-prune --days 90`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditPrune(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Days, "days", 0, "retention window in days (default from STUDIO_BRAIN_RETENTION_DAYS)")

	return cmd
}

func runAuditPrune(opts *PruneOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)
	ctx := commandContext(cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	days := opts.Days
	if days == 0 {
		days = cfg.Jobs.RetentionDays
	}
	if days <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--days must be positive, got %d", days))
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	n, err := st.PruneAuditEventsBefore(ctx, cutoff)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to prune audit events", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Result(PruneResult{OK: true, Deleted: n, Cutoff: cutoff},
		fmt.Sprintf("deleted %d events older than %s", n, cutoff.Format(time.RFC3339)))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
