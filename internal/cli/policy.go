package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/studiobrain/internal/policy"
)

// PolicyLintOptions holds flags for the policy-lint command.
type PolicyLintOptions struct {
	*RootOptions
	PolicyFile string

	// Now overrides the checkedAt clock (for testing).
	Now func() time.Time
}

// NewPolicyLintCommand creates the policy-lint command.
func NewPolicyLintCommand(rootOpts *RootOptions) *cobra.Command {
	return newPolicyLintCommand(&PolicyLintOptions{RootOptions: rootOpts})
}

func newPolicyLintCommand(opts *PolicyLintOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy-lint",
		Short: "Check capability governance metadata",
		Long: `Lint every registered capability against its policy metadata.

Reports missing owners, rollback plans and escalation paths, approval mode
mismatches, and write capabilities marked exempt from approval. Exits 1
when any violation is found, so it can gate a deployment.

Example:
  studiobrain policy-lint
  studiobrain policy-lint --policy ./policy.yaml --format text`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyLint(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.PolicyFile, "policy", "", "policy metadata YAML (default: STUDIO_BRAIN_POLICY_FILE, else embedded)")

	return cmd
}

func runPolicyLint(opts *PolicyLintOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	path := opts.PolicyFile
	if path == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return err
		}
		path = cfg.PolicyFile
	}

	meta, err := policy.LoadMetadata(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load policy metadata", err)
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	report := policy.BuildReport(policy.DefaultCapabilities(), meta, now())

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	text := fmt.Sprintf("%d capabilities checked, no violations", report.CapabilitiesChecked)
	if !report.OK {
		text = fmt.Sprintf("%d capabilities checked, %d violations", report.CapabilitiesChecked, len(report.Violations))
		for _, is := range report.Violations {
			text += fmt.Sprintf("\n  %s %s: %s", is.Code, is.CapabilityID, is.Message)
		}
	}
	if err := out.Result(report, text); err != nil {
		return err
	}
	if !report.OK {
		return NewExitError(ExitFailure, fmt.Sprintf("policy lint found %d violations", len(report.Violations)))
	}
	return nil
}
