package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/studiobrain/internal/model"
)

// StateComputeOptions holds flags for the state-compute command.
type StateComputeOptions struct {
	*RootOptions
}

// NewStateComputeCommand creates the state-compute command.
func NewStateComputeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StateComputeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "state-compute",
		Short: "Compute and store today's studio state snapshot",
		Long: `Run the state snapshot job once, outside the serve schedule.

The snapshot for today is upserted and diffed against the most recent
earlier snapshot. Sources that fail are recorded as warnings and mark the
snapshot partial; the command still succeeds.

Example:
  studiobrain state-compute
  studiobrain state-compute --format text`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStateCompute(opts, cmd)
		},
	}

	return cmd
}

func runStateCompute(opts *StateComputeOptions, cmd *cobra.Command) error {
	logger := setupLogging(opts.Verbose)
	ctx := commandContext(cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.state.Run(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "state job failed", err)
	}

	text := fmt.Sprintf("snapshot %s stored", res.Snapshot.SnapshotDate)
	if d := res.Snapshot.Diagnostics; d.Completeness == model.CompletenessPartial {
		text += fmt.Sprintf(" (partial, %d warnings)", len(d.Warnings))
	}
	if res.Diff != nil {
		text += fmt.Sprintf(", %d changes since %s", len(res.Diff.Changes), res.Diff.FromSnapshotDate)
	}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Result(res, text)
}
