package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/studiobrain/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and background jobs",
		Long: `Start the admin HTTP API, the scheduled state snapshot job and the
audit retention job.

The admin token (STUDIO_BRAIN_ADMIN_TOKEN) is required. Connectors are
registered from STUDIO_BRAIN_HUBITAT_URL and STUDIO_BRAIN_BACKEND_URL when set.

Example:
  studiobrain serve --addr :8787
  studiobrain serve --env-file ./prod.env --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from STUDIO_BRAIN_HTTP_ADDR)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger := setupLogging(opts.Verbose)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if err := cfg.RequireAdminToken(); err != nil {
		return WrapExitError(ExitCommandError, "refusing to start", err)
	}
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	stateJob := a.stateRunner()
	retention, err := a.retentionRunner()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid retention config", err)
	}

	srv, err := server.New(server.Deps{
		Runtime:    a.runtime,
		Connectors: a.registry,
		Audit:      a.store,
		Snapshots:  a.store,
		StateJob:   stateJob,
		DB:         a.store,
		Metrics:    a.metrics.Handler(),
		Token:      cfg.HTTP.AdminToken,
		Logger:     logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build server", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	stateJob.Start(ctx)
	retention.Start(ctx)
	defer retention.Stop()
	defer stateJob.Stop()

	slog.Info("studio brain starting",
		"addr", cfg.HTTP.Addr,
		"db", cfg.Store.Path,
		"connectors", a.registry.IDs(),
		"kill_switch", a.runtime.KillSwitch(),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Admin API listening on %s\n", cfg.HTTP.Addr)

	if err := srv.ListenAndServe(ctx, cfg.HTTP.Addr); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	slog.Info("studio brain stopped gracefully")
	return nil
}
