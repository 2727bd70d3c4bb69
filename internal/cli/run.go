package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"deliveryd/internal/app"
)

type runOptions struct {
	config string
}

// NewRunCommand starts the service and blocks until a signal or a fatal
// component error.
func NewRunCommand(_ *RootOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the delivery scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), o)
		},
	}
	cmd.Flags().StringVarP(&o.config, "config", "c", defaultConfigPath(), "path to config (json or yaml); $"+ConfigEnv+" overrides the default")
	return cmd
}

func runServe(ctx context.Context, o *runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.NewApp(ctx, o.config)
	if err != nil {
		return WrapExitError(ExitCommandError, "init", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return WrapExitError(ExitFailure, "start", err)
	}

	reason := app.StopAppStop
	select {
	case s := <-sigCh:
		reason = app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return WrapExitError(ExitFailure, "fatal", a.Err())
	}
	return nil
}
