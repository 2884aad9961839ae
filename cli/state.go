package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/compozy/enginebridge/engine/taskstate"
	"github.com/compozy/enginebridge/pkg/config"
)

// StateCmd prints the state marker of one invocation.
func StateCmd() *cobra.Command {
	var (
		key  invocationFlags
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "state <instance-id> <task-id>",
		Short: "Show the state marker of an engine invocation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := resolveWorkspace(cmd.Context(), args, &key)
			if err != nil {
				return err
			}
			path := ws.StatePath(key.module, key.seq)
			fs := afero.NewOsFs()
			var state taskstate.State
			if wait > 0 {
				cfg := config.FromContext(cmd.Context())
				state, err = taskstate.Await(cmd.Context(), fs, path, cfg.Engine.PollInterval, wait)
				if errors.Is(err, taskstate.ErrNotSettled) {
					err = nil
				}
			} else {
				state, err = taskstate.Read(fs, path)
				if errors.Is(err, taskstate.ErrMarkerMissing) {
					err = nil
				}
			}
			if err != nil {
				return err
			}
			printf(cmd, "%s %s\n", describeInvocation(ws, &key), state)
			return nil
		},
	}
	key.register(cmd, true)
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait up to this long for COMPLETE")
	return cmd
}

// WatchCmd follows the state marker of one invocation until interrupted.
func WatchCmd() *cobra.Command {
	var (
		key           invocationFlags
		untilComplete bool
	)
	cmd := &cobra.Command{
		Use:   "watch <instance-id> <task-id>",
		Short: "Print state marker changes of an engine invocation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := resolveWorkspace(cmd.Context(), args, &key)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			label := describeInvocation(ws, &key)
			err = taskstate.Watch(ctx, ws.StatePath(key.module, key.seq), func(s taskstate.State) {
				printf(cmd, "%s %s %s\n", time.Now().Format(time.TimeOnly), label, s)
				if untilComplete && s.Terminal() {
					cancel()
				}
			})
			if err != nil {
				return fmt.Errorf("watch %s: %w", label, err)
			}
			return nil
		},
	}
	key.register(cmd, true)
	cmd.Flags().BoolVar(&untilComplete, "until-complete", false, "Exit once the marker reads COMPLETE")
	return cmd
}
