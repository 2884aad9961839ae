package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/compozy/enginebridge/engine/record"
	"github.com/compozy/enginebridge/engine/workspace"
	"github.com/compozy/enginebridge/pkg/config"
)

// invocationFlags address one (module, seq) inside a task workspace.
type invocationFlags struct {
	step   int
	module string
	seq    int
}

func (f *invocationFlags) register(cmd *cobra.Command, withModule bool) {
	cmd.Flags().IntVar(&f.step, "step", 0, "Step index of a multi-step task (0 for none)")
	if withModule {
		cmd.Flags().StringVar(&f.module, "module", "", "Module name of the invocation")
		cmd.Flags().IntVar(&f.seq, "seq", 1, "Invocation sequence number")
		_ = cmd.MarkFlagRequired("module")
	}
}

func managerFromContext(ctx context.Context) (*workspace.Manager, error) {
	cfg := config.FromContext(ctx)
	format, err := record.ParseFormat(cfg.Workspace.Format)
	if err != nil {
		return nil, err
	}
	return workspace.NewManager(afero.NewOsFs(), cfg.Workspace.Root, cfg.Workspace.Prefix, format), nil
}

func resolveWorkspace(ctx context.Context, args []string, flags *invocationFlags) (*workspace.Workspace, error) {
	m, err := managerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return m.Resolve(workspace.Key{InstanceID: args[0], TaskID: args[1], Step: flags.step})
}

func describeInvocation(ws *workspace.Workspace, flags *invocationFlags) string {
	return ws.Key.String() + " " + flags.module + "#" + strconv.Itoa(flags.seq)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
