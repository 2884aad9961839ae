package cli

import (
	"github.com/spf13/cobra"

	"github.com/compozy/enginebridge/engine/workspace"
	"github.com/compozy/enginebridge/pkg/config"
)

// FetchCmd snapshots a running task's workspace.
func FetchCmd() *cobra.Command {
	var (
		dest       string
		binaryOnly bool
	)
	cmd := &cobra.Command{
		Use:   "fetch <instance-id> <task-id>",
		Short: "Copy a task workspace, possibly while the engine is running",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromContext(cmd.Context())
			fetcher := workspace.NewFetcher(cfg.Workspace.Root, cfg.Workspace.Prefix)
			path, err := fetcher.Fetch(cmd.Context(), workspace.FetchRequest{
				InstanceID:  args[0],
				TaskID:      args[1],
				Destination: dest,
				BinaryOnly:  binaryOnly,
			})
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "Destination directory")
	cmd.Flags().BoolVar(&binaryOnly, "binary-only", false, "Copy only the interchange artifacts")
	_ = cmd.MarkFlagRequired("dest")
	return cmd
}
