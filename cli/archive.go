package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/compozy/enginebridge/engine/workspace"
	"github.com/compozy/enginebridge/pkg/config"
)

// ArchiveCmd archives a finished task workspace using the configured
// archival surface, overridable by flags.
func ArchiveCmd() *cobra.Command {
	var (
		key             invocationFlags
		deleteAfterCopy bool
	)
	cmd := &cobra.Command{
		Use:   "archive <instance-id> <task-id>",
		Short: "Copy a task workspace to the archive destination",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromContext(cmd.Context())
			ws, err := resolveWorkspace(cmd.Context(), args, &key)
			if err != nil {
				return err
			}
			opts := workspace.ArchiveOptions{
				Destination:     cfg.Archive.Destination,
				Exclude:         cfg.Archive.Exclude,
				DeleteAfterCopy: cfg.Archive.DeleteAfterCopy || deleteAfterCopy,
			}
			if key.step > 0 {
				opts.Destination = filepath.Join(opts.Destination, filepath.Base(filepath.Dir(ws.Dir)))
			}
			path, err := workspace.NewArchiver().Archive(cmd.Context(), ws.Dir, opts)
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", path)
			return nil
		},
	}
	key.register(cmd, false)
	cmd.Flags().String("archive-dest", "", "Archive destination root (env: ENGINEBRIDGE_ARCHIVE_DESTINATION)")
	cmd.Flags().StringSlice("archive-exclude", nil, "Glob patterns of files to leave out")
	cmd.Flags().BoolVar(&deleteAfterCopy, "delete-after-copy", false, "Remove the workspace after a successful copy")
	return cmd
}
