package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/compozy/enginebridge/engine/record"
	"github.com/compozy/enginebridge/pkg/config"
)

// InspectErrorCmd decodes an Error Descriptor file. With --to it re-encodes
// the descriptor, e.g. from binary to yaml for other tools.
func InspectErrorCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "inspect-error <path>",
		Short: "Decode an engine error descriptor file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			format, err := formatForFile(cmd, path)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			desc := &record.ErrorDescriptor{}
			if err := record.Unmarshal(format, data, desc); err != nil {
				return fmt.Errorf("failed to decode %s: %w", path, err)
			}
			if to == "" {
				printf(cmd, "%s\n", desc.String())
				return nil
			}
			target, err := record.ParseFormat(to)
			if err != nil {
				return err
			}
			return record.Encode(cmd.OutOrStdout(), target, desc)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Re-encode the descriptor in this format instead of printing it")
	return cmd
}

// formatForFile prefers an explicit --format, then the configured format
// when it matches the extension, then the extension itself.
func formatForFile(cmd *cobra.Command, path string) (record.Format, error) {
	if cmd.Flags().Changed("format") {
		raw, err := cmd.Flags().GetString("format")
		if err != nil {
			return "", fmt.Errorf("failed to get format flag: %w", err)
		}
		return record.ParseFormat(raw)
	}
	ext := filepath.Ext(path)
	for _, f := range []record.Format{record.FormatBinary, record.FormatYAML} {
		if ext == f.Ext() {
			return f, nil
		}
	}
	return record.ParseFormat(config.FromContext(cmd.Context()).Workspace.Format)
}
