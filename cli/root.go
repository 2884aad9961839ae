package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/compozy/enginebridge/pkg/config"
	"github.com/compozy/enginebridge/pkg/logger"
)

const defaultConfigFile = "enginebridge.yaml"

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "enginebridge",
		Short:             "Administer compute engine task workspaces",
		SilenceUsage:      true,
		PersistentPreRunE: SetupGlobalConfig,
	}
	flags := root.PersistentFlags()
	flags.String("config", defaultConfigFile, "Path to the configuration file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error, disabled)")
	flags.Bool("log-json", false, "Output logs in JSON format")
	flags.Bool("log-source", false, "Include source file and line in logs")
	flags.String("workspace-root", "", "Root directory of task workspaces (env: ENGINEBRIDGE_WORKSPACE_ROOT)")
	flags.String("workspace-prefix", "", "Workspace directory prefix (env: ENGINEBRIDGE_WORKSPACE_PREFIX)")
	flags.String("format", "", "Record format of interchange files: binary or yaml")

	root.AddCommand(
		FetchCmd(),
		ArchiveCmd(),
		StateCmd(),
		WatchCmd(),
		InspectErrorCmd(),
		ConfigCmd(),
	)
	return root
}

// SetupGlobalConfig loads configuration from file, environment and flags,
// initializes logging and stores both in the command context.
func SetupGlobalConfig(cmd *cobra.Command, _ []string) error {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, _, err := loadConfig(cmd, configFile)
	if err != nil {
		return err
	}
	if err := logger.SetupLogger(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Source, nil); err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	ctx := config.ContextWithConfig(cmd.Context(), cfg)
	ctx = logger.ContextWithLogger(ctx, logger.GetDefault())
	cmd.SetContext(ctx)
	return nil
}

func loadConfig(cmd *cobra.Command, configFile string) (*config.Config, *config.Loader, error) {
	service := config.NewService()
	sources := []config.Source{}
	if configFile != "" {
		sources = append(sources, config.NewYAMLProvider(configFile))
	}
	if cliFlags := extractCLIFlags(cmd); len(cliFlags) > 0 {
		sources = append(sources, config.NewCLIProvider(cliFlags))
	}
	cfg, err := service.Load(cmd.Context(), sources...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, service, nil
}

// extractCLIFlags collects explicitly set flags; defaults never override
// file or environment values.
func extractCLIFlags(cmd *cobra.Command) map[string]any {
	out := make(map[string]any)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if slice, ok := f.Value.(pflag.SliceValue); ok {
			out[f.Name] = slice.GetSlice()
			return
		}
		out[f.Name] = f.Value.String()
	})
	return out
}
