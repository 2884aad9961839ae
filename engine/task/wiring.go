package task

import (
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/enginebridge/engine/invoker"
	"github.com/compozy/enginebridge/engine/logcapture"
	"github.com/compozy/enginebridge/engine/record"
	"github.com/compozy/enginebridge/engine/result"
	"github.com/compozy/enginebridge/engine/workspace"
	"github.com/compozy/enginebridge/pkg/config"
	"github.com/compozy/enginebridge/pkg/logger"
)

// NewFromConfig assembles a Runner on the OS filesystem from cfg. A nil
// stream disables per-task log files.
func NewFromConfig(cfg *config.Config, stream *logger.Stream, provider metric.MeterProvider) (*Runner, error) {
	format, err := record.ParseFormat(cfg.Workspace.Format)
	if err != nil {
		return nil, err
	}
	fs := afero.NewOsFs()
	deps := Deps{
		Manager: workspace.NewManager(fs, cfg.Workspace.Root, cfg.Workspace.Prefix, format),
		Engine: invoker.New(invoker.Config{
			Executable: cfg.Engine.Executable,
			Args:       cfg.Engine.Args,
			Env:        cfg.Engine.Env,
			Timeout:    cfg.Engine.Timeout,
			MaxStdout:  cfg.Engine.MaxStdout,
			MaxStderr:  cfg.Engine.MaxStderr,
		}),
		Reader:        result.NewReader(fs),
		MeterProvider: provider,
	}
	if stream != nil {
		deps.Capture = logcapture.New(stream, fs)
	}
	opts := Options{
		SettleTimeout:          cfg.Engine.SettleTimeout,
		PollInterval:           cfg.Engine.PollInterval,
		DeleteOutputsAfterRead: cfg.Workspace.DeleteOutputsAfterRead,
		DeleteAfterRun:         cfg.Workspace.DeleteAfterRun,
	}
	if cfg.Archive.Enabled {
		opts.Archive = &workspace.ArchiveOptions{
			Destination:     cfg.Archive.Destination,
			Exclude:         cfg.Archive.Exclude,
			DeleteAfterCopy: cfg.Archive.DeleteAfterCopy,
			FailTaskOnError: cfg.Archive.FailTaskOnError,
		}
	}
	return NewRunner(deps, opts)
}

// NewPoolFromConfig assembles a Runner as NewFromConfig does and runs it on
// cfg.Worker.Slots slots.
func NewPoolFromConfig(cfg *config.Config, stream *logger.Stream, provider metric.MeterProvider) (*Pool, error) {
	runner, err := NewFromConfig(cfg, stream, provider)
	if err != nil {
		return nil, err
	}
	return NewPool(runner, cfg.Worker.Slots), nil
}
