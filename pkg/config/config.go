package config

import (
	"time"
)

// Config is the complete enginebridge configuration.
type Config struct {
	Engine    EngineConfig    `koanf:"engine" yaml:"engine" validate:"required"`
	Workspace WorkspaceConfig `koanf:"workspace" yaml:"workspace" validate:"required"`
	Archive   ArchiveConfig   `koanf:"archive" yaml:"archive"`
	Worker    WorkerConfig    `koanf:"worker" yaml:"worker"`
	Log       LogConfig       `koanf:"log" yaml:"log"`
}

// EngineConfig describes how the external compute engine is launched.
type EngineConfig struct {
	Executable    string            `koanf:"executable" yaml:"executable"`
	Args          []string          `koanf:"args" yaml:"args"`
	Env           map[string]string `koanf:"env" yaml:"env"`
	Timeout       time.Duration     `koanf:"timeout" yaml:"timeout"`
	SettleTimeout time.Duration     `koanf:"settle_timeout" yaml:"settle_timeout"`
	PollInterval  time.Duration     `koanf:"poll_interval" yaml:"poll_interval"`
	MaxStdout     int64             `koanf:"max_stdout" yaml:"max_stdout" validate:"min=0"`
	MaxStderr     int64             `koanf:"max_stderr" yaml:"max_stderr" validate:"min=0"`
}

// WorkspaceConfig controls workspace naming and cleanup.
type WorkspaceConfig struct {
	Root                   string `koanf:"root" yaml:"root" validate:"required"`
	Prefix                 string `koanf:"prefix" yaml:"prefix" validate:"required"`
	Format                 string `koanf:"format" yaml:"format" validate:"required,record_format"`
	DeleteOutputsAfterRead bool   `koanf:"delete_outputs_after_read" yaml:"delete_outputs_after_read"`
	DeleteAfterRun         bool   `koanf:"delete_after_run" yaml:"delete_after_run"`
}

// ArchiveConfig is the archival request surface applied after each run.
type ArchiveConfig struct {
	Enabled         bool     `koanf:"enabled" yaml:"enabled"`
	Destination     string   `koanf:"destination" yaml:"destination"`
	Exclude         []string `koanf:"exclude" yaml:"exclude"`
	DeleteAfterCopy bool     `koanf:"delete_after_copy" yaml:"delete_after_copy"`
	FailTaskOnError bool     `koanf:"fail_task_on_error" yaml:"fail_task_on_error"`
}

type WorkerConfig struct {
	Slots int `koanf:"slots" yaml:"slots" validate:"min=1"`
}

type LogConfig struct {
	Level  string `koanf:"level" yaml:"level" validate:"oneof=debug info warn error disabled"`
	JSON   bool   `koanf:"json" yaml:"json"`
	Source bool   `koanf:"source" yaml:"source"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Args:          []string{},
			Env:           map[string]string{},
			Timeout:       30 * time.Minute,
			SettleTimeout: 2 * time.Second,
			PollInterval:  250 * time.Millisecond,
			MaxStdout:     1 << 20,
			MaxStderr:     1 << 20,
		},
		Workspace: WorkspaceConfig{
			Root:   "workspaces",
			Prefix: "task",
			Format: "binary",
		},
		Archive: ArchiveConfig{
			Exclude: []string{},
		},
		Worker: WorkerConfig{
			Slots: 4,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
