package task

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/enginebridge/pkg/config"
)

func TestNewFromConfig(t *testing.T) {
	t.Run("Should assemble a runner from configuration", func(t *testing.T) {
		h := newHarness(t)
		cfg := config.Default()
		cfg.Engine.Executable = os.Args[0]
		cfg.Engine.Args = []string{"-test.run=TestHelperProcess", "--"}
		cfg.Engine.Env = map[string]string{"GO_WANT_HELPER_PROCESS": "1", "HELPER_MODE": "sum"}
		cfg.Engine.Timeout = time.Minute
		cfg.Engine.PollInterval = 10 * time.Millisecond
		cfg.Workspace.Root = h.root
		cfg.Workspace.Format = "yaml"
		cfg.Archive.Enabled = true
		cfg.Archive.Destination = t.TempDir()
		cfg.Archive.Exclude = []string{"*.log"}

		r, err := NewFromConfig(cfg, h.stream, h.meters)
		require.NoError(t, err)
		res, err := r.Run(h.ctx, sumRequest("7"))
		require.NoError(t, err)
		assert.Equal(t, 1.0, res.Outputs.(*sumOutputs).Sum)
		assert.Equal(t, filepath.Join(cfg.Archive.Destination, "task-100-7"), res.ArchivePath)
		assert.FileExists(t, filepath.Join(res.ArchivePath, "sum-outputs-1.yaml"))
		assert.NoFileExists(t, filepath.Join(res.ArchivePath, "sum-1.log"))
	})

	t.Run("Should reject an unknown record format", func(t *testing.T) {
		cfg := config.Default()
		cfg.Workspace.Format = "xml"
		_, err := NewFromConfig(cfg, nil, nil)
		require.Error(t, err)
	})
}

func TestNewPoolFromConfig(t *testing.T) {
	t.Run("Should size the pool from the worker slots", func(t *testing.T) {
		h := newHarness(t)
		cfg := config.Default()
		cfg.Engine.Executable = os.Args[0]
		cfg.Engine.Args = []string{"-test.run=TestHelperProcess", "--"}
		cfg.Engine.Env = map[string]string{"GO_WANT_HELPER_PROCESS": "1", "HELPER_MODE": "sum"}
		cfg.Engine.PollInterval = 10 * time.Millisecond
		cfg.Workspace.Root = h.root
		cfg.Worker.Slots = 3

		pool, err := NewPoolFromConfig(cfg, h.stream, h.meters)
		require.NoError(t, err)
		assert.Equal(t, 3, pool.slots)
		done := pool.RunAll(h.ctx, []Request{sumRequest("1"), sumRequest("2")})
		require.Len(t, done, 2)
		for _, c := range done {
			require.NoError(t, c.Err)
			assert.Equal(t, 1.0, c.Result.Outputs.(*sumOutputs).Sum)
		}
	})
}
