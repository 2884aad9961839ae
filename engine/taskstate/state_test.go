package taskstate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead(t *testing.T) {
	t.Run("Should report UNKNOWN for a missing marker", func(t *testing.T) {
		state, err := Read(afero.NewMemMapFs(), "/ws/sum-state-1")
		assert.Equal(t, StateUnknown, state)
		assert.ErrorIs(t, err, ErrMarkerMissing)
	})

	t.Run("Should report UNKNOWN for garbage content", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/ws/sum-state-1", []byte("DONE?"), 0o644))
		state, err := Read(fs, "/ws/sum-state-1")
		assert.Equal(t, StateUnknown, state)
		assert.ErrorIs(t, err, ErrMarkerCorrupt)
	})

	t.Run("Should tolerate surrounding whitespace", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/ws/sum-state-1", []byte(" processing\r\n"), 0o644))
		state, err := Read(fs, "/ws/sum-state-1")
		require.NoError(t, err)
		assert.Equal(t, StateProcessing, state)
	})
}

func TestWrite(t *testing.T) {
	t.Run("Should replace the marker and leave no temp files", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, fs.MkdirAll("/ws", 0o755))
		for _, s := range []State{StatePending, StateProcessing, StateComplete} {
			require.NoError(t, Write(fs, "/ws/sum-state-1", s))
			got, err := Read(fs, "/ws/sum-state-1")
			require.NoError(t, err)
			assert.Equal(t, s, got)
		}
		entries, err := afero.ReadDir(fs, "/ws")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "sum-state-1", entries[0].Name())
	})

	t.Run("Should refuse to persist UNKNOWN", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, fs.MkdirAll("/ws", 0o755))
		assert.ErrorIs(t, Write(fs, "/ws/sum-state-1", StateUnknown), ErrMarkerCorrupt)
	})
}

func TestAwait(t *testing.T) {
	t.Run("Should return as soon as the marker is COMPLETE", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, fs.MkdirAll("/ws", 0o755))
		require.NoError(t, Write(fs, "/ws/m-state-1", StateComplete))
		state, err := Await(t.Context(), fs, "/ws/m-state-1", 10*time.Millisecond, time.Second)
		require.NoError(t, err)
		assert.Equal(t, StateComplete, state)
	})

	t.Run("Should observe a late transition", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, fs.MkdirAll("/ws", 0o755))
		require.NoError(t, Write(fs, "/ws/m-state-1", StateProcessing))
		go func() {
			time.Sleep(30 * time.Millisecond)
			_ = Write(fs, "/ws/m-state-1", StateComplete)
		}()
		state, err := Await(t.Context(), fs, "/ws/m-state-1", 5*time.Millisecond, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, StateComplete, state)
	})

	t.Run("Should give up with the last observed state", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, fs.MkdirAll("/ws", 0o755))
		require.NoError(t, Write(fs, "/ws/m-state-1", StateProcessing))
		state, err := Await(t.Context(), fs, "/ws/m-state-1", 5*time.Millisecond, 30*time.Millisecond)
		assert.ErrorIs(t, err, ErrNotSettled)
		assert.Equal(t, StateProcessing, state)
	})

	t.Run("Should stop early when the caller is done waiting", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, fs.MkdirAll("/ws", 0o755))
		require.NoError(t, Write(fs, "/ws/m-state-1", StateProcessing))
		require.NoError(t, afero.WriteFile(fs, "/ws/m-error-1.bin", []byte("x"), 0o644))
		reported := func() bool {
			ok, _ := afero.Exists(fs, "/ws/m-error-1.bin")
			return ok
		}
		start := time.Now()
		state, err := AwaitUntil(t.Context(), fs, "/ws/m-state-1", 5*time.Millisecond, 10*time.Second, reported)
		require.NoError(t, err)
		assert.Equal(t, StateProcessing, state)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("Should check once without a timeout", func(t *testing.T) {
		state, err := Await(t.Context(), afero.NewMemMapFs(), "/ws/m-state-1", time.Millisecond, 0)
		assert.ErrorIs(t, err, ErrNotSettled)
		assert.Equal(t, StateUnknown, state)
	})

	t.Run("Should stop when the context is canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := Await(ctx, afero.NewMemMapFs(), "/ws/m-state-1", time.Millisecond, time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWatch(t *testing.T) {
	t.Run("Should report each state transition", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sum-state-1")
		fs := afero.NewOsFs()
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		seen := make(chan State, 16)
		done := make(chan error, 1)
		go func() {
			done <- Watch(ctx, path, func(s State) { seen <- s })
		}()
		require.Equal(t, StateUnknown, waitState(t, seen))

		require.NoError(t, Write(fs, path, StateProcessing))
		require.Equal(t, StateProcessing, waitState(t, seen))
		require.NoError(t, Write(fs, path, StateComplete))
		require.Equal(t, StateComplete, waitState(t, seen))

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("watch did not stop after cancel")
		}
	})

	t.Run("Should fail when the directory does not exist", func(t *testing.T) {
		err := Watch(t.Context(), filepath.Join(t.TempDir(), "missing", "m-state-1"), func(State) {})
		assert.Error(t, err)
	})
}

func waitState(t *testing.T, ch <-chan State) State {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a state change")
		return StateUnknown
	}
}
