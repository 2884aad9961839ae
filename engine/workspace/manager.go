package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/compozy/enginebridge/engine/record"
	"github.com/compozy/enginebridge/pkg/logger"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

type Manager struct {
	fs     afero.Fs
	root   string
	prefix string
	format record.Format
}

func NewManager(fs afero.Fs, root, prefix string, format record.Format) *Manager {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if format == "" {
		format = record.FormatBinary
	}
	return &Manager{fs: fs, root: root, prefix: prefix, format: format}
}

func (m *Manager) Fs() afero.Fs {
	return m.fs
}

// TaskDir is the directory of (instance, task), ignoring any step.
func (m *Manager) TaskDir(instanceID, taskID string) string {
	return filepath.Join(m.root, Name(m.prefix, instanceID, taskID))
}

// Resolve returns the workspace for key without touching the filesystem.
func (m *Manager) Resolve(key Key) (*Workspace, error) {
	if err := key.validate(); err != nil {
		return nil, fmt.Errorf("invalid workspace key: %w", err)
	}
	dir := m.TaskDir(key.InstanceID, key.TaskID)
	if key.Step > 0 {
		dir = filepath.Join(dir, StepDir(key.Step))
	}
	return &Workspace{Key: key, Dir: dir, Format: m.format}, nil
}

// Ensure resolves key and creates its directory.
func (m *Manager) Ensure(ctx context.Context, key Key) (*Workspace, error) {
	ws, err := m.Resolve(key)
	if err != nil {
		return nil, err
	}
	if err := m.fs.MkdirAll(ws.Dir, dirPerm); err != nil {
		return nil, &IOError{Op: "create", Path: ws.Dir, Err: err}
	}
	logger.FromContext(ctx).Debug("Workspace ready", "dir", ws.Dir)
	return ws, nil
}

// WriteInputs serializes in as the inputs of invocation (module, seq).
func (m *Manager) WriteInputs(ws *Workspace, module string, seq int, in record.Record) error {
	path := ws.InputsPath(module, seq)
	f, err := m.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return &IOError{Op: "write inputs", Path: path, Err: err}
	}
	if err := record.Encode(f, ws.Format, in); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode inputs to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return &IOError{Op: "write inputs", Path: path, Err: err}
	}
	return nil
}

// PurgeStale removes the error file, outputs and state marker a previous run
// of the same invocation may have left, so none is mistaken for a fresh
// result.
func (m *Manager) PurgeStale(ctx context.Context, ws *Workspace, module string, seq int) error {
	log := logger.FromContext(ctx)
	stale := []string{ws.ErrorPath(module, seq), ws.OutputsPath(module, seq), ws.StatePath(module, seq)}
	for _, path := range stale {
		removed, err := m.RemoveArtifact(path)
		if err != nil {
			return err
		}
		if removed {
			log.Debug("Removed stale artifact", "path", path)
		}
	}
	return nil
}

// RemoveArtifact deletes one file and reports whether it existed. Files that
// are already gone are not an error.
func (m *Manager) RemoveArtifact(path string) (bool, error) {
	err := m.fs.Remove(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, &IOError{Op: "remove", Path: path, Err: err}
	}
}

// Remove deletes the workspace directory and everything in it.
func (m *Manager) Remove(ws *Workspace) error {
	if err := m.fs.RemoveAll(ws.Dir); err != nil {
		return &IOError{Op: "remove", Path: ws.Dir, Err: err}
	}
	return nil
}

func (m *Manager) Exists(path string) (bool, error) {
	return afero.Exists(m.fs, path)
}
