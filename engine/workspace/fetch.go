package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/otiai10/copy"

	"github.com/compozy/enginebridge/pkg/logger"
)

// interchangePatterns select the encoded record streams of a workspace.
var interchangePatterns = []string{
	"*-{inputs,outputs,error}-*.bin",
	"*-{inputs,outputs,error}-*.yaml",
}

// FetchRequest is the administrative snapshot surface.
type FetchRequest struct {
	InstanceID  string
	TaskID      string
	Destination string
	// BinaryOnly restricts the copy to interchange artifacts.
	BinaryOnly bool
}

// Fetcher snapshots the workspace of a possibly running task. It never
// writes to the workspace and tolerates the engine adding or removing files
// while it copies: every file is copied on its own, so one that vanishes is
// skipped without affecting its siblings.
type Fetcher struct {
	root   string
	prefix string
	// beforeCopy runs ahead of each file copy.
	beforeCopy func(path string)
}

func NewFetcher(root, prefix string) *Fetcher {
	return &Fetcher{root: root, prefix: prefix}
}

// Fetch copies the task directory, steps included, to
// <Destination>/<task dir name> and returns that path.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (string, error) {
	log := logger.FromContext(ctx)
	key := Key{InstanceID: req.InstanceID, TaskID: req.TaskID}
	if err := key.validate(); err != nil {
		return "", fmt.Errorf("invalid fetch request: %w", err)
	}
	if req.Destination == "" {
		return "", errors.New("fetch destination is required")
	}
	name := Name(f.prefix, req.InstanceID, req.TaskID)
	src := filepath.Join(f.root, name)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrWorkspaceNotFound, key)
		}
		return "", &IOError{Op: "fetch", Path: src, Err: err}
	}
	dest := filepath.Join(req.Destination, name)
	vanished, copied := 0, 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, os.ErrNotExist) && path != src {
				vanished++
				log.Debug("Artifact vanished during fetch", "path", path)
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if req.BinaryOnly && !isInterchange(d.Name()) {
			return nil
		}
		if f.beforeCopy != nil {
			f.beforeCopy(path)
		}
		if err := copy.Copy(path, target); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				vanished++
				log.Debug("Artifact vanished during fetch", "path", path)
				return nil
			}
			return err
		}
		copied++
		return nil
	})
	if err != nil {
		if _, statErr := os.Stat(src); errors.Is(statErr, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s removed during fetch", ErrWorkspaceNotFound, key)
		}
		return "", &IOError{Op: "fetch", Path: src, Err: err}
	}
	log.Info("Workspace fetched",
		"source", src,
		"destination", dest,
		"binary_only", req.BinaryOnly,
		"copied", copied,
		"vanished", vanished)
	return dest, nil
}

func isInterchange(base string) bool {
	for _, pattern := range interchangePatterns {
		if matched, err := doublestar.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	return false
}
