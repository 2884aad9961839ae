package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/otiai10/copy"

	"github.com/compozy/enginebridge/pkg/logger"
)

// ArchiveOptions is the archival request surface.
type ArchiveOptions struct {
	// Destination is the root the workspace directory is copied under.
	Destination string
	// Exclude lists doublestar globs matched against each file's path
	// relative to the workspace and against its base name.
	Exclude         []string
	DeleteAfterCopy bool
	// FailTaskOnError asks the caller to fail the owning task when archival
	// fails instead of logging and keeping the computed result.
	FailTaskOnError bool
}

func (o ArchiveOptions) validate() error {
	if o.Destination == "" {
		return errors.New("archive destination is required")
	}
	for _, pattern := range o.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	return nil
}

// Archiver copies finished workspaces to long-term storage. It works on the
// OS filesystem.
type Archiver struct{}

func NewArchiver() *Archiver {
	return &Archiver{}
}

// Archive copies src to <Destination>/<base(src)> and returns that path.
// The source is removed only after a complete copy.
func (a *Archiver) Archive(ctx context.Context, src string, opts ArchiveOptions) (string, error) {
	log := logger.FromContext(ctx)
	if err := opts.validate(); err != nil {
		return "", err
	}
	info, err := os.Stat(src)
	if err != nil {
		return "", &IOError{Op: "archive", Path: src, Err: err}
	}
	if !info.IsDir() {
		return "", &IOError{Op: "archive", Path: src, Err: errors.New("not a directory")}
	}
	dest := filepath.Join(opts.Destination, filepath.Base(src))
	err = copy.Copy(src, dest, copy.Options{
		Skip: func(srcinfo os.FileInfo, path, _ string) (bool, error) {
			if srcinfo.IsDir() {
				return false, nil
			}
			return excluded(src, path, opts.Exclude), nil
		},
		PreserveTimes: true,
	})
	if err != nil {
		return "", &IOError{Op: "archive", Path: src, Err: err}
	}
	log.Info("Workspace archived", "source", src, "destination", dest)
	if opts.DeleteAfterCopy {
		if err := os.RemoveAll(src); err != nil {
			return dest, &IOError{Op: "delete archived", Path: src, Err: err}
		}
		log.Debug("Archived workspace removed", "source", src)
	}
	return dest, nil
}

func excluded(root, path string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
		if matched, err := doublestar.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	return false
}
