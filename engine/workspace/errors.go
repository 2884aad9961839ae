package workspace

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkspaceIO marks filesystem failures while managing, archiving or
	// fetching a workspace.
	ErrWorkspaceIO = errors.New("workspace io failure")
	// ErrWorkspaceNotFound is returned by Fetch for an unknown task.
	ErrWorkspaceNotFound = errors.New("workspace not found")
)

type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func (e *IOError) Is(target error) bool {
	return target == ErrWorkspaceIO
}
