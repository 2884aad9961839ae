// Package taskstate reads and writes the per-invocation state marker the
// compute engine uses to signal progress.
package taskstate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/spf13/afero"
)

type State string

const (
	StatePending    State = "PENDING"
	StateProcessing State = "PROCESSING"
	StateComplete   State = "COMPLETE"
	// StateUnknown stands for a marker that is missing or unreadable.
	StateUnknown State = "UNKNOWN"
)

var (
	ErrMarkerMissing = errors.New("state marker missing")
	ErrMarkerCorrupt = errors.New("state marker unreadable")
	ErrNotSettled    = errors.New("state did not reach COMPLETE in time")
)

func (s State) String() string {
	return string(s)
}

// Terminal reports whether the engine has nothing left to do.
func (s State) Terminal() bool {
	return s == StateComplete
}

func Parse(raw string) (State, error) {
	switch State(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatePending:
		return StatePending, nil
	case StateProcessing:
		return StateProcessing, nil
	case StateComplete:
		return StateComplete, nil
	default:
		return StateUnknown, fmt.Errorf("%w: %q", ErrMarkerCorrupt, raw)
	}
}

// Read returns the state stored at path. A missing or unparseable marker
// yields StateUnknown together with the reason.
func Read(fs afero.Fs, path string) (State, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StateUnknown, fmt.Errorf("%w: %s", ErrMarkerMissing, path)
		}
		return StateUnknown, fmt.Errorf("%w: %s: %w", ErrMarkerCorrupt, path, err)
	}
	return Parse(string(data))
}

// Write replaces the marker at path. The new content is written to a sibling
// temp file first and renamed over the marker so readers never see a partial
// value.
func Write(fs afero.Fs, path string, state State) error {
	if _, err := Parse(string(state)); err != nil {
		return fmt.Errorf("refusing to write state: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp marker: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(string(state) + "\n"); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)
		return fmt.Errorf("failed to write marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("failed to close marker: %w", err)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("failed to publish marker: %w", err)
	}
	return nil
}

// Await polls the marker every interval until it reads COMPLETE, timeout
// elapses or ctx is done, and returns the last observed state. A timeout
// returns ErrNotSettled; cancellation returns the context error.
func Await(ctx context.Context, fs afero.Fs, path string, interval, timeout time.Duration) (State, error) {
	return AwaitUntil(ctx, fs, path, interval, timeout, nil)
}

// AwaitUntil is Await that also stops, without error, as soon as done
// reports true. A nil done never stops early.
func AwaitUntil(
	ctx context.Context,
	fs afero.Fs,
	path string,
	interval, timeout time.Duration,
	done func() bool,
) (State, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	last := StateUnknown
	var backoff retry.Backoff = retry.NewConstant(interval)
	if timeout > 0 {
		backoff = retry.WithMaxDuration(timeout, backoff)
	} else {
		backoff = retry.WithMaxRetries(0, backoff)
	}
	err := retry.Do(ctx, backoff, func(_ context.Context) error {
		state, _ := Read(fs, path)
		last = state
		if state.Terminal() || (done != nil && done()) {
			return nil
		}
		return retry.RetryableError(fmt.Errorf("%w: last state %s", ErrNotSettled, state))
	})
	if err == nil {
		return last, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return last, ctxErr
	}
	return last, err
}
