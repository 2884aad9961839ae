// Package invoker runs the external compute engine as a blocking subprocess
// against a task workspace.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/compozy/enginebridge/engine/record"
	"github.com/compozy/enginebridge/pkg/logger"
)

const defaultWaitDelay = 5 * time.Second

type Config struct {
	Executable string
	Args       []string
	Env        map[string]string
	// Timeout bounds each invocation; zero means no limit beyond ctx.
	Timeout   time.Duration
	MaxStdout int64
	MaxStderr int64
	// WaitDelay bounds how long output pipes are drained after a kill.
	WaitDelay time.Duration
}

// Invocation names one engine call inside a workspace.
type Invocation struct {
	Dir    string
	Module string
	Seq    int
	Format record.Format
	Env    map[string]string
}

// Outcome describes how the subprocess ended. A non-zero exit or a timeout
// is not an error by itself: the workspace artifacts decide the result.
type Outcome struct {
	ExitCode        int
	Duration        time.Duration
	TimedOut        bool
	Canceled        bool
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
}

func (o *Outcome) Success() bool {
	return o.ExitCode == 0 && !o.TimedOut && !o.Canceled
}

// ProcessError reports that the engine could not be started at all.
type ProcessError struct {
	Executable string
	Operation  string
	Err        error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("engine process %s %s failed: %v", e.Executable, e.Operation, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

type Invoker struct {
	cfg Config
}

func New(cfg Config) *Invoker {
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	return &Invoker{cfg: cfg}
}

// Args returns the command line passed to the engine for inv.
func (i *Invoker) Args(inv Invocation) []string {
	format := inv.Format
	if format == "" {
		format = record.FormatBinary
	}
	args := make([]string, 0, len(i.cfg.Args)+8)
	args = append(args, i.cfg.Args...)
	return append(args,
		"--workspace", inv.Dir,
		"--module", inv.Module,
		"--seq", strconv.Itoa(inv.Seq),
		"--format", format.String(),
	)
}

// Invoke runs the engine and blocks until it exits, the timeout elapses or
// ctx is done. The last two kill the process.
func (i *Invoker) Invoke(ctx context.Context, inv Invocation) (*Outcome, error) {
	log := logger.FromContext(ctx).With("module", inv.Module, "seq", inv.Seq)
	executable := strings.TrimSpace(i.cfg.Executable)
	if executable == "" {
		return nil, &ProcessError{Operation: "resolve", Err: errors.New("engine executable is not configured")}
	}
	cmdCtx, cancel := createCommandContext(ctx, i.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, executable, i.Args(inv)...)
	cmd.Dir = inv.Dir
	cmd.Env = mergeEnvironment(i.cfg.Env, inv.Env)
	cmd.WaitDelay = i.cfg.WaitDelay
	stdoutBuf := newLimitedBuffer(i.cfg.MaxStdout)
	stderrBuf := newLimitedBuffer(i.cfg.MaxStderr)
	stdoutRelay := newLineRelay(log, "stdout")
	stderrRelay := newLineRelay(log, "stderr")
	cmd.Stdout = io.MultiWriter(stdoutBuf, stdoutRelay)
	cmd.Stderr = io.MultiWriter(stderrBuf, stderrRelay)

	log.Info("Invoking engine", "executable", executable, "dir", inv.Dir)
	start := time.Now()
	err := cmd.Run()
	stdoutRelay.Flush()
	stderrRelay.Flush()
	outcome := &Outcome{
		Duration:        time.Since(start),
		Stdout:          stdoutBuf.String(),
		Stderr:          stderrBuf.String(),
		StdoutTruncated: stdoutBuf.Truncated(),
		StderrTruncated: stderrBuf.Truncated(),
	}
	if ctxErr := cmdCtx.Err(); ctxErr != nil {
		outcome.TimedOut = errors.Is(ctxErr, context.DeadlineExceeded) && ctx.Err() == nil
		outcome.Canceled = ctx.Err() != nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			outcome.ExitCode = exitErr.ExitCode()
		case outcome.TimedOut || outcome.Canceled:
			outcome.ExitCode = -1
		default:
			return nil, &ProcessError{Executable: executable, Operation: "start", Err: err}
		}
	}
	log.Info("Engine exited",
		"exit_code", outcome.ExitCode,
		"duration_ms", outcome.Duration.Milliseconds(),
		"timed_out", outcome.TimedOut,
		"canceled", outcome.Canceled,
		"stdout_truncated", outcome.StdoutTruncated,
		"stderr_truncated", outcome.StderrTruncated,
	)
	return outcome, nil
}

func createCommandContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// mergeEnvironment overlays the given maps, later ones winning, on the
// process environment.
func mergeEnvironment(overlays ...map[string]string) []string {
	extra := make(map[string]string)
	for _, overlay := range overlays {
		for k, v := range overlay {
			extra[k] = v
		}
	}
	base := os.Environ()
	if len(extra) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(extra))
	replaced := make(map[string]struct{}, len(extra))
	for _, kv := range base {
		equal := strings.IndexByte(kv, '=')
		if equal <= 0 {
			continue
		}
		key := kv[:equal]
		if value, ok := extra[key]; ok {
			merged = append(merged, key+"="+value)
			replaced[key] = struct{}{}
			continue
		}
		merged = append(merged, kv)
	}
	for key, value := range extra {
		if _, ok := replaced[key]; ok {
			continue
		}
		merged = append(merged, key+"="+value)
	}
	return merged
}
