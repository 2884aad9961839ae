package task

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/enginebridge/engine/invoker"
	"github.com/compozy/enginebridge/engine/logcapture"
	"github.com/compozy/enginebridge/engine/record"
	"github.com/compozy/enginebridge/engine/result"
	"github.com/compozy/enginebridge/engine/taskstate"
	"github.com/compozy/enginebridge/engine/workspace"
	"github.com/compozy/enginebridge/pkg/logger"
)

// Engine runs the external compute engine for one invocation.
type Engine interface {
	Invoke(ctx context.Context, inv invoker.Invocation) (*invoker.Outcome, error)
}

// Request is one invoke -> read -> archive cycle.
type Request struct {
	Key     workspace.Key
	Module  string
	Seq     int
	Inputs  record.Record
	Outputs record.Record
	Env     map[string]string
}

func (r Request) validate() error {
	switch {
	case r.Module == "":
		return errors.New("module is required")
	case r.Inputs == nil:
		return errors.New("inputs record is required")
	case r.Outputs == nil:
		return errors.New("outputs shell is required")
	case r.Seq < 0:
		return fmt.Errorf("sequence %d is negative", r.Seq)
	}
	return nil
}

type Result struct {
	ExecID      string
	Workspace   *workspace.Workspace
	Outputs     record.Record
	Process     *invoker.Outcome
	ArchivePath string
	// ArchiveErr is set when archival failed but was not escalated.
	ArchiveErr error
	Duration   time.Duration
}

type Options struct {
	SettleTimeout          time.Duration
	PollInterval           time.Duration
	DeleteOutputsAfterRead bool
	DeleteAfterRun         bool
	// Archive enables archival after every run when set.
	Archive *workspace.ArchiveOptions
}

type Deps struct {
	Manager       *workspace.Manager
	Engine        Engine
	Reader        *result.Reader
	Capture       *logcapture.Capture
	Archiver      *workspace.Archiver
	MeterProvider metric.MeterProvider
}

// Runner executes requests one at a time per call; it is safe for
// concurrent use as long as requests target disjoint workspaces.
type Runner struct {
	manager  *workspace.Manager
	engine   Engine
	reader   *result.Reader
	capture  *logcapture.Capture
	archiver *workspace.Archiver
	opts     Options
	metrics  *runMetrics
}

func NewRunner(deps Deps, opts Options) (*Runner, error) {
	if deps.Manager == nil || deps.Engine == nil {
		return nil, errors.New("runner requires a workspace manager and an engine")
	}
	if deps.Reader == nil {
		deps.Reader = result.NewReader(deps.Manager.Fs())
	}
	if deps.Archiver == nil && opts.Archive != nil {
		deps.Archiver = workspace.NewArchiver()
	}
	m, err := newRunMetrics(deps.MeterProvider)
	if err != nil {
		return nil, err
	}
	return &Runner{
		manager:  deps.Manager,
		engine:   deps.Engine,
		reader:   deps.Reader,
		capture:  deps.Capture,
		archiver: deps.Archiver,
		opts:     opts,
		metrics:  m,
	}, nil
}

// Run performs one invocation. Engine-side failures come back as
// *result.EngineError, failures to start the engine as *invoker.ProcessError
// and escalated archival failures as *workspace.IOError.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("invalid task request: %w", err)
	}
	start := time.Now()
	execID := ksuid.New().String()
	ctx = logger.ContextWithScope(ctx, execID)
	log := logger.FromContext(ctx).With("exec_id", execID, "task", req.Key.String(), "module", req.Module)
	r.metrics.begin(ctx, req.Module)
	outcome := outcomeSetupError
	defer func() {
		r.metrics.end(context.WithoutCancel(ctx), req.Module, outcome, time.Since(start))
	}()

	ws, err := r.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	stopCapture, err := r.startCapture(execID, ws.LogPath(req.Module, req.Seq))
	if err != nil {
		return nil, err
	}
	log.Info("Task started", "dir", ws.Dir)

	res := &Result{ExecID: execID, Workspace: ws}
	proc, runErr := r.execute(ctx, ws, req)
	res.Process = proc
	var procErr *invoker.ProcessError
	switch {
	case errors.As(runErr, &procErr):
		outcome = outcomeProcessError
		log.Error("Engine could not be started", "error", runErr)
	case runErr != nil:
		var engErr *result.EngineError
		if errors.As(runErr, &engErr) {
			outcome = string(engErr.Kind)
			log.Error("Task failed", "kind", engErr.Kind, "message", engErr.Descriptor.Message)
		}
	default:
		outcome = outcomeSuccess
		res.Outputs = req.Outputs
		log.Info("Task completed")
	}
	if err := stopCapture(); err != nil {
		log.Warn("Failed to close task log", "error", err)
	}

	if archErr := r.archive(ctx, ws, res); archErr != nil {
		outcome = outcomeArchiveError
		return nil, archErr
	}
	if r.opts.DeleteAfterRun {
		if err := r.manager.Remove(ws); err != nil {
			log.Warn("Failed to remove workspace", "dir", ws.Dir, "error", err)
		}
	}
	res.Duration = time.Since(start)
	if runErr != nil {
		return nil, runErr
	}
	return res, nil
}

func (r *Runner) prepare(ctx context.Context, req Request) (*workspace.Workspace, error) {
	ws, err := r.manager.Ensure(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	if err := r.manager.PurgeStale(ctx, ws, req.Module, req.Seq); err != nil {
		return nil, err
	}
	if err := r.manager.WriteInputs(ws, req.Module, req.Seq, req.Inputs); err != nil {
		return nil, err
	}
	return ws, nil
}

func (r *Runner) startCapture(scope, path string) (func() error, error) {
	if r.capture == nil {
		return func() error { return nil }, nil
	}
	if err := r.capture.Start(scope, path); err != nil {
		return nil, fmt.Errorf("failed to start task log: %w", err)
	}
	var once sync.Once
	var stopErr error
	return func() error {
		once.Do(func() { stopErr = r.capture.Stop(scope) })
		return stopErr
	}, nil
}

// execute invokes the engine, lets a late marker settle and resolves the
// outcome from the workspace. The settle wait ends early once the engine has
// written an error file.
func (r *Runner) execute(ctx context.Context, ws *workspace.Workspace, req Request) (*invoker.Outcome, error) {
	log := logger.FromContext(ctx)
	proc, err := r.engine.Invoke(ctx, invoker.Invocation{
		Dir:    ws.Dir,
		Module: req.Module,
		Seq:    req.Seq,
		Format: ws.Format,
		Env:    req.Env,
	})
	if err != nil {
		return nil, err
	}
	if r.opts.SettleTimeout > 0 && !proc.TimedOut && !proc.Canceled {
		errorPath := ws.ErrorPath(req.Module, req.Seq)
		reported := func() bool {
			ok, _ := r.manager.Exists(errorPath)
			return ok
		}
		state, err := taskstate.AwaitUntil(ctx, r.manager.Fs(), ws.StatePath(req.Module, req.Seq),
			r.opts.PollInterval, r.opts.SettleTimeout, reported)
		if err != nil && !errors.Is(err, taskstate.ErrNotSettled) {
			log.Debug("Marker wait interrupted", "state", state, "error", err)
		}
	}
	_, err = r.reader.Read(ctx, ws, req.Module, req.Seq, req.Outputs, result.Options{
		DeleteOutputs: r.opts.DeleteOutputsAfterRead,
	})
	return proc, err
}

// archive copies the workspace when enabled. Failures are escalated only
// under FailTaskOnError; otherwise they are recorded on res.
func (r *Runner) archive(ctx context.Context, ws *workspace.Workspace, res *Result) error {
	if r.opts.Archive == nil {
		return nil
	}
	log := logger.FromContext(ctx)
	opts := *r.opts.Archive
	if ws.Key.Step > 0 {
		opts.Destination = filepath.Join(opts.Destination, filepath.Base(filepath.Dir(ws.Dir)))
	}
	path, err := r.archiver.Archive(ctx, ws.Dir, opts)
	if err != nil {
		if opts.FailTaskOnError {
			log.Error("Archival failed, failing task", "error", err)
			return fmt.Errorf("task %s: %w", ws.Key, err)
		}
		log.Warn("Archival failed, keeping task result", "error", err)
		res.ArchiveErr = err
		return nil
	}
	res.ArchivePath = path
	return nil
}
