// Package result resolves the outcome of one engine invocation from the
// artifacts it left in its workspace.
package result

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/compozy/enginebridge/engine/record"
	"github.com/compozy/enginebridge/engine/taskstate"
	"github.com/compozy/enginebridge/engine/workspace"
	"github.com/compozy/enginebridge/pkg/logger"
)

type Options struct {
	// DeleteOutputs removes the output stream after a successful decode.
	DeleteOutputs bool
}

// Result is the success outcome: shell has been filled from OutputPath.
type Result struct {
	Outputs    record.Record
	OutputPath string
	State      taskstate.State
}

type Reader struct {
	fs afero.Fs
}

func NewReader(fs afero.Fs) *Reader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Reader{fs: fs}
}

// Read decides the outcome of invocation (module, seq) in ws. It never waits:
// whatever is on disk now is authoritative. An Error Descriptor file wins over
// the state marker; a COMPLETE marker requires outputs; any other state is a
// synthesized failure. Failures are returned as *EngineError.
func (r *Reader) Read(
	ctx context.Context,
	ws *workspace.Workspace,
	module string,
	seq int,
	shell record.Record,
	opts Options,
) (*Result, error) {
	log := logger.FromContext(ctx).With("module", module, "seq", seq)
	errPath := ws.ErrorPath(module, seq)
	present, err := afero.Exists(r.fs, errPath)
	if err != nil || present {
		state, _ := taskstate.Read(r.fs, ws.StatePath(module, seq))
		return nil, r.readErrorFile(log, ws.Format, errPath, module, seq, state)
	}

	state, stateErr := taskstate.Read(r.fs, ws.StatePath(module, seq))
	if state != taskstate.StateComplete {
		msg := fmt.Sprintf("engine did not complete %s/%d: last observed state %s", module, seq, state)
		if stateErr != nil {
			msg += " (" + stateErr.Error() + ")"
		}
		log.Warn("Invocation incomplete", "state", state)
		return nil, &EngineError{
			Kind:       KindIncomplete,
			Module:     module,
			Seq:        seq,
			State:      state,
			Descriptor: record.NewErrorDescriptor(msg),
			Err:        stateErr,
		}
	}

	outPath := ws.OutputsPath(module, seq)
	f, err := r.fs.Open(outPath)
	if err != nil {
		kind := KindMissingOutput
		msg := fmt.Sprintf("state is COMPLETE but outputs %s are missing", outPath)
		if !errors.Is(err, os.ErrNotExist) {
			msg = fmt.Sprintf("state is COMPLETE but outputs %s are unreadable: %v", outPath, err)
		}
		log.Error("Outputs unavailable", "path", outPath, "error", err)
		return nil, &EngineError{
			Kind:       kind,
			Module:     module,
			Seq:        seq,
			State:      state,
			Descriptor: record.NewErrorDescriptor(msg),
			Err:        err,
		}
	}
	decodeErr := record.Decode(f, ws.Format, shell)
	_ = f.Close()
	if decodeErr != nil {
		log.Error("Outputs do not match the expected record", "path", outPath, "error", decodeErr)
		return nil, &EngineError{
			Kind:       KindSchemaMismatch,
			Module:     module,
			Seq:        seq,
			State:      state,
			Descriptor: record.NewErrorDescriptor(fmt.Sprintf("failed to decode outputs %s: %v", outPath, decodeErr)),
			Err:        decodeErr,
		}
	}
	if opts.DeleteOutputs {
		if err := r.fs.Remove(outPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("Failed to delete outputs after read", "path", outPath, "error", err)
		}
	}
	log.Debug("Outputs read", "path", outPath)
	return &Result{Outputs: shell, OutputPath: outPath, State: state}, nil
}

// readErrorFile decodes the engine's Error Descriptor, synthesizing one when
// the file is corrupt. The file is removed in both cases so it cannot leak
// into a later attempt.
func (r *Reader) readErrorFile(
	log logger.Logger,
	format record.Format,
	path, module string,
	seq int,
	state taskstate.State,
) *EngineError {
	defer func() {
		if err := r.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("Failed to remove error file", "path", path, "error", err)
		}
	}()
	desc := &record.ErrorDescriptor{}
	data, err := afero.ReadFile(r.fs, path)
	if err == nil {
		err = record.Unmarshal(format, data, desc)
	}
	if err != nil {
		log.Error("Error descriptor is corrupt", "path", path, "error", err)
		return &EngineError{
			Kind:   KindCorruptError,
			Module: module,
			Seq:    seq,
			State:  state,
			Descriptor: record.NewErrorDescriptor(
				fmt.Sprintf("engine reported a failure but %s could not be decoded: %v", path, err),
			),
			Err: err,
		}
	}
	if desc.Trace == nil {
		desc.Trace = []string{}
	}
	log.Info("Engine reported failure", "message", desc.Message)
	return &EngineError{
		Kind:       KindReported,
		Module:     module,
		Seq:        seq,
		State:      state,
		Descriptor: desc,
	}
}
