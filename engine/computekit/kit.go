// Package computekit is the engine side of the workspace protocol: it reads
// the inputs the orchestrator wrote, advances the state marker and leaves
// either outputs or an Error Descriptor behind.
package computekit

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/compozy/enginebridge/engine/record"
	"github.com/compozy/enginebridge/engine/taskstate"
	"github.com/compozy/enginebridge/engine/workspace"
)

// Kit is bound to one invocation (module, seq) in one workspace.
type Kit struct {
	fs     afero.Fs
	ws     *workspace.Workspace
	module string
	seq    int
}

// Open binds a kit on the OS filesystem.
func Open(dir, module string, seq int, format record.Format) (*Kit, error) {
	return OpenFs(afero.NewOsFs(), dir, module, seq, format)
}

func OpenFs(fs afero.Fs, dir, module string, seq int, format record.Format) (*Kit, error) {
	if dir == "" || module == "" {
		return nil, errors.New("workspace and module are required")
	}
	if format == "" {
		format = record.FormatBinary
	}
	if _, err := record.CodecFor(format); err != nil {
		return nil, err
	}
	return &Kit{
		fs:     fs,
		ws:     &workspace.Workspace{Dir: dir, Format: format},
		module: module,
		seq:    seq,
	}, nil
}

// FromArgs parses the command line the orchestrator passes to the engine.
// Unknown flags are ignored so wrappers may add their own.
func FromArgs(args []string) (*Kit, error) {
	flags := pflag.NewFlagSet("engine", pflag.ContinueOnError)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	dir := flags.String("workspace", "", "task workspace directory")
	module := flags.String("module", "", "module name")
	seq := flags.Int("seq", 0, "invocation sequence number")
	format := flags.String("format", string(record.FormatBinary), "record format")
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("invalid engine arguments: %w", err)
	}
	f, err := record.ParseFormat(*format)
	if err != nil {
		return nil, err
	}
	return Open(*dir, *module, *seq, f)
}

func (k *Kit) Workspace() *workspace.Workspace {
	return k.ws
}

// Begin marks the invocation as PROCESSING.
func (k *Kit) Begin() error {
	return taskstate.Write(k.fs, k.ws.StatePath(k.module, k.seq), taskstate.StateProcessing)
}

func (k *Kit) ReadInputs(shell record.Record) error {
	path := k.ws.InputsPath(k.module, k.seq)
	data, err := afero.ReadFile(k.fs, path)
	if err != nil {
		return fmt.Errorf("failed to read inputs %s: %w", path, err)
	}
	if err := record.Unmarshal(k.ws.Format, data, shell); err != nil {
		return fmt.Errorf("failed to decode inputs %s: %w", path, err)
	}
	return nil
}

// Complete writes out and only then flips the marker to COMPLETE.
func (k *Kit) Complete(out record.Record) error {
	if err := k.writeRecord(k.ws.OutputsPath(k.module, k.seq), out); err != nil {
		return err
	}
	return taskstate.Write(k.fs, k.ws.StatePath(k.module, k.seq), taskstate.StateComplete)
}

// Fail writes an Error Descriptor for cause. The marker is left as is.
func (k *Kit) Fail(cause error) error {
	return k.writeRecord(k.ws.ErrorPath(k.module, k.seq), Describe(cause))
}

func (k *Kit) writeRecord(path string, r record.Record) error {
	data, err := record.Marshal(k.ws.Format, r)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(k.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := k.fs.Rename(tmp, path); err != nil {
		_ = k.fs.Remove(tmp)
		return fmt.Errorf("failed to publish %s: %w", path, err)
	}
	return nil
}

// Describe converts an error into a descriptor whose trace lists the wrapped
// causes, outermost first.
func Describe(cause error) *record.ErrorDescriptor {
	if cause == nil {
		return record.NewErrorDescriptor("unknown engine failure")
	}
	var desc *record.ErrorDescriptor
	if errors.As(cause, &desc) {
		return desc
	}
	var trace []string
	for inner := errors.Unwrap(cause); inner != nil; inner = errors.Unwrap(inner) {
		trace = append(trace, inner.Error())
	}
	return record.NewErrorDescriptor(cause.Error(), trace...)
}

// Compute produces outputs from the decoded inputs.
type Compute func(ctx context.Context) (record.Record, error)

// Run drives one invocation: PROCESSING, read inputs, compute, then
// outputs+COMPLETE or an Error Descriptor. The returned error covers only
// failures to talk to the workspace.
func Run(ctx context.Context, args []string, inputs record.Record, compute Compute) error {
	kit, err := FromArgs(args)
	if err != nil {
		return err
	}
	if err := kit.Begin(); err != nil {
		return err
	}
	if err := kit.ReadInputs(inputs); err != nil {
		return kit.Fail(err)
	}
	out, err := compute(ctx)
	if err != nil {
		return kit.Fail(err)
	}
	return kit.Complete(out)
}

// Main is Run for an engine's main function: it returns the exit code.
func Main(inputs record.Record, compute Compute) int {
	if err := Run(context.Background(), os.Args[1:], inputs, compute); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
