package result

import (
	"fmt"

	"github.com/compozy/enginebridge/engine/record"
	"github.com/compozy/enginebridge/engine/taskstate"
)

// Kind classifies why an invocation produced no outputs.
type Kind string

const (
	// KindSchemaMismatch means the output stream did not fit the shell.
	KindSchemaMismatch Kind = "schema_mismatch"
	// KindReported means the engine wrote an Error Descriptor.
	KindReported Kind = "reported"
	// KindCorruptError means an error file existed but could not be decoded.
	KindCorruptError Kind = "corrupt_error"
	// KindIncomplete means the state marker never reached COMPLETE.
	KindIncomplete Kind = "incomplete"
	// KindMissingOutput means the marker is COMPLETE but no outputs exist.
	KindMissingOutput Kind = "missing_output"
)

// EngineError is the failure outcome of an invocation. Descriptor is always
// set: it is either what the engine wrote or one synthesized here.
type EngineError struct {
	Kind       Kind
	Module     string
	Seq        int
	State      taskstate.State
	Descriptor *record.ErrorDescriptor
	Err        error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s/%d failed (%s): %s", e.Module, e.Seq, e.Kind, e.Descriptor.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Permanent reports whether retrying the same inputs cannot help. Only runs
// that never finished are worth another attempt.
func (e *EngineError) Permanent() bool {
	return e.Kind != KindIncomplete
}
