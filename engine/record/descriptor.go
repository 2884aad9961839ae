package record

import (
	"fmt"
	"strings"
)

// ErrorDescriptor is what the compute engine writes instead of its outputs
// when it fails. The orchestrator synthesizes one when no such file exists
// but the run did not complete.
type ErrorDescriptor struct {
	Message string
	Trace   []string
}

func (d *ErrorDescriptor) Fields(fs *FieldSet) {
	Value(fs, "message", &d.Message)
	Array(fs, "trace", &d.Trace)
}

// NewErrorDescriptor builds a descriptor; trace is never nil.
func NewErrorDescriptor(message string, trace ...string) *ErrorDescriptor {
	if trace == nil {
		trace = []string{}
	}
	return &ErrorDescriptor{Message: message, Trace: trace}
}

func (d *ErrorDescriptor) Error() string {
	return d.Message
}

// String renders the message followed by one indented trace frame per line.
func (d *ErrorDescriptor) String() string {
	if len(d.Trace) == 0 {
		return d.Message
	}
	var b strings.Builder
	b.WriteString(d.Message)
	for _, frame := range d.Trace {
		fmt.Fprintf(&b, "\n\tat %s", frame)
	}
	return b.String()
}
