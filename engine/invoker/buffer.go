package invoker

import (
	"bytes"
	"strings"

	"github.com/compozy/enginebridge/pkg/logger"
)

// limitedBuffer keeps at most limit bytes of output and counts the rest.
type limitedBuffer struct {
	limit     int64
	buffer    bytes.Buffer
	truncated bool
	written   int64
}

func newLimitedBuffer(limit int64) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.written += int64(len(p))
	if b.limit <= 0 {
		return b.buffer.Write(p)
	}
	remaining := b.limit - int64(b.buffer.Len())
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		_, _ = b.buffer.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buffer.Write(p)
}

func (b *limitedBuffer) String() string {
	return b.buffer.String()
}

func (b *limitedBuffer) Truncated() bool {
	return b.truncated
}

func (b *limitedBuffer) Written() int64 {
	return b.written
}

// lineRelay forwards each complete output line of the engine to a logger,
// so it reaches the task log through the scope of the invoking context.
type lineRelay struct {
	log     logger.Logger
	stream  string
	pending []byte
}

const maxRelayLine = 64 << 10

func newLineRelay(log logger.Logger, stream string) *lineRelay {
	return &lineRelay{log: log, stream: stream}
}

func (r *lineRelay) Write(p []byte) (int, error) {
	r.pending = append(r.pending, p...)
	for {
		i := bytes.IndexByte(r.pending, '\n')
		if i < 0 {
			break
		}
		r.emit(r.pending[:i])
		r.pending = r.pending[i+1:]
	}
	if len(r.pending) > maxRelayLine {
		r.emit(r.pending)
		r.pending = nil
	}
	return len(p), nil
}

// Flush emits a trailing line without a newline.
func (r *lineRelay) Flush() {
	if len(r.pending) > 0 {
		r.emit(r.pending)
		r.pending = nil
	}
}

func (r *lineRelay) emit(line []byte) {
	text := strings.TrimRight(string(line), "\r")
	if text == "" {
		return
	}
	if r.stream == "stderr" {
		r.log.Warn(text, "stream", r.stream)
		return
	}
	r.log.Info(text, "stream", r.stream)
}
