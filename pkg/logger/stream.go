package logger

import (
	"sync"
	"time"
)

// Entry is one record as seen on the process-wide Stream.
type Entry struct {
	Time    time.Time
	Level   LogLevel
	Scope   string
	Message string
	Keyvals []any

	barrier chan struct{}
}

// Stream fans log records out to subscribers on a single dispatcher
// goroutine. Publish never waits for subscribers, only for queue capacity.
type Stream struct {
	queue     chan Entry
	mu        sync.RWMutex
	subs      map[uint64]func(Entry)
	nextID    uint64
	done      chan struct{}
	closeOnce sync.Once
	closeMu   sync.RWMutex
	closed    bool
}

const defaultStreamBuffer = 1024

// NewStream starts a stream with the given queue capacity.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	s := &Stream{
		queue: make(chan Entry, buffer),
		subs:  make(map[uint64]func(Entry)),
		done:  make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// Publish enqueues an entry. Entries published after Close are dropped.
func (s *Stream) Publish(e Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return
	}
	s.queue <- e
}

// Subscribe registers fn for every entry dispatched from now on and returns
// the function that removes it.
func (s *Stream) Subscribe(fn func(Entry)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Sync blocks until every entry published before the call has been
// delivered to subscribers.
func (s *Stream) Sync() {
	barrier := make(chan struct{})
	s.closeMu.RLock()
	if s.closed {
		s.closeMu.RUnlock()
		return
	}
	s.queue <- Entry{barrier: barrier}
	s.closeMu.RUnlock()
	<-barrier
}

// Close drains pending entries and stops the dispatcher.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		close(s.queue)
		s.closeMu.Unlock()
		<-s.done
	})
}

func (s *Stream) dispatch() {
	defer close(s.done)
	for e := range s.queue {
		if e.barrier != nil {
			close(e.barrier)
			continue
		}
		s.mu.RLock()
		subs := make([]func(Entry), 0, len(s.subs))
		for _, fn := range s.subs {
			subs = append(subs, fn)
		}
		s.mu.RUnlock()
		for _, fn := range subs {
			fn(e)
		}
	}
}
