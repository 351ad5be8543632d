package runner

import (
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/carlosprados/keeper/internal/capability"
	"github.com/carlosprados/keeper/internal/logring"
	"github.com/rs/zerolog/log"
)

type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

type ExitReason string

const (
	ExitNormal ExitReason = "exit"
	ExitSignal ExitReason = "signal"
)

// Exit describes an observed process termination. Status is the exit code
// for ExitNormal and the signal number for ExitSignal.
type Exit struct {
	DefinitionID string
	RunID        string
	PID          int
	Reason       ExitReason
	Status       int
	Err          error
}

// subQueue bounds lines buffered per subscriber; the oldest are dropped.
const subQueue = 1024

// Session is one spawned process and its output plumbing.
type Session struct {
	DefinitionID string
	RunID        string
	PID          int
	StartedAt    time.Time

	cmd        *exec.Cmd
	stopSignal syscall.Signal
	ring       *logring.Ring
	scopes     []*capability.Scope

	stdinMu sync.Mutex
	stdin   io.WriteCloser

	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool

	done chan struct{}
	exit Exit
}

// AttachStdout registers h for complete stdout lines. The returned func
// detaches it.
func (s *Session) AttachStdout(h func(string)) func() {
	_, detach := s.attach(Stdout, func(_ Stream, l string) { h(l) }, false)
	return detach
}

// AttachStderr registers h for complete stderr lines.
func (s *Session) AttachStderr(h func(string)) func() {
	_, detach := s.attach(Stderr, func(_ Stream, l string) { h(l) }, false)
	return detach
}

// Follow returns the buffered output and registers h for every line that
// arrives afterwards on either stream, with no gap or overlap between the
// two.
func (s *Session) Follow(h func(Stream, string)) ([]string, func()) {
	return s.attach("", h, true)
}

func (s *Session) attach(stream Stream, h func(Stream, string), backlog bool) ([]string, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lines []string
	if backlog {
		lines = s.ring.Snapshot()
	}
	if s.closed {
		return lines, func() {}
	}
	id := s.nextID
	s.nextID++
	sub := newSubscriber(stream, h)
	s.subs[id] = sub
	go sub.run()
	return lines, func() {
		s.mu.Lock()
		_, ok := s.subs[id]
		delete(s.subs, id)
		s.mu.Unlock()
		if ok {
			sub.cancel()
		}
	}
}

// Log returns the buffered output of both streams in arrival order.
func (s *Session) Log() []string { return s.ring.Snapshot() }

// Done is closed after the exit callback has been invoked.
func (s *Session) Done() <-chan struct{} { return s.done }

// Exit returns the termination details once Done is closed.
func (s *Session) Exit() (Exit, bool) {
	select {
	case <-s.done:
		return s.exit, true
	default:
		return Exit{}, false
	}
}

func (s *Session) deliver(stream Stream, line string) {
	s.mu.Lock()
	s.ring.Append(line)
	for _, sub := range s.subs {
		if sub.stream == "" || sub.stream == stream {
			sub.push(stream, line)
		}
	}
	s.mu.Unlock()
}

// drain lets subscribers finish queued lines, waiting at most grace, and
// then seals the session against further delivery.
func (s *Session) drain(grace time.Duration) {
	s.mu.Lock()
	s.closed = true
	subs := make([]*subscriber, 0, len(s.subs))
	for id, sub := range s.subs {
		subs = append(subs, sub)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	deadline := time.After(grace)
	for _, sub := range subs {
		sub.finish()
	}
	for _, sub := range subs {
		select {
		case <-sub.done:
		case <-deadline:
		}
		sub.cancel()
		if n := sub.droppedLines(); n > 0 {
			log.Warn().Str("server", s.DefinitionID).Uint64("dropped", n).Msg("slow output subscriber lost lines")
		}
	}
}

func (s *Session) write(text string) error {
	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()
	if s.stdin == nil {
		return nil
	}
	_, err := io.WriteString(s.stdin, text)
	return err
}

func (s *Session) closeStdin() {
	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()
	if s.stdin != nil {
		_ = s.stdin.Close()
		s.stdin = nil
	}
}

type item struct {
	stream Stream
	line   string
}

type subscriber struct {
	stream  Stream // empty for both streams
	handler func(Stream, string)

	mu      sync.Mutex
	queue   []item
	dropped uint64

	wake      chan struct{}
	finishing chan struct{}
	finishMu  sync.Once
	stopped   atomic.Bool
	done      chan struct{}
}

func newSubscriber(stream Stream, h func(Stream, string)) *subscriber {
	return &subscriber{
		stream:    stream,
		handler:   h,
		wake:      make(chan struct{}, 1),
		finishing: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *subscriber) push(stream Stream, line string) {
	s.mu.Lock()
	if len(s.queue) >= subQueue {
		s.queue = s.queue[1:]
		s.dropped++
	}
	s.queue = append(s.queue, item{stream, line})
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) droppedLines() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *subscriber) pop() (item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return item{}, false
	}
	it := s.queue[0]
	s.queue = s.queue[1:]
	return it, true
}

func (s *subscriber) run() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
		case <-s.finishing:
			s.flush()
			return
		}
		s.flush()
	}
}

func (s *subscriber) flush() {
	for !s.stopped.Load() {
		it, ok := s.pop()
		if !ok {
			return
		}
		s.handler(it.stream, it.line)
	}
}

// finish delivers what is queued and ends the subscriber.
func (s *subscriber) finish() { s.finishMu.Do(func() { close(s.finishing) }) }

// cancel stops delivery immediately.
func (s *subscriber) cancel() {
	s.stopped.Store(true)
	s.finish()
}
