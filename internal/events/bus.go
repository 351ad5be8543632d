// Package events carries lifecycle notifications from the orchestrator to
// API clients and optional message-broker bridges.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindSession       Kind = "session"
	KindNotice        Kind = "notice"
	KindError         Kind = "error"
	KindAuthorization Kind = "authorization"
)

type Event struct {
	Kind    Kind   `json:"kind"`
	Server  string `json:"server,omitempty"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	// Target is the suggested capability target of an authorization request.
	Target string    `json:"target,omitempty"`
	Time   time.Time `json:"time"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// that falls behind loses its oldest events.
type Bus struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for ch := range b.subs {
		select {
		case ch <- e:
			continue
		default:
		}
		// full, drop the oldest
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel with room for buf events and a cancel func.
func (b *Bus) Subscribe(buf int) (<-chan Event, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Event, buf)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
}

// Close closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}

// Sink receives a copy of every event.
type Sink interface {
	Send(e Event) error
	Close()
}

// Forward copies bus events to the sinks until ctx is done or the bus closes.
func Forward(ctx context.Context, b *Bus, sinks ...Sink) {
	if len(sinks) == 0 {
		return
	}
	ch, cancel := b.Subscribe(256)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			for _, s := range sinks {
				if err := s.Send(e); err != nil {
					log.Warn().Str("kind", string(e.Kind)).Err(err).Msg("event bridge send failed")
				}
			}
		}
	}
}
