// Package testutil holds shared fakes for tests.
package testutil

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/MusicRoom/internal/core"
)

var ErrSinkClosed = errors.New("sink closed")

// Sink is an in-memory core.SignalConnection that records every frame.
type Sink struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
	full   bool
}

func NewSink() *Sink { return &Sink{} }

func (s *Sink) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if s.full {
		return core.ErrBackpressure
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SetFull makes the next sends fail with core.ErrBackpressure.
func (s *Sink) SetFull(full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.full = full
}

func (s *Sink) Frames() []core.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Frame(nil), s.frames...)
}

// Message is the decoded envelope of a frame.
type Message struct {
	Type  string          `json:"type"`
	Room  string          `json:"room"`
	State json.RawMessage `json:"state"`
}

func (s *Sink) Messages() []Message {
	frames := s.Frames()
	out := make([]Message, 0, len(frames))
	for _, f := range frames {
		var m Message
		_ = json.Unmarshal(f, &m)
		out = append(out, m)
	}
	return out
}

// Count returns how many frames of the given type were received.
func (s *Sink) Count(msgType string) int {
	n := 0
	for _, m := range s.Messages() {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

// Reset forgets the recorded frames.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}
