package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/content-collector/internal/metrics"
)

// Stream errors.
var (
	ErrStreamClosed     = errors.New("progress stream closed")
	ErrStreamTerminated = errors.New("progress stream already terminated")
	ErrProgressReversed = errors.New("progress may not decrease")
)

// Stream is the ordered, lossless message channel of one run. A single
// producer sends; a single consumer drains Messages until it is closed.
type Stream struct {
	ch   chan Message
	done chan struct{}

	// sendMu is held shared by in-flight sends and exclusively by Close, so
	// the channel is never closed under a blocked sender.
	sendMu    sync.RWMutex
	closeOnce sync.Once

	stateMu    sync.Mutex
	terminated bool
	lastPct    int
}

// NewStream creates a Stream with the given buffer. Zero makes every Send
// wait for the consumer.
func NewStream(buffer int) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream{
		ch:   make(chan Message, buffer),
		done: make(chan struct{}),
	}
}

// Messages returns the channel the consumer reads from. It is closed by Close.
func (s *Stream) Messages() <-chan Message {
	return s.ch
}

// Send delivers msg, blocking until the consumer takes it, ctx is done, or
// the stream is closed.
func (s *Stream) Send(ctx context.Context, msg Message) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	if err := s.admit(msg); err != nil {
		return err
	}

	select {
	case s.ch <- msg:
		metrics.ObserveStreamMessage(string(msg.Type))
		return nil
	case <-s.done:
		return ErrStreamClosed
	case <-ctx.Done():
		return fmt.Errorf("send %s message: %w", msg.Type, ctx.Err())
	}
}

func (s *Stream) admit(msg Message) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.terminated {
		return ErrStreamTerminated
	}
	if msg.Type == TypeProgress {
		pct := progressValue(msg.Data)
		if pct < s.lastPct {
			return fmt.Errorf("%w: %d after %d", ErrProgressReversed, pct, s.lastPct)
		}
		s.lastPct = pct
	}
	if msg.Type.Terminal() {
		s.terminated = true
	}
	return nil
}

func progressValue(data any) int {
	switch v := data.(type) {
	case ProgressData:
		return v.Progress
	case *ProgressData:
		if v != nil {
			return v.Progress
		}
	}
	return 0
}

// Close ends the stream. Only the first call has any effect.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.sendMu.Lock()
		close(s.ch)
		s.sendMu.Unlock()
	})
}
