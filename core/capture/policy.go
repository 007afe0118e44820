package capture

import (
	"context"
	"time"

	"github.com/koscakluka/ema-island/core/audio"
)

const (
	DefaultQuantum   = time.Second
	DefaultThreshold = 4
)

// Policy decides where one segment ends and the next begins.
type Policy interface {
	run(ctx context.Context, s *Session)
}

// IntervalPolicy slices capture every Quantum regardless of content and
// flushes the slices as one concatenated segment once Threshold of them have
// accumulated.
type IntervalPolicy struct {
	Quantum   time.Duration
	Threshold int
}

func (p IntervalPolicy) quantum() time.Duration {
	if p.Quantum <= 0 {
		return DefaultQuantum
	}
	return p.Quantum
}

func (p IntervalPolicy) threshold() int {
	if p.Threshold <= 0 {
		return DefaultThreshold
	}
	return p.Threshold
}

func (p IntervalPolicy) run(ctx context.Context, s *Session) {
	ticker := time.NewTicker(p.quantum())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cutInterval(p.threshold())
		}
	}
}

func (s *Session) cutInterval(threshold int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != sessionStateCapturing {
		return
	}
	if len(s.buffer) > 0 {
		s.chunks = append(s.chunks, s.cutLocked())
	}
	if len(s.chunks) < threshold {
		return
	}

	segment := audio.Concat(s.chunks...)
	s.chunks = nil
	s.emitLocked(segment)
}

// UtterancePolicy emits exactly one segment per utterance boundary, usually
// fed from a silence detector. An utterance without audio yields an empty
// segment so the consumer can restart listening without sending anything.
type UtterancePolicy struct {
	Boundaries <-chan struct{}
}

func (p UtterancePolicy) run(ctx context.Context, s *Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-p.Boundaries:
			if !ok {
				return
			}
			s.flushUtterance()
		}
	}
}

func (s *Session) flushUtterance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != sessionStateCapturing {
		return
	}
	s.emitLocked(s.cutLocked())
}
