// Package capture owns the microphone and turns its raw frames into segments
// ready to be handed to a transport.
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-island/core/audio"
)

// Device is the microphone capability a session drives. The miniaudio and
// portaudio clients implement it.
type Device interface {
	EncodingInfo() audio.EncodingInfo
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

type deviceCloser interface {
	Close()
}

type sessionState string

const (
	sessionStateIdle      sessionState = "idle"
	sessionStateCapturing sessionState = "capturing"
	sessionStatePaused    sessionState = "paused"
	sessionStateStopped   sessionState = "stopped"
)

const segmentBufferSize = 4

type Session struct {
	device Device
	policy Policy

	// frameSink receives every captured frame while capturing, e.g. to feed a
	// speech-activity provider.
	frameSink func(audio []byte)

	mu           sync.Mutex
	state        sessionState
	ctx          context.Context
	cancel       context.CancelFunc
	buffer       []byte
	firstFrameAt time.Time
	chunks       []audio.Segment
	segments     chan audio.Segment

	stopOnce sync.Once
}

type Option func(*Session)

func WithFrameSink(sink func(audio []byte)) Option {
	return func(s *Session) { s.frameSink = sink }
}

func NewSession(device Device, policy Policy, opts ...Option) *Session {
	s := &Session{
		device:   device,
		policy:   policy,
		state:    sessionStateIdle,
		segments: make(chan audio.Segment, segmentBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start acquires the device and begins segmentation. Acquisition failure is
// returned as a *DeviceError and leaves the session stopped.
func (s *Session) Start(ctx context.Context) (<-chan audio.Segment, error) {
	s.mu.Lock()
	switch s.state {
	case sessionStateStopped:
		s.mu.Unlock()
		return nil, ErrStopped
	case sessionStateIdle:
	default:
		s.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	if s.device == nil {
		s.mu.Unlock()
		s.Stop()
		return nil, &DeviceError{Err: ErrNoDevice}
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.state = sessionStateCapturing
	s.mu.Unlock()

	if err := s.device.StartCapture(s.ctx, s.onAudio); err != nil {
		s.Stop()
		return nil, &DeviceError{Err: err}
	}

	if s.policy != nil {
		go s.policy.run(s.ctx, s)
	}

	return s.segments, nil
}

// Pause stops the device so nothing is recorded, e.g. the assistant's own
// playback. Audio not yet flushed as a segment is dropped.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != sessionStateCapturing {
		s.mu.Unlock()
		return nil
	}
	s.state = sessionStatePaused
	s.resetLocked()
	s.mu.Unlock()

	if err := s.device.StopCapture(); err != nil {
		return fmt.Errorf("failed to pause capture: %w", err)
	}
	return nil
}

// Resume restarts capture on the already acquired device.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != sessionStatePaused {
		s.mu.Unlock()
		return nil
	}
	s.state = sessionStateCapturing
	s.resetLocked()
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.device.StartCapture(ctx, s.onAudio); err != nil {
		s.Stop()
		return &DeviceError{Err: err}
	}
	return nil
}

// Stop releases the device and closes the segment stream. Only the first call
// has any effect.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		wasActive := s.state == sessionStateCapturing || s.state == sessionStatePaused
		s.state = sessionStateStopped
		if s.cancel != nil {
			s.cancel()
		}
		s.resetLocked()
		close(s.segments)
		s.mu.Unlock()

		if s.device == nil {
			return
		}
		if wasActive {
			if err := s.device.StopCapture(); err != nil {
				logger.Warn("failed to stop capture device", "error", err)
			}
		}
		if closer, ok := s.device.(deviceCloser); ok {
			closer.Close()
		}
	})
}

func (s *Session) IsCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == sessionStateCapturing
}

func (s *Session) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == sessionStateStopped
}

func (s *Session) onAudio(frame []byte) {
	s.mu.Lock()
	if s.state != sessionStateCapturing {
		s.mu.Unlock()
		return
	}
	if len(s.buffer) == 0 {
		s.firstFrameAt = time.Now()
	}
	s.buffer = append(s.buffer, frame...)
	sink := s.frameSink
	s.mu.Unlock()

	if sink != nil {
		sink(frame)
	}
}

// cutLocked moves the buffered audio into a segment.
func (s *Session) cutLocked() audio.Segment {
	segment := audio.Segment{
		Data:       s.buffer,
		Encoding:   s.device.EncodingInfo(),
		MIME:       audio.MIMEPCM,
		CapturedAt: s.firstFrameAt,
	}
	s.buffer = nil
	s.firstFrameAt = time.Time{}
	return segment
}

func (s *Session) emitLocked(segment audio.Segment) {
	select {
	case s.segments <- segment:
	default:
		logger.Warn("segment dropped, consumer is not keeping up", "bytes", len(segment.Data))
	}
}

func (s *Session) resetLocked() {
	s.buffer = nil
	s.firstFrameAt = time.Time{}
	s.chunks = nil
}
