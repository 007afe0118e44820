// Package playback plays media received from the backend, one payload at a
// time.
package playback

import (
	"context"
	"errors"
	"sync"

	"github.com/koscakluka/ema-island/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Player plays a single payload and blocks until it is finished or ctx is
// cancelled.
type Player interface {
	Play(ctx context.Context, payload transport.Payload) error
}

type PlayerFunc func(ctx context.Context, payload transport.Payload) error

func (f PlayerFunc) Play(ctx context.Context, payload transport.Payload) error {
	return f(ctx, payload)
}

// Controller runs at most one playback at a time and reports its end through
// a callback. Natural completion reports nil; anything else a *PlaybackError.
type Controller struct {
	player Player

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
	done   chan struct{}
}

func NewController(player Player) *Controller {
	return &Controller{player: player}
}

// Play starts the payload in the background. onDone is called exactly once
// when playback ends, unless Play itself returns an error.
func (c *Controller) Play(ctx context.Context, payload transport.Payload, onDone func(error)) error {
	if !payload.IsMedia() {
		return &PlaybackError{Kind: payload.Kind, Err: ErrNotMedia}
	}
	if c.player == nil {
		return &PlaybackError{Kind: payload.Kind, Err: ErrNoPlayer}
	}

	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return ErrPlaybackActive
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.active = true
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		ctx, span := tracer.Start(ctx, "play payload")
		span.SetAttributes(attribute.String("payload.kind", string(payload.Kind)))

		err := c.player.Play(ctx, payload)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Debug("playback cancelled", "payload", payload.String())
			} else {
				logger.Warn("playback failed", "payload", payload.String(), "error", err)
			}
			err = &PlaybackError{Kind: payload.Kind, Err: err}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		c.mu.Lock()
		c.active = false
		c.cancel = nil
		c.done = nil
		c.mu.Unlock()
		cancel()
		close(done)

		if onDone != nil {
			onDone(err)
		}
	}()

	return nil
}

// Stop cancels the active playback and waits for the player to return. The
// completion callback still fires.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Controller) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
