package playback

import (
	"context"
	"errors"

	"github.com/koscakluka/ema-island/core/transport"
)

// Router picks a player by payload shape. Audio bytes the primary audio
// player cannot decode are retried on Fallback when one is set.
type Router struct {
	Audio    Player
	AudioURL Player
	Video    Player
	Fallback Player
}

func (r *Router) Play(ctx context.Context, payload transport.Payload) error {
	switch payload.Kind {
	case transport.PayloadAudio:
		if payload.URL != "" {
			return r.play(ctx, r.AudioURL, payload)
		}
		err := r.play(ctx, r.Audio, payload)
		if r.Fallback != nil && (errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrNoPlayer)) {
			logger.Debug("falling back for audio payload", "mime", payload.MIME, "error", err)
			return r.Fallback.Play(ctx, payload)
		}
		return err
	case transport.PayloadVideoURL:
		return r.play(ctx, r.Video, payload)
	}
	return ErrNotMedia
}

func (r *Router) play(ctx context.Context, player Player, payload transport.Payload) error {
	if player == nil {
		return ErrNoPlayer
	}
	return player.Play(ctx, payload)
}
