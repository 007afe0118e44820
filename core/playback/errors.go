package playback

import (
	"errors"
	"fmt"

	"github.com/koscakluka/ema-island/core/transport"
)

var (
	// ErrPlaybackActive is returned when a playback is requested while
	// another one is still running.
	ErrPlaybackActive = errors.New("playback already active")

	ErrNotMedia          = errors.New("payload carries no media")
	ErrUnsupportedFormat = errors.New("unsupported media format")
	ErrNoPlayer          = errors.New("no player configured for payload")
)

// PlaybackError reports a playback that did not finish normally. The session
// treats it the same as a completed playback.
type PlaybackError struct {
	Kind transport.PayloadKind
	Err  error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("%s playback failed: %v", e.Kind, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }
