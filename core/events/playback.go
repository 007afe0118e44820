package events

const (
	KindPlaybackStarted Kind = "playback.started"
	KindPlaybackEnded   Kind = "playback.ended"
)

type PlaybackStarted struct {
	Base
	PayloadKind string
}

func NewPlaybackStarted(payloadKind string) PlaybackStarted {
	return PlaybackStarted{Base: NewBase(KindPlaybackStarted), PayloadKind: payloadKind}
}

// PlaybackEnded is emitted for natural completion and for failures alike.
type PlaybackEnded struct {
	Base
	Err error
}

func NewPlaybackEnded(err error) PlaybackEnded {
	return PlaybackEnded{Base: NewBase(KindPlaybackEnded), Err: err}
}
