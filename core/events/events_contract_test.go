package events

import (
	"errors"
	"testing"
	"time"
)

func TestConstructorsEmitExpectedKinds(t *testing.T) {
	testCases := []struct {
		name     string
		event    Event
		expected Kind
	}{
		{name: "state changed", event: NewSessionStateChanged("idle", "capturing"), expected: KindSessionStateChanged},
		{name: "session stopped", event: NewSessionStopped(nil), expected: KindSessionStopped},
		{name: "segment captured", event: NewSegmentCaptured(10, time.Second), expected: KindSegmentCaptured},
		{name: "channel opened", event: NewChannelOpened(), expected: KindChannelOpened},
		{name: "segment sent", event: NewSegmentSent(10), expected: KindSegmentSent},
		{name: "segment dropped", event: NewSegmentDropped(10), expected: KindSegmentDropped},
		{name: "upload failed", event: NewUploadFailed(errors.New("boom")), expected: KindUploadFailed},
		{name: "payload received", event: NewPayloadReceived("audio", time.Second), expected: KindPayloadReceived},
		{name: "payload discarded", event: NewPayloadDiscarded("audio"), expected: KindPayloadDiscarded},
		{name: "reconnecting", event: NewReconnecting(1, time.Second), expected: KindReconnecting},
		{name: "playback started", event: NewPlaybackStarted("audio"), expected: KindPlaybackStarted},
		{name: "playback ended", event: NewPlaybackEnded(nil), expected: KindPlaybackEnded},
		{name: "assistant text", event: NewAssistantText("hi"), expected: KindAssistantText},
		{name: "assistant error message", event: NewAssistantErrorMessage("no"), expected: KindAssistantErrorMessage},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.event.Kind(); got != testCase.expected {
				t.Fatalf("expected kind %q, got %q", testCase.expected, got)
			}
			if testCase.event.Timestamp().IsZero() {
				t.Fatalf("expected timestamp to be set")
			}
		})
	}
}

func TestPlaybackStartedAndEndedKindsAreDistinct(t *testing.T) {
	started := NewPlaybackStarted("audio")
	ended := NewPlaybackEnded(nil)

	if started.Kind() == ended.Kind() {
		t.Fatalf("expected playback started and ended kinds to differ, both were %q", started.Kind())
	}
}
