package energy

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/koscakluka/ema-island/core/silence"
)

func tone(samples int, amplitude int16) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

func TestRMS(t *testing.T) {
	if got := RMS(make([]byte, 320)); got != 0 {
		t.Fatalf("expected silence to have zero level, got %f", got)
	}
	if got := RMS(tone(160, 16384)); got < 0.49 || got > 0.51 {
		t.Fatalf("expected half scale level, got %f", got)
	}
}

func TestProviderGatesOnThreshold(t *testing.T) {
	now := time.Unix(10, 0)
	p := New(WithThreshold(0.1), WithClock(func() time.Time { return now }))

	var activities []silence.Activity
	var listening []bool
	if err := p.Start(context.Background(),
		func(a silence.Activity) { activities = append(activities, a) },
		func(l bool) { listening = append(listening, l) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_ = p.SendAudio(tone(160, 100))
	_ = p.SendAudio(tone(160, 20000))
	_ = p.Close()
	_ = p.SendAudio(tone(160, 20000))

	if len(activities) != 2 {
		t.Fatalf("expected 2 activity updates, got %d", len(activities))
	}
	if activities[0].Speaking || !activities[1].Speaking {
		t.Fatalf("expected quiet then speaking, got %+v", activities)
	}
	if !activities[1].UpdatedAt.Equal(now) {
		t.Fatalf("expected injected clock to be used")
	}
	if len(listening) != 2 || !listening[0] || listening[1] {
		t.Fatalf("expected listening [true false], got %v", listening)
	}
}
