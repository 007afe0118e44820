// Package energy is a local speech-activity provider. Frames whose RMS level
// reaches the threshold count as speech.
package energy

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/koscakluka/ema-island/core/silence"
)

// DefaultThreshold is the RMS level, relative to full scale, treated as
// speech. It sits well above typical room noise for a close microphone.
const DefaultThreshold = 0.02

type Provider struct {
	threshold float64
	now       func() time.Time

	mu          sync.Mutex
	onActivity  func(silence.Activity)
	onListening func(bool)
}

type Option func(*Provider)

func WithThreshold(threshold float64) Option {
	return func(p *Provider) {
		if threshold > 0 {
			p.threshold = threshold
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

func New(opts ...Option) *Provider {
	p := &Provider{threshold: DefaultThreshold, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Start(_ context.Context, onActivity func(silence.Activity), onListening func(bool)) error {
	p.mu.Lock()
	p.onActivity = onActivity
	p.onListening = onListening
	p.mu.Unlock()

	if onListening != nil {
		onListening(true)
	}
	return nil
}

// SendAudio takes little endian PCM16 frames.
func (p *Provider) SendAudio(chunk []byte) error {
	p.mu.Lock()
	onActivity := p.onActivity
	p.mu.Unlock()

	if onActivity == nil || len(chunk) < 2 {
		return nil
	}
	onActivity(silence.Activity{UpdatedAt: p.now(), Speaking: RMS(chunk) >= p.threshold})
	return nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	onListening := p.onListening
	p.onActivity = nil
	p.onListening = nil
	p.mu.Unlock()

	if onListening != nil {
		onListening(false)
	}
	return nil
}

// RMS is the root mean square level of PCM16 samples scaled to [0, 1].
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := float64(int16(pcm[i*2])|int16(pcm[i*2+1])<<8) / 32768.0
		sum += sample * sample
	}
	return math.Sqrt(sum / float64(n))
}
