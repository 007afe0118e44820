// Package silence decides when a spoken utterance has ended.
//
// The detector is fed by a speech-activity provider (transcript updates and a
// listening flag) and is polled at a fixed cadence. Polling rather than
// reacting to every update keeps it stable when the activity signal jitters.
package silence

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultQuietThreshold = 2000 * time.Millisecond
	DefaultGracePeriod    = 1000 * time.Millisecond
	DefaultPollInterval   = 500 * time.Millisecond
)

// Activity is the last transcript update seen from the activity provider.
type Activity struct {
	UpdatedAt time.Time
	// Speaking is false for heartbeats that carry no new speech.
	Speaking bool
}

type detectorState string

const (
	detectorStateActive         detectorState = "active"
	detectorStatePendingSilence detectorState = "pendingSilence"
)

type Detector struct {
	quietThreshold time.Duration
	gracePeriod    time.Duration
	pollInterval   time.Duration

	mu           sync.Mutex
	armed        bool
	listening    bool
	lastUpdate   time.Time
	state        detectorState
	pendingSince time.Time

	boundaries chan struct{}
}

type Option func(*Detector)

func WithQuietThreshold(d time.Duration) Option {
	return func(det *Detector) {
		if d > 0 {
			det.quietThreshold = d
		}
	}
}

func WithGracePeriod(d time.Duration) Option {
	return func(det *Detector) {
		if d > 0 {
			det.gracePeriod = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(det *Detector) {
		if d > 0 {
			det.pollInterval = d
		}
	}
}

func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		quietThreshold: DefaultQuietThreshold,
		gracePeriod:    DefaultGracePeriod,
		pollInterval:   DefaultPollInterval,
		state:          detectorStateActive,
		boundaries:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Boundaries delivers one value per detected end of utterance. Unconsumed
// boundaries are coalesced.
func (d *Detector) Boundaries() <-chan struct{} { return d.boundaries }

// Arm starts watching for the end of a new utterance. It assumes the provider
// is listening and treats now as the most recent activity.
func (d *Detector) Arm(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.armed = true
	d.listening = true
	d.lastUpdate = now
	d.state = detectorStateActive
	d.pendingSince = time.Time{}
}

// Disarm stops detection until the next Arm, e.g. while playback runs.
func (d *Detector) Disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.armed = false
	d.state = detectorStateActive
	d.pendingSince = time.Time{}
}

// Observe records a transcript update. Speech cancels a pending silence.
func (d *Detector) Observe(activity Activity) {
	if !activity.Speaking {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if activity.UpdatedAt.After(d.lastUpdate) {
		d.lastUpdate = activity.UpdatedAt
	}
	if d.state == detectorStatePendingSilence {
		d.state = detectorStateActive
		d.pendingSince = time.Time{}
	}
}

// SetListening forwards the provider's listening flag. Not listening counts
// as silence regardless of transcript updates.
func (d *Detector) SetListening(listening bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listening = listening
}

// Tick evaluates the detector at now and reports whether the utterance ended.
// A fired detector disarms itself.
func (d *Detector) Tick(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.armed {
		return false
	}

	silent := !d.listening || now.Sub(d.lastUpdate) >= d.quietThreshold

	switch d.state {
	case detectorStateActive:
		if silent {
			d.state = detectorStatePendingSilence
			d.pendingSince = now
		}
		return false

	case detectorStatePendingSilence:
		if !silent {
			d.state = detectorStateActive
			d.pendingSince = time.Time{}
			return false
		}
		if now.Sub(d.pendingSince) < d.gracePeriod {
			return false
		}

		d.armed = false
		d.state = detectorStateActive
		d.pendingSince = time.Time{}
		return true
	}

	return false
}

func (d *Detector) IsPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == detectorStatePendingSilence
}

// Run polls the detector until ctx is done, publishing boundaries.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !d.Tick(now) {
				continue
			}

			logger.DebugContext(ctx, "utterance ended", "at", now)
			select {
			case d.boundaries <- struct{}{}:
			default:
			}
		}
	}
}
