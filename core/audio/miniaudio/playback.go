package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-island/core/audio"
)

type playbackClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device

	pending []byte
	marks   []playbackMark

	mu      sync.Mutex
	audioMu sync.Mutex
}

type playbackMark struct {
	// position is the byte offset into pending at which the mark is reached.
	position int
	callback func()
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext, encoding audio.EncodingInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// ~100ms periods; answers are played whole so latency matters less than
	// underruns
	config := deviceConfig(malgo.Playback, encoding, uint32(encoding.SampleRate/10), 4)

	c.audioContext = audioContext
	device, err := malgo.InitDevice(audioContext.Context, config,
		malgo.DeviceCallbacks{Data: c.processAudio(encoding.BytesPerFrame())})
	if err != nil {
		return fmt.Errorf("failed to open speaker: %w", err)
	}
	c.device = device
	return nil
}

func (c *playbackClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	return nil
}

func (c *playbackClient) SendAudio(audio []byte) error {
	c.mu.Lock()
	device := c.device
	c.mu.Unlock()
	if device == nil {
		return fmt.Errorf("device not initialized")
	} else if !device.IsStarted() {
		return fmt.Errorf("device not started")
	}

	c.audioMu.Lock()
	defer c.audioMu.Unlock()
	c.pending = append(c.pending, audio...)
	return nil
}

// ClearBuffer drops queued audio. Outstanding marks fire immediately so no
// waiter is left hanging.
func (c *playbackClient) ClearBuffer() {
	c.audioMu.Lock()
	marks := c.marks
	c.pending = nil
	c.marks = nil
	c.audioMu.Unlock()

	for _, mark := range marks {
		mark.callback()
	}
}

// AwaitMark blocks until everything queued so far has been played.
func (c *playbackClient) AwaitMark() error {
	done := make(chan struct{})
	c.audioMu.Lock()
	if len(c.pending) == 0 {
		c.audioMu.Unlock()
		return nil
	}
	c.marks = append(c.marks, playbackMark{
		position: len(c.pending),
		callback: func() { close(done) },
	})
	c.audioMu.Unlock()

	<-done
	return nil
}

func (c *playbackClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return nil
	}

	c.device.Uninit()
	c.device = nil
	c.ClearBuffer()

	return nil
}

func (c *playbackClient) processAudio(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame

		c.audioMu.Lock()
		n := copy(pOutput[:min(need, len(pOutput))], c.pending)
		c.pending = c.pending[n:]

		var reached []playbackMark
		kept := c.marks[:0]
		for _, mark := range c.marks {
			mark.position -= n
			if mark.position <= 0 {
				reached = append(reached, mark)
				continue
			}
			kept = append(kept, mark)
		}
		c.marks = kept
		c.audioMu.Unlock()

		// silence the rest of the period
		for i := n; i < need && i < len(pOutput); i++ {
			pOutput[i] = 0
		}

		if len(reached) > 0 {
			go func() {
				for _, mark := range reached {
					mark.callback()
				}
			}()
		}
	}
}
