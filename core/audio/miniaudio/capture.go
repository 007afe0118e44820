package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-island/core/audio"
	"github.com/koscakluka/ema-island/core/capture"
)

type captureClient struct {
	audioContext *malgo.AllocatedContext
	encoding     audio.EncodingInfo
	device       *malgo.Device

	onAudio func(audio []byte)

	mu sync.Mutex
	// cbMu guards onAudio separately so the device thread never waits on mu
	// while Stop is blocked on the device.
	cbMu sync.RWMutex
}

func (c *captureClient) setCallback(onAudio func(audio []byte)) {
	c.cbMu.Lock()
	c.onAudio = onAudio
	c.cbMu.Unlock()
}

// initLocked opens the capture device. On desktop platforms this is where the
// OS asks for microphone permission.
func (c *captureClient) initLocked() error {
	if c.audioContext == nil {
		return fmt.Errorf("%w: audio context not initialized", capture.ErrNoDevice)
	}

	// 480 frames is 30ms at 16kHz, small enough for the silence detector
	config := deviceConfig(malgo.Capture, c.encoding, 480, 3)
	config.PerformanceProfile = malgo.LowLatency
	bytesPerFrame := c.encoding.BytesPerFrame()

	var err error
	c.device, err = malgo.InitDevice(c.audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			c.cbMu.RLock()
			onAudio := c.onAudio
			c.cbMu.RUnlock()
			if onAudio != nil {
				onAudio(pInput[:n])
			}
		},
	})
	if err != nil {
		c.device = nil
		return fmt.Errorf("%w: %v", capture.ErrNoDevice, err)
	}

	return nil
}

func (c *captureClient) Start(onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		if err := c.initLocked(); err != nil {
			return err
		}
	} else if c.device.IsStarted() {
		c.setCallback(onAudio)
		return nil
	}

	c.setCallback(onAudio)
	if err := c.device.Start(); err != nil {
		c.setCallback(nil)
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	return nil
}

func (c *captureClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil || !c.device.IsStarted() {
		return nil
	}

	c.setCallback(nil)
	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop device: %w", err)
	}

	return nil
}

func (c *captureClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}

	c.setCallback(nil)
	return nil
}
