package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-island/core/audio"
)

// Client owns one miniaudio context with a microphone and a speaker. The
// microphone is only opened on the first StartCapture, so the permission
// prompt happens when a chat session starts and not at construction.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	encoding     audio.EncodingInfo
	playbackClient
	captureClient
}

// NewClient opens the speaker right away. Both directions use 16kHz mono
// PCM16; received audio is converted before it reaches SendAudio.
func NewClient() (*Client, error) {
	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) { logger.Debug("malgo", "message", message) },
	)
	if err != nil {
		return nil, fmt.Errorf("malgo context init failed: %w", err)
	}

	client := Client{
		audioContext: audioCtx,
		encoding: audio.EncodingInfo{
			SampleRate: audio.DefaultSampleRate,
			Format:     audio.EncodingLinear16,
			Channels:   1,
		},
	}

	if err := client.playbackClient.Init(audioCtx, client.encoding); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}

	if err := client.playbackClient.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	client.captureClient.audioContext = audioCtx
	client.captureClient.encoding = client.encoding
	return &client, nil
}

func (c *Client) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	return c.captureClient.Start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.captureClient.Stop()
}

func (c *Client) Close() {
	_ = c.captureClient.Uninit()
	_ = c.playbackClient.Uninit()
	if c.audioContext != nil {
		_ = c.audioContext.Uninit()
		c.audioContext.Free()
		c.audioContext = nil
	}
}

func (c *Client) SendAudio(audio []byte) error {
	return c.playbackClient.SendAudio(audio)
}

func (c *Client) ClearBuffer() {
	c.playbackClient.ClearBuffer()
}

func (c *Client) AwaitMark() error {
	return c.playbackClient.AwaitMark()
}

func (c *Client) EncodingInfo() audio.EncodingInfo { return c.encoding }

func deviceConfig(deviceType malgo.DeviceType, encoding audio.EncodingInfo, periodFrames, periods uint32) malgo.DeviceConfig {
	config := malgo.DefaultDeviceConfig(deviceType)
	config.SampleRate = uint32(encoding.SampleRate)
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = periodFrames
	config.Periods = periods

	format := malgo.FormatS16
	if deviceType == malgo.Capture {
		config.Capture.Format = format
		config.Capture.Channels = uint32(encoding.ChannelCount())
	} else {
		config.Playback.Format = format
		config.Playback.Channels = uint32(encoding.ChannelCount())
	}
	return config
}
