package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-island/core/audio"
	"github.com/koscakluka/ema-island/core/capture"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

var logger = otelslog.NewLogger("github.com/koscakluka/ema-island/core/audio/portaudio")

const (
	maxReadFailures = 10
	readRetryDelay  = 10 * time.Millisecond
)

// Client is a capture-only microphone backed by PortAudio's blocking API.
type Client struct {
	bufferSize int

	mu      sync.Mutex
	stream  *portaudio.Stream
	in      []int16
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	return &Client{bufferSize: bufferSize}, nil
}

func (c *Client) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return nil
	}

	if c.stream == nil {
		c.in = make([]int16, c.bufferSize)
		stream, err := portaudio.OpenDefaultStream(1, 0, audio.DefaultSampleRate, c.bufferSize, c.in)
		if err != nil {
			return fmt.Errorf("%w: %v", capture.ErrNoDevice, err)
		}
		c.stream = stream
	}

	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start PortAudio stream: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stopped = make(chan struct{})
	go c.read(readCtx, c.stream, c.in, onAudio, c.stopped)
	return nil
}

func (c *Client) read(ctx context.Context, stream *portaudio.Stream, in []int16, onAudio func([]byte), stopped chan struct{}) {
	defer close(stopped)
	_ = readFrames(ctx, stream.Read, func() {
		frame := bytes.Buffer{}
		_ = binary.Write(&frame, binary.LittleEndian, in)
		onAudio(frame.Bytes())
	})
}

// readFrames calls read until ctx is done, delivering every successful read.
// Consecutive failures are retried with a growing delay; after
// maxReadFailures of them the microphone is considered gone and reading
// stops.
func readFrames(ctx context.Context, read func() error, deliver func()) error {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := read(); err != nil {
			failures++
			if failures >= maxReadFailures {
				logger.Error("giving up on PortAudio stream", "failures", failures, "error", err)
				return fmt.Errorf("PortAudio stream failed %d times in a row: %w", failures, err)
			}
			if failures == 1 {
				logger.Warn("failed to read from PortAudio stream", "error", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Duration(failures) * readRetryDelay):
			}
			continue
		}

		failures = 0
		deliver()
	}
}

func (c *Client) StopCapture() error {
	c.mu.Lock()
	cancel, stopped, stream := c.cancel, c.stopped, c.stream
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-stopped

	if err := stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop PortAudio stream: %w", err)
	}
	return nil
}

func (c *Client) Close() {
	_ = c.StopCapture()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
	_ = portaudio.Terminate()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
		Channels:   1,
	}
}
