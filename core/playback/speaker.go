package playback

import (
	"bytes"
	"context"
	"fmt"

	"github.com/koscakluka/ema-island/core/audio"
	"github.com/koscakluka/ema-island/core/transport"
	resampling "github.com/tphakala/go-audio-resampling"
)

// AudioOutput is a speaker that accepts PCM in its own encoding and can
// report when everything queued so far has been played.
type AudioOutput interface {
	EncodingInfo() audio.EncodingInfo
	SendAudio(audio []byte) error
	ClearBuffer()
	AwaitMark() error
}

// SpeakerPlayer plays WAV or raw PCM audio bytes on an AudioOutput,
// converting channels and sample rate to what the output expects.
type SpeakerPlayer struct {
	output AudioOutput
}

func NewSpeakerPlayer(output AudioOutput) *SpeakerPlayer {
	return &SpeakerPlayer{output: output}
}

func (p *SpeakerPlayer) Play(ctx context.Context, payload transport.Payload) error {
	if len(payload.Data) == 0 {
		return ErrNotMedia
	}

	target := p.output.EncodingInfo()
	pcm, source, err := decodePCM(payload, target)
	if err != nil {
		return err
	}
	if pcm, err = convertPCM16(pcm, source, target); err != nil {
		return err
	}

	if err := p.output.SendAudio(pcm); err != nil {
		return fmt.Errorf("failed to queue audio: %w", err)
	}

	finished := make(chan error, 1)
	go func() { finished <- p.output.AwaitMark() }()

	select {
	case err := <-finished:
		return err
	case <-ctx.Done():
		p.output.ClearBuffer()
		return ctx.Err()
	}
}

func decodePCM(payload transport.Payload, target audio.EncodingInfo) ([]byte, audio.EncodingInfo, error) {
	switch {
	case payload.MIME == audio.MIMEWav, payload.MIME == "audio/x-wav", payload.MIME == "audio/wave",
		bytes.HasPrefix(payload.Data, []byte("RIFF")):
		pcm, info, err := audio.DecodeWAV(payload.Data)
		if err != nil {
			return nil, audio.EncodingInfo{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return pcm, info, nil
	case payload.MIME == audio.MIMEPCM:
		return payload.Data, target, nil
	}
	return nil, audio.EncodingInfo{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, payload.MIME)
}

// convertPCM16 maps 16 bit PCM from one layout to another. Only mono and
// stereo are handled.
func convertPCM16(pcm []byte, from, to audio.EncodingInfo) ([]byte, error) {
	if from.Format != audio.EncodingLinear16 || to.Format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("%w: only linear16 output is supported", ErrUnsupportedFormat)
	}

	samples := bytesToSamples(pcm)
	switch {
	case from.ChannelCount() == 2 && to.ChannelCount() == 1:
		samples = downmix(samples)
	case from.ChannelCount() == 1 && to.ChannelCount() == 2:
		samples = upmix(samples)
	case from.ChannelCount() != to.ChannelCount():
		return nil, fmt.Errorf("%w: %d to %d channels", ErrUnsupportedFormat, from.ChannelCount(), to.ChannelCount())
	}

	if from.SampleRate != to.SampleRate && from.SampleRate > 0 && to.SampleRate > 0 {
		resampler, err := resampling.New(&resampling.Config{
			InputRate:  float64(from.SampleRate),
			OutputRate: float64(to.SampleRate),
			Channels:   to.ChannelCount(),
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create resampler: %w", err)
		}
		if samples, err = resampler.Process(samples); err != nil {
			return nil, fmt.Errorf("resample error: %w", err)
		}
	}

	return samplesToBytes(samples), nil
}

func bytesToSamples(pcm []byte) []float64 {
	samples := make([]float64, len(pcm)/2)
	for i := range samples {
		sample := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		samples[i] = float64(sample) / 32768.0
	}
	return samples
}

func samplesToBytes(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		var sample int16
		switch {
		case s >= 1.0:
			sample = 32767
		case s <= -1.0:
			sample = -32768
		default:
			sample = int16(s * 32767.0)
		}
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}

func downmix(samples []float64) []float64 {
	out := make([]float64, len(samples)/2)
	for i := range out {
		out[i] = (samples[i*2] + samples[i*2+1]) / 2
	}
	return out
}

func upmix(samples []float64) []float64 {
	out := make([]float64, len(samples)*2)
	for i, s := range samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}
