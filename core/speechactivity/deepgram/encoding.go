package deepgram

import (
	"fmt"

	"github.com/koscakluka/ema-island/core/audio"
)

// listenEncoding is the subset of audio.EncodingInfo the listen endpoint
// accepts.
type listenEncoding struct {
	SampleRate int
	Format     string
	Channels   int
}

func convertEncoding(encoding audio.EncodingInfo) (*listenEncoding, error) {
	converted := listenEncoding{Channels: encoding.ChannelCount()}
	switch encoding.SampleRate {
	case 8000, 16000, 24000, 32000, 48000:
		converted.SampleRate = encoding.SampleRate
	default:
		return nil, fmt.Errorf("unsupported sample rate %d", encoding.SampleRate)
	}

	switch encoding.Format {
	case audio.EncodingLinear16:
		converted.Format = "linear16"
	case audio.EncodingALaw, audio.EncodingMulaw:
		if converted.SampleRate != 8000 {
			return nil, fmt.Errorf("unsupported sample rate %d for %s encoding", converted.SampleRate, encoding.Format.Name())
		}
		converted.Format = encoding.Format.Name()
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding.Format.Name())
	}

	return &converted, nil
}
