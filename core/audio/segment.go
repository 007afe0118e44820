package audio

import (
	"time"
)

const (
	MIMEWav = "audio/wav"
	MIMEPCM = "audio/pcm"
)

// Segment is a unit of captured audio handed to a transport. The transport
// consumes it; nothing else should hold on to Data after sending.
type Segment struct {
	Data       []byte
	Encoding   EncodingInfo
	MIME       string
	CapturedAt time.Time
}

func (s Segment) IsEmpty() bool { return len(s.Data) == 0 }

// Duration approximates the length of the raw audio in the segment. WAV
// segments include a 44 byte header which is ignored.
func (s Segment) Duration() time.Duration {
	bps := s.Encoding.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	n := len(s.Data)
	if s.MIME == MIMEWav && n >= wavHeaderSize {
		n -= wavHeaderSize
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Concat joins raw segments into one. The encoding and capture time of the
// first segment win.
func Concat(segments ...Segment) Segment {
	if len(segments) == 0 {
		return Segment{}
	}

	size := 0
	for _, s := range segments {
		size += len(s.Data)
	}

	out := Segment{
		Data:       make([]byte, 0, size),
		Encoding:   segments[0].Encoding,
		MIME:       segments[0].MIME,
		CapturedAt: segments[0].CapturedAt,
	}
	for _, s := range segments {
		out.Data = append(out.Data, s.Data...)
	}
	return out
}

// AsWAV wraps a raw PCM segment in a WAV container so it can be uploaded as a
// file. Segments that are not linear16 PCM are returned unchanged.
func (s Segment) AsWAV() Segment {
	if s.MIME == MIMEWav || s.Encoding.Format != EncodingLinear16 {
		return s
	}

	data, err := EncodeWAV(s.Data, s.Encoding)
	if err != nil {
		return s
	}

	s.Data = data
	s.MIME = MIMEWav
	return s
}
