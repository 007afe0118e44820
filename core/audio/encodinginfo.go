package audio

const (
	DefaultSampleRate = 16000
	DefaultFormat     = "linear16"
	DefaultChannels   = 1
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{
		SampleRate: DefaultSampleRate,
		Format:     encodingFormat(DefaultFormat),
		Channels:   DefaultChannels,
	}
}

// EncodingInfo describes raw audio produced by a capture device or expected by
// an output device.
type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
	// Channels defaults to mono when left at zero.
	Channels int
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) ChannelCount() int {
	if e.Channels <= 0 {
		return 1
	}
	return e.Channels
}

// BytesPerSecond reports how many bytes one second of audio occupies, or 0
// when the format size is unknown.
func (e EncodingInfo) BytesPerSecond() int {
	size := e.Format.ByteSize()
	if size <= 0 {
		return 0
	}
	return e.SampleRate * size * e.ChannelCount()
}

// BytesPerFrame is the size of one sample across all channels.
func (e EncodingInfo) BytesPerFrame() int {
	size := e.Format.ByteSize()
	if size <= 0 {
		return 0
	}
	return size * e.ChannelCount()
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	case EncodingLinear16:
		return 0
	}

	return 0
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
