package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderSize = 44

var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// EncodeWAV wraps raw PCM16LE audio in a canonical 44 byte WAV header.
func EncodeWAV(pcm []byte, info EncodingInfo) ([]byte, error) {
	if info.Format != EncodingLinear16 {
		return nil, fmt.Errorf("unsupported wav encoding %q", info.Format.Name())
	}

	sampleRate := info.SampleRate
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	channels := info.ChannelCount()

	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// DecodeWAV extracts PCM16LE samples from a WAV stream. Chunks other than
// "fmt " and "data" are skipped.
func DecodeWAV(data []byte) ([]byte, EncodingInfo, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, EncodingInfo{}, ErrNotWAV
	}

	var (
		info    EncodingInfo
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8
		// Streaming encoders sometimes leave the data size unset, so an
		// oversized chunk runs to the end of the stream.
		end := len(data)
		if uint64(size) <= uint64(len(data)-body) {
			end = body + int(size)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, EncodingInfo{}, fmt.Errorf("wav fmt chunk too short: %d bytes", end-body)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if format != 1 || bits != 16 {
				return nil, EncodingInfo{}, fmt.Errorf("unsupported wav format %d with %d bits per sample", format, bits)
			}
			info = EncodingInfo{
				Format:     EncodingLinear16,
				Channels:   int(binary.LittleEndian.Uint16(data[body+2 : body+4])),
				SampleRate: int(binary.LittleEndian.Uint32(data[body+4 : body+8])),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, EncodingInfo{}, errors.New("wav data chunk before fmt chunk")
			}
			return data[body:end], info, nil
		}

		// chunks are word aligned
		pos = end + int(size%2)
	}

	return nil, EncodingInfo{}, errors.New("wav data chunk missing")
}
