package waveform

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrUnsupportedWAV is returned for WAV files that are not integer PCM.
var ErrUnsupportedWAV = errors.New("waveform: unsupported wav encoding")

// DecodeWAV reads a PCM WAV stream and returns mono float samples in [-1,1]
// plus the sample rate. Multi-channel audio is downmixed by averaging.
// Supports 8, 16, and 32 bit integer PCM, which covers everything the
// download and extraction stages produce.
func DecodeWAV(r io.Reader) (samples []float32, sampleRate int, err error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, 0, fmt.Errorf("waveform: read riff header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, 0, errors.New("waveform: not a wav stream")
	}

	var (
		channels      int
		bitsPerSample int
		haveFmt       bool
	)

	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, 0, errors.New("waveform: wav has no data chunk")
			}
			return nil, 0, fmt.Errorf("waveform: read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("waveform: read fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			if format != 1 { // integer PCM
				return nil, 0, fmt.Errorf("%w: format tag %d", ErrUnsupportedWAV, format)
			}
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, 0, errors.New("waveform: data chunk before fmt chunk")
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("waveform: read data chunk: %w", err)
			}
			samples, err := decodePCM(body, channels, bitsPerSample)
			if err != nil {
				return nil, 0, err
			}
			return samples, sampleRate, nil

		default:
			// Skip LIST, fact, cue and friends. Chunks are word-aligned.
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, 0, fmt.Errorf("waveform: skip %q chunk: %w", id, err)
			}
		}
	}
}

func decodePCM(body []byte, channels, bits int) ([]float32, error) {
	if channels < 1 {
		return nil, errors.New("waveform: zero channels")
	}

	bytesPer := bits / 8
	switch bits {
	case 8, 16, 32:
	default:
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedWAV, bits)
	}

	frameSize := bytesPer * channels
	frames := len(body) / frameSize
	out := make([]float32, frames)

	for f := 0; f < frames; f++ {
		var sum float64
		for c := 0; c < channels; c++ {
			off := f*frameSize + c*bytesPer
			switch bits {
			case 8:
				// 8-bit wav is unsigned.
				sum += (float64(body[off]) - 128) / 128
			case 16:
				v := int16(binary.LittleEndian.Uint16(body[off:]))
				sum += float64(v) / 32768
			case 32:
				v := int32(binary.LittleEndian.Uint32(body[off:]))
				sum += float64(v) / 2147483648
			}
		}
		out[f] = float32(sum / float64(channels))
	}
	return out, nil
}
