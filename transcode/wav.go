package transcode

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// WAVE format tags
const (
	wavFormatPCM        = 0x0001
	wavFormatIEEEFloat  = 0x0003
	wavFormatExtensible = 0xFFFE
)

// ErrNotWAV is returned when the input lacks a RIFF/WAVE header
var ErrNotWAV = errors.New("not a RIFF/WAVE file")

// wavFormat is the parsed "fmt " chunk
type wavFormat struct {
	tag           uint16
	channels      int
	sampleRate    int
	blockAlign    int
	bitsPerSample int
}

func (f wavFormat) codec() string {
	if f.tag == wavFormatIEEEFloat {
		return fmt.Sprintf("float%d", f.bitsPerSample)
	}
	if f.bitsPerSample == 8 {
		return "pcm_u8"
	}
	return fmt.Sprintf("pcm_s%dle", f.bitsPerSample)
}

func (f wavFormat) validate() error {
	if f.channels < 1 {
		return fmt.Errorf("invalid channel count %d", f.channels)
	}
	if f.sampleRate < 1 {
		return fmt.Errorf("invalid sample rate %d", f.sampleRate)
	}
	switch f.tag {
	case wavFormatPCM:
		switch f.bitsPerSample {
		case 8, 16, 24, 32:
		default:
			return fmt.Errorf("unsupported PCM bit depth %d", f.bitsPerSample)
		}
	case wavFormatIEEEFloat:
		if f.bitsPerSample != 32 && f.bitsPerSample != 64 {
			return fmt.Errorf("unsupported float bit depth %d", f.bitsPerSample)
		}
	default:
		return fmt.Errorf("unsupported WAVE format tag 0x%04x", f.tag)
	}
	if want := f.channels * f.bitsPerSample / 8; f.blockAlign != want {
		return fmt.Errorf("block align %d does not match %d channels of %d bits", f.blockAlign, f.channels, f.bitsPerSample)
	}
	return nil
}

// DecodeWAV parses a RIFF/WAVE byte stream into normalised samples.
// Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(wav []byte) (*AudioData, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	var (
		format   wavFormat
		foundFmt bool
	)

	// Walk RIFF chunks; odd-sized chunks carry one pad byte
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := wav[offset+8:]

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || len(body) < 16 {
				return nil, fmt.Errorf("fmt chunk too short (%d bytes)", chunkSize)
			}
			format = wavFormat{
				tag:           binary.LittleEndian.Uint16(body[0:2]),
				channels:      int(binary.LittleEndian.Uint16(body[2:4])),
				sampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
				blockAlign:    int(binary.LittleEndian.Uint16(body[12:14])),
				bitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
			}
			if format.tag == wavFormatExtensible {
				// The sub-format GUID starts with the real format tag
				if chunkSize < 40 || len(body) < 26 {
					return nil, fmt.Errorf("extensible fmt chunk too short (%d bytes)", chunkSize)
				}
				format.tag = binary.LittleEndian.Uint16(body[24:26])
			}
			if err := format.validate(); err != nil {
				return nil, err
			}
			foundFmt = true

		case "data":
			if !foundFmt {
				return nil, fmt.Errorf("data chunk precedes fmt chunk")
			}
			// Truncated files keep whatever complete frames are present
			size := min(chunkSize, len(body))
			pcm, err := decodeSamples(body[:size-size%format.blockAlign], format)
			if err != nil {
				return nil, err
			}
			numSamples := len(pcm) / format.channels
			return &AudioData{
				PCM:        pcm,
				SampleRate: format.sampleRate,
				Channels:   format.channels,
				Duration:   durationOf(numSamples, format.sampleRate),
				Metadata: &StreamMetadata{
					Format:        "wav",
					Codec:         format.codec(),
					BitsPerSample: format.bitsPerSample,
					SampleRate:    format.sampleRate,
					Channels:      format.channels,
				},
			}, nil
		}

		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return nil, fmt.Errorf("missing data chunk")
}

// decodeSamples converts raw little-endian frames to float64 in [-1, 1]
func decodeSamples(data []byte, f wavFormat) ([]float64, error) {
	width := f.bitsPerSample / 8
	out := make([]float64, len(data)/width)

	switch {
	case f.tag == wavFormatIEEEFloat && width == 4:
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		}
	case f.tag == wavFormatIEEEFloat && width == 8:
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}
	case width == 1:
		for i := range out {
			out[i] = (float64(data[i]) - 128) / 128
		}
	case width == 2:
		for i := range out {
			out[i] = float64(int16(binary.LittleEndian.Uint16(data[i*2:]))) / (1 << 15)
		}
	case width == 3:
		for i := range out {
			b := data[i*3:]
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			out[i] = float64(v) / (1 << 23)
		}
	case width == 4:
		for i := range out {
			out[i] = float64(int32(binary.LittleEndian.Uint32(data[i*4:]))) / (1 << 31)
		}
	default:
		return nil, fmt.Errorf("unsupported sample width %d", width)
	}
	return out, nil
}

// ReadWAV reads and decodes a whole WAV stream
func ReadWAV(r io.Reader) (*AudioData, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV data: %w", err)
	}
	return DecodeWAV(data)
}

// WriteWAV encodes audio as 16-bit PCM or 32-bit float WAV. Samples
// outside [-1, 1] are clipped for 16-bit output.
func WriteWAV(w io.Writer, audio *AudioData, bitsPerSample int) error {
	if audio.Channels < 1 || audio.SampleRate < 1 {
		return fmt.Errorf("invalid audio: %d channels at %d Hz", audio.Channels, audio.SampleRate)
	}

	var tag uint16
	switch bitsPerSample {
	case 16:
		tag = wavFormatPCM
	case 32:
		tag = wavFormatIEEEFloat
	default:
		return fmt.Errorf("unsupported output bit depth %d (valid: 16, 32)", bitsPerSample)
	}

	width := bitsPerSample / 8
	dataSize := len(audio.PCM) * width
	blockAlign := audio.Channels * width

	bw := bufio.NewWriter(w)
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], tag)
	binary.LittleEndian.PutUint16(header[22:24], uint16(audio.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(audio.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(audio.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitsPerSample))
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))
	if _, err := bw.Write(header); err != nil {
		return err
	}

	sample := make([]byte, width)
	for _, x := range audio.PCM {
		if bitsPerSample == 16 {
			v := math.Round(math.Max(-1, math.Min(1, x)) * (1 << 15))
			binary.LittleEndian.PutUint16(sample, uint16(int16(math.Min(v, math.MaxInt16))))
		} else {
			binary.LittleEndian.PutUint32(sample, math.Float32bits(float32(x)))
		}
		if _, err := bw.Write(sample); err != nil {
			return err
		}
	}
	return bw.Flush()
}
