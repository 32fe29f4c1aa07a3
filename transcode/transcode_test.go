package transcode

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(n, sampleRate int) []float64 {
	pcm := make([]float64, n)
	for i := range pcm {
		pcm[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate))
	}
	return pcm
}

func writeTestWAV(t *testing.T, dir string, audio *AudioData) string {
	t.Helper()
	path := filepath.Join(dir, "test.wav")
	require.NoError(t, SaveWAV(path, audio))
	return path
}

func TestWAVRoundTrip16Bit(t *testing.T) {
	in := &AudioData{PCM: tone(1600, 16000), SampleRate: 16000, Channels: 1}

	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, in, 16))
	assert.Equal(t, 44+2*1600, buf.Len())

	out, err := DecodeWAV(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 16000, out.SampleRate)
	assert.Equal(t, 1, out.Channels)
	assert.Equal(t, 100*time.Millisecond, out.Duration)
	assert.Equal(t, "pcm_s16le", out.Metadata.Codec)
	require.Len(t, out.PCM, 1600)
	for i := range in.PCM {
		assert.InDelta(t, in.PCM[i], out.PCM[i], 1.0/(1<<15))
	}
}

func TestWAVRoundTripFloat(t *testing.T) {
	in := &AudioData{PCM: []float64{0, 0.25, -0.75, 1, -1}, SampleRate: 8000, Channels: 1}

	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, in, 32))
	out, err := ReadWAV(&buf)
	require.NoError(t, err)
	assert.Equal(t, "float32", out.Metadata.Codec)
	assert.Equal(t, in.PCM, out.PCM)
}

// rawWAV builds a WAV with an extra chunk and the given raw sample bytes
func rawWAV(tag uint16, channels, bits int, samples []byte, extensible bool) []byte {
	fmtSize := 16
	if extensible {
		fmtSize = 40
	}
	fmtChunk := make([]byte, fmtSize)
	outerTag := tag
	if extensible {
		outerTag = wavFormatExtensible
	}
	binary.LittleEndian.PutUint16(fmtChunk[0:2], outerTag)
	binary.LittleEndian.PutUint16(fmtChunk[2:4], uint16(channels))
	binary.LittleEndian.PutUint32(fmtChunk[4:8], 8000)
	binary.LittleEndian.PutUint32(fmtChunk[8:12], uint32(8000*channels*bits/8))
	binary.LittleEndian.PutUint16(fmtChunk[12:14], uint16(channels*bits/8))
	binary.LittleEndian.PutUint16(fmtChunk[14:16], uint16(bits))
	if extensible {
		binary.LittleEndian.PutUint16(fmtChunk[16:18], 22)
		binary.LittleEndian.PutUint16(fmtChunk[24:26], tag)
	}

	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(0))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(&b, binary.LittleEndian, uint32(fmtSize))
	b.Write(fmtChunk)
	// Odd-sized chunk to exercise padding
	b.WriteString("LIST")
	binary.Write(&b, binary.LittleEndian, uint32(3))
	b.Write([]byte{1, 2, 3, 0})
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(len(samples)))
	b.Write(samples)
	return b.Bytes()
}

func TestDecodeWAVSampleFormats(t *testing.T) {
	t.Run("8-bit unsigned", func(t *testing.T) {
		out, err := DecodeWAV(rawWAV(wavFormatPCM, 1, 8, []byte{0, 128, 192}, false))
		require.NoError(t, err)
		assert.Equal(t, []float64{-1, 0, 0.5}, out.PCM)
	})

	t.Run("24-bit signed", func(t *testing.T) {
		// 0x400000 = 0.5, 0xC00000 = -0.5
		out, err := DecodeWAV(rawWAV(wavFormatPCM, 1, 24, []byte{0, 0, 0x40, 0, 0, 0xC0}, false))
		require.NoError(t, err)
		assert.Equal(t, []float64{0.5, -0.5}, out.PCM)
	})

	t.Run("32-bit signed", func(t *testing.T) {
		samples := make([]byte, 4)
		binary.LittleEndian.PutUint32(samples, uint32(1<<30))
		out, err := DecodeWAV(rawWAV(wavFormatPCM, 1, 32, samples, false))
		require.NoError(t, err)
		assert.Equal(t, []float64{0.5}, out.PCM)
	})

	t.Run("64-bit float extensible", func(t *testing.T) {
		samples := make([]byte, 16)
		binary.LittleEndian.PutUint64(samples, math.Float64bits(0.125))
		binary.LittleEndian.PutUint64(samples[8:], math.Float64bits(-0.25))
		out, err := DecodeWAV(rawWAV(wavFormatIEEEFloat, 1, 64, samples, true))
		require.NoError(t, err)
		assert.Equal(t, []float64{0.125, -0.25}, out.PCM)
		assert.Equal(t, "float64", out.Metadata.Codec)
	})

	t.Run("stereo 16-bit", func(t *testing.T) {
		out, err := DecodeWAV(rawWAV(wavFormatPCM, 2, 16, []byte{0, 0x40, 0, 0xC0}, false))
		require.NoError(t, err)
		assert.Equal(t, 2, out.Channels)
		assert.Equal(t, 1, out.NumSamples())
		assert.Equal(t, []float64{0.5, -0.5}, out.PCM)
	})

	t.Run("truncated data keeps complete frames", func(t *testing.T) {
		wav := rawWAV(wavFormatPCM, 1, 16, []byte{0, 0x40, 0, 0xC0}, false)
		out, err := DecodeWAV(wav[:len(wav)-1])
		require.NoError(t, err)
		assert.Equal(t, []float64{0.5}, out.PCM)
	})
}

func TestDecodeWAVErrors(t *testing.T) {
	_, err := DecodeWAV([]byte("not a wav file at all"))
	assert.ErrorIs(t, err, ErrNotWAV)

	_, err = DecodeWAV(rawWAV(0x0055, 1, 16, []byte{0, 0}, false))
	assert.Error(t, err)

	_, err = DecodeWAV(rawWAV(wavFormatPCM, 1, 12, []byte{0, 0}, false))
	assert.Error(t, err)

	header := rawWAV(wavFormatPCM, 1, 16, nil, false)
	_, err = DecodeWAV(header[:36])
	assert.Error(t, err)

	assert.Error(t, WriteWAV(&bytes.Buffer{}, &AudioData{PCM: []float64{0}, SampleRate: 8000, Channels: 1}, 24))
}

func TestLoadWAV(t *testing.T) {
	in := &AudioData{PCM: tone(16000, 16000), SampleRate: 16000, Channels: 1}
	path := writeTestWAV(t, t.TempDir(), in)

	audio, err := Load(context.Background(), path, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 16000, audio.NumSamples())
	assert.Equal(t, time.Second, audio.Duration)
	assert.Equal(t, path, audio.SourcePath())
	assert.False(t, audio.Metadata.Cropped)

	cropped, err := Load(context.Background(), path, LoadOptions{Start: 250 * time.Millisecond, Stop: 750 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 8000, cropped.NumSamples())
	assert.Equal(t, 500*time.Millisecond, cropped.Duration)
	assert.True(t, cropped.Metadata.Cropped)
	assert.Equal(t, 250*time.Millisecond, cropped.Metadata.Start)
	assert.InDelta(t, audio.PCM[4000], cropped.PCM[0], 1e-12)
}

func TestLoadRejectsStereo(t *testing.T) {
	in := &AudioData{PCM: make([]float64, 200), SampleRate: 8000, Channels: 2}
	path := writeTestWAV(t, t.TempDir(), in)

	_, err := Load(context.Background(), path, LoadOptions{})
	assert.ErrorIs(t, err, ErrNotMono)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.wav"), LoadOptions{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCropErrors(t *testing.T) {
	audio := &AudioData{PCM: make([]float64, 1000), SampleRate: 1000, Channels: 1, Duration: time.Second}

	_, err := audio.Crop(-time.Millisecond, 0)
	assert.Error(t, err)
	_, err = audio.Crop(500*time.Millisecond, 400*time.Millisecond)
	assert.Error(t, err)
	_, err = audio.Crop(2*time.Second, 0)
	assert.Error(t, err)

	tail, err := audio.Crop(900*time.Millisecond, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, tail.NumSamples())
	assert.Nil(t, tail.Metadata)
}

func TestParseFFprobeOutput(t *testing.T) {
	meta, err := parseFFprobeOutput([]byte(`{"streams":[{"codec_type":"audio","codec_name":"mp3","sample_rate":"22050","channels":1,"duration":"2.5","bit_rate":"64000","codec_long_name":"MP3"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 22050, meta.SampleRate)
	assert.Equal(t, 1, meta.Channels)
	assert.Equal(t, "mp3", meta.Codec)
	assert.InDelta(t, 2.5, meta.Duration, 1e-12)

	_, err = parseFFprobeOutput([]byte(`{"streams":[]}`))
	assert.Error(t, err)
	_, err = parseFFprobeOutput([]byte(`{"streams":[{"codec_type":"audio","sample_rate":"x","channels":1}]}`))
	assert.Error(t, err)
	_, err = parseFFprobeOutput([]byte(`{"streams":[{"codec_type":"video","sample_rate":"8000","channels":1}]}`))
	assert.Error(t, err)
}

func TestBuildFFmpegArgs(t *testing.T) {
	d := NewDecoder(nil)
	args := d.buildFFmpegArgs(&AudioMetadata{SampleRate: 44100, Channels: 1})
	assert.Equal(t, []string{"-f", "f64le", "-ac", "1", "-ar", "44100", "-v", "error"}, args)

	samples := make([]byte, 17)
	binary.LittleEndian.PutUint64(samples, math.Float64bits(0.5))
	binary.LittleEndian.PutUint64(samples[8:], math.Float64bits(-1))
	assert.Equal(t, []float64{0.5, -1}, bytesToFloat64(samples))
}

func TestLoadFailsEarlyWithoutFFmpeg(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speech.mp3")
	require.NoError(t, os.WriteFile(path, []byte("not audio"), 0o644))

	_, err := Load(context.Background(), path, LoadOptions{Decoder: &DecoderConfig{
		FFmpegPath:  "sonido-prosody-no-such-ffmpeg",
		FFprobePath: "ffprobe",
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, exec.ErrNotFound)
	assert.Contains(t, err.Error(), "sonido-prosody-no-such-ffmpeg is required to decode non-WAV input")
}

func TestLoadRejectsInvalidDecoderConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speech.flac")
	require.NoError(t, os.WriteFile(path, []byte("not audio"), 0o644))

	cases := []*DecoderConfig{
		{FFmpegPath: "ffmpeg", FFprobePath: ""},
		{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe", Timeout: -time.Second},
	}
	for i, cfg := range cases {
		_, err := Load(context.Background(), path, LoadOptions{Decoder: cfg})
		require.Error(t, err, "case %d", i)
		assert.Contains(t, err.Error(), "invalid decoder configuration", "case %d", i)
	}
}
