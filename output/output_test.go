package output

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/RyanBlaney/sonido-prosody/kaldi"
	"github.com/RyanBlaney/sonido-prosody/prosody"
	"github.com/RyanBlaney/sonido-prosody/prosody/config"
)

func sampleMatrix() *prosody.FeatureMatrix {
	return &prosody.FeatureMatrix{
		Data: mat.NewDense(3, 3, []float64{
			1, 2, 110,
			3, 4, 120.5,
			5, 6, 130,
		}),
		Streams: []prosody.StreamRange{
			{Name: prosody.StreamEnergy, Start: 0, End: 2},
			{Name: prosody.StreamPitch, Start: 2, End: 3},
		},
		FrameLength:       0.08,
		FrameShift:        0.04,
		SampleRate:        16000,
		CenterFrequencies: []float64{100, 1000},
	}
}

// matVar is a decoded miMATRIX element
type matVar struct {
	class   uint32
	rows    int
	cols    int
	doubles []float64
	chars   []uint16
}

// readMAT decodes the variables of a MAT file written by MATWriter
func readMAT(t *testing.T, data []byte) map[string]matVar {
	t.Helper()
	require.GreaterOrEqual(t, len(data), matHeaderSize)
	require.Zero(t, len(data)%8, "file length must be 8-byte aligned")

	le := binary.LittleEndian
	vars := make(map[string]matVar)
	off := matHeaderSize
	for off < len(data) {
		require.Equal(t, uint32(miMATRIX), le.Uint32(data[off:]))
		size := int(le.Uint32(data[off+4:]))
		require.Zero(t, size%8)
		body := data[off+8 : off+8+size]
		off += 8 + size

		var parts [][]byte
		var types []uint32
		for p := 0; p < len(body); {
			typ := le.Uint32(body[p:])
			n := int(le.Uint32(body[p+4:]))
			types = append(types, typ)
			parts = append(parts, body[p+8:p+8+n])
			p += 8 + padded(n)
		}
		require.Len(t, parts, 4)
		require.Equal(t, []uint32{miUINT32, miINT32, miINT8}, types[:3])

		v := matVar{
			class: le.Uint32(parts[0]),
			rows:  int(int32(le.Uint32(parts[1][0:]))),
			cols:  int(int32(le.Uint32(parts[1][4:]))),
		}
		switch types[3] {
		case miDOUBLE:
			for i := 0; i < len(parts[3]); i += 8 {
				v.doubles = append(v.doubles, math.Float64frombits(le.Uint64(parts[3][i:])))
			}
		case miUINT16:
			for i := 0; i < len(parts[3]); i += 2 {
				v.chars = append(v.chars, le.Uint16(parts[3][i:]))
			}
		default:
			t.Fatalf("unexpected data type %d", types[3])
		}
		vars[string(parts[2])] = v
	}
	return vars
}

// charRow extracts row r of a char matrix
func charRow(v matVar, r int) string {
	var out []rune
	for c := range v.cols {
		out = append(out, rune(v.chars[c*v.rows+r]))
	}
	return string(out)
}

func TestMATWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &MATWriter{Now: func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }}
	require.NoError(t, w.Write(&buf, sampleMatrix(), Metadata{Source: "/data/speech.wav", Config: config.Default()}))

	data := buf.Bytes()
	assert.True(t, bytes.HasPrefix(data, []byte("MATLAB 5.0 MAT-file")))
	assert.Contains(t, string(data[:116]), "Fri Mar  1 12:00:00 2024")
	assert.Equal(t, []byte{0x00, 0x01, 'I', 'M'}, data[124:128])

	vars := readMAT(t, data)

	features := vars["features"]
	assert.Equal(t, uint32(mxDoubleClass), features.class)
	assert.Equal(t, 3, features.rows)
	assert.Equal(t, 3, features.cols)
	// Column-major
	assert.Equal(t, []float64{1, 3, 5, 2, 4, 6, 110, 120.5, 130}, features.doubles)

	energy := vars["energy"]
	assert.Equal(t, 2, energy.cols)
	assert.Equal(t, []float64{1, 3, 5, 2, 4, 6}, energy.doubles)
	assert.Equal(t, []float64{110, 120.5, 130}, vars["pitch"].doubles)

	names := vars["stream_names"]
	assert.Equal(t, uint32(mxCharClass), names.class)
	assert.Equal(t, 2, names.rows)
	assert.Equal(t, "energy", charRow(names, 0))
	assert.Equal(t, "pitch ", charRow(names, 1))

	columns := vars["stream_columns"]
	assert.Equal(t, 2, columns.rows)
	assert.Equal(t, []float64{1, 3, 2, 3}, columns.doubles)

	assert.Equal(t, []float64{100, 1000}, vars["center_frequencies"].doubles)
	assert.Equal(t, []float64{16000}, vars["sample_frequency"].doubles)
	assert.Equal(t, []float64{0.04}, vars["frame_shift"].doubles)
	assert.Equal(t, []float64{0.08}, vars["frame_length"].doubles)
	assert.Equal(t, "/data/speech.wav", charRow(vars["wav"], 0))
	assert.Equal(t, []float64{40}, vars["nb_channels"].doubles)
	assert.Equal(t, "log", charRow(vars["compression"], 0))
}

func TestMATWriterWithoutConfig(t *testing.T) {
	var buf bytes.Buffer
	fm := sampleMatrix()
	fm.CenterFrequencies = nil
	require.NoError(t, (&MATWriter{}).Write(&buf, fm, Metadata{}))

	vars := readMAT(t, buf.Bytes())
	assert.NotContains(t, vars, "nb_channels")
	assert.Equal(t, 0, vars["center_frequencies"].cols)
	assert.Equal(t, 0, vars["wav"].cols)
}

func TestMATWriterRejectsBadStreamNames(t *testing.T) {
	fm := sampleMatrix()
	fm.Streams[1].Name = "pitch-delta"
	assert.Error(t, (&MATWriter{}).Write(io.Discard, fm, Metadata{}))

	assert.True(t, matVariableName("delta_delta"))
	assert.False(t, matVariableName("_x"))
	assert.False(t, matVariableName("2x"))
	assert.False(t, matVariableName(""))
}

func TestArkWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&ArkWriter{}).Write(&buf, sampleMatrix(), Metadata{Source: "/data/my speech.wav"}))

	matrices, err := kaldi.ReadTextArchive(&buf)
	require.NoError(t, err)
	require.Len(t, matrices, 1)
	assert.Equal(t, "my_speech", matrices[0].Key)
	assert.Equal(t, [][]float64{{1, 2, 110}, {3, 4, 120.5}, {5, 6, 130}}, matrices[0].Rows)
}

func TestYAMLWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&YAMLWriter{}).Write(&buf, sampleMatrix(), Metadata{Source: "a.wav", Key: "utt1"}))

	var doc struct {
		Utterance       string                `yaml:"utterance"`
		SampleFrequency int                   `yaml:"sample_frequency"`
		FrameShift      float64               `yaml:"frame_shift"`
		Streams         []prosody.StreamRange `yaml:"streams"`
		Features        [][]float64           `yaml:"features"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "utt1", doc.Utterance)
	assert.Equal(t, 16000, doc.SampleFrequency)
	assert.Equal(t, 0.04, doc.FrameShift)
	assert.Equal(t, sampleMatrix().Streams, doc.Streams)
	assert.Equal(t, [][]float64{{1, 2, 110}, {3, 4, 120.5}, {5, 6, 130}}, doc.Features)
	assert.Contains(t, buf.String(), "- [1, 2, 110]")
}

func TestNewWriterAndFormats(t *testing.T) {
	for format, want := range map[string]Writer{
		"":     &MATWriter{},
		"mat":  &MATWriter{},
		"ark":  &ArkWriter{},
		"YAML": &YAMLWriter{},
	} {
		w, err := NewWriter(format)
		require.NoError(t, err, format)
		assert.IsType(t, want, w, format)
	}
	_, err := NewWriter("hdf5")
	assert.Error(t, err)

	assert.Equal(t, "ark", FormatFromPath("out/feats.ark", "mat"))
	assert.Equal(t, "yaml", FormatFromPath("feats.yml", "mat"))
	assert.Equal(t, "mat", FormatFromPath("feats.bin", "mat"))

	assert.Equal(t, "/data/speech.mat", DefaultPath("/data/speech.wav", ""))
	assert.Equal(t, "speech.ark", DefaultPath("speech.flac", "ark"))
}

type failingWriter struct{}

func (failingWriter) Write(w io.Writer, fm *prosody.FeatureMatrix, meta Metadata) error {
	if _, err := w.Write([]byte("partial")); err != nil {
		return err
	}
	return errors.New("disk full")
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feats.ark")

	require.NoError(t, WriteFile(path, &ArkWriter{}, sampleMatrix(), Metadata{Key: "utt"}))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "utt  [")

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file may remain")
}

func TestWriteFileLeavesNothingOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feats.mat")

	err := WriteFile(path, failingWriter{}, sampleMatrix(), Metadata{})
	assert.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
