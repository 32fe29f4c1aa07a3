package output

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/RyanBlaney/sonido-prosody/prosody"
)

// MAT-file Level 5 data types and array classes
const (
	miINT8   = 1
	miUINT16 = 4
	miINT32  = 5
	miUINT32 = 6
	miDOUBLE = 9
	miMATRIX = 14

	mxCharClass   = 4
	mxDoubleClass = 6
)

const matHeaderSize = 128

// MATWriter writes a MATLAB Level 5 MAT-file with one variable per stream,
// the concatenated features and the framing metadata
type MATWriter struct {
	// Now stamps the header; time.Now when nil
	Now func() time.Time
}

func (m *MATWriter) Write(w io.Writer, fm *prosody.FeatureMatrix, meta Metadata) error {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}

	for _, s := range fm.Streams {
		if !matVariableName(s.Name) {
			return fmt.Errorf("stream name %q is not a valid MATLAB variable name", s.Name)
		}
	}

	var buf bytes.Buffer
	writeMATHeader(&buf, now())

	n := fm.NumFrames()
	all := rows(fm)

	// Concatenated features first, then each stream
	appendDouble(&buf, "features", n, fm.NumColumns(), func(r, c int) float64 { return all[r][c] })
	for _, s := range fm.Streams {
		appendDouble(&buf, s.Name, n, s.Width(), func(r, c int) float64 { return all[r][s.Start+c] })
	}

	names := fm.StreamNames()
	appendCharMatrix(&buf, "stream_names", names)
	appendDouble(&buf, "stream_columns", len(fm.Streams), 2, func(r, c int) float64 {
		// One-based, inclusive, as MATLAB indexes
		if c == 0 {
			return float64(fm.Streams[r].Start + 1)
		}
		return float64(fm.Streams[r].End)
	})
	appendDouble(&buf, "center_frequencies", 1, len(fm.CenterFrequencies), func(_, c int) float64 {
		return fm.CenterFrequencies[c]
	})
	appendScalar(&buf, "sample_frequency", float64(fm.SampleRate))
	appendScalar(&buf, "frame_shift", fm.FrameShift)
	appendScalar(&buf, "frame_length", fm.FrameLength)
	appendCharMatrix(&buf, "wav", []string{meta.Source})

	if cfg := meta.Config; cfg != nil {
		fb := cfg.Filterbank
		appendScalar(&buf, "nb_channels", float64(fb.NumChannels))
		appendScalar(&buf, "low_frequency", fb.LowFrequency)
		appendScalar(&buf, "window_time", fb.WindowTime)
		appendScalar(&buf, "overlap_time", fb.OverlapTime)
		appendCharMatrix(&buf, "compression", []string{fb.Compression})
		appendScalar(&buf, "dct_size", float64(cfg.DCT.Size))
		appendScalar(&buf, "delta_window", float64(cfg.Delta.Window))
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// writeMATHeader writes the 116-byte text field, the subsystem offset, the
// version and the endian indicator
func writeMATHeader(buf *bytes.Buffer, now time.Time) {
	text := fmt.Sprintf("MATLAB 5.0 MAT-file, Platform: GLNXA64, Created on: %s",
		now.UTC().Format("Mon Jan _2 15:04:05 2006"))
	header := make([]byte, matHeaderSize)
	copy(header, bytes.Repeat([]byte{' '}, 116))
	copy(header, text)
	// Bytes 116-123: subsystem data offset, unused
	binary.LittleEndian.PutUint16(header[124:], 0x0100)
	copy(header[126:], "IM")
	buf.Write(header)
}

// element is one tagged data element of a miMATRIX
type element struct {
	dataType uint32
	data     []byte
}

func padded(n int) int {
	return (n + 7) &^ 7
}

func (e element) size() int {
	return 8 + padded(len(e.data))
}

func (e element) writeTo(buf *bytes.Buffer) {
	var tag [8]byte
	binary.LittleEndian.PutUint32(tag[0:], e.dataType)
	binary.LittleEndian.PutUint32(tag[4:], uint32(len(e.data)))
	buf.Write(tag[:])
	buf.Write(e.data)
	buf.Write(make([]byte, padded(len(e.data))-len(e.data)))
}

// appendMatrix writes a complete miMATRIX element
func appendMatrix(buf *bytes.Buffer, class uint32, name string, rows, cols int, values element) {
	flags := make([]byte, 8)
	binary.LittleEndian.PutUint32(flags, class)

	dims := make([]byte, 8)
	binary.LittleEndian.PutUint32(dims[0:], uint32(int32(rows)))
	binary.LittleEndian.PutUint32(dims[4:], uint32(int32(cols)))

	parts := []element{
		{dataType: miUINT32, data: flags},
		{dataType: miINT32, data: dims},
		{dataType: miINT8, data: []byte(name)},
		values,
	}

	total := 0
	for _, p := range parts {
		total += p.size()
	}

	var tag [8]byte
	binary.LittleEndian.PutUint32(tag[0:], miMATRIX)
	binary.LittleEndian.PutUint32(tag[4:], uint32(total))
	buf.Write(tag[:])
	for _, p := range parts {
		p.writeTo(buf)
	}
}

// appendDouble writes a rows x cols double matrix in column-major order
func appendDouble(buf *bytes.Buffer, name string, rows, cols int, at func(r, c int) float64) {
	data := make([]byte, 8*rows*cols)
	i := 0
	for c := range cols {
		for r := range rows {
			binary.LittleEndian.PutUint64(data[i:], math.Float64bits(at(r, c)))
			i += 8
		}
	}
	appendMatrix(buf, mxDoubleClass, name, rows, cols, element{dataType: miDOUBLE, data: data})
}

func appendScalar(buf *bytes.Buffer, name string, v float64) {
	appendDouble(buf, name, 1, 1, func(_, _ int) float64 { return v })
}

// appendCharMatrix writes strings as the rows of a char matrix, padding
// shorter rows with spaces
func appendCharMatrix(buf *bytes.Buffer, name string, lines []string) {
	width := 0
	runes := make([][]rune, len(lines))
	for i, line := range lines {
		runes[i] = []rune(line)
		width = max(width, len(runes[i]))
	}

	data := make([]byte, 2*len(lines)*width)
	i := 0
	for c := range width {
		for r := range lines {
			ch := ' '
			if c < len(runes[r]) {
				ch = runes[r][c]
			}
			if ch > 0xFFFF {
				ch = '?'
			}
			binary.LittleEndian.PutUint16(data[i:], uint16(ch))
			i += 2
		}
	}
	appendMatrix(buf, mxCharClass, name, len(lines), width, element{dataType: miUINT16, data: data})
}

// matVariableName reports whether s is usable as a MATLAB variable name
func matVariableName(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' && i > 0, r >= '0' && r <= '9' && i > 0:
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
