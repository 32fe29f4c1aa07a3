package kaldi

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Matrix is one utterance of a Kaldi text archive
type Matrix struct {
	Key  string
	Rows [][]float64
}

// Cols returns the row width, or 0 for an empty matrix
func (m *Matrix) Cols() int {
	if len(m.Rows) == 0 {
		return 0
	}
	return len(m.Rows[0])
}

// Column copies column c out of the matrix
func (m *Matrix) Column(c int) ([]float64, error) {
	if c < 0 || c >= m.Cols() {
		return nil, fmt.Errorf("column %d out of range for %d-column matrix %q", c, m.Cols(), m.Key)
	}
	out := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		out[i] = row[c]
	}
	return out, nil
}

// ReadTextArchive parses matrices written with the ark,t specifier:
//
//	utt1  [
//	  0.1 120.5
//	  0.3 121.0 ]
//
// Every row of a matrix must have the same number of columns.
func ReadTextArchive(r io.Reader) ([]*Matrix, error) {
	var (
		matrices []*Matrix
		current  *Matrix
		lineNo   int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		if current == nil {
			if len(fields) < 2 || fields[1] != "[" {
				return nil, fmt.Errorf("line %d: expected \"<key> [\", got %q", lineNo, scanner.Text())
			}
			current = &Matrix{Key: fields[0]}
			fields = fields[2:]
			if len(fields) == 0 {
				continue
			}
		}

		closed := false
		if fields[len(fields)-1] == "]" {
			closed = true
			fields = fields[:len(fields)-1]
		}

		if len(fields) > 0 {
			row := make([]float64, len(fields))
			for i, f := range fields {
				v, err := strconv.ParseFloat(f, 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: bad value %q: %w", lineNo, f, err)
				}
				row[i] = v
			}
			if len(current.Rows) > 0 && len(row) != current.Cols() {
				return nil, fmt.Errorf("line %d: row has %d columns, expected %d", lineNo, len(row), current.Cols())
			}
			current.Rows = append(current.Rows, row)
		}

		if closed {
			matrices = append(matrices, current)
			current = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	if current != nil {
		return nil, fmt.Errorf("matrix %q is not terminated", current.Key)
	}
	return matrices, nil
}

// WriteTextArchive writes matrices in the ark,t format accepted by
// ReadTextArchive and by Kaldi's copy-feats.
func WriteTextArchive(w io.Writer, matrices ...*Matrix) error {
	bw := bufio.NewWriter(w)
	for _, m := range matrices {
		if strings.ContainsAny(m.Key, " \t\n") || m.Key == "" {
			return fmt.Errorf("invalid archive key %q", m.Key)
		}
		fmt.Fprintf(bw, "%s  [", m.Key)
		if len(m.Rows) == 0 {
			bw.WriteString(" ]\n")
			continue
		}
		for i, row := range m.Rows {
			bw.WriteString("\n ")
			for _, v := range row {
				bw.WriteByte(' ')
				bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
			}
			if i == len(m.Rows)-1 {
				bw.WriteString(" ]")
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
