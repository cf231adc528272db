// Package mtx reads and writes sparse matrices in the MatrixMarket
// coordinate format, the exchange format used for the count matrices
// produced by bustools. Only the "matrix coordinate <real|integer> general"
// flavor is supported; that is the only flavor the external tools emit.
package mtx

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Field is the value type declared in the MatrixMarket header.
type Field string

const (
	Real    Field = "real"
	Integer Field = "integer"
)

// Entry is one nonzero cell. Row and Col are 1-based, as on disk.
type Entry struct {
	Row, Col int
	Value    float64
}

// Matrix is a sparse matrix in coordinate form.
type Matrix struct {
	Rows, Cols int
	Field      Field
	Entries    []Entry
}

// Read parses a MatrixMarket coordinate stream.
func Read(r io.Reader) (*Matrix, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	if !sc.Scan() {
		return nil, errors.New("mtx: empty input")
	}
	header := strings.Fields(sc.Text())
	if len(header) < 4 || header[0] != "%%MatrixMarket" || header[1] != "matrix" || header[2] != "coordinate" {
		return nil, errors.Errorf("mtx: unsupported header %q", sc.Text())
	}
	m := &Matrix{Field: Field(header[3])}
	if m.Field != Real && m.Field != Integer {
		return nil, errors.Errorf("mtx: unsupported field type %q", header[3])
	}

	// Skip comments, then read the size line.
	var sizeLine string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		sizeLine = line
		break
	}
	if sizeLine == "" {
		return nil, errors.New("mtx: missing size line")
	}
	var nnz int
	if _, err := fmt.Sscanf(sizeLine, "%d %d %d", &m.Rows, &m.Cols, &nnz); err != nil {
		return nil, errors.Wrapf(err, "mtx: bad size line %q", sizeLine)
	}
	m.Entries = make([]Entry, 0, nnz)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, errors.Errorf("mtx: bad entry %q", line)
		}
		row, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "mtx: bad row in %q", line)
		}
		col, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errors.Wrapf(err, "mtx: bad column in %q", line)
		}
		val, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "mtx: bad value in %q", line)
		}
		if row < 1 || row > m.Rows || col < 1 || col > m.Cols {
			return nil, errors.Errorf("mtx: entry (%d,%d) outside %dx%d matrix", row, col, m.Rows, m.Cols)
		}
		m.Entries = append(m.Entries, Entry{Row: row, Col: col, Value: val})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "mtx: read")
	}
	if len(m.Entries) != nnz {
		return nil, errors.Errorf("mtx: size line declares %d entries, found %d", nnz, len(m.Entries))
	}
	return m, nil
}

// ReadFile reads a MatrixMarket file from path.
func ReadFile(path string) (*Matrix, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "mtx")
	}
	defer in.Close() // nolint: errcheck
	return Read(in)
}

// Write serializes the matrix.
func (m *Matrix) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	field := m.Field
	if field == "" {
		field = Real
	}
	if _, err := fmt.Fprintf(bw, "%%%%MatrixMarket matrix coordinate %s general\n%%\n", field); err != nil {
		return errors.Wrap(err, "mtx: write header")
	}
	if _, err := fmt.Fprintf(bw, "%d %d %d\n", m.Rows, m.Cols, len(m.Entries)); err != nil {
		return errors.Wrap(err, "mtx: write size")
	}
	for _, e := range m.Entries {
		var err error
		if field == Integer {
			_, err = fmt.Fprintf(bw, "%d %d %d\n", e.Row, e.Col, int64(e.Value))
		} else {
			_, err = fmt.Fprintf(bw, "%d %d %g\n", e.Row, e.Col, e.Value)
		}
		if err != nil {
			return errors.Wrap(err, "mtx: write entry")
		}
	}
	return errors.Wrap(bw.Flush(), "mtx: flush")
}

// WriteFile writes the matrix to path.
func (m *Matrix) WriteFile(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "mtx")
	}
	if err := m.Write(out); err != nil {
		out.Close() // nolint: errcheck
		return err
	}
	return errors.Wrap(out.Close(), "mtx")
}

// Transpose returns a new matrix with rows and columns swapped. Entry order
// follows the receiver's entry order.
func (m *Matrix) Transpose() *Matrix {
	t := &Matrix{Rows: m.Cols, Cols: m.Rows, Field: m.Field, Entries: make([]Entry, len(m.Entries))}
	for i, e := range m.Entries {
		t.Entries[i] = Entry{Row: e.Col, Col: e.Row, Value: e.Value}
	}
	return t
}
