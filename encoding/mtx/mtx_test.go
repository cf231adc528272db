package mtx_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scbio/buscount/encoding/mtx"
)

const sample = `%%MatrixMarket matrix coordinate real general
%
3 4 3
1 1 5
2 3 1.5
3 4 2
`

func TestRead(t *testing.T) {
	m, err := mtx.Read(strings.NewReader(sample))
	require.NoError(t, err)
	assert.Equal(t, 3, m.Rows)
	assert.Equal(t, 4, m.Cols)
	assert.Equal(t, mtx.Real, m.Field)
	assert.Equal(t, []mtx.Entry{
		{Row: 1, Col: 1, Value: 5},
		{Row: 2, Col: 3, Value: 1.5},
		{Row: 3, Col: 4, Value: 2},
	}, m.Entries)
}

func TestReadErrors(t *testing.T) {
	for _, test := range []struct {
		name, in string
	}{
		{"empty", ""},
		{"badHeader", "%%MatrixMarket matrix array real general\n1 1 1\n"},
		{"badField", "%%MatrixMarket matrix coordinate complex general\n1 1 1\n"},
		{"missingSize", "%%MatrixMarket matrix coordinate real general\n%\n"},
		{"outOfBounds", "%%MatrixMarket matrix coordinate real general\n2 2 1\n3 1 1\n"},
		{"wrongCount", "%%MatrixMarket matrix coordinate real general\n2 2 2\n1 1 1\n"},
		{"badEntry", "%%MatrixMarket matrix coordinate real general\n2 2 1\n1 1\n"},
	} {
		_, err := mtx.Read(strings.NewReader(test.in))
		assert.Error(t, err, test.name)
	}
}

func TestRoundTrip(t *testing.T) {
	m, err := mtx.Read(strings.NewReader(sample))
	require.NoError(t, err)
	buf := bytes.Buffer{}
	require.NoError(t, m.Write(&buf))
	assert.Equal(t, sample, buf.String())
}

func TestIntegerWrite(t *testing.T) {
	m := &mtx.Matrix{Rows: 2, Cols: 2, Field: mtx.Integer, Entries: []mtx.Entry{{Row: 1, Col: 2, Value: 3}}}
	buf := bytes.Buffer{}
	require.NoError(t, m.Write(&buf))
	assert.Equal(t, "%%MatrixMarket matrix coordinate integer general\n%\n2 2 1\n1 2 3\n", buf.String())
}

func TestTranspose(t *testing.T) {
	m, err := mtx.Read(strings.NewReader(sample))
	require.NoError(t, err)
	tr := m.Transpose()
	assert.Equal(t, 4, tr.Rows)
	assert.Equal(t, 3, tr.Cols)
	assert.Equal(t, mtx.Entry{Row: 3, Col: 2, Value: 1.5}, tr.Entries[1])
	// Original is untouched.
	assert.Equal(t, 3, m.Rows)
}

func TestFile(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpDir)

	path := filepath.Join(tmpDir, "m.mtx")
	m := &mtx.Matrix{Rows: 1, Cols: 1, Field: mtx.Real, Entries: []mtx.Entry{{Row: 1, Col: 1, Value: 7}}}
	require.NoError(t, m.WriteFile(path))
	got, err := mtx.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}
