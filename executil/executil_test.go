package executil_test

import (
	"bytes"
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scbio/buscount/executil"
)

func TestCommandString(t *testing.T) {
	assert.Equal(t, "bustools sort -o out.bus in.bus",
		executil.CommandString("bustools", []string{"sort", "-o", "out.bus", "in.bus"}))
	assert.Equal(t, "kallisto '-o dir' 'a b'",
		executil.CommandString("kallisto", []string{"-o dir", "a b"}))
}

func TestCompareVersions(t *testing.T) {
	for _, test := range []struct {
		a, b string
		want int
	}{
		{"0.46.2", "0.46.2", 0},
		{"0.46.1", "0.46.2", -1},
		{"0.47.0", "0.46.2", 1},
		{"1.0", "0.99.9", 1},
		{"0.46", "0.46.0", 0},
		{"0.46.2", "0.46", 1},
	} {
		assert.Equal(t, test.want, executil.CompareVersions(test.a, test.b), "%s vs %s", test.a, test.b)
	}
}

func TestDryRunner(t *testing.T) {
	buf := bytes.Buffer{}
	r := executil.NewDry(&buf)
	require.NoError(t, r.Run(context.Background(), "bustools", "sort", "-o", "out.bus", "in.bus"))
	out, err := r.Output(context.Background(), "bustools", "version")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, "bustools sort -o out.bus in.bus\nbustools version\n", buf.String())
}

func TestRunnerObserver(t *testing.T) {
	var observed [][]string
	r := executil.New(func(argv []string) { observed = append(observed, argv) })
	require.NoError(t, r.Run(context.Background(), "true"))
	require.Equal(t, [][]string{{"true"}}, observed)
}

func TestRunnerOutput(t *testing.T) {
	r := executil.New(nil)
	out, err := r.Output(context.Background(), "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestResolveBinary(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpDir)

	path := filepath.Join(tmpDir, "bustools")
	require.NoError(t, ioutil.WriteFile(path, []byte("#!/bin/sh\n"), 0755))
	resolved, err := executil.ResolveBinary("bustools", path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)

	plain := filepath.Join(tmpDir, "notexec")
	require.NoError(t, ioutil.WriteFile(plain, []byte("x"), 0644))
	_, err = executil.ResolveBinary("notexec", plain)
	assert.Error(t, err)

	_, err = executil.ResolveBinary("nonexistent", filepath.Join(tmpDir, "missing"))
	assert.Error(t, err)

	_, err = executil.ResolveBinary("definitely-not-a-real-binary-name", "")
	assert.Error(t, err)

	resolved, err = executil.ResolveBinary("sh", "")
	require.NoError(t, err)
	assert.NotEmpty(t, resolved)
}
