package count

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scbio/buscount/bustools"
	"github.com/scbio/buscount/kallisto"
)

func argValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// simRunner records commands like fakeRunner and also creates the files each
// tool invocation would have written, so non-dry workflows run end to end.
type simRunner struct {
	fakeRunner
}

func (r *simRunner) Run(ctx context.Context, name string, args ...string) error {
	if err := r.fakeRunner.Run(ctx, name, args...); err != nil {
		return err
	}
	out := argValue(args, "-o")
	switch args[0] {
	case "bus":
		if err := os.MkdirAll(out, 0777); err != nil {
			return err
		}
		for _, f := range []string{kallisto.BusFilename, kallisto.ECMapFilename,
			kallisto.TxNamesFilename} {
			if err := ioutil.WriteFile(filepath.Join(out, f), []byte("x"), 0666); err != nil {
				return err
			}
		}
		return ioutil.WriteFile(filepath.Join(out, kallisto.InfoFilename),
			[]byte("{\"n_processed\": 100}\n"), 0666)
	case "sort":
		return ioutil.WriteFile(out, []byte("x"), 0666)
	case "mash":
		if err := os.MkdirAll(out, 0777); err != nil {
			return err
		}
		for _, f := range []string{bustools.MashedBusFilename, bustools.ECMapFilename,
			bustools.TxNamesFilename} {
			if err := ioutil.WriteFile(filepath.Join(out, f), []byte("x"), 0666); err != nil {
				return err
			}
		}
	case "merge":
		for _, f := range []string{bustools.MergedBusFilename, bustools.MergedECMapFilename} {
			if err := ioutil.WriteFile(filepath.Join(out, f), []byte("x"), 0666); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeAlignerOutputs(t *testing.T, outDir string) {
	require.NoError(t, os.MkdirAll(outDir, 0777))
	for _, name := range []string{kallisto.BusFilename, kallisto.ECMapFilename,
		kallisto.TxNamesFilename, kallisto.InfoFilename} {
		require.NoError(t, ioutil.WriteFile(filepath.Join(outDir, name), []byte("x"), 0666))
	}
}

func TestAlignLocalizesRemoteFastqs(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		fmt.Fprint(w, "@r1\nACGT\n+\nFFFF\n")
	}))
	defer server.Close()

	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpDir)
	outDir := filepath.Join(tmpDir, "out")
	writeAlignerOutputs(t, outDir)

	runner := &fakeRunner{}
	p := newTestPipeline(runner)
	p.DryRun = false
	p.TempDir = filepath.Join(tmpDir, "tmp")
	require.NoError(t, os.MkdirAll(p.TempDir, 0777))

	result, err := p.alignOrReuse(context.Background(), Opts{
		Technology: mustGet(t, "10XV2"),
		IndexPaths: []string{"index.idx"},
		OutDir:     outDir,
		Fastqs:     []string{server.URL + "/r1.fastq.gz"},
		Threads:    2,
		Overwrite:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	local := filepath.Join(p.TempDir, "r1.fastq.gz")
	require.Len(t, runner.commands, 1)
	assert.Equal(t, []string{"kallisto", "bus", "-i", "index.idx", "-o", outDir,
		"-x", "10XV2", "-t", "2", local}, runner.commands[0])
	data, err := ioutil.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "@r1\nACGT\n+\nFFFF\n", string(data))
	assert.Equal(t, filepath.Join(outDir, kallisto.BusFilename), result.Bus)
}

func TestAlignLocalizesBatch(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpDir)
	fastqPath := filepath.Join(tmpDir, "c1_R1.fastq.gz")
	require.NoError(t, ioutil.WriteFile(fastqPath, []byte("@r1\nACGT\n+\nFFFF\n"), 0666))
	batchPath := filepath.Join(tmpDir, "batch.txt")
	require.NoError(t, ioutil.WriteFile(batchPath, []byte("c1 "+fastqPath+"\n"), 0666))
	outDir := filepath.Join(tmpDir, "out")
	writeAlignerOutputs(t, outDir)

	runner := &fakeRunner{}
	p := newTestPipeline(runner)
	p.DryRun = false
	p.TempDir = filepath.Join(tmpDir, "tmp")
	require.NoError(t, os.MkdirAll(p.TempDir, 0777))

	_, err := p.alignOrReuse(context.Background(), Opts{
		Technology: mustGet(t, "BULK"),
		IndexPaths: []string{"index.idx"},
		OutDir:     outDir,
		BatchPath:  batchPath,
		Threads:    2,
		Overwrite:  true,
	})
	require.NoError(t, err)

	// The batch file is rewritten into the temp dir with localized, tab
	// separated records, and the rewritten path is what the aligner sees.
	require.Len(t, runner.commands, 1)
	rewritten := argValue(runner.commands[0], "--batch")
	require.NotEmpty(t, rewritten)
	assert.NotEqual(t, batchPath, rewritten)
	data, err := ioutil.ReadFile(rewritten)
	require.NoError(t, err)
	assert.Equal(t, "c1\t"+fastqPath+"\n", string(data))
}

func TestSplitIndexLocalizesOnce(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		fmt.Fprint(w, "@r1\nACGT\n+\nFFFF\n")
	}))
	defer server.Close()

	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpDir)
	outDir := filepath.Join(tmpDir, "out")

	runner := &simRunner{}
	p := newTestPipeline(runner)
	p.DryRun = false
	p.TempDir = filepath.Join(tmpDir, "tmp")
	require.NoError(t, os.MkdirAll(p.TempDir, 0777))

	result, err := p.alignOrReuse(context.Background(), Opts{
		Technology: mustGet(t, "10XV2"),
		IndexPaths: []string{"part0.idx", "part1.idx"},
		OutDir:     outDir,
		Fastqs:     []string{server.URL + "/r1.fastq.gz"},
		Threads:    2,
		Memory:     "2G",
	})
	require.NoError(t, err)

	// Both shards align the same localized copy, downloaded a single time.
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
	local := filepath.Join(p.TempDir, "r1.fastq.gz")
	var busFastqs []string
	for _, cmd := range runner.commands {
		if cmd[1] == "bus" {
			busFastqs = append(busFastqs, cmd[len(cmd)-1])
		}
	}
	assert.Equal(t, []string{local, local}, busFastqs)
	assert.Equal(t, filepath.Join(outDir, kallisto.BusFilename), result.Bus)
}

func TestCountBatchSplitIndex(t *testing.T) {
	runner := &fakeRunner{}
	p := newTestPipeline(runner)
	_, err := p.Count(context.Background(), Opts{
		Technology: mustGet(t, "BULK"),
		IndexPaths: []string{"part0.idx", "part1.idx"},
		T2GPath:    "t2g.txt",
		OutDir:     "out",
		BatchPath:  "batch.txt",
		Threads:    2,
	})
	require.EqualError(t, err, "a batch file cannot be combined with a split index")
	assert.Empty(t, runner.commands)
}
