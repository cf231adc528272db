package count

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scbio/buscount/bustools"
)

func TestVelocity(t *testing.T) {
	runner := &fakeRunner{}
	p := newTestPipeline(runner)
	result, err := p.Velocity(context.Background(), Opts{
		Technology:    mustGet(t, "10XV2"),
		IndexPaths:    []string{"index.idx"},
		T2GPath:       "t2g.txt",
		OutDir:        "out",
		Fastqs:        []string{"r1.fastq.gz", "r2.fastq.gz"},
		WhitelistPath: "my_whitelist.txt",
		CDNAT2CPath:   "cdna_t2c.txt",
		IntronT2CPath: "intron_t2c.txt",
		Threads:       2,
		Memory:        "2G",
		Inspect:       true,
	})
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"kallisto", "bus", "-i", "index.idx", "-o", "out", "-x", "10XV2", "-t", "2",
			"r1.fastq.gz", "r2.fastq.gz"},
		{"bustools", "sort", "-o", "tmp/output.s.bus", "-T", "tmp", "-t", "2", "-m", "2G",
			"out/output.bus"},
		{"bustools", "inspect", "-o", "out/inspect.json", "-w", "my_whitelist.txt",
			"tmp/output.s.bus"},
		{"bustools", "correct", "-o", "tmp/output.s.c.bus", "-w", "my_whitelist.txt",
			"tmp/output.s.bus"},
		{"bustools", "sort", "-o", "out/output.unfiltered.bus", "-T", "tmp", "-t", "2", "-m", "2G",
			"tmp/output.s.c.bus"},
		// Spliced records are those NOT matching the intron capture list.
		{"bustools", "capture", "-o", "tmp/spliced.bus", "-c", "intron_t2c.txt",
			"-e", "out/matrix.ec", "-t", "out/transcripts.txt", "--complement", "--transcripts",
			"out/output.unfiltered.bus"},
		{"bustools", "sort", "-o", "out/spliced.unfiltered.bus", "-T", "tmp", "-t", "2", "-m", "2G",
			"tmp/spliced.bus"},
		{"bustools", "inspect", "-o", "out/inspect.spliced.json", "-w", "my_whitelist.txt",
			"out/spliced.unfiltered.bus"},
		{"bustools", "count", "-o", "out/counts_unfiltered/spliced",
			"-g", "t2g.txt", "-e", "out/matrix.ec", "-t", "out/transcripts.txt",
			"--genecounts", "out/spliced.unfiltered.bus"},
		{"bustools", "capture", "-o", "tmp/unspliced.bus", "-c", "cdna_t2c.txt",
			"-e", "out/matrix.ec", "-t", "out/transcripts.txt", "--complement", "--transcripts",
			"out/output.unfiltered.bus"},
		{"bustools", "sort", "-o", "out/unspliced.unfiltered.bus", "-T", "tmp", "-t", "2", "-m", "2G",
			"tmp/unspliced.bus"},
		{"bustools", "inspect", "-o", "out/inspect.unspliced.json", "-w", "my_whitelist.txt",
			"out/unspliced.unfiltered.bus"},
		{"bustools", "count", "-o", "out/counts_unfiltered/unspliced",
			"-g", "t2g.txt", "-e", "out/matrix.ec", "-t", "out/transcripts.txt",
			"--genecounts", "out/unspliced.unfiltered.bus"},
	}, runner.commands)

	un := result.Unfiltered
	assert.Equal(t, "out/output.unfiltered.bus", un.FinalBus)
	require.Contains(t, un.Captures, "spliced")
	require.Contains(t, un.Captures, "unspliced")
	assert.Equal(t, "out/spliced.unfiltered.bus", un.Captures["spliced"].FinalBus)
	assert.Equal(t, "out/counts_unfiltered/unspliced.mtx", un.Captures["unspliced"].Counts.Mtx)
}

func TestVelocityFilter(t *testing.T) {
	runner := &fakeRunner{}
	p := newTestPipeline(runner)
	result, err := p.Velocity(context.Background(), Opts{
		Technology:    mustGet(t, "10XV2"),
		IndexPaths:    []string{"index.idx"},
		T2GPath:       "t2g.txt",
		OutDir:        "out",
		Fastqs:        []string{"r1.fastq.gz", "r2.fastq.gz"},
		WhitelistPath: "my_whitelist.txt",
		CDNAT2CPath:   "cdna_t2c.txt",
		IntronT2CPath: "intron_t2c.txt",
		Filter:        FilterBustools,
		Threads:       2,
		Memory:        "2G",
	})
	require.NoError(t, err)

	n := len(runner.commands)
	require.True(t, n >= 9)
	// The filter branch recaptures both record sets from the re-corrected
	// BUS file. No inspect runs on the filtered captures.
	assert.Equal(t, [][]string{
		{"bustools", "whitelist", "-o", "out/filter_barcodes.txt", "out/output.unfiltered.bus"},
		{"bustools", "correct", "-o", "tmp/output.unfiltered.c.bus", "-w", "out/filter_barcodes.txt",
			"out/output.unfiltered.bus"},
		{"bustools", "sort", "-o", "out/output.filtered.bus", "-T", "tmp", "-t", "2", "-m", "2G",
			"tmp/output.unfiltered.c.bus"},
		{"bustools", "capture", "-o", "tmp/spliced.bus", "-c", "intron_t2c.txt",
			"-e", "out/matrix.ec", "-t", "out/transcripts.txt", "--complement", "--transcripts",
			"out/output.filtered.bus"},
		{"bustools", "sort", "-o", "out/spliced.filtered.bus", "-T", "tmp", "-t", "2", "-m", "2G",
			"tmp/spliced.bus"},
		{"bustools", "count", "-o", "out/counts_filtered/spliced",
			"-g", "t2g.txt", "-e", "out/matrix.ec", "-t", "out/transcripts.txt",
			"--genecounts", "out/spliced.filtered.bus"},
		{"bustools", "capture", "-o", "tmp/unspliced.bus", "-c", "cdna_t2c.txt",
			"-e", "out/matrix.ec", "-t", "out/transcripts.txt", "--complement", "--transcripts",
			"out/output.filtered.bus"},
		{"bustools", "sort", "-o", "out/unspliced.filtered.bus", "-T", "tmp", "-t", "2", "-m", "2G",
			"tmp/unspliced.bus"},
		{"bustools", "count", "-o", "out/counts_filtered/unspliced",
			"-g", "t2g.txt", "-e", "out/matrix.ec", "-t", "out/transcripts.txt",
			"--genecounts", "out/unspliced.filtered.bus"},
	}, runner.commands[n-9:])

	require.NotNil(t, result.Filtered)
	assert.Equal(t, "out/output.filtered.bus", result.Filtered.FinalBus)
	require.Contains(t, result.Filtered.Captures, "spliced")
	assert.Equal(t, "out/counts_filtered/spliced.mtx", result.Filtered.Captures["spliced"].Counts.Mtx)
}

func TestSumCaptureCounts(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpDir)

	write := func(name, content string) string {
		path := filepath.Join(tmpDir, name)
		require.NoError(t, ioutil.WriteFile(path, []byte(content), 0666))
		return path
	}
	a := &bustools.CountResult{
		Mtx: write("spliced.mtx", "%%MatrixMarket matrix coordinate real general\n%\n"+
			"2 3 3\n1 1 1\n1 3 2\n2 2 5\n"),
		Barcodes: write("spliced.barcodes.txt", "AAAA\nCCCC\n"),
		Genes:    write("spliced.genes.txt", "g1\ng2\ng3\n"),
	}
	b := &bustools.CountResult{
		Mtx: write("unspliced.mtx", "%%MatrixMarket matrix coordinate real general\n%\n"+
			"2 3 2\n1 2 1\n2 2 1\n"),
		Barcodes: write("unspliced.barcodes.txt", "CCCC\nGGGG\n"),
		Genes:    write("unspliced.genes.txt", "g1\ng2\ng3\n"),
	}

	outPrefix := filepath.Join(tmpDir, "cells_x_genes")
	sumPath, err := sumCaptureCounts(a, b, outPrefix)
	require.NoError(t, err)
	assert.Equal(t, outPrefix+".mtx", sumPath)

	barcodes, err := ioutil.ReadFile(outPrefix + ".barcodes.txt")
	require.NoError(t, err)
	assert.Equal(t, "AAAA\nCCCC\nGGGG\n", string(barcodes))
	genes, err := ioutil.ReadFile(outPrefix + ".genes.txt")
	require.NoError(t, err)
	assert.Equal(t, "g1\ng2\ng3\n", string(genes))

	// CCCC appears in both inputs; its g2 counts add up. GGGG comes only
	// from the unspliced matrix.
	data, err := ioutil.ReadFile(sumPath)
	require.NoError(t, err)
	assert.Equal(t, "%%MatrixMarket matrix coordinate real general\n%\n"+
		"3 3 4\n1 1 1\n1 3 2\n2 2 6\n3 2 1\n", string(data))
}

func TestSumCaptureCountsGeneMismatch(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpDir)

	write := func(name, content string) string {
		path := filepath.Join(tmpDir, name)
		require.NoError(t, ioutil.WriteFile(path, []byte(content), 0666))
		return path
	}
	a := &bustools.CountResult{Genes: write("a.genes.txt", "g1\ng2\n")}
	b := &bustools.CountResult{Genes: write("b.genes.txt", "g1\ng3\n")}
	_, err := sumCaptureCounts(a, b, filepath.Join(tmpDir, "sum"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gene axes disagree")
}

func TestUnionSorted(t *testing.T) {
	assert.Equal(t, []string{"AAAA", "CCCC", "GGGG"},
		unionSorted([]string{"CCCC", "AAAA"}, []string{"GGGG", "CCCC"}))
	assert.Nil(t, unionSorted(nil, nil))
}
