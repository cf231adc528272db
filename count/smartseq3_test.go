package count

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmartseq3(t *testing.T) {
	runner := &fakeRunner{}
	p := newTestPipeline(runner)
	result, err := p.Smartseq3(context.Background(), Opts{
		Technology: mustGet(t, "SMARTSEQ3"),
		IndexPaths: []string{"index.idx"},
		T2GPath:    "t2g.txt",
		OutDir:     "out",
		Fastqs:     []string{"r1.fastq.gz", "r2.fastq.gz"},
		Threads:    2,
		Memory:     "2G",
	})
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		// Smart-seq3 reads are always aligned as pairs.
		{"kallisto", "bus", "-i", "index.idx", "-o", "out", "-x", "SMARTSEQ3", "-t", "2",
			"--paired", "r1.fastq.gz", "r2.fastq.gz"},
		{"bustools", "sort", "-o", "tmp/output.s.bus", "-T", "tmp", "-t", "2", "-m", "2G",
			"out/output.bus"},
		{"bustools", "whitelist", "-o", "out/whitelist.txt", "tmp/output.s.bus"},
		{"bustools", "correct", "-o", "tmp/output.s.c.bus", "-w", "out/whitelist.txt",
			"tmp/output.s.bus"},
		{"bustools", "sort", "-o", "out/output.unfiltered.bus", "-T", "tmp", "-t", "2", "-m", "2G",
			"tmp/output.s.c.bus"},
		// Internal reads match the poly-T capture list; UMI reads are the
		// complement.
		{"bustools", "capture", "-o", "out/output_internal.bus", "-c", "out/capture.txt",
			"--umis", "out/output.unfiltered.bus"},
		{"bustools", "count", "-o", "out/counts_unfiltered_internal/cells_x_genes",
			"-g", "t2g.txt", "-e", "out/matrix.ec", "-t", "out/transcripts.txt",
			"--genecounts", "--cm", "out/output_internal.bus"},
		{"bustools", "capture", "-o", "out/output_umi.bus", "-c", "out/capture.txt",
			"--complement", "--umis", "out/output.unfiltered.bus"},
		{"bustools", "count", "-o", "out/counts_unfiltered_umi/cells_x_genes",
			"-g", "t2g.txt", "-e", "out/matrix.ec", "-t", "out/transcripts.txt",
			"--genecounts", "--umi-gene", "out/output_umi.bus"},
	}, runner.commands)

	un := result.Unfiltered
	assert.Equal(t, "out/flens.txt", un.Flens)
	assert.Equal(t, "out/index.saved", un.SavedIndex)
	require.Contains(t, un.Captures, "internal")
	require.Contains(t, un.Captures, "umi")
	assert.Equal(t, "out/output_internal.bus", un.Captures["internal"].FinalBus)
	assert.Equal(t, "out/counts_unfiltered_umi/cells_x_genes.mtx", un.Captures["umi"].Counts.Mtx)
	assert.Nil(t, un.Captures["internal"].Quant)
}

func TestSmartseq3TCC(t *testing.T) {
	runner := &fakeRunner{}
	p := newTestPipeline(runner)
	result, err := p.Smartseq3(context.Background(), Opts{
		Technology: mustGet(t, "SMARTSEQ3"),
		IndexPaths: []string{"index.idx"},
		T2GPath:    "t2g.txt",
		OutDir:     "out",
		Fastqs:     []string{"r1.fastq.gz", "r2.fastq.gz"},
		TCC:        true,
		Threads:    2,
		Memory:     "2G",
	})
	require.NoError(t, err)

	var counts, quants [][]string
	for _, argv := range runner.commands {
		switch argv[1] {
		case "count":
			counts = append(counts, argv)
		case "quant-tcc":
			quants = append(quants, argv)
		}
	}
	require.Len(t, counts, 2)
	assert.Equal(t, []string{"bustools", "count", "-o", "out/counts_unfiltered_internal/cells_x_tcc",
		"-g", "t2g.txt", "-e", "out/matrix.ec", "-t", "out/transcripts.txt",
		"--multimapping", "--cm", "out/output_internal.bus"}, counts[0])
	assert.Equal(t, []string{"bustools", "count", "-o", "out/counts_unfiltered_umi/cells_x_tcc",
		"-g", "t2g.txt", "-e", "out/matrix.ec", "-t", "out/transcripts.txt",
		"--multimapping", "--umi-gene", "out/output_umi.bus"}, counts[1])

	// Only the internal records have fragment length statistics.
	require.Len(t, quants, 2)
	assert.Equal(t, []string{"kallisto", "quant-tcc", "-o", "out/quant_unfiltered_internal",
		"-i", "out/index.saved", "-e", "out/matrix.ec", "-g", "t2g.txt", "-t", "2",
		"-f", "out/flens.txt", "out/counts_unfiltered_internal/cells_x_tcc.mtx"}, quants[0])
	assert.Equal(t, []string{"kallisto", "quant-tcc", "-o", "out/quant_unfiltered_umi",
		"-i", "out/index.saved", "-e", "out/matrix.ec", "-g", "t2g.txt", "-t", "2",
		"out/counts_unfiltered_umi/cells_x_tcc.mtx"}, quants[1])

	require.NotNil(t, result.Unfiltered.Captures["internal"].Quant)
	assert.Equal(t, "out/quant_unfiltered_internal/matrix.abundance.mtx",
		result.Unfiltered.Captures["internal"].Quant.Mtx)
}
