package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"v.io/x/lib/cmdline"
)

func TestRunCountRequiresInputs(t *testing.T) {
	flags := countFlags{workflow: "smartseq3", out: "out"}
	err := runCount(&cmdline.Env{}, []string{"r1.fastq.gz"}, flags)
	assert.EqualError(t, err, "an index is required (-i)")

	// Every workflow feeds the mapping to bustools count or quant-tcc, so
	// smartseq3 is not exempt.
	flags.index = "index.idx"
	err = runCount(&cmdline.Env{}, []string{"r1.fastq.gz"}, flags)
	assert.EqualError(t, err, "a transcript-to-gene mapping is required (-g)")

	flags.workflow = "standard"
	err = runCount(&cmdline.Env{}, []string{"r1.fastq.gz"}, flags)
	assert.EqualError(t, err, "a transcript-to-gene mapping is required (-g)")
}
