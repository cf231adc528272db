// Package kallisto wraps the kallisto pseudoaligner command-line tool. As
// with bustools, the index format and the alignment itself are external;
// this package only builds invocations and names the files they produce.
package kallisto

import (
	"context"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/scbio/buscount/executil"
)

// MinVersion is the oldest kallisto release the pipeline is tested with.
const MinVersion = "0.46.2"

// Filenames kallisto writes into its output directory.
const (
	BusFilename        = "output.bus"
	ECMapFilename      = "matrix.ec"
	TxNamesFilename    = "transcripts.txt"
	InfoFilename       = "run_info.json"
	FlensFilename      = "flens.txt"
	SavedIndexFilename = "index.saved"

	AbundanceFilename        = "matrix.abundance.mtx"
	AbundanceGeneFilename    = "matrix.abundance.gene.mtx"
	AbundanceTPMFilename     = "matrix.abundance.tpm.mtx"
	AbundanceGeneTPMFilename = "matrix.abundance.gene.tpm.mtx"
	CellsFilename            = "matrix.cells"
	GenesFilename            = "genes.txt"
	FLDFilename              = "fld.tsv"
)

// Tool runs a resolved kallisto binary.
type Tool struct {
	// Path is the absolute path of the kallisto binary.
	Path string
	// Runner executes the commands.
	Runner executil.Runner
}

// New resolves the kallisto binary and returns a Tool. path may be empty, in
// which case $PATH is searched.
func New(path string, runner executil.Runner) (*Tool, error) {
	resolved, err := executil.ResolveBinary("kallisto", path)
	if err != nil {
		return nil, err
	}
	return &Tool{Path: resolved, Runner: runner}, nil
}

var versionRE = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

// Version runs `kallisto version` and returns the reported version string.
func (t *Tool) Version(ctx context.Context) (string, error) {
	out, err := t.Runner.Output(ctx, t.Path, "version")
	if err != nil {
		return "", err
	}
	m := versionRE.FindStringSubmatch(out)
	if m == nil {
		return "", errors.Errorf("kallisto: cannot parse version from %q", strings.TrimSpace(out))
	}
	return m[1], nil
}

// CheckVersion verifies that the binary is at least MinVersion and returns
// the reported version.
func (t *Tool) CheckVersion(ctx context.Context) (string, error) {
	version, err := t.Version(ctx)
	if err != nil {
		return "", err
	}
	if executil.CompareVersions(version, MinVersion) < 0 {
		return "", errors.Errorf("kallisto %s is too old, %s or later is required", version, MinVersion)
	}
	return version, nil
}
