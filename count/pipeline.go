// Package count is the pipeline coordinator. It sequences kallisto and
// bustools invocations to turn raw sequencing reads into cell-by-gene (or
// cell-by-equivalence-class) count matrices, handling the droplet-based,
// plate-based and split-index variants of the workflow and the lifecycle of
// the intermediate BUS files in between.
package count

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/compress"
	baseerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	"github.com/scbio/buscount/bustools"
	"github.com/scbio/buscount/kallisto"
	"github.com/scbio/buscount/stats"
	"github.com/scbio/buscount/technology"
)

// Filter selects how (and whether) a filtered count matrix is produced in
// addition to the unfiltered one.
type Filter string

const (
	FilterNone     Filter = ""
	FilterBustools Filter = "bustools"
)

// Pipeline holds the resolved external tools and run-wide settings shared
// by all workflows.
type Pipeline struct {
	Kallisto *kallisto.Tool
	Bustools *bustools.Tool
	Stats    *stats.Stats
	// WhitelistDir holds the packaged barcode whitelists and feature maps,
	// gzip-compressed, named as in the technology table.
	WhitelistDir string
	// TempDir receives all intermediate files.
	TempDir string
	// DryRun disables output validation and checksumming; the tool runners
	// print commands instead of executing them.
	DryRun bool
}

// Opts are the per-run options of the standard and velocity workflows.
type Opts struct {
	Technology technology.Technology
	// IndexPaths lists the aligner index shards. More than one triggers the
	// split-index mash/merge path.
	IndexPaths []string
	T2GPath    string
	OutDir     string
	// Fastqs lists the read files, in technology order. Mutually exclusive
	// with BatchPath.
	Fastqs []string
	// BatchPath names a batch definition file instead of fastqs. Batch runs
	// skip whitelisting and correction.
	BatchPath string
	// WhitelistPath overrides the packaged or generated whitelist.
	WhitelistPath string
	// TCC counts per equivalence class instead of per gene.
	TCC bool
	// MultiMapping keeps records mapping to multiple genes.
	MultiMapping bool
	Filter       Filter
	// FilterThreshold is the barcode count threshold of the filter
	// whitelist; 0 lets bustools pick.
	FilterThreshold int
	// Kite names matrix columns as features rather than genes.
	Kite bool
	// FeatureBarcode enables the 10x Feature Barcoding projection stage.
	FeatureBarcode bool
	Threads        int
	Memory         string
	// Overwrite re-runs the alignment even when its outputs already exist.
	Overwrite  bool
	Cellranger bool
	// Inspect controls generation of inspect.json.
	Inspect        bool
	FragmentLength int
	FragmentSD     int
	Paired         bool
	Strand         kallisto.Strand

	// UMIGene deduplicates UMIs per gene; EM estimates abundances with EM.
	UMIGene bool
	EM      bool

	// Velocity-only options: capture lists for spliced/unspliced
	// separation, and whether to sum the two matrices (single-nucleus).
	CDNAT2CPath   string
	IntronT2CPath string
	Nucleus       bool
}

// Artifacts collects the output paths of one branch of a workflow.
type Artifacts struct {
	Bus        string
	ECMap      string
	TxNames    string
	Info       string
	Flens      string
	SavedIndex string
	Whitelist  string
	Inspect    string
	// FinalBus is the sorted, corrected, re-sorted BUS file the count
	// stage consumed.
	FinalBus   string
	Counts     *bustools.CountResult
	Quant      *kallisto.QuantTCCResult
	Cellranger *CellrangerArtifacts
	// Pseudo and Genes are set by the Smart-seq workflow, which quantifies
	// with kallisto pseudo instead of counting BUS records.
	Pseudo *kallisto.PseudoResult
	Genes  string
	// Captures holds per-capture-set artifacts: spliced/unspliced for the
	// velocity workflow, internal/umi for Smart-seq3.
	Captures map[string]*Artifacts
}

// Result is the outcome of the standard and velocity workflows.
type Result struct {
	Unfiltered *Artifacts
	Filtered   *Artifacts
	StatsPath  string
}

func (p *Pipeline) validate(paths ...string) error {
	if p.DryRun {
		return nil
	}
	return validateFiles(paths...)
}

// makeDirs creates output directories, except in dry runs, which must not
// touch the file system.
func (p *Pipeline) makeDirs(dirs ...string) error {
	if p.DryRun {
		return nil
	}
	return makeDirs(dirs...)
}

// checksum records content checksums for final artifacts in the run stats.
func (p *Pipeline) checksum(paths ...string) error {
	if p.DryRun || p.Stats == nil {
		return nil
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := p.Stats.AddChecksum(path); err != nil {
			return err
		}
	}
	return nil
}

// copyWhitelist decompresses the packaged whitelist of a technology into
// outDir and returns its path.
func (p *Pipeline) copyWhitelist(ctx context.Context, tech technology.Technology, outDir string) (string, error) {
	return p.copyPackaged(ctx, tech.Whitelist, filepath.Join(outDir, whitelistFilename))
}

// copyFeatureMap decompresses the packaged feature-to-barcode map of a
// technology into outDir and returns its path.
func (p *Pipeline) copyFeatureMap(ctx context.Context, tech technology.Technology, outDir string) (string, error) {
	dest := filepath.Join(outDir, strings.TrimSuffix(tech.FeatureMap, ".gz"))
	return p.copyPackaged(ctx, tech.FeatureMap, dest)
}

func (p *Pipeline) copyPackaged(ctx context.Context, name, dest string) (string, error) {
	if p.DryRun {
		return dest, nil
	}
	src := filepath.Join(p.WhitelistDir, name)
	in, err := file.Open(ctx, src)
	if err != nil {
		return "", errors.Wrapf(err, "packaged file %s", src)
	}
	var r io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(r, in.Name()); u != nil {
		r = u
	}
	out, err := os.Create(dest)
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		return "", errors.Wrap(err, "packaged file")
	}
	e := baseerrors.Once{}
	_, err = io.Copy(out, r)
	e.Set(err)
	e.Set(in.Close(ctx))
	e.Set(out.Close())
	if err := e.Err(); err != nil {
		return "", errors.Wrapf(err, "copy packaged file %s", src)
	}
	return dest, nil
}

// copyOrCreateWhitelist copies the technology's packaged whitelist when one
// is distributed, and otherwise derives one from the sorted BUS file with
// bustools whitelist.
func (p *Pipeline) copyOrCreateWhitelist(ctx context.Context, tech technology.Technology, busPath, outDir string) (string, error) {
	if tech.Whitelist != "" && p.WhitelistDir != "" {
		log.Printf("Copying pre-packaged %s whitelist to %s", tech.Name, outDir)
		return p.copyWhitelist(ctx, tech, outDir)
	}
	return p.Bustools.Whitelist(ctx, busPath, filepath.Join(outDir, whitelistFilename), 0)
}

// countMatrixPrefix picks the basename shared by the count matrix outputs.
func countMatrixPrefix(opts Opts) string {
	switch {
	case opts.TCC:
		return tccPrefix
	case opts.Kite:
		return featurePrefix
	default:
		return countsPrefix
	}
}
