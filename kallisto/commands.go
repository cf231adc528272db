package kallisto

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
)

// Strand is the library strandedness passed to the aligner.
type Strand string

const (
	StrandNone       Strand = ""
	StrandUnstranded Strand = "unstranded"
	StrandForward    Strand = "forward"
	StrandReverse    Strand = "reverse"
)

// ParseStrand validates a strandedness flag value.
func ParseStrand(s string) (Strand, error) {
	switch Strand(s) {
	case StrandNone, StrandUnstranded, StrandForward, StrandReverse:
		return Strand(s), nil
	}
	return StrandNone, errors.Errorf("invalid strandedness %q (unstranded, forward or reverse)", s)
}

// BusOpts controls a kallisto bus run.
type BusOpts struct {
	// Technology is the value for the -x flag. Ignored in batch mode, where
	// kallisto reads the technology from the batch definition.
	Technology string
	Threads    int
	// Num includes the read number in the flag column. Set when aligning
	// against split index shards.
	Num bool
	// Kmer aligns per k-mer rather than per read. Set when aligning against
	// split index shards.
	Kmer bool
	// Paired aligns read pairs and collects fragment length statistics.
	Paired bool
	Strand Strand
	// BatchPath, when set, replaces the fastq list with a batch definition
	// file (--batch).
	BatchPath string
	// KeepsIndex marks technologies for which kallisto saves a reusable
	// index copy used later by quant-tcc.
	KeepsIndex bool
}

// BusResult names the outputs of a kallisto bus run.
type BusResult struct {
	Bus     string
	ECMap   string
	TxNames string
	Info    string
	// Flens is set for paired runs.
	Flens string
	// SavedIndex is set when the technology keeps a reusable index.
	SavedIndex string
}

// Bus pseudoaligns fastqs with an index, producing a BUS file in outDir.
func (t *Tool) Bus(ctx context.Context, fastqs []string, indexPath, outDir string, opts BusOpts) (BusResult, error) {
	log.Printf("Using index %s to generate BUS file to %s from", indexPath, outDir)
	inputs := fastqs
	if opts.BatchPath != "" {
		inputs = []string{opts.BatchPath}
	}
	for _, in := range inputs {
		log.Printf("        %s", in)
	}
	args := []string{"bus", "-i", indexPath, "-o", outDir}
	if opts.BatchPath == "" {
		args = append(args, "-x", opts.Technology)
	}
	args = append(args, "-t", strconv.Itoa(opts.Threads))
	if opts.Num {
		args = append(args, "--num")
	}
	if opts.Kmer {
		args = append(args, "--kmer")
	}
	if opts.Paired {
		args = append(args, "--paired")
	}
	switch opts.Strand {
	case StrandUnstranded:
		args = append(args, "--unstranded")
	case StrandForward:
		args = append(args, "--fr-stranded")
	case StrandReverse:
		args = append(args, "--rf-stranded")
	}
	if opts.BatchPath != "" {
		args = append(args, "--batch", opts.BatchPath)
	} else {
		args = append(args, fastqs...)
	}
	if err := t.Runner.Run(ctx, t.Path, args...); err != nil {
		return BusResult{}, err
	}
	result := BusResult{
		Bus:     filepath.Join(outDir, BusFilename),
		ECMap:   filepath.Join(outDir, ECMapFilename),
		TxNames: filepath.Join(outDir, TxNamesFilename),
		Info:    filepath.Join(outDir, InfoFilename),
	}
	if opts.Paired {
		result.Flens = filepath.Join(outDir, FlensFilename)
	}
	if opts.KeepsIndex {
		result.SavedIndex = filepath.Join(outDir, SavedIndexFilename)
	}
	return result, nil
}

// PseudoResult names the outputs of a kallisto pseudo run.
type PseudoResult struct {
	Mtx     string
	ECMap   string
	Cells   string
	TxNames string
	Info    string
}

// Pseudo quantifies a batch of plate-based cells with `kallisto pseudo
// --quant`. batchPath is a 3-column TSV of cell ID and fastq pair.
func (t *Tool) Pseudo(ctx context.Context, batchPath, indexPath, outDir string, threads int) (PseudoResult, error) {
	log.Printf("Using index %s to generate matrices to %s", indexPath, outDir)
	args := []string{"pseudo", "--quant",
		"-i", indexPath, "-o", outDir, "-b", batchPath, "-t", strconv.Itoa(threads)}
	if err := t.Runner.Run(ctx, t.Path, args...); err != nil {
		return PseudoResult{}, err
	}
	return PseudoResult{
		Mtx:     filepath.Join(outDir, AbundanceFilename),
		ECMap:   filepath.Join(outDir, ECMapFilename),
		Cells:   filepath.Join(outDir, CellsFilename),
		TxNames: filepath.Join(outDir, TxNamesFilename),
		Info:    filepath.Join(outDir, InfoFilename),
	}, nil
}

// QuantTCCOpts controls a kallisto quant-tcc run.
type QuantTCCOpts struct {
	// FlensPath points at fragment length statistics from a paired bus run.
	FlensPath string
	// FragmentLength and FragmentSD describe the fragment length
	// distribution when no flens file is available.
	FragmentLength int
	FragmentSD     int
	Threads        int
}

// QuantTCCResult names the outputs of a quant-tcc run.
type QuantTCCResult struct {
	Mtx        string
	GeneMtx    string
	TPMMtx     string
	GeneTPMMtx string
	Genes      string
	FLD        string
	TxNames    string
}

// QuantTCC quantifies transcript abundances from a TCC matrix.
func (t *Tool) QuantTCC(ctx context.Context, mtxPath, savedIndexPath, ecmapPath, t2gPath, outDir string, opts QuantTCCOpts) (QuantTCCResult, error) {
	log.Printf("Quantifying transcript abundances to %s from mtx file %s", outDir, mtxPath)
	args := []string{"quant-tcc", "-o", outDir,
		"-i", savedIndexPath, "-e", ecmapPath, "-g", t2gPath, "-t", strconv.Itoa(opts.Threads)}
	if opts.FlensPath != "" {
		args = append(args, "-f", opts.FlensPath)
	}
	if opts.FragmentLength > 0 {
		args = append(args, "-l", strconv.Itoa(opts.FragmentLength))
	}
	if opts.FragmentSD > 0 {
		args = append(args, "-s", strconv.Itoa(opts.FragmentSD))
	}
	args = append(args, mtxPath)
	if err := t.Runner.Run(ctx, t.Path, args...); err != nil {
		return QuantTCCResult{}, err
	}
	return QuantTCCResult{
		Mtx:        filepath.Join(outDir, AbundanceFilename),
		GeneMtx:    filepath.Join(outDir, AbundanceGeneFilename),
		TPMMtx:     filepath.Join(outDir, AbundanceTPMFilename),
		GeneTPMMtx: filepath.Join(outDir, AbundanceGeneTPMFilename),
		Genes:      filepath.Join(outDir, GenesFilename),
		FLD:        filepath.Join(outDir, FLDFilename),
		TxNames:    filepath.Join(outDir, TxNamesFilename),
	}, nil
}

// Index builds a kallisto index from a transcriptome FASTA. kmerSize 0 uses
// the kallisto default.
func (t *Tool) Index(ctx context.Context, fastaPath, indexPath string, kmerSize int) (string, error) {
	log.Printf("Indexing %s to %s", fastaPath, indexPath)
	args := []string{"index", "-i", indexPath}
	if kmerSize > 0 {
		args = append(args, "-k", strconv.Itoa(kmerSize))
	}
	args = append(args, fastaPath)
	if err := t.Runner.Run(ctx, t.Path, args...); err != nil {
		return "", err
	}
	return indexPath, nil
}
