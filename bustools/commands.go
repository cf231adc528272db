package bustools

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/grailbio/base/log"
)

// Filenames bustools writes into its output directory for the mash and
// merge subcommands.
const (
	MashedBusFilename   = "output.mashed.bus"
	MergedBusFilename   = "output.merged.bus"
	MergedECMapFilename = "matrix_merged.ec"
	ECMapFilename       = "matrix.ec"
	TxNamesFilename     = "transcripts.txt"
)

// SortOpts controls a bustools sort run.
type SortOpts struct {
	TempDir string
	Threads int
	Memory  string
	// Flags sorts by the flag column instead of barcode. Used on the
	// per-shard outputs of a split-index alignment.
	Flags bool
}

// Sort sorts busPath into outPath.
func (t *Tool) Sort(ctx context.Context, busPath, outPath string, opts SortOpts) (string, error) {
	log.Printf("Sorting BUS file %s to %s", busPath, outPath)
	args := []string{"sort", "-o", outPath, "-T", opts.TempDir,
		"-t", strconv.Itoa(opts.Threads), "-m", opts.Memory}
	if opts.Flags {
		args = append(args, "--flags")
	}
	args = append(args, busPath)
	if err := t.Runner.Run(ctx, t.Path, args...); err != nil {
		return "", err
	}
	return outPath, nil
}

// InspectOpts controls a bustools inspect run.
type InspectOpts struct {
	WhitelistPath string
	ECMapPath     string
}

// Inspect writes a JSON summary of busPath to outPath.
func (t *Tool) Inspect(ctx context.Context, busPath, outPath string, opts InspectOpts) (string, error) {
	log.Printf("Inspecting BUS file %s", busPath)
	args := []string{"inspect", "-o", outPath}
	if opts.WhitelistPath != "" {
		args = append(args, "-w", opts.WhitelistPath)
	}
	if opts.ECMapPath != "" {
		args = append(args, "-e", opts.ECMapPath)
	}
	args = append(args, busPath)
	if err := t.Runner.Run(ctx, t.Path, args...); err != nil {
		return "", err
	}
	return outPath, nil
}

// Correct corrects the barcodes in busPath against a whitelist.
func (t *Tool) Correct(ctx context.Context, busPath, outPath, whitelistPath string) (string, error) {
	log.Printf("Correcting BUS records in %s to %s with whitelist %s", busPath, outPath, whitelistPath)
	args := []string{"correct", "-o", outPath, "-w", whitelistPath, busPath}
	if err := t.Runner.Run(ctx, t.Path, args...); err != nil {
		return "", err
	}
	return outPath, nil
}

// CountOpts controls a bustools count run.
type CountOpts struct {
	T2GPath     string
	ECMapPath   string
	TxNamesPath string
	// TCC produces an equivalence-class matrix instead of a gene matrix.
	TCC bool
	// MultiMapping keeps records that map to multiple genes.
	MultiMapping bool
	// CM counts record multiplicities instead of deduplicating UMIs. Used
	// for UMI-less chemistries.
	CM bool
	// UMIGene deduplicates UMIs per gene rather than per equivalence class.
	UMIGene bool
	// EM estimates gene abundances with the EM algorithm.
	EM bool
}

// CountResult names the matrix files produced by Count.
type CountResult struct {
	Mtx      string
	Barcodes string
	// Genes is set for gene matrices, EC for TCC matrices.
	Genes string
	EC    string
}

// Count generates a count matrix from a sorted, corrected BUS file. Output
// files share outPrefix.
func (t *Tool) Count(ctx context.Context, busPath, outPrefix string, opts CountOpts) (CountResult, error) {
	log.Printf("Generating count matrix %s from BUS file %s", outPrefix, busPath)
	args := []string{"count", "-o", outPrefix,
		"-g", opts.T2GPath, "-e", opts.ECMapPath, "-t", opts.TxNamesPath}
	if !opts.TCC {
		args = append(args, "--genecounts")
	}
	if opts.MultiMapping {
		args = append(args, "--multimapping")
	}
	if opts.CM {
		args = append(args, "--cm")
	}
	if opts.UMIGene {
		args = append(args, "--umi-gene")
	}
	if opts.EM {
		args = append(args, "--em")
	}
	args = append(args, busPath)
	if err := t.Runner.Run(ctx, t.Path, args...); err != nil {
		return CountResult{}, err
	}
	result := CountResult{
		Mtx:      outPrefix + ".mtx",
		Barcodes: outPrefix + ".barcodes.txt",
	}
	if opts.TCC {
		result.EC = outPrefix + ".ec.txt"
	} else {
		result.Genes = outPrefix + ".genes.txt"
	}
	return result, nil
}

// CaptureType selects what the capture list in a Capture run contains.
type CaptureType string

const (
	CaptureTranscripts CaptureType = "transcripts"
	CaptureUMIs        CaptureType = "umis"
	CaptureBarcode     CaptureType = "barcode"
)

// CaptureOpts controls a bustools capture run.
type CaptureOpts struct {
	ECMapPath   string
	TxNamesPath string
	Type        CaptureType
	// Complement captures the records NOT matching the capture list.
	Complement bool
}

// Capture extracts the records of busPath matching (or, with Complement,
// not matching) the capture list.
func (t *Tool) Capture(ctx context.Context, busPath, outPath, capturePath string, opts CaptureOpts) (string, error) {
	log.Printf("Capturing records from BUS file %s to %s with capture list %s", busPath, outPath, capturePath)
	args := []string{"capture", "-o", outPath, "-c", capturePath}
	if opts.ECMapPath != "" {
		args = append(args, "-e", opts.ECMapPath)
	}
	if opts.TxNamesPath != "" {
		args = append(args, "-t", opts.TxNamesPath)
	}
	if opts.Complement {
		args = append(args, "--complement")
	}
	args = append(args, "--"+string(opts.Type), busPath)
	if err := t.Runner.Run(ctx, t.Path, args...); err != nil {
		return "", err
	}
	return outPath, nil
}

// Whitelist derives a barcode whitelist from a sorted BUS file. threshold
// sets the minimum record count for a barcode to be kept; 0 lets bustools
// pick one.
func (t *Tool) Whitelist(ctx context.Context, busPath, outPath string, threshold int) (string, error) {
	log.Printf("Generating whitelist %s from BUS file %s", outPath, busPath)
	args := []string{"whitelist", "-o", outPath}
	if threshold > 0 {
		args = append(args, "--threshold", strconv.Itoa(threshold))
	}
	args = append(args, busPath)
	if err := t.Runner.Run(ctx, t.Path, args...); err != nil {
		return "", err
	}
	return outPath, nil
}

// MergeResult names the outputs of Merge.
type MergeResult struct {
	Bus   string
	ECMap string
}

// Merge merges the records of a flag-sorted BUS file produced from split
// index shards, reconciling per-shard equivalence classes into outDir.
func (t *Tool) Merge(ctx context.Context, busPath, outDir, ecmapPath, txnamesPath string) (MergeResult, error) {
	log.Printf("Merging BUS records in %s to %s", busPath, outDir)
	args := []string{"merge", "-o", outDir, "-e", ecmapPath, "-t", txnamesPath, busPath}
	if err := t.Runner.Run(ctx, t.Path, args...); err != nil {
		return MergeResult{}, err
	}
	return MergeResult{
		Bus:   filepath.Join(outDir, MergedBusFilename),
		ECMap: filepath.Join(outDir, MergedECMapFilename),
	}, nil
}

// MashResult names the outputs of Mash.
type MashResult struct {
	Bus     string
	ECMap   string
	TxNames string
}

// Mash interleaves the flag-sorted BUS outputs of several aligner runs
// (one per index shard) into a single BUS file in outDir.
func (t *Tool) Mash(ctx context.Context, partDirs []string, outDir string) (MashResult, error) {
	log.Printf("Mashing BUS records to %s from", outDir)
	for _, dir := range partDirs {
		log.Printf("        %s", dir)
	}
	args := append([]string{"mash", "-o", outDir}, partDirs...)
	if err := t.Runner.Run(ctx, t.Path, args...); err != nil {
		return MashResult{}, err
	}
	return MashResult{
		Bus:     filepath.Join(outDir, MashedBusFilename),
		ECMap:   filepath.Join(outDir, ECMapFilename),
		TxNames: filepath.Join(outDir, TxNamesFilename),
	}, nil
}

// Project rewrites the barcodes of busPath through a source-to-destination
// map, used to project feature-barcoding reads onto cell barcodes.
func (t *Tool) Project(ctx context.Context, busPath, outPath, mapPath, ecmapPath, txnamesPath string) (string, error) {
	log.Printf("Projecting BUS file %s with map %s", busPath, mapPath)
	args := []string{"project", "-o", outPath, "-m", mapPath,
		"-e", ecmapPath, "-t", txnamesPath, "--barcode", busPath}
	if err := t.Runner.Run(ctx, t.Path, args...); err != nil {
		return "", err
	}
	return outPath, nil
}
