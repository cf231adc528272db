package count

import (
	"context"
	"path/filepath"

	"github.com/grailbio/base/log"

	"github.com/scbio/buscount/bustools"
	"github.com/scbio/buscount/kallisto"
)

// filterBarcodes derives a data-driven barcode whitelist from the corrected
// BUS file, re-corrects against it, and sorts the result into the final
// filtered BUS file. busPath must be the sorted, corrected BUS file of the
// unfiltered run.
func (p *Pipeline) filterBarcodes(ctx context.Context, busPath string, opts Opts) (*Artifacts, error) {
	log.Printf("Filtering with bustools")
	filtered := &Artifacts{}

	whitelistPath, err := p.Bustools.Whitelist(ctx, busPath,
		filepath.Join(opts.OutDir, filterWhitelistFilename), opts.FilterThreshold)
	if err != nil {
		return nil, err
	}
	filtered.Whitelist = whitelistPath

	corrected, err := p.Bustools.Correct(ctx, busPath,
		filepath.Join(p.TempDir, updateFilename(filepath.Base(busPath), correctCode)),
		whitelistPath)
	if err != nil {
		return nil, err
	}
	filtered.FinalBus, err = p.Bustools.Sort(ctx, corrected,
		filepath.Join(opts.OutDir, "output."+filteredCode+".bus"),
		bustools.SortOpts{TempDir: p.TempDir, Threads: opts.Threads, Memory: opts.Memory})
	if err != nil {
		return nil, err
	}
	return filtered, nil
}

// filterWithBustools runs filterBarcodes and counts the surviving records
// into a filtered matrix.
func (p *Pipeline) filterWithBustools(ctx context.Context, busPath string, busResult kallisto.BusResult, opts Opts) (*Artifacts, error) {
	filtered, err := p.filterBarcodes(ctx, busPath, opts)
	if err != nil {
		return nil, err
	}
	finalBus := filtered.FinalBus

	countsDir := filepath.Join(opts.OutDir, filteredCountsDir)
	if err := p.makeDirs(countsDir); err != nil {
		return nil, err
	}
	countResult, err := p.Bustools.Count(ctx, finalBus, filepath.Join(countsDir, countMatrixPrefix(opts)),
		bustools.CountOpts{
			T2GPath:      opts.T2GPath,
			ECMapPath:    busResult.ECMap,
			TxNamesPath:  busResult.TxNames,
			TCC:          opts.TCC,
			MultiMapping: opts.MultiMapping || opts.TCC,
			CM:           opts.Technology.NoUMI,
			UMIGene:      opts.UMIGene,
			EM:           opts.EM,
		})
	if err != nil {
		return nil, err
	}
	if err := p.validate(countResult.Mtx, countResult.Barcodes, countResult.Genes, countResult.EC); err != nil {
		return nil, err
	}
	filtered.Counts = &countResult

	if opts.Cellranger && !opts.TCC {
		filtered.Cellranger, err = p.matrixToCellranger(ctx, countResult.Mtx, countResult.Barcodes,
			countResult.Genes, opts.T2GPath, filepath.Join(countsDir, cellrangerDir))
		if err != nil {
			return nil, err
		}
	}
	return filtered, p.checksum(finalBus, countResult.Mtx, countResult.Barcodes, countResult.Genes, countResult.EC)
}
