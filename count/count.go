package count

import (
	"context"
	"path/filepath"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	"github.com/scbio/buscount/bustools"
	"github.com/scbio/buscount/fetch"
	"github.com/scbio/buscount/kallisto"
	"github.com/scbio/buscount/stats"
)

// Count runs the standard workflow: align reads into a BUS file, sort it,
// correct barcodes against a whitelist, sort again, and produce an
// unfiltered count matrix, with optional quantification, cellranger
// conversion and cell filtering.
func (p *Pipeline) Count(ctx context.Context, opts Opts) (*Result, error) {
	if p.Stats != nil {
		p.Stats.StartTimer()
	}
	if err := p.makeDirs(opts.OutDir, p.TempDir); err != nil {
		return nil, err
	}
	isBatch := opts.BatchPath != ""
	result := &Result{Unfiltered: &Artifacts{}}
	un := result.Unfiltered

	busResult, err := p.alignOrReuse(ctx, opts)
	if err != nil {
		return nil, err
	}
	un.Bus, un.ECMap, un.TxNames, un.Info = busResult.Bus, busResult.ECMap, busResult.TxNames, busResult.Info
	un.Flens, un.SavedIndex = busResult.Flens, busResult.SavedIndex

	sortedBus, err := p.Bustools.Sort(ctx, busResult.Bus,
		filepath.Join(p.TempDir, updateFilename(filepath.Base(busResult.Bus), sortCode)),
		bustools.SortOpts{TempDir: p.TempDir, Threads: opts.Threads, Memory: opts.Memory})
	if err != nil {
		return nil, err
	}

	whitelistPath := opts.WhitelistPath
	if whitelistPath == "" && !isBatch {
		log.Printf("Whitelist not provided")
		whitelistPath, err = p.copyOrCreateWhitelist(ctx, opts.Technology, sortedBus, opts.OutDir)
		if err != nil {
			return nil, err
		}
	}
	un.Whitelist = whitelistPath

	prevBus := sortedBus
	if opts.FeatureBarcode {
		log.Printf("Copying %s feature-to-barcode map to %s", opts.Technology.Name, opts.OutDir)
		mapPath, err := p.copyFeatureMap(ctx, opts.Technology, opts.OutDir)
		if err != nil {
			return nil, err
		}
		projected, err := p.Bustools.Project(ctx, prevBus,
			filepath.Join(p.TempDir, updateFilename(filepath.Base(prevBus), projectCode)),
			mapPath, busResult.ECMap, busResult.TxNames)
		if err != nil {
			return nil, err
		}
		prevBus, err = p.Bustools.Sort(ctx, projected,
			filepath.Join(p.TempDir, updateFilename(filepath.Base(projected), sortCode)),
			bustools.SortOpts{TempDir: p.TempDir, Threads: opts.Threads, Memory: opts.Memory})
		if err != nil {
			return nil, err
		}
	}

	if opts.Inspect {
		un.Inspect, err = p.Bustools.Inspect(ctx, prevBus,
			filepath.Join(opts.OutDir, inspectFilename),
			bustools.InspectOpts{WhitelistPath: whitelistPath})
		if err != nil {
			return nil, err
		}
	}

	if !isBatch {
		corrected, err := p.Bustools.Correct(ctx, prevBus,
			filepath.Join(p.TempDir, updateFilename(filepath.Base(prevBus), correctCode)),
			whitelistPath)
		if err != nil {
			return nil, err
		}
		prevBus, err = p.Bustools.Sort(ctx, corrected,
			filepath.Join(opts.OutDir, "output."+unfilteredCode+".bus"),
			bustools.SortOpts{TempDir: p.TempDir, Threads: opts.Threads, Memory: opts.Memory})
		if err != nil {
			return nil, err
		}
	}
	un.FinalBus = prevBus

	countsDir := filepath.Join(opts.OutDir, unfilteredCountsDir)
	if err := p.makeDirs(countsDir); err != nil {
		return nil, err
	}
	cm := opts.Technology.NoUMI
	countResult, err := p.Bustools.Count(ctx, prevBus, filepath.Join(countsDir, countMatrixPrefix(opts)),
		bustools.CountOpts{
			T2GPath:      opts.T2GPath,
			ECMapPath:    busResult.ECMap,
			TxNamesPath:  busResult.TxNames,
			TCC:          opts.TCC,
			MultiMapping: opts.MultiMapping || opts.TCC,
			CM:           cm,
			UMIGene:      opts.UMIGene,
			EM:           opts.EM,
		})
	if err != nil {
		return nil, err
	}
	if err := p.validate(countResult.Mtx, countResult.Barcodes, countResult.Genes, countResult.EC); err != nil {
		return nil, err
	}
	un.Counts = &countResult

	// UMI-less TCC runs are quantified into transcript abundances.
	if cm && opts.TCC {
		quantDir := filepath.Join(opts.OutDir, unfilteredQuantDir)
		if err := p.makeDirs(quantDir); err != nil {
			return nil, err
		}
		quantResult, err := p.Kallisto.QuantTCC(ctx, countResult.Mtx, busResult.SavedIndex,
			busResult.ECMap, opts.T2GPath, quantDir, kallisto.QuantTCCOpts{
				FlensPath:      busResult.Flens,
				FragmentLength: opts.FragmentLength,
				FragmentSD:     opts.FragmentSD,
				Threads:        opts.Threads,
			})
		if err != nil {
			return nil, err
		}
		un.Quant = &quantResult
	}

	if opts.Cellranger {
		if opts.TCC {
			log.Error.Printf("TCC matrices can not be converted to cellranger format")
		} else {
			un.Cellranger, err = p.matrixToCellranger(ctx, countResult.Mtx, countResult.Barcodes,
				countResult.Genes, opts.T2GPath, filepath.Join(countsDir, cellrangerDir))
			if err != nil {
				return nil, err
			}
		}
	}

	if opts.Filter == FilterBustools {
		result.Filtered, err = p.filterWithBustools(ctx, prevBus, busResult, opts)
		if err != nil {
			return nil, err
		}
	}

	if err := p.checksum(un.FinalBus, countResult.Mtx, countResult.Barcodes, countResult.Genes, countResult.EC); err != nil {
		return nil, err
	}
	result.StatsPath, err = p.finishStats(opts.OutDir)
	return result, err
}

// alignOrReuse runs the aligner unless its outputs are already present and
// Overwrite is unset.
func (p *Pipeline) alignOrReuse(ctx context.Context, opts Opts) (kallisto.BusResult, error) {
	if opts.BatchPath != "" && len(opts.IndexPaths) > 1 {
		return kallisto.BusResult{}, errors.New("a batch file cannot be combined with a split index")
	}
	busResult := kallisto.BusResult{
		Bus:     filepath.Join(opts.OutDir, kallisto.BusFilename),
		ECMap:   filepath.Join(opts.OutDir, kallisto.ECMapFilename),
		TxNames: filepath.Join(opts.OutDir, kallisto.TxNamesFilename),
		Info:    filepath.Join(opts.OutDir, kallisto.InfoFilename),
	}
	if opts.Paired {
		busResult.Flens = filepath.Join(opts.OutDir, kallisto.FlensFilename)
	}
	if opts.Technology.KeepsIndex() {
		busResult.SavedIndex = filepath.Join(opts.OutDir, kallisto.SavedIndexFilename)
	}
	if allExist(busResult.Bus, busResult.ECMap, busResult.TxNames, busResult.Info, busResult.SavedIndex) && !opts.Overwrite {
		log.Printf("Skipping the alignment because output files already exist. Use overwrite to regenerate.")
		return busResult, nil
	}

	fastqs := opts.Fastqs
	batchPath := opts.BatchPath
	var err error
	if !p.DryRun {
		if batchPath != "" {
			batchPath, err = fetch.Batch(ctx, batchPath, tempFilename(p.TempDir), p.TempDir)
		} else {
			fastqs, err = fetch.Files(ctx, opts.Fastqs, p.TempDir)
		}
		if err != nil {
			return kallisto.BusResult{}, err
		}
	}

	// The shards reuse the localized fastqs, so fetch happens once.
	if len(opts.IndexPaths) > 1 {
		return p.busSplit(ctx, fastqs, opts.OutDir, opts)
	}

	busOpts := kallisto.BusOpts{
		Technology: opts.Technology.AlignerName(),
		Threads:    opts.Threads,
		Paired:     opts.Paired,
		Strand:     opts.Strand,
		KeepsIndex: opts.Technology.KeepsIndex(),
		BatchPath:  batchPath,
	}
	if batchPath != "" {
		fastqs = nil
	}
	busResult, err = p.Kallisto.Bus(ctx, fastqs, opts.IndexPaths[0], opts.OutDir, busOpts)
	if err != nil {
		return kallisto.BusResult{}, err
	}
	return busResult, p.validate(busResult.Bus, busResult.ECMap, busResult.TxNames)
}

// finishStats closes out the run stats and saves them into outDir.
func (p *Pipeline) finishStats(outDir string) (string, error) {
	if p.Stats == nil || p.DryRun {
		return "", nil
	}
	p.Stats.EndTimer()
	return p.Stats.Save(filepath.Join(outDir, stats.InfoFilename))
}
