package count

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/scbio/buscount/bustools"
	"github.com/scbio/buscount/kallisto"
)

// Smartseq3 quantifies Smart-seq3 reads, which mix UMI-tagged 5' reads with
// untagged internal reads in one library. After the usual sort, correct and
// re-sort sequence, the records are split on a poly-T capture sequence in
// the UMI position: internal records are counted per cell, UMI records per
// molecule.
func (p *Pipeline) Smartseq3(ctx context.Context, opts Opts) (*Result, error) {
	if p.Stats != nil {
		p.Stats.StartTimer()
	}
	if err := p.makeDirs(opts.OutDir, p.TempDir); err != nil {
		return nil, err
	}
	opts.Paired = true
	result := &Result{Unfiltered: &Artifacts{Captures: map[string]*Artifacts{}}}
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
	un.Whitelist, err = p.copyOrCreateWhitelist(ctx, opts.Technology, sortedBus, opts.OutDir)
	if err != nil {
		return nil, err
	}

	if opts.Inspect {
		un.Inspect, err = p.Bustools.Inspect(ctx, sortedBus,
			filepath.Join(opts.OutDir, inspectFilename),
			bustools.InspectOpts{WhitelistPath: un.Whitelist})
		if err != nil {
			return nil, err
		}
	}

	corrected, err := p.Bustools.Correct(ctx, sortedBus,
		filepath.Join(p.TempDir, updateFilename(filepath.Base(sortedBus), correctCode)),
		un.Whitelist)
	if err != nil {
		return nil, err
	}
	finalBus, err := p.Bustools.Sort(ctx, corrected,
		filepath.Join(opts.OutDir, "output."+unfilteredCode+".bus"),
		bustools.SortOpts{TempDir: p.TempDir, Threads: opts.Threads, Memory: opts.Memory})
	if err != nil {
		return nil, err
	}
	un.FinalBus = finalBus

	// Internal reads carry a poly-T stretch in the UMI position; real UMIs
	// do not.
	capturePath := filepath.Join(opts.OutDir, captureFilename)
	if !p.DryRun {
		if err := writeLines(capturePath, []string{strings.Repeat("T", 32)}); err != nil {
			return nil, err
		}
	}

	sets := []struct {
		suffix     string
		complement bool
		countOpts  bustools.CountOpts
		flensPath  string
	}{
		{suffix: internalSuffix, complement: false,
			countOpts: bustools.CountOpts{CM: true}, flensPath: busResult.Flens},
		{suffix: umiSuffix, complement: true,
			countOpts: bustools.CountOpts{UMIGene: true}},
	}
	for _, set := range sets {
		captured := &Artifacts{}
		captured.FinalBus, err = p.Bustools.Capture(ctx, finalBus,
			filepath.Join(opts.OutDir, "output"+set.suffix+".bus"), capturePath,
			bustools.CaptureOpts{Type: bustools.CaptureUMIs, Complement: set.complement})
		if err != nil {
			return nil, err
		}

		countsDir := filepath.Join(opts.OutDir, unfilteredCountsDir+set.suffix)
		if err := p.makeDirs(countsDir); err != nil {
			return nil, err
		}
		prefix := countsPrefix
		if opts.TCC {
			prefix = tccPrefix
		}
		countOpts := set.countOpts
		countOpts.T2GPath = opts.T2GPath
		countOpts.ECMapPath = busResult.ECMap
		countOpts.TxNamesPath = busResult.TxNames
		countOpts.TCC = opts.TCC
		countOpts.MultiMapping = opts.MultiMapping || opts.TCC
		countResult, err := p.Bustools.Count(ctx, captured.FinalBus,
			filepath.Join(countsDir, prefix), countOpts)
		if err != nil {
			return nil, err
		}
		if err := p.validate(countResult.Mtx, countResult.Barcodes, countResult.Genes, countResult.EC); err != nil {
			return nil, err
		}
		captured.Counts = &countResult

		if opts.TCC {
			quantDir := filepath.Join(opts.OutDir, unfilteredQuantDir+set.suffix)
			if err := p.makeDirs(quantDir); err != nil {
				return nil, err
			}
			quantResult, err := p.Kallisto.QuantTCC(ctx, countResult.Mtx, busResult.SavedIndex,
				busResult.ECMap, opts.T2GPath, quantDir, kallisto.QuantTCCOpts{
					FlensPath: set.flensPath,
					Threads:   opts.Threads,
				})
			if err != nil {
				return nil, err
			}
			captured.Quant = &quantResult
		}
		un.Captures[strings.TrimPrefix(set.suffix, "_")] = captured

		if err := p.checksum(captured.FinalBus, countResult.Mtx, countResult.Barcodes,
			countResult.Genes, countResult.EC); err != nil {
			return nil, err
		}
	}

	result.StatsPath, err = p.finishStats(opts.OutDir)
	return result, err
}
