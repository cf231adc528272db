package count

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	"github.com/scbio/buscount/bustools"
	"github.com/scbio/buscount/kallisto"
)

// busSplit aligns against each index shard separately, then reassembles a
// single BUS file: every shard's output is sorted by flag, the parts are
// mashed into one stream, re-sorted by flag, and merged so that per-shard
// equivalence classes are reconciled. The merged bus and ecmap are moved
// into outDir under the usual names. The fastqs must already be local.
func (p *Pipeline) busSplit(ctx context.Context, fastqs []string, outDir string, opts Opts) (kallisto.BusResult, error) {
	log.Printf("Generating BUS file using %d indices", len(opts.IndexPaths))
	var partDirs []string
	for i, indexPath := range opts.IndexPaths {
		partDir := filepath.Join(p.TempDir, fmt.Sprintf("bus_part%d", i))
		busResult, err := p.Kallisto.Bus(ctx, fastqs, indexPath, partDir, kallisto.BusOpts{
			Technology: opts.Technology.AlignerName(),
			Threads:    opts.Threads,
			Num:        true,
			Kmer:       true,
			Paired:     opts.Paired,
			Strand:     opts.Strand,
		})
		if err != nil {
			return kallisto.BusResult{}, err
		}
		partDirs = append(partDirs, partDir)

		// Sort the part by flag into a temp file, then put it back in place
		// so the mash below sees sorted parts.
		sorted, err := p.Bustools.Sort(ctx, busResult.Bus, tempFilename(p.TempDir), bustools.SortOpts{
			TempDir: p.TempDir,
			Threads: opts.Threads,
			Memory:  opts.Memory,
			Flags:   true,
		})
		if err != nil {
			return kallisto.BusResult{}, err
		}
		if !p.DryRun {
			if err := moveFile(sorted, busResult.Bus); err != nil {
				return kallisto.BusResult{}, err
			}
		}
	}

	mash, err := p.Bustools.Mash(ctx, partDirs, outDir)
	if err != nil {
		return kallisto.BusResult{}, err
	}
	if !p.DryRun {
		if err := combineRunInfos(partDirs, filepath.Join(outDir, kallisto.InfoFilename)); err != nil {
			return kallisto.BusResult{}, err
		}
	}
	sorted, err := p.Bustools.Sort(ctx, mash.Bus, tempFilename(p.TempDir), bustools.SortOpts{
		TempDir: p.TempDir,
		Threads: opts.Threads,
		Memory:  opts.Memory,
		Flags:   true,
	})
	if err != nil {
		return kallisto.BusResult{}, err
	}
	if !p.DryRun {
		if err := moveFile(sorted, mash.Bus); err != nil {
			return kallisto.BusResult{}, err
		}
		sorted = mash.Bus
	}

	merged, err := p.Bustools.Merge(ctx, sorted, outDir, mash.ECMap, mash.TxNames)
	if err != nil {
		return kallisto.BusResult{}, err
	}

	result := kallisto.BusResult{
		Bus:     filepath.Join(outDir, kallisto.BusFilename),
		ECMap:   filepath.Join(outDir, kallisto.ECMapFilename),
		TxNames: filepath.Join(outDir, kallisto.TxNamesFilename),
		Info:    filepath.Join(outDir, kallisto.InfoFilename),
	}
	if !p.DryRun {
		if err := moveFile(merged.Bus, result.Bus); err != nil {
			return kallisto.BusResult{}, err
		}
		if err := moveFile(merged.ECMap, result.ECMap); err != nil {
			return kallisto.BusResult{}, err
		}
	}
	return result, p.validate(result.Bus, result.ECMap, result.TxNames)
}

// combineRunInfos folds the per-shard run_info.json files into one file at
// outPath, collecting each key's values into a list.
func combineRunInfos(partDirs []string, outPath string) error {
	combined := map[string][]interface{}{}
	for _, dir := range partDirs {
		data, err := ioutil.ReadFile(filepath.Join(dir, kallisto.InfoFilename))
		if err != nil {
			return errors.Wrap(err, "combine run info")
		}
		info := map[string]interface{}{}
		if err := json.Unmarshal(data, &info); err != nil {
			return errors.Wrapf(err, "combine run info from %s", dir)
		}
		for key, value := range info {
			combined[key] = append(combined[key], value)
		}
	}
	data, err := json.MarshalIndent(combined, "", "    ")
	if err != nil {
		return errors.Wrap(err, "combine run info")
	}
	return errors.Wrap(ioutil.WriteFile(outPath, append(data, '\n'), 0666), "combine run info")
}
