package count

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	"github.com/scbio/buscount/bustools"
	"github.com/scbio/buscount/encoding/mtx"
	"github.com/scbio/buscount/kallisto"
)

// Velocity runs the RNA velocity workflow: the standard front half up to the
// corrected and sorted BUS file, then a capture pass per spliced and
// unspliced record set, each counted into its own matrix.
//
// The capture lists are swapped relative to the prefixes because capture
// runs with the complement flag: spliced records are those NOT matching the
// intron capture list, and vice versa.
func (p *Pipeline) Velocity(ctx context.Context, opts Opts) (*Result, error) {
	if p.Stats != nil {
		p.Stats.StartTimer()
	}
	if err := p.makeDirs(opts.OutDir, p.TempDir); err != nil {
		return nil, err
	}
	result := &Result{Unfiltered: &Artifacts{Captures: map[string]*Artifacts{}}}
	un := result.Unfiltered

	busResult, err := p.alignOrReuse(ctx, opts)
	if err != nil {
		return nil, err
	}
	un.Bus, un.ECMap, un.TxNames, un.Info = busResult.Bus, busResult.ECMap, busResult.TxNames, busResult.Info

	sortedBus, err := p.Bustools.Sort(ctx, busResult.Bus,
		filepath.Join(p.TempDir, updateFilename(filepath.Base(busResult.Bus), sortCode)),
		bustools.SortOpts{TempDir: p.TempDir, Threads: opts.Threads, Memory: opts.Memory})
	if err != nil {
		return nil, err
	}

	whitelistPath := opts.WhitelistPath
	if whitelistPath == "" {
		log.Printf("Whitelist not provided")
		whitelistPath, err = p.copyOrCreateWhitelist(ctx, opts.Technology, sortedBus, opts.OutDir)
		if err != nil {
			return nil, err
		}
	}
	un.Whitelist = whitelistPath

	if opts.Inspect {
		un.Inspect, err = p.Bustools.Inspect(ctx, sortedBus,
			filepath.Join(opts.OutDir, inspectFilename),
			bustools.InspectOpts{WhitelistPath: whitelistPath})
		if err != nil {
			return nil, err
		}
	}

	corrected, err := p.Bustools.Correct(ctx, sortedBus,
		filepath.Join(p.TempDir, updateFilename(filepath.Base(sortedBus), correctCode)),
		whitelistPath)
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

	countsDir := filepath.Join(opts.OutDir, unfilteredCountsDir)
	if err := p.makeDirs(countsDir); err != nil {
		return nil, err
	}
	for _, c := range p.velocityCaptures(opts) {
		captured, err := p.capturePrefix(ctx, finalBus, c, busResult.ECMap, busResult.TxNames,
			opts, unfilteredCode, countsDir, whitelistPath)
		if err != nil {
			return nil, err
		}
		un.Captures[c.prefix] = captured
	}

	if opts.Nucleus && !opts.TCC && !p.DryRun {
		sumPath, err := sumCaptureCounts(un.Captures[cdnaPrefix].Counts, un.Captures[intronPrefix].Counts,
			filepath.Join(countsDir, countsPrefix))
		if err != nil {
			return nil, err
		}
		log.Printf("Wrote summed single-nucleus matrix %s", sumPath)
	}

	if opts.Filter == FilterBustools {
		result.Filtered, err = p.velocityFilter(ctx, finalBus, busResult, opts)
		if err != nil {
			return nil, err
		}
	}

	checksums := []string{finalBus}
	for _, captured := range un.Captures {
		if captured.Counts != nil {
			checksums = append(checksums, captured.Counts.Mtx, captured.Counts.Barcodes,
				captured.Counts.Genes, captured.Counts.EC)
		}
	}
	if err := p.checksum(checksums...); err != nil {
		return nil, err
	}
	result.StatsPath, err = p.finishStats(opts.OutDir)
	return result, err
}

type velocityCapture struct {
	prefix      string
	capturePath string
}

func (p *Pipeline) velocityCaptures(opts Opts) []velocityCapture {
	return []velocityCapture{
		{prefix: cdnaPrefix, capturePath: opts.IntronT2CPath},
		{prefix: intronPrefix, capturePath: opts.CDNAT2CPath},
	}
}

// capturePrefix extracts one record set out of the final BUS file and counts
// it: capture (complement) into a temp file, sort into
// <prefix>.<code>.bus, optional inspect, then count under countsDir.
func (p *Pipeline) capturePrefix(ctx context.Context, busPath string, c velocityCapture,
	ecmapPath, txnamesPath string, opts Opts, code, countsDir, whitelistPath string) (*Artifacts, error) {
	captured := &Artifacts{}
	capturedBus, err := p.Bustools.Capture(ctx, busPath,
		filepath.Join(p.TempDir, c.prefix+".bus"), c.capturePath,
		bustools.CaptureOpts{
			ECMapPath:   ecmapPath,
			TxNamesPath: txnamesPath,
			Type:        bustools.CaptureTranscripts,
			Complement:  true,
		})
	if err != nil {
		return nil, err
	}
	captured.FinalBus, err = p.Bustools.Sort(ctx, capturedBus,
		filepath.Join(opts.OutDir, c.prefix+"."+code+".bus"),
		bustools.SortOpts{TempDir: p.TempDir, Threads: opts.Threads, Memory: opts.Memory})
	if err != nil {
		return nil, err
	}

	if opts.Inspect && code == unfilteredCode {
		captured.Inspect, err = p.Bustools.Inspect(ctx, captured.FinalBus,
			filepath.Join(opts.OutDir, updateFilename(inspectFilename, c.prefix)),
			bustools.InspectOpts{WhitelistPath: whitelistPath})
		if err != nil {
			return nil, err
		}
	}

	countResult, err := p.Bustools.Count(ctx, captured.FinalBus, filepath.Join(countsDir, c.prefix),
		bustools.CountOpts{
			T2GPath:      opts.T2GPath,
			ECMapPath:    ecmapPath,
			TxNamesPath:  txnamesPath,
			TCC:          opts.TCC,
			MultiMapping: opts.MultiMapping || opts.TCC,
			UMIGene:      opts.UMIGene,
			EM:           opts.EM,
		})
	if err != nil {
		return nil, err
	}
	if err := p.validate(countResult.Mtx, countResult.Barcodes, countResult.Genes, countResult.EC); err != nil {
		return nil, err
	}
	captured.Counts = &countResult

	if opts.Cellranger {
		if opts.TCC {
			log.Error.Printf("TCC matrices can not be converted to cellranger format")
		} else {
			captured.Cellranger, err = p.matrixToCellranger(ctx, countResult.Mtx, countResult.Barcodes,
				countResult.Genes, opts.T2GPath, filepath.Join(countsDir, cellrangerDir+"_"+c.prefix))
			if err != nil {
				return nil, err
			}
		}
	}
	return captured, nil
}

// velocityFilter rebuilds the spliced and unspliced matrices from a
// barcode-filtered BUS file.
func (p *Pipeline) velocityFilter(ctx context.Context, busPath string, busResult kallisto.BusResult, opts Opts) (*Artifacts, error) {
	filtered, err := p.filterBarcodes(ctx, busPath, opts)
	if err != nil {
		return nil, err
	}
	filtered.Captures = map[string]*Artifacts{}

	countsDir := filepath.Join(opts.OutDir, filteredCountsDir)
	if err := p.makeDirs(countsDir); err != nil {
		return nil, err
	}
	for _, c := range p.velocityCaptures(opts) {
		captured, err := p.capturePrefix(ctx, filtered.FinalBus, c, busResult.ECMap, busResult.TxNames,
			opts, filteredCode, countsDir, filtered.Whitelist)
		if err != nil {
			return nil, err
		}
		filtered.Captures[c.prefix] = captured
	}
	return filtered, nil
}

// sumCaptureCounts adds the spliced and unspliced matrices entrywise into a
// combined matrix, used for single-nucleus runs where both record sets
// contribute to expression. The gene axes must agree; the barcode axes are
// unioned.
func sumCaptureCounts(a, b *bustools.CountResult, outPrefix string) (string, error) {
	aGenes, err := readLines(a.Genes)
	if err != nil {
		return "", err
	}
	bGenes, err := readLines(b.Genes)
	if err != nil {
		return "", err
	}
	if len(aGenes) != len(bGenes) {
		return "", errors.Errorf("gene axes disagree: %d vs %d genes", len(aGenes), len(bGenes))
	}
	for i := range aGenes {
		if aGenes[i] != bGenes[i] {
			return "", errors.Errorf("gene axes disagree at row %d: %s vs %s", i+1, aGenes[i], bGenes[i])
		}
	}

	aBarcodes, err := readLines(a.Barcodes)
	if err != nil {
		return "", err
	}
	bBarcodes, err := readLines(b.Barcodes)
	if err != nil {
		return "", err
	}
	barcodes := unionSorted(aBarcodes, bBarcodes)
	index := make(map[string]int, len(barcodes))
	for i, barcode := range barcodes {
		index[barcode] = i + 1
	}

	aMtx, err := mtx.ReadFile(a.Mtx)
	if err != nil {
		return "", err
	}
	bMtx, err := mtx.ReadFile(b.Mtx)
	if err != nil {
		return "", err
	}
	type key struct{ row, col int }
	values := make(map[key]float64)
	add := func(m *mtx.Matrix, rowBarcodes []string) {
		for _, entry := range m.Entries {
			values[key{index[rowBarcodes[entry.Row-1]], entry.Col}] += entry.Value
		}
	}
	add(aMtx, aBarcodes)
	add(bMtx, bBarcodes)

	sum := &mtx.Matrix{Rows: len(barcodes), Cols: len(aGenes), Field: aMtx.Field}
	for k, value := range values {
		sum.Entries = append(sum.Entries, mtx.Entry{Row: k.row, Col: k.col, Value: value})
	}
	sort.Slice(sum.Entries, func(i, j int) bool {
		if sum.Entries[i].Row != sum.Entries[j].Row {
			return sum.Entries[i].Row < sum.Entries[j].Row
		}
		return sum.Entries[i].Col < sum.Entries[j].Col
	})

	if err := writeLines(outPrefix+".barcodes.txt", barcodes); err != nil {
		return "", err
	}
	if err := writeLines(outPrefix+".genes.txt", aGenes); err != nil {
		return "", err
	}
	return outPrefix + ".mtx", sum.WriteFile(outPrefix + ".mtx")
}

func readLines(path string) ([]string, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "read lines")
	}
	defer in.Close() // nolint: errcheck
	var lines []string
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, errors.Wrap(scanner.Err(), "read lines")
}

func writeLines(path string, lines []string) error {
	out, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "write lines")
	}
	w := bufio.NewWriter(out)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			out.Close() // nolint: errcheck
			return errors.Wrap(err, "write lines")
		}
	}
	if err := w.Flush(); err != nil {
		out.Close() // nolint: errcheck
		return errors.Wrap(err, "write lines")
	}
	return errors.Wrap(out.Close(), "write lines")
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var union []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			union = append(union, s)
		}
	}
	sort.Strings(union)
	return union
}
