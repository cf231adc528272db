package count

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	"github.com/scbio/buscount/encoding/t2g"
	"github.com/scbio/buscount/fetch"
	"github.com/scbio/buscount/kallisto"
)

// SmartseqOpts are the per-run options of the Smart-seq workflow.
type SmartseqOpts struct {
	IndexPaths []string
	T2GPath    string
	OutDir     string
	// FastqPairs lists one read pair per cell.
	FastqPairs [][2]string
	// CellIDs labels the rows of the batch definition. When empty, cells are
	// numbered in order.
	CellIDs   []string
	Threads   int
	Overwrite bool
}

// Smartseq quantifies plate-based Smart-seq cells. The reads are pseudo-
// aligned and quantified per cell in one kallisto pseudo run over a batch
// definition file, so no BUS sorting or barcode correction is involved.
func (p *Pipeline) Smartseq(ctx context.Context, opts SmartseqOpts) (*Result, error) {
	if p.Stats != nil {
		p.Stats.StartTimer()
	}
	if len(opts.IndexPaths) > 1 {
		return nil, errors.New("Smart-seq does not support multiple indices")
	}
	for _, pair := range opts.FastqPairs {
		for _, fastq := range pair {
			if fetch.IsRemote(fastq) {
				return nil, errors.Errorf("Smart-seq does not support remote reads: %s", fastq)
			}
		}
	}
	if err := p.makeDirs(opts.OutDir, p.TempDir); err != nil {
		return nil, err
	}
	result := &Result{Unfiltered: &Artifacts{}}
	un := result.Unfiltered

	pseudoResult := kallisto.PseudoResult{
		Mtx:     filepath.Join(opts.OutDir, kallisto.AbundanceFilename),
		ECMap:   filepath.Join(opts.OutDir, kallisto.ECMapFilename),
		Cells:   filepath.Join(opts.OutDir, kallisto.CellsFilename),
		TxNames: filepath.Join(opts.OutDir, kallisto.TxNamesFilename),
		Info:    filepath.Join(opts.OutDir, kallisto.InfoFilename),
	}
	if !allExist(pseudoResult.Mtx, pseudoResult.ECMap, pseudoResult.Cells,
		pseudoResult.TxNames, pseudoResult.Info) || opts.Overwrite {
		batchPath := filepath.Join(opts.OutDir, batchFilename)
		if !p.DryRun {
			var err error
			batchPath, err = writeSmartseqBatch(opts.FastqPairs, opts.CellIDs, batchPath)
			if err != nil {
				return nil, err
			}
		}
		var err error
		pseudoResult, err = p.Kallisto.Pseudo(ctx, batchPath, opts.IndexPaths[0], opts.OutDir, opts.Threads)
		if err != nil {
			return nil, err
		}
		if err := p.validate(pseudoResult.Mtx, pseudoResult.Cells, pseudoResult.TxNames); err != nil {
			return nil, err
		}
	} else {
		log.Printf("Skipping the alignment because output files already exist. Use overwrite to regenerate.")
	}
	un.Pseudo = &pseudoResult
	un.ECMap, un.TxNames, un.Info = pseudoResult.ECMap, pseudoResult.TxNames, pseudoResult.Info

	// The matrix columns are transcripts; a parallel genes file lets
	// downstream tools collapse them. Duplicate gene IDs are expected.
	genesPath := filepath.Join(opts.OutDir, genesFilename)
	if !p.DryRun {
		var err error
		genesPath, err = convertTranscriptsToGenes(ctx, pseudoResult.TxNames, opts.T2GPath, genesPath)
		if err != nil {
			return nil, err
		}
	}
	un.Genes = genesPath

	if err := p.checksum(pseudoResult.Mtx, pseudoResult.Cells, genesPath); err != nil {
		return nil, err
	}
	var err error
	result.StatsPath, err = p.finishStats(opts.OutDir)
	return result, err
}

// writeSmartseqBatch writes the 3-column batch definition TSV consumed by
// kallisto pseudo: cell ID, first read file, second read file.
func writeSmartseqBatch(fastqPairs [][2]string, cellIDs []string, outPath string) (string, error) {
	log.Printf("Writing batch definition TSV to %s", outPath)
	out, err := os.Create(outPath)
	if err != nil {
		return "", errors.Wrap(err, "write batch definition")
	}
	for i, pair := range fastqPairs {
		cellID := strconv.Itoa(i)
		if i < len(cellIDs) {
			cellID = cellIDs[i]
		}
		if _, err := fmt.Fprintf(out, "%s\t%s\t%s\n", cellID, pair[0], pair[1]); err != nil {
			out.Close() // nolint: errcheck
			return "", errors.Wrap(err, "write batch definition")
		}
	}
	return outPath, errors.Wrap(out.Close(), "write batch definition")
}

// convertTranscriptsToGenes writes a genes file parallel to a transcripts
// file, mapping each transcript through the transcript-to-gene map.
// Transcripts missing from the map are passed through with a warning.
func convertTranscriptsToGenes(ctx context.Context, txnamesPath, t2gPath, genesPath string) (string, error) {
	mapping, err := t2g.ReadFile(ctx, t2gPath)
	if err != nil {
		return "", err
	}
	transcripts, err := readLines(txnamesPath)
	if err != nil {
		return "", err
	}
	genes := make([]string, 0, len(transcripts))
	for _, transcript := range transcripts {
		entry, ok := mapping[transcript]
		if !ok {
			log.Error.Printf("Transcript %s is missing from %s and will not be converted to a gene", transcript, t2gPath)
			genes = append(genes, transcript)
			continue
		}
		genes = append(genes, entry.Gene)
	}
	return genesPath, writeLines(genesPath, genes)
}
