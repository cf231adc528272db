package count

import (
	"bufio"
	"context"
	"os"
	"path/filepath"

	baseerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	"github.com/scbio/buscount/encoding/mtx"
	"github.com/scbio/buscount/encoding/t2g"
)

// Cellranger output filenames.
const (
	cellrangerMatrix   = "matrix.mtx"
	cellrangerBarcodes = "barcodes.tsv"
	cellrangerGenes    = "genes.tsv"
)

// CellrangerArtifacts names the files of a cellranger-format matrix.
type CellrangerArtifacts struct {
	Mtx      string
	Barcodes string
	Genes    string
}

// matrixToCellranger converts a gene count matrix into the cellranger
// layout: the matrix transposed to genes x cells, barcodes suffixed with
// "-1", and a two-column genes file with gene names resolved through the
// transcript-to-gene map.
func (p *Pipeline) matrixToCellranger(ctx context.Context, matrixPath, barcodesPath, genesPath, t2gPath, outDir string) (*CellrangerArtifacts, error) {
	if err := p.makeDirs(outDir); err != nil {
		return nil, err
	}
	log.Printf("Writing matrix in cellranger format to %s", outDir)
	artifacts := &CellrangerArtifacts{
		Mtx:      filepath.Join(outDir, cellrangerMatrix),
		Barcodes: filepath.Join(outDir, cellrangerBarcodes),
		Genes:    filepath.Join(outDir, cellrangerGenes),
	}
	if p.DryRun {
		return artifacts, nil
	}

	m, err := mtx.ReadFile(matrixPath)
	if err != nil {
		return nil, err
	}
	transposed := m.Transpose()
	transposed.Field = mtx.Integer
	if err := transposed.WriteFile(artifacts.Mtx); err != nil {
		return nil, err
	}

	if err := convertLines(barcodesPath, artifacts.Barcodes, func(line string) string {
		return line + "-1"
	}); err != nil {
		return nil, err
	}

	t2gMap, err := t2g.ReadFile(ctx, t2gPath)
	if err != nil {
		return nil, err
	}
	geneNames := t2gMap.GeneNames()
	if err := convertLines(genesPath, artifacts.Genes, func(gene string) string {
		name, ok := geneNames[gene]
		if !ok {
			name = gene
		}
		return gene + "\t" + name
	}); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// convertLines copies a text file line by line through fn, skipping blank
// lines.
func convertLines(srcPath, destPath string, fn func(string) string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrap(err, "convert")
	}
	out, err := os.Create(destPath)
	if err != nil {
		in.Close() // nolint: errcheck
		return errors.Wrap(err, "convert")
	}
	w := bufio.NewWriter(out)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	e := baseerrors.Once{}
	for sc.Scan() {
		line := sc.Text()
		if len(line) == 0 {
			continue
		}
		_, err := w.WriteString(fn(line) + "\n")
		e.Set(err)
	}
	e.Set(sc.Err())
	e.Set(w.Flush())
	e.Set(in.Close())
	e.Set(out.Close())
	return errors.Wrapf(e.Err(), "convert %s", srcPath)
}
