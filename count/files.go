package count

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	baseerrors "github.com/grailbio/base/errors"
	"github.com/pkg/errors"
)

// Filenames and directory names of the pipeline's own outputs. Outputs
// written by the external tools keep the names those tools choose (see the
// kallisto and bustools packages).
const (
	inspectFilename         = "inspect.json"
	whitelistFilename       = "whitelist.txt"
	filterWhitelistFilename = "filter_barcodes.txt"
	captureFilename         = "capture.txt"
	batchFilename           = "batch.txt"
	genesFilename           = "genes.txt"

	countsPrefix  = "cells_x_genes"
	tccPrefix     = "cells_x_tcc"
	featurePrefix = "cells_x_features"

	unfilteredCountsDir = "counts_unfiltered"
	filteredCountsDir   = "counts_filtered"
	unfilteredQuantDir  = "quant_unfiltered"
	cellrangerDir       = "cellranger"

	sortCode    = "s"
	correctCode = "c"
	projectCode = "p"

	unfilteredCode = "unfiltered"
	filteredCode   = "filtered"

	cdnaPrefix   = "spliced"
	intronPrefix = "unspliced"

	internalSuffix = "_internal"
	umiSuffix      = "_umi"
)

// updateFilename inserts a stage code before the filename extension:
// updateFilename("output.bus", "s") == "output.s.bus". The codes accumulate
// across stages, so a sorted, corrected, sorted file ends in ".s.c.s.bus".
func updateFilename(name, code string) string {
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s.%s%s", strings.TrimSuffix(name, ext), code, ext)
}

// tempFilename returns a fresh unique path under dir.
func tempFilename(dir string) string {
	return filepath.Join(dir, uuid.New().String())
}

func makeDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return errors.Wrap(err, "mkdir")
		}
	}
	return nil
}

// moveFile renames src to dest, falling back to copy+remove across file
// systems (the temp dir may live on a different mount than the output dir).
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "move")
	}
	out, err := os.Create(dest)
	if err != nil {
		in.Close() // nolint: errcheck
		return errors.Wrap(err, "move")
	}
	e := baseerrors.Once{}
	_, err = io.Copy(out, in)
	e.Set(err)
	e.Set(in.Close())
	e.Set(out.Close())
	if err := e.Err(); err != nil {
		return errors.Wrapf(err, "move %s to %s", src, dest)
	}
	return errors.Wrap(os.Remove(src), "move")
}

// allExist reports whether every path exists.
func allExist(paths ...string) bool {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// validateFiles verifies that declared stage outputs exist and are
// non-empty. A stage that exits zero but writes nothing is treated as a
// failure here rather than at some downstream stage.
func validateFiles(paths ...string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return errors.Wrapf(err, "expected output %s is missing", path)
		}
		if info.Size() == 0 {
			return errors.Errorf("expected output %s is empty", path)
		}
	}
	return nil
}
