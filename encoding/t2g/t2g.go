// Package t2g parses transcript-to-gene mappings: tab-separated files with a
// transcript ID, a gene ID and, optionally, a gene name per line. The files
// may be gzip-compressed.
package t2g

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/pkg/errors"
)

// Entry is one line of a transcript-to-gene mapping.
type Entry struct {
	Transcript string
	Gene       string
	GeneName   string
}

// Map indexes a transcript-to-gene mapping by transcript ID.
type Map map[string]Entry

// Read parses a transcript-to-gene mapping.
func Read(r io.Reader) (Map, error) {
	m := Map{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return nil, errors.Errorf("t2g: line %q has fewer than 2 columns", line)
		}
		e := Entry{Transcript: fields[0], Gene: fields[1]}
		if len(fields) > 2 {
			e.GeneName = fields[2]
		}
		m[e.Transcript] = e
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "t2g: read")
	}
	return m, nil
}

// ReadFile reads a transcript-to-gene mapping from path, transparently
// decompressing gzip files.
func ReadFile(ctx context.Context, path string) (Map, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "t2g: open %s", path)
	}
	defer in.Close(ctx) // nolint: errcheck
	var r io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(r, in.Name()); u != nil {
		r = u
	}
	return Read(r)
}

// GeneNames returns a gene ID to gene name mapping for the entries that
// carry a name column.
func (m Map) GeneNames() map[string]string {
	names := map[string]string{}
	for _, e := range m {
		if e.GeneName != "" {
			names[e.Gene] = e.GeneName
		}
	}
	return names
}
