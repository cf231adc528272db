// Package reference manages transcriptome references for the pipeline:
// a table of prebuilt, downloadable index bundles, and helpers to fetch and
// unpack them. Building an index from a FASTA goes through the aligner's
// index subcommand instead.
package reference

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	baseerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/scbio/buscount/fetch"
)

// Reference is one prebuilt reference bundle: a gzipped tarball holding an
// aligner index and companion files.
type Reference struct {
	Name string
	URL  string
	// Files maps the member name inside the tarball to its role. Roles are
	// the flag names of the count command that consume the file ("i" for
	// the index, "g" for the transcript-to-gene map, "c1"/"c2" for capture
	// lists).
	Files map[string]string
}

var references = []Reference{
	{
		Name: "human",
		URL:  "https://caltech.box.com/shared/static/v1nm7lpnqz5syh8dyzdk2zs8bglncfib.gz",
		Files: map[string]string{
			"transcriptome.idx":        "i",
			"transcripts_to_genes.txt": "g",
		},
	},
	{
		Name: "mouse",
		URL:  "https://caltech.box.com/shared/static/vcaz6cujop0xuapdmz0pplp3aoqc41si.gz",
		Files: map[string]string{
			"transcriptome.idx":        "i",
			"transcripts_to_genes.txt": "g",
		},
	},
	{
		Name: "linnarsson",
		URL:  "https://caltech.box.com/shared/static/kyf7ai5s8y2l0vycl5yxunrappvrf0yx.gz",
		Files: map[string]string{
			"gencode.v31.fragments.idx": "i",
			"fragments2genes.txt":       "g",
			"spliced_fragments.txt":     "c1",
			"unspliced_fragments.txt":   "c2",
		},
	},
}

// Get looks up a prebuilt reference by name.
func Get(name string) (Reference, error) {
	for _, r := range references {
		if r.Name == strings.ToLower(name) {
			return r, nil
		}
	}
	return Reference{}, errors.Errorf("unknown reference %q (supported: %s)", name, strings.Join(Names(), ", "))
}

// Names returns the names of all prebuilt references, sorted.
func Names() []string {
	names := make([]string, 0, len(references))
	for _, r := range references {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

// Download fetches the reference tarball and extracts its files.
// destinations maps role (as in Reference.Files) to the output path for the
// file with that role; roles absent from destinations keep the member name
// under outDir. Already-present files abort the download unless overwrite
// is set.
func (r Reference) Download(ctx context.Context, outDir, tempDir string, destinations map[string]string, overwrite bool) error {
	dests := map[string]string{} // tar member -> final path
	for member, role := range r.Files {
		dest, ok := destinations[role]
		if !ok || dest == "" {
			dest = filepath.Join(outDir, member)
		}
		dests[member] = dest
	}
	if !overwrite {
		for _, dest := range dests {
			if _, err := os.Stat(dest); err == nil {
				return errors.Errorf("%s already exists (use overwrite to replace)", dest)
			}
		}
	}
	if err := os.MkdirAll(outDir, 0777); err != nil {
		return errors.Wrap(err, "reference")
	}

	tarballPath := filepath.Join(tempDir, uuid.New().String()+".tar.gz")
	log.Printf("Downloading %s reference from %s", r.Name, r.URL)
	if _, err := fetch.File(ctx, r.URL, tarballPath); err != nil {
		return err
	}
	defer os.Remove(tarballPath) // nolint: errcheck
	return extract(tarballPath, dests)
}

// extract unpacks the tar members named in dests from a gzipped tarball.
func extract(tarballPath string, dests map[string]string) error {
	in, err := os.Open(tarballPath)
	if err != nil {
		return errors.Wrap(err, "reference: extract")
	}
	defer in.Close() // nolint: errcheck
	gz, err := gzip.NewReader(in)
	if err != nil {
		return errors.Wrap(err, "reference: extract")
	}
	tr := tar.NewReader(gz)
	extracted := map[string]bool{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "reference: extract")
		}
		dest, ok := dests[filepath.Base(hdr.Name)]
		if !ok || hdr.Typeflag != tar.TypeReg {
			continue
		}
		log.Printf("Extracting %s to %s", hdr.Name, dest)
		if err := writeMember(tr, dest); err != nil {
			return err
		}
		extracted[filepath.Base(hdr.Name)] = true
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "reference: extract")
	}
	for member := range dests {
		if !extracted[member] {
			return errors.Errorf("reference: tarball is missing %s", member)
		}
	}
	return nil
}

func writeMember(r io.Reader, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0777); err != nil {
		return errors.Wrap(err, "reference: extract")
	}
	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrap(err, "reference: extract")
	}
	e := baseerrors.Once{}
	_, err = io.Copy(out, r)
	e.Set(err)
	e.Set(out.Close())
	return errors.Wrapf(e.Err(), "reference: extract %s", dest)
}
