// Package technology describes the single-cell library preparation
// technologies the pipeline understands. The technology name is passed
// verbatim to the aligner's -x flag; the remaining fields drive workflow
// branching (whitelist handling, UMI-less counting, paired reads).
package technology

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Technology describes one supported single-cell chemistry.
type Technology struct {
	// Name is the canonical, upper-case technology name, accepted by the
	// aligner's -x flag.
	Name string
	// Description is a human-readable summary, shown by the list command.
	Description string
	// Whitelist is the filename of the packaged barcode whitelist
	// (gzip-compressed), or empty if no whitelist is distributed for this
	// technology and one must be generated from the data.
	Whitelist string
	// NoUMI marks chemistries without UMIs (bulk, Smart-seq2). Records are
	// counted by multiplicity instead of UMI deduplication.
	NoUMI bool
	// Paired marks chemistries whose reads are aligned as pairs.
	Paired bool
	// FeatureMap is the filename of the packaged feature-to-barcode map used
	// by 10x Feature Barcoding, or empty.
	FeatureMap string
}

var technologies = []Technology{
	{Name: "10XV1", Description: "10x version 1", Whitelist: "10xv1_whitelist.txt.gz"},
	{Name: "10XV2", Description: "10x version 2", Whitelist: "10xv2_whitelist.txt.gz"},
	{Name: "10XV3", Description: "10x version 3", Whitelist: "10xv3_whitelist.txt.gz", FeatureMap: "10xv3_feature_map.txt.gz"},
	{Name: "CELSEQ", Description: "CEL-Seq"},
	{Name: "CELSEQ2", Description: "CEL-Seq version 2"},
	{Name: "DROPSEQ", Description: "DropSeq"},
	{Name: "INDROPSV1", Description: "inDrops version 1"},
	{Name: "INDROPSV2", Description: "inDrops version 2"},
	{Name: "INDROPSV3", Description: "inDrops version 3", Whitelist: "indropsv3_whitelist.txt.gz"},
	{Name: "SCRUBSEQ", Description: "SCRB-Seq"},
	{Name: "SURECELL", Description: "SureCell for ddSEQ"},
	{Name: "SMARTSEQ2", Description: "Smart-seq2 (single or paired)", NoUMI: true, Paired: true},
	{Name: "BULK", Description: "Bulk (single or paired)", NoUMI: true, Paired: true},
	{Name: "SMARTSEQ3", Description: "Smart-seq3", Whitelist: "smartseq3_whitelist.txt.gz", Paired: true},
}

var byName = func() map[string]Technology {
	m := make(map[string]Technology, len(technologies))
	for _, t := range technologies {
		m[t.Name] = t
	}
	return m
}()

// Get looks up a technology by name, case-insensitively.
func Get(name string) (Technology, error) {
	t, ok := byName[strings.ToUpper(name)]
	if !ok {
		return Technology{}, errors.Errorf("unknown technology %q (supported: %s)",
			name, strings.Join(Names(), ", "))
	}
	return t, nil
}

// Names returns the canonical names of all supported technologies, sorted.
func Names() []string {
	names := make([]string, 0, len(technologies))
	for _, t := range technologies {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// All returns the technology table in declaration order.
func All() []Technology {
	return technologies
}

// AlignerName returns the name to pass to the aligner. SMARTSEQ2 libraries
// are aligned as BULK.
func (t Technology) AlignerName() string {
	if t.Name == "SMARTSEQ2" {
		return "BULK"
	}
	return t.Name
}

// KeepsIndex reports whether the aligner saves a reusable index copy
// (index.saved) for this technology, needed later by quant-tcc.
func (t Technology) KeepsIndex() bool {
	return t.Name == "BULK" || t.Name == "SMARTSEQ2" || t.Name == "SMARTSEQ3"
}
