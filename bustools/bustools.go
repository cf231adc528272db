// Package bustools wraps the bustools command-line tool, one function per
// subcommand. The BUS record format itself is never touched here; every
// operation builds the right invocation, runs it, and reports where the
// outputs landed.
package bustools

import (
	"context"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/scbio/buscount/executil"
)

// MinVersion is the oldest bustools release the pipeline is tested with.
const MinVersion = "0.40.0"

// Tool runs a resolved bustools binary.
type Tool struct {
	// Path is the absolute path of the bustools binary.
	Path string
	// Runner executes the commands.
	Runner executil.Runner
}

// New resolves the bustools binary and returns a Tool. path may be empty, in
// which case $PATH is searched.
func New(path string, runner executil.Runner) (*Tool, error) {
	resolved, err := executil.ResolveBinary("bustools", path)
	if err != nil {
		return nil, err
	}
	return &Tool{Path: resolved, Runner: runner}, nil
}

var versionRE = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

// Version runs `bustools version` and returns the reported version string.
func (t *Tool) Version(ctx context.Context) (string, error) {
	out, err := t.Runner.Output(ctx, t.Path, "version")
	if err != nil {
		return "", err
	}
	m := versionRE.FindStringSubmatch(out)
	if m == nil {
		return "", errors.Errorf("bustools: cannot parse version from %q", strings.TrimSpace(out))
	}
	return m[1], nil
}

// CheckVersion verifies that the binary is at least MinVersion and returns
// the reported version.
func (t *Tool) CheckVersion(ctx context.Context) (string, error) {
	version, err := t.Version(ctx)
	if err != nil {
		return "", err
	}
	if executil.CompareVersions(version, MinVersion) < 0 {
		return "", errors.Errorf("bustools %s is too old, %s or later is required", version, MinVersion)
	}
	return version, nil
}
