// Package executil runs external command-line tools on behalf of the
// pipeline. All kallisto and bustools invocations go through a Runner so
// that workflows can be exercised in tests without the binaries installed,
// and so that dry runs can print the commands instead of executing them.
package executil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
)

// Runner executes external commands.
type Runner interface {
	// Run executes name with args, waiting for completion. Tool stdout is
	// logged at debug level; stderr is passed through to the process stderr.
	Run(ctx context.Context, name string, args ...string) error

	// Output executes name with args and returns its standard output.
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// Observer is called with the full argv of every command a Runner starts.
// It is used to record the executed commands in the run stats.
type Observer func(argv []string)

type execRunner struct {
	observer Observer
}

// New returns a Runner that executes commands with os/exec. observer may be
// nil.
func New(observer Observer) Runner {
	return &execRunner{observer: observer}
}

func (r *execRunner) observe(name string, args []string) {
	if r.observer != nil {
		argv := append([]string{name}, args...)
		r.observer(argv)
	}
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) error {
	r.observe(name, args)
	log.Debug.Printf("run: %s", CommandString(name, args))
	cmd := exec.CommandContext(ctx, name, args...)
	out := logWriter{prefix: name}
	cmd.Stdout = out
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "%s", CommandString(name, args))
	}
	return nil
}

func (r *execRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	r.observe(name, args)
	log.Debug.Printf("run: %s", CommandString(name, args))
	cmd := exec.CommandContext(ctx, name, args...)
	stdout := bytes.Buffer{}
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "%s", CommandString(name, args))
	}
	return stdout.String(), nil
}

// logWriter forwards tool stdout to the debug log, line by line.
type logWriter struct {
	prefix string
}

func (w logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		log.Debug.Printf("%s: %s", w.prefix, line)
	}
	return len(p), nil
}

type dryRunner struct {
	w io.Writer
}

// NewDry returns a Runner that prints each command to w instead of running
// it. Output always returns an empty string.
func NewDry(w io.Writer) Runner {
	return &dryRunner{w: w}
}

func (r *dryRunner) Run(ctx context.Context, name string, args ...string) error {
	_, err := fmt.Fprintln(r.w, CommandString(name, args))
	return err
}

func (r *dryRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	_, err := fmt.Fprintln(r.w, CommandString(name, args))
	return "", err
}

// CommandString renders an argv the way it would be typed in a shell.
// Arguments containing whitespace are quoted.
func CommandString(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, arg := range append([]string{name}, args...) {
		if strings.ContainsAny(arg, " \t") {
			arg = "'" + arg + "'"
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

// CompareVersions compares two dotted version strings numerically, component
// by component. Missing components compare as zero.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := 0, 0
		if i < len(as) {
			av = atoi(as[i])
		}
		if i < len(bs) {
			bv = atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// ResolveBinary locates an executable. If path is non-empty it must point at
// an executable file; otherwise name is looked up in $PATH.
func ResolveBinary(name, path string) (string, error) {
	if path == "" {
		found, err := exec.LookPath(name)
		if err != nil {
			return "", errors.Wrapf(err, "%s not found in PATH", name)
		}
		return found, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(err, "resolve %s", name)
	}
	if info.IsDir() || info.Mode()&0111 == 0 {
		return "", errors.Errorf("%s: %s is not executable", name, path)
	}
	return path, nil
}
