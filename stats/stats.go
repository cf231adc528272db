// Package stats collects run-level bookkeeping for a pipeline invocation:
// wall-clock timing, tool versions, every external command executed, and
// content checksums of the final artifacts. The record is saved as JSON next
// to the pipeline outputs.
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"sync"
	"time"

	"blainsmith.com/go/seahash"
	"github.com/pkg/errors"
)

// InfoFilename is the default name of the saved stats file.
const InfoFilename = "buscount_info.json"

// Stats accumulates bookkeeping for one run. Methods are safe for
// concurrent use; commands may be observed from parallel downloads.
type Stats struct {
	mu sync.Mutex

	// CallArgs is the command line of the pipeline process itself.
	CallArgs []string `json:"call"`
	// Start and End bracket the run, RFC3339.
	Start string `json:"start_time"`
	End   string `json:"end_time"`
	// Elapsed is the run duration in seconds.
	Elapsed float64 `json:"runtime"`
	// Versions maps tool name to the version it reported.
	Versions map[string]string `json:"versions,omitempty"`
	// Commands lists every external command executed, in order, rendered
	// as shell command lines.
	Commands []string `json:"commands"`
	// Checksums maps artifact path to the seahash of its content, hex.
	Checksums map[string]string `json:"checksums,omitempty"`

	startTime time.Time
}

// New returns an empty Stats with the process argv recorded.
func New(callArgs []string) *Stats {
	return &Stats{
		CallArgs:  callArgs,
		Versions:  map[string]string{},
		Checksums: map[string]string{},
	}
}

// StartTimer marks the beginning of the run.
func (s *Stats) StartTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTime = time.Now()
	s.Start = s.startTime.Format(time.RFC3339)
}

// EndTimer marks the end of the run and computes the elapsed time.
func (s *Stats) EndTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := time.Now()
	s.End = end.Format(time.RFC3339)
	s.Elapsed = end.Sub(s.startTime).Seconds()
}

// SetVersion records the version a tool reported.
func (s *Stats) SetVersion(tool, version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Versions[tool] = version
}

// Observe records one executed command. It has the executil.Observer shape.
func (s *Stats) Observe(argv []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rendered := ""
	for i, arg := range argv {
		if i > 0 {
			rendered += " "
		}
		rendered += arg
	}
	s.Commands = append(s.Commands, rendered)
}

// AddChecksum computes and records the seahash of the file at path.
// Missing files are skipped silently: optional artifacts may legitimately
// be absent.
func (s *Stats) AddChecksum(path string) error {
	in, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "stats: checksum")
	}
	h := seahash.New()
	_, err = io.Copy(h, in)
	closeErr := in.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.Wrapf(err, "stats: checksum %s", path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Checksums[path] = fmt.Sprintf("%016x", h.Sum64())
	return nil
}

// Save writes the stats as indented JSON to path and returns path.
func (s *Stats) Save(path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return "", errors.Wrap(err, "stats: marshal")
	}
	if err := ioutil.WriteFile(path, append(data, '\n'), 0666); err != nil {
		return "", errors.Wrap(err, "stats: save")
	}
	return path, nil
}
