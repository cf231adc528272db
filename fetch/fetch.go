// Package fetch localizes remote pipeline inputs. The aligner only reads
// local files, so any http(s) or s3 fastq is streamed into the temporary
// directory before alignment and the local path substituted.
package fetch

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	pkgerrors "github.com/pkg/errors"
)

// IsRemote reports whether path is a URL this package can stream.
func IsRemote(path string) bool {
	u, err := url.Parse(path)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "s3":
		return true
	}
	return false
}

// File streams a remote file to destPath and returns destPath. Local paths
// are returned unchanged.
func File(ctx context.Context, path, destPath string) (string, error) {
	if !IsRemote(path) {
		return path, nil
	}
	log.Printf("Streaming %s to %s", path, destPath)
	if err := os.MkdirAll(filepath.Dir(destPath), 0777); err != nil {
		return "", pkgerrors.Wrap(err, "fetch")
	}
	out, err := os.Create(destPath)
	if err != nil {
		return "", pkgerrors.Wrap(err, "fetch")
	}
	w := bufio.NewWriter(out)
	e := errors.Once{}
	if strings.HasPrefix(path, "s3://") {
		e.Set(fetchS3(ctx, path, w))
	} else {
		e.Set(fetchHTTP(ctx, path, w))
	}
	e.Set(w.Flush())
	e.Set(out.Close())
	if err := e.Err(); err != nil {
		os.Remove(destPath) // nolint: errcheck
		return "", pkgerrors.Wrapf(err, "fetch %s", path)
	}
	return destPath, nil
}

func fetchS3(ctx context.Context, path string, w io.Writer) error {
	in, err := file.Open(ctx, path)
	if err != nil {
		return err
	}
	e := errors.Once{}
	_, err = io.Copy(w, in.Reader(ctx))
	e.Set(err)
	e.Set(in.Close(ctx))
	return e.Err()
}

func fetchHTTP(ctx context.Context, path string, w io.Writer) error {
	req, err := http.NewRequest("GET", path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req.WithContext(ctx))
	if err != nil {
		return err
	}
	e := errors.Once{}
	if resp.StatusCode != http.StatusOK {
		e.Set(pkgerrors.Errorf("GET %s: %s", path, resp.Status))
	} else {
		_, err = io.Copy(w, resp.Body)
		e.Set(err)
	}
	e.Set(resp.Body.Close())
	return e.Err()
}

// Files substitutes every remote path in paths with a streamed local copy
// under tempDir. Downloads run in parallel. Local paths pass through.
func Files(ctx context.Context, paths []string, tempDir string) ([]string, error) {
	local := make([]string, len(paths))
	err := traverse.Each(len(paths), func(i int) error {
		var err error
		local[i], err = File(ctx, paths[i], filepath.Join(tempDir, filepath.Base(paths[i])))
		return err
	})
	if err != nil {
		return nil, err
	}
	return local, nil
}

// Batch rewrites a batch definition file so that every remote fastq it
// names is substituted with a streamed local copy. Comment and blank lines
// are dropped. Returns the path of the rewritten file.
func Batch(ctx context.Context, batchPath, newPath, tempDir string) (string, error) {
	in, err := os.Open(batchPath)
	if err != nil {
		return "", pkgerrors.Wrap(err, "fetch: batch")
	}
	defer in.Close() // nolint: errcheck
	out, err := os.Create(newPath)
	if err != nil {
		return "", pkgerrors.Wrap(err, "fetch: batch")
	}
	w := bufio.NewWriter(out)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sep := " "
		if strings.Contains(line, "\t") {
			sep = "\t"
		}
		fields := strings.Split(line, sep)
		fastqs, err := Files(ctx, fields[1:], tempDir)
		if err != nil {
			out.Close() // nolint: errcheck
			return "", err
		}
		record := append([]string{fields[0]}, fastqs...)
		if _, err := w.WriteString(strings.Join(record, "\t") + "\n"); err != nil {
			out.Close() // nolint: errcheck
			return "", pkgerrors.Wrap(err, "fetch: batch")
		}
	}
	e := errors.Once{}
	e.Set(sc.Err())
	e.Set(w.Flush())
	e.Set(out.Close())
	if err := e.Err(); err != nil {
		return "", pkgerrors.Wrap(err, "fetch: batch")
	}
	return newPath, nil
}
