// Package archive reads chat-history export archives and yields normalized
// conversations with a linear, turn-indexed message sequence.
//
// Supported inputs are a .zip archive containing a conversations.json file,
// a bare conversations.json, or a compressed variant (.json.gz, .json.zst).
// The message graph inside each record is collapsed to a single root-to-leaf
// path; see linearize.go for the selection rules.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// conversationsFile is the canonical name of the export payload inside a zip.
const conversationsFile = "conversations.json"

var (
	// ErrNoConversations indicates the archive contains no conversations file.
	ErrNoConversations = errors.New("archive contains no conversations file")

	// ErrUnsupportedFormat indicates the input path has an unrecognized extension.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
)

// Open returns a reader over the raw conversations JSON inside the archive at
// path. The caller must close the returned reader.
func Open(p string) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(p, ".zip"):
		return openZip(p)
	case strings.HasSuffix(p, ".json.gz"):
		return openGzip(p)
	case strings.HasSuffix(p, ".json.zst"):
		return openZstd(p)
	case strings.HasSuffix(p, ".json"):
		return os.Open(p) //nolint:gosec // G304: path comes from the operator
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, p)
	}
}

// openZip locates conversations.json inside the zip, preferring the shortest
// matching path so a top-level copy wins over nested duplicates.
func openZip(p string) (io.ReadCloser, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("open zip %q: %w", p, err)
	}

	var best *zip.File
	for _, f := range zr.File {
		if path.Base(f.Name) != conversationsFile {
			continue
		}
		if best == nil || len(f.Name) < len(best.Name) {
			best = f
		}
	}
	if best == nil {
		zr.Close()
		return nil, fmt.Errorf("%s: %w", p, ErrNoConversations)
	}

	rc, err := best.Open()
	if err != nil {
		zr.Close()
		return nil, fmt.Errorf("open %q in zip: %w", best.Name, err)
	}
	return &zipEntryReader{rc: rc, zr: zr}, nil
}

// zipEntryReader couples an entry reader with its parent zip so both close together.
type zipEntryReader struct {
	rc io.ReadCloser
	zr *zip.ReadCloser
}

func (z *zipEntryReader) Read(p []byte) (int, error) { return z.rc.Read(p) }

func (z *zipEntryReader) Close() error {
	err := z.rc.Close()
	if cerr := z.zr.Close(); err == nil {
		err = cerr
	}
	return err
}

func openGzip(p string) (io.ReadCloser, error) {
	f, err := os.Open(p) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open gzip %q: %w", p, err)
	}
	return &chainedCloser{Reader: gz, closers: []io.Closer{gz, f}}, nil
}

func openZstd(p string) (io.ReadCloser, error) {
	f, err := os.Open(p) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, err
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open zstd %q: %w", p, err)
	}
	return &chainedCloser{Reader: zr.IOReadCloser(), closers: []io.Closer{zr.IOReadCloser(), f}}, nil
}

// chainedCloser closes a stack of readers in order.
type chainedCloser struct {
	io.Reader
	closers []io.Closer
}

func (c *chainedCloser) Close() error {
	var err error
	for _, cl := range c.closers {
		if cerr := cl.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
