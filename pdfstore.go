// Package pdfstore opens PDF files for editing and saves them back, either
// as a complete rewrite or as an incremental update.
package pdfstore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/wudi/pdfstore/document"
	"github.com/wudi/pdfstore/source"
	"github.com/wudi/pdfstore/writer"
)

type (
	Config    = document.Config
	Options   = writer.Config
	WriteMode = writer.WriteMode
	Document  = document.Document
)

const (
	FullUpdate      = writer.FullUpdate
	IncrementUpdate = writer.IncrementUpdate
)

// ErrAlreadySaved is returned by Save for an incremental update of a
// document that was saved before. The update would chain to a section
// that only exists in the earlier output; reopen that output instead.
var ErrAlreadySaved = errors.New("document already saved; reopen the saved file to append again")

// Open loads the size bytes readable from r. The bytes are copied, so r
// may be released once Open returns.
func Open(ctx context.Context, r io.ReaderAt, size int64, cfg Config) (*Document, error) {
	data, err := io.ReadAll(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	return document.Load(ctx, source.FromBytes(data), cfg)
}

// OpenFile maps the file at path read-only. The mapping lives until the
// document is closed.
func OpenFile(ctx context.Context, path string, cfg Config) (*Document, error) {
	src, err := source.OpenFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := document.Load(ctx, src, cfg)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Save writes a complete file to w and returns the bytes written. For
// IncrementUpdate that is the original bytes followed by the update, so
// with no pending changes it writes an unchanged copy of the original.
// Use writer.Dispatcher directly to append to a sink that already holds
// the original; there an empty update writes nothing.
func Save(ctx context.Context, doc *Document, w io.Writer, mode WriteMode, opts Options) (int64, error) {
	d := writer.NewDispatcher(opts)
	if mode != IncrementUpdate {
		return d.Save(ctx, mode, doc, w, 0)
	}
	if doc.Saved() {
		return 0, ErrAlreadySaved
	}
	orig := doc.OriginalLength()
	n, err := doc.Source().CopyTo(w, orig)
	if err != nil {
		return n, &writer.IOError{Op: "copy original", Err: err}
	}
	m, err := d.Save(ctx, mode, doc, w, orig)
	return n + m, err
}

// SaveFile writes to a temporary file next to path and renames it into
// place, so path never holds a partial file. path may be the file the
// document was opened from.
func SaveFile(ctx context.Context, doc *Document, path string, mode WriteMode, opts Options) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()
	bw := bufio.NewWriter(f)
	if _, err = Save(ctx, doc, bw, mode, opts); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return &writer.IOError{Op: "flush", Err: err}
	}
	if err = f.Sync(); err != nil {
		return &writer.IOError{Op: "sync", Err: err}
	}
	if err = f.Close(); err != nil {
		return &writer.IOError{Op: "close", Err: err}
	}
	return os.Rename(f.Name(), path)
}
