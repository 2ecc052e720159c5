// Package source gives shared, serialized access to the bytes of the
// original document.
//
// Several goroutines may decode streams from the same document while a
// save copies the original bytes. The underlying cursor is stateful, so
// every group of positioned reads runs under one lock. Code that already
// holds a *Cursor reads through it instead of locking again.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

var ErrClosed = errors.New("source is closed")

// Source is the original byte source of a loaded document.
type Source struct {
	mu     sync.Mutex
	data   []byte
	size   int64
	mapped mmap.MMap
	file   *os.File
	cursor Cursor
	closed bool
}

// FromBytes wraps an in-memory document. The slice must not be modified
// while the source is in use.
func FromBytes(b []byte) *Source {
	s := &Source{data: b, size: int64(len(b))}
	s.cursor.src = s
	return s
}

// OpenFile maps path read-only.
func OpenFile(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() == 0 {
		// zero-length files cannot be mapped
		f.Close()
		return FromBytes(nil), nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("map %s: %w", path, err)
	}
	s := &Source{data: m, size: int64(len(m)), mapped: m, file: f}
	s.cursor.src = s
	return s, nil
}

// Len is the length of the original document.
func (s *Source) Len() int64 { return s.size }

// With runs fn with exclusive use of the cursor. The cursor is positioned
// at 0 and must not be retained after fn returns.
func (s *Source) With(fn func(c *Cursor) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.cursor.pos = 0
	return fn(&s.cursor)
}

// ReadAt implements io.ReaderAt, taking the lock for the one read.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.cursor.ReadAt(p, off)
}

// CopyTo writes the first n original bytes to w.
func (s *Source) CopyTo(w io.Writer, n int64) (int64, error) {
	var written int64
	err := s.With(func(c *Cursor) error {
		var err error
		written, err = io.Copy(w, io.LimitReader(c, n))
		return err
	})
	return written, err
}

// Close releases the mapping. Reads after Close fail with ErrClosed.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.data = nil
	var err error
	if s.mapped != nil {
		err = s.mapped.Unmap()
		s.mapped = nil
	}
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
		s.file = nil
	}
	return err
}

// Cursor is the single reading position of a Source. Holding one proves
// the lock is held.
type Cursor struct {
	src *Source
	pos int64
}

func (c *Cursor) Read(p []byte) (int, error) {
	n, err := c.ReadAt(p, c.pos)
	c.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (c *Cursor) ReadAt(p []byte, off int64) (int, error) {
	data := c.src.data
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek moves the cursor. Only io.SeekStart and io.SeekCurrent are used.
func (c *Cursor) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += c.pos
	case io.SeekEnd:
		offset += int64(len(c.src.data))
	default:
		return 0, errors.New("invalid whence")
	}
	if offset < 0 {
		return 0, errors.New("negative position")
	}
	c.pos = offset
	return offset, nil
}

func (c *Cursor) Pos() int64 { return c.pos }
