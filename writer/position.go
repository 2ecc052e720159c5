package writer

import "io"

// PositionWriter counts the bytes the sink accepted. Offset is the
// absolute file position of the next byte: base plus bytes written.
type PositionWriter struct {
	w    io.Writer
	base int64
	n    int64
	err  error
}

func NewPositionWriter(w io.Writer, base int64) *PositionWriter {
	return &PositionWriter{w: w, base: base}
}

// Write forwards to the sink. After the first failure every call fails
// with the same *IOError.
func (p *PositionWriter) Write(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	n, err := p.w.Write(b)
	p.n += int64(n)
	if err == nil && n < len(b) {
		err = io.ErrShortWrite
	}
	if err != nil {
		p.err = &IOError{Op: "sink", Err: err}
		return n, p.err
	}
	return n, nil
}

func (p *PositionWriter) WriteString(s string) (int, error) { return p.Write([]byte(s)) }

func (p *PositionWriter) Offset() int64  { return p.base + p.n }
func (p *PositionWriter) Written() int64 { return p.n }
func (p *PositionWriter) Err() error     { return p.err }
