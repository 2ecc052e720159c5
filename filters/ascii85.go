package filters

import (
	"bufio"
	"io"
)

type ascii85Reader struct {
	src     *bufio.Reader
	started bool
	done    bool

	acc     uint32
	n       int
	out     [4]byte
	pending []byte
	err     error
}

// NewASCII85Reader decodes base-85 groups of five characters into four
// bytes. 'z' stands for four zero bytes, "~>" ends the data, whitespace is
// skipped and an optional leading "<~" is accepted. A trailing group of two
// to four characters is padded with 'u' and yields one byte fewer than its
// length.
func NewASCII85Reader(r io.Reader) io.Reader {
	return &ascii85Reader{src: bufio.NewReader(r)}
}

func (a *ascii85Reader) Read(p []byte) (int, error) {
	for len(a.pending) == 0 {
		if a.err != nil {
			return 0, a.err
		}
		a.step()
	}
	n := copy(p, a.pending)
	a.pending = a.pending[n:]
	return n, nil
}

func (a *ascii85Reader) step() {
	if !a.started {
		a.started = true
		if lead, err := a.src.Peek(2); err == nil && lead[0] == '<' && lead[1] == '~' {
			_, _ = a.src.Discard(2)
		}
	}
	for {
		c, err := a.src.ReadByte()
		if err == io.EOF {
			a.finish()
			return
		}
		if err != nil {
			a.err = err
			return
		}
		switch {
		case isPDFWhitespace(c):
			continue
		case c == '~':
			a.finish()
			return
		case c == 'z' && a.n == 0:
			a.pending = append(a.out[:0], 0, 0, 0, 0)
			return
		}
		a.acc = a.acc*85 + uint32(c-'!')
		a.n++
		if a.n == 5 {
			a.emit(4)
			a.acc, a.n = 0, 0
			return
		}
	}
}

// finish flushes a partial group and marks the end of data.
func (a *ascii85Reader) finish() {
	a.err = io.EOF
	if a.n < 2 {
		return
	}
	count := a.n - 1
	for ; a.n < 5; a.n++ {
		a.acc = a.acc*85 + 84
	}
	a.emit(count)
	a.acc, a.n = 0, 0
}

func (a *ascii85Reader) emit(count int) {
	a.out[0] = byte(a.acc >> 24)
	a.out[1] = byte(a.acc >> 16)
	a.out[2] = byte(a.acc >> 8)
	a.out[3] = byte(a.acc)
	a.pending = a.out[:count]
}

func isPDFWhitespace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}
