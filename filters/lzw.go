package filters

import (
	"bufio"
	"fmt"
	"io"
)

const (
	lzwClear    = 256
	lzwEOD      = 257
	lzwMinWidth = 9
	lzwMaxWidth = 12
	lzwMaxTable = 1 << lzwMaxWidth
)

type lzwReader struct {
	src   io.ByteReader
	early int

	bits  uint32
	nbits uint
	width uint

	table   [][]byte
	prev    []byte
	pending []byte
	err     error
}

// NewLZWReader decodes MSB-first LZW codes of 9 to 12 bits. earlyChange 1
// widens codes one entry before the table fills, 0 widens exactly when it
// fills. A missing EOD code ends the stream at end of input.
func NewLZWReader(r io.Reader, earlyChange int) io.Reader {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	if earlyChange != 0 {
		earlyChange = 1
	}
	lr := &lzwReader{src: br, early: earlyChange}
	lr.reset()
	return lr
}

func (l *lzwReader) reset() {
	if l.table == nil {
		l.table = make([][]byte, 0, lzwMaxTable)
	}
	l.table = l.table[:0]
	for i := 0; i < 256; i++ {
		l.table = append(l.table, []byte{byte(i)})
	}
	// clear and EOD occupy 256 and 257
	l.table = append(l.table, nil, nil)
	l.width = lzwMinWidth
	l.prev = nil
}

func (l *lzwReader) Read(p []byte) (int, error) {
	for len(l.pending) == 0 {
		if l.err != nil {
			return 0, l.err
		}
		l.step()
	}
	n := copy(p, l.pending)
	l.pending = l.pending[n:]
	return n, nil
}

func (l *lzwReader) step() {
	code, err := l.readCode()
	if err != nil {
		l.err = err
		return
	}
	switch code {
	case lzwClear:
		l.reset()
		return
	case lzwEOD:
		l.err = io.EOF
		return
	}

	var entry []byte
	switch {
	case int(code) < len(l.table):
		entry = l.table[code]
		if l.prev != nil {
			l.add(concat(l.prev, entry[0]))
		}
	case l.prev != nil:
		// The code is not in the table yet: it can only be prev + prev[0].
		entry = concat(l.prev, l.prev[0])
		l.add(entry)
	default:
		l.err = fmt.Errorf("lzw: invalid code %d", code)
		return
	}
	l.pending = entry
	l.prev = entry
}

func (l *lzwReader) add(entry []byte) {
	if len(l.table) >= lzwMaxTable {
		return
	}
	l.table = append(l.table, entry)
	if l.width < lzwMaxWidth && len(l.table)+l.early >= 1<<l.width {
		l.width++
	}
}

func (l *lzwReader) readCode() (uint32, error) {
	for l.nbits < l.width {
		b, err := l.src.ReadByte()
		if err != nil {
			return 0, err
		}
		l.bits = l.bits<<8 | uint32(b)
		l.nbits += 8
	}
	code := (l.bits >> (l.nbits - l.width)) & (1<<l.width - 1)
	l.nbits -= l.width
	l.bits &= 1<<l.nbits - 1
	return code, nil
}

func concat(prefix []byte, c byte) []byte {
	out := make([]byte, len(prefix)+1)
	copy(out, prefix)
	out[len(prefix)] = c
	return out
}
