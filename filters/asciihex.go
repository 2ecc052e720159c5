package filters

import (
	"bufio"
	"fmt"
	"io"
)

type asciiHexReader struct {
	src *bufio.Reader
	buf [256]byte
	err error
}

// NewASCIIHexReader decodes hex digit pairs up to '>'. Whitespace is
// skipped and an odd final digit is treated as if followed by '0'.
func NewASCIIHexReader(r io.Reader) io.Reader {
	return &asciiHexReader{src: bufio.NewReader(r)}
}

func (h *asciiHexReader) Read(p []byte) (int, error) {
	if h.err != nil {
		return 0, h.err
	}
	limit := len(p)
	if limit > len(h.buf) {
		limit = len(h.buf)
	}
	n := 0
	high, haveHigh := byte(0), false
	for n < limit {
		c, err := h.src.ReadByte()
		if err == io.EOF || (err == nil && c == '>') {
			if haveHigh {
				h.buf[n] = high << 4
				n++
			}
			h.err = io.EOF
			break
		}
		if err != nil {
			h.err = err
			break
		}
		if isPDFWhitespace(c) {
			continue
		}
		v, ok := hexValue(c)
		if !ok {
			h.err = fmt.Errorf("asciihex: invalid character %q", c)
			break
		}
		if !haveHigh {
			high, haveHigh = v, true
			continue
		}
		h.buf[n] = high<<4 | v
		n++
		haveHigh = false
	}
	copy(p, h.buf[:n])
	if n > 0 {
		return n, nil
	}
	return 0, h.err
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
