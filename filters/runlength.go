package filters

import (
	"bufio"
	"fmt"
	"io"
)

const runLengthEOD = 128

type runLengthReader struct {
	src     *bufio.Reader
	buf     [128]byte
	pending []byte
	err     error
}

// NewRunLengthReader decodes RunLengthDecode data: a length byte below 128
// copies that many plus one literal bytes, above 128 repeats the next byte
// 257 minus length times, and 128 ends the data.
func NewRunLengthReader(r io.Reader) io.Reader {
	return &runLengthReader{src: bufio.NewReader(r)}
}

func (rl *runLengthReader) Read(p []byte) (int, error) {
	for len(rl.pending) == 0 {
		if rl.err != nil {
			return 0, rl.err
		}
		rl.step()
	}
	n := copy(p, rl.pending)
	rl.pending = rl.pending[n:]
	return n, nil
}

func (rl *runLengthReader) step() {
	length, err := rl.src.ReadByte()
	if err != nil {
		rl.err = err
		return
	}
	switch {
	case length == runLengthEOD:
		rl.err = io.EOF
	case length < runLengthEOD:
		n, err := io.ReadFull(rl.src, rl.buf[:int(length)+1])
		rl.pending = rl.buf[:n]
		if err != nil {
			rl.err = fmt.Errorf("runlength: truncated literal run: %w", err)
		}
	default:
		b, err := rl.src.ReadByte()
		if err != nil {
			rl.err = fmt.Errorf("runlength: missing repeated byte: %w", err)
			return
		}
		count := 257 - int(length)
		for i := 0; i < count; i++ {
			rl.buf[i] = b
		}
		rl.pending = rl.buf[:count]
	}
}
