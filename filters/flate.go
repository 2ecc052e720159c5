package filters

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"errors"
	"io"
)

// probeSize is how much output a raw deflate attempt must produce cleanly
// before the stream is accepted as raw deflate.
const probeSize = 512

// NewFlateReader inflates r. A valid zlib wrapper is decoded normally and a
// bad Adler-32 trailer is ignored. Without a recognizable wrapper the data is
// tried as raw deflate, and finally as deflate behind a garbled two byte
// header.
func NewFlateReader(r io.Reader) (io.Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if hasZlibHeader(data) {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err == nil {
			return &checksumTolerant{r: zr}, nil
		}
	}
	if pr, ok := probeDeflate(data); ok {
		return pr, nil
	}
	if len(data) < 2 {
		return nil, errors.New("flate: stream too short")
	}
	return flate.NewReader(bytes.NewReader(data[2:])), nil
}

func hasZlibHeader(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	if b[0]&0x0f != 8 || b[0]>>4 > 7 {
		return false
	}
	return (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

// probeDeflate decodes the first chunk of data as raw deflate. On success it
// returns a reader that replays that chunk and continues with the rest.
func probeDeflate(data []byte) (io.Reader, bool) {
	fr := flate.NewReader(bytes.NewReader(data))
	buf := make([]byte, probeSize)
	n := 0
	for n < len(buf) {
		m, err := fr.Read(buf[n:])
		n += m
		if err == io.EOF {
			return bytes.NewReader(buf[:n]), true
		}
		if err != nil {
			if n == 0 {
				return nil, false
			}
			return io.MultiReader(bytes.NewReader(buf[:n]), errReader{err}), true
		}
	}
	return io.MultiReader(bytes.NewReader(buf[:n]), fr), true
}

type checksumTolerant struct{ r io.Reader }

func (c *checksumTolerant) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if errors.Is(err, zlib.ErrChecksum) {
		err = io.EOF
	}
	return n, err
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
