package filters

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// NewPredictorReader undoes the predictor named in fc on the output of a
// base decoder. Predictor 1 (or absent) returns r unchanged.
func NewPredictorReader(r io.Reader, fc FilterContext) (io.Reader, error) {
	switch {
	case fc.Predictor <= PredictorNone:
		return r, nil
	case fc.Predictor == PredictorTIFF:
		if err := checkTIFFDepth(fc.BitsPerComponent); err != nil {
			return nil, err
		}
	case fc.Predictor >= PredictorPNGNone && fc.Predictor <= PredictorPNGOptimum:
	default:
		return nil, fmt.Errorf("unsupported predictor %d", fc.Predictor)
	}
	rowLen := fc.rowBytes()
	if rowLen <= 0 {
		return nil, fmt.Errorf("predictor: invalid row geometry %+v", fc)
	}
	pr := &predictorReader{
		src:  r,
		fc:   fc,
		png:  fc.Predictor >= PredictorPNGNone,
		prev: make([]byte, rowLen),
	}
	if pr.png {
		pr.cur = make([]byte, rowLen+1)
	} else {
		pr.cur = make([]byte, rowLen)
	}
	return pr, nil
}

type predictorReader struct {
	src     io.Reader
	fc      FilterContext
	png     bool
	cur     []byte
	prev    []byte
	out     []byte
	pending []byte
	err     error
}

func (p *predictorReader) Read(b []byte) (int, error) {
	for len(p.pending) == 0 {
		if p.err != nil {
			return 0, p.err
		}
		p.nextRow()
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *predictorReader) nextRow() {
	n, err := io.ReadFull(p.src, p.cur)
	switch err {
	case nil:
	case io.EOF, io.ErrUnexpectedEOF:
		// a short final row is reconstructed as far as it goes
		p.err = io.EOF
	default:
		p.err = err
		return
	}
	if n == 0 {
		return
	}
	row := p.cur[:n]
	if !p.png {
		undoTIFF(row, p.fc)
		p.out = append(p.out[:0], row...)
		p.pending = p.out
		return
	}
	data := row[1:]
	if err := unfilterPNG(row[0], data, p.prev[:len(data)], p.fc.bytesPerPixel()); err != nil {
		p.err = err
		return
	}
	copy(p.prev, data)
	p.out = append(p.out[:0], data...)
	p.pending = p.out
}

// PredictorReconstruct undoes the predictor in fc on a fully decoded buffer.
func PredictorReconstruct(data []byte, fc FilterContext) ([]byte, error) {
	r, err := NewPredictorReader(bytes.NewReader(data), fc)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// PredictorApply is the encoding counterpart of PredictorReconstruct.
// PNG predictors 10 to 14 tag every row with the matching filter byte.
// Optimum (15) names no concrete filter and is rejected.
func PredictorApply(data []byte, fc FilterContext) ([]byte, error) {
	switch {
	case fc.Predictor <= PredictorNone:
		return append([]byte(nil), data...), nil
	case fc.Predictor == PredictorTIFF:
		if err := checkTIFFDepth(fc.BitsPerComponent); err != nil {
			return nil, err
		}
	case fc.Predictor == PredictorPNGOptimum:
		return nil, fmt.Errorf("predictor %d needs a concrete row filter", fc.Predictor)
	case fc.Predictor < PredictorPNGNone || fc.Predictor > PredictorPNGOptimum:
		return nil, fmt.Errorf("unsupported predictor %d", fc.Predictor)
	}
	rowLen := fc.rowBytes()
	if rowLen <= 0 {
		return nil, fmt.Errorf("predictor: invalid row geometry %+v", fc)
	}
	if fc.Predictor == PredictorTIFF {
		out := append([]byte(nil), data...)
		for off := 0; off < len(out); off += rowLen {
			end := min(off+rowLen, len(out))
			applyTIFF(out[off:end], fc)
		}
		return out, nil
	}

	filter := byte(fc.Predictor - PredictorPNGNone)
	bpp := fc.bytesPerPixel()
	prev := make([]byte, rowLen)
	out := make([]byte, 0, len(data)+len(data)/rowLen+1)
	for off := 0; off < len(data); off += rowLen {
		end := min(off+rowLen, len(data))
		cur := data[off:end]
		out = append(out, filter)
		start := len(out)
		out = append(out, make([]byte, len(cur))...)
		filterPNG(filter, out[start:], cur, prev[:len(cur)], bpp)
		copy(prev, cur)
	}
	return out, nil
}

func checkTIFFDepth(bpc int) error {
	switch bpc {
	case 1, 2, 4, 8, 16:
		return nil
	}
	return fmt.Errorf("tiff predictor: unsupported bits per component %d", bpc)
}

func unfilterPNG(filter byte, cur, prev []byte, bpp int) error {
	switch filter {
	case PNGNone:
	case PNGSub:
		for i := bpp; i < len(cur); i++ {
			cur[i] += cur[i-bpp]
		}
	case PNGUp:
		for i := range cur {
			cur[i] += prev[i]
		}
	case PNGAverage:
		for i := range cur {
			left := 0
			if i >= bpp {
				left = int(cur[i-bpp])
			}
			cur[i] += uint8((left + int(prev[i])) / 2)
		}
	case PNGPaeth:
		for i := range cur {
			var left, upLeft int
			if i >= bpp {
				left, upLeft = int(cur[i-bpp]), int(prev[i-bpp])
			}
			cur[i] += paeth(left, int(prev[i]), upLeft)
		}
	default:
		return fmt.Errorf("png predictor: invalid row filter %d", filter)
	}
	return nil
}

func filterPNG(filter byte, dst, cur, prev []byte, bpp int) {
	for i := range cur {
		var left, upLeft int
		if i >= bpp {
			left, upLeft = int(cur[i-bpp]), int(prev[i-bpp])
		}
		switch filter {
		case PNGSub:
			dst[i] = cur[i] - uint8(left)
		case PNGUp:
			dst[i] = cur[i] - prev[i]
		case PNGAverage:
			dst[i] = cur[i] - uint8((left+int(prev[i]))/2)
		case PNGPaeth:
			dst[i] = cur[i] - paeth(left, int(prev[i]), upLeft)
		default:
			dst[i] = cur[i]
		}
	}
}

func paeth(a, b, c int) uint8 {
	p := a + b - c
	pa, pb, pc := abs(p-a), abs(p-b), abs(p-c)
	switch {
	case pa <= pb && pa <= pc:
		return uint8(a)
	case pb <= pc:
		return uint8(b)
	}
	return uint8(c)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func undoTIFF(row []byte, fc FilterContext) {
	colors := fc.Colors
	switch fc.BitsPerComponent {
	case 8:
		for i := colors; i < len(row); i++ {
			row[i] += row[i-colors]
		}
	case 16:
		step := 2 * colors
		for i := step; i+1 < len(row); i += 2 {
			v := binary.BigEndian.Uint16(row[i:]) + binary.BigEndian.Uint16(row[i-step:])
			binary.BigEndian.PutUint16(row[i:], v)
		}
	default:
		bpc := fc.BitsPerComponent
		samples := len(row) * 8 / bpc
		if limit := colors * fc.Columns; samples > limit {
			samples = limit
		}
		mask := uint8(1<<bpc - 1)
		for s := colors; s < samples; s++ {
			setSample(row, s, bpc, (sample(row, s, bpc)+sample(row, s-colors, bpc))&mask)
		}
	}
}

func applyTIFF(row []byte, fc FilterContext) {
	colors := fc.Colors
	switch fc.BitsPerComponent {
	case 8:
		for i := len(row) - 1; i >= colors; i-- {
			row[i] -= row[i-colors]
		}
	case 16:
		step := 2 * colors
		last := len(row) - len(row)%2 - 2
		for i := last; i >= step; i -= 2 {
			v := binary.BigEndian.Uint16(row[i:]) - binary.BigEndian.Uint16(row[i-step:])
			binary.BigEndian.PutUint16(row[i:], v)
		}
	default:
		bpc := fc.BitsPerComponent
		samples := len(row) * 8 / bpc
		if limit := colors * fc.Columns; samples > limit {
			samples = limit
		}
		mask := uint8(1<<bpc - 1)
		for s := samples - 1; s >= colors; s-- {
			setSample(row, s, bpc, (sample(row, s, bpc)-sample(row, s-colors, bpc))&mask)
		}
	}
}

// sample reads the idx-th bpc-bit value of row, most significant bits first.
func sample(row []byte, idx, bpc int) uint8 {
	bit := idx * bpc
	shift := 8 - bpc - bit%8
	return row[bit/8] >> shift & uint8(1<<bpc-1)
}

func setSample(row []byte, idx, bpc int, v uint8) {
	bit := idx * bpc
	shift := 8 - bpc - bit%8
	mask := uint8(1<<bpc-1) << shift
	row[bit/8] = row[bit/8]&^mask | v<<shift&mask
}
