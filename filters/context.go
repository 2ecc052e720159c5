package filters

import "github.com/wudi/pdfstore/ir/raw"

// Predictor values accepted in /DecodeParms.
const (
	PredictorNone     = 1
	PredictorTIFF     = 2
	PredictorPNGNone  = 10
	PredictorPNGSub   = 11
	PredictorPNGUp    = 12
	PredictorPNGAvg   = 13
	PredictorPNGPaeth = 14
	// PredictorPNGOptimum only tells readers that each row carries its own
	// filter byte. It decodes exactly like the other PNG predictors.
	PredictorPNGOptimum = 15
)

// PNG per-row filter selector bytes.
const (
	PNGNone    = 0
	PNGSub     = 1
	PNGUp      = 2
	PNGAverage = 3
	PNGPaeth   = 4
)

// FilterContext carries the decode parameters shared by every stage of a
// stream's pipeline.
type FilterContext struct {
	Predictor        int
	Columns          int
	Colors           int
	BitsPerComponent int
	EarlyChange      int
}

// DefaultContext returns the parameters used when /DecodeParms is absent.
// Columns is the image width for image streams and 1 otherwise.
func DefaultContext(imageWidth int) FilterContext {
	cols := imageWidth
	if cols <= 0 {
		cols = 1
	}
	return FilterContext{
		Predictor:        PredictorNone,
		Columns:          cols,
		Colors:           1,
		BitsPerComponent: 8,
		EarlyChange:      1,
	}
}

// ContextFromParms reads Predictor, Columns, Colors, BitsPerComponent and
// EarlyChange from parms, falling back to DefaultContext values.
func ContextFromParms(parms *raw.DictObj, imageWidth int) FilterContext {
	fc := DefaultContext(imageWidth)
	if parms == nil {
		return fc
	}
	if v, ok := parms.GetInt("Predictor"); ok && v > 0 {
		fc.Predictor = int(v)
	}
	if v, ok := parms.GetInt("Columns"); ok && v > 0 {
		fc.Columns = int(v)
	}
	if v, ok := parms.GetInt("Colors"); ok && v > 0 {
		fc.Colors = int(v)
	}
	if v, ok := parms.GetInt("BitsPerComponent"); ok && v > 0 {
		fc.BitsPerComponent = int(v)
	}
	if v, ok := parms.GetInt("EarlyChange"); ok {
		fc.EarlyChange = int(v)
	}
	return fc
}

// Parms renders fc as a /DecodeParms dictionary, omitting default values.
// It returns nil when every value is a default.
func (fc FilterContext) Parms() *raw.DictObj {
	d := raw.Dict()
	if fc.Predictor > PredictorNone {
		d.Set("Predictor", raw.NumberInt(int64(fc.Predictor)))
		if fc.Columns > 1 {
			d.Set("Columns", raw.NumberInt(int64(fc.Columns)))
		}
		if fc.Colors > 1 {
			d.Set("Colors", raw.NumberInt(int64(fc.Colors)))
		}
		if fc.BitsPerComponent != 8 && fc.BitsPerComponent > 0 {
			d.Set("BitsPerComponent", raw.NumberInt(int64(fc.BitsPerComponent)))
		}
	}
	if fc.EarlyChange == 0 {
		d.Set("EarlyChange", raw.NumberInt(0))
	}
	if d.Len() == 0 {
		return nil
	}
	return d
}

// bytesPerPixel is the left-neighbour distance used by Sub, Average and Paeth.
func (fc FilterContext) bytesPerPixel() int {
	bpp := (fc.Colors*fc.BitsPerComponent + 7) / 8
	if bpp < 1 {
		return 1
	}
	return bpp
}

func (fc FilterContext) rowBytes() int {
	return (fc.Colors*fc.BitsPerComponent*fc.Columns + 7) / 8
}

// ImageWidth returns /Width for image XObjects and 0 otherwise.
func ImageWidth(dict *raw.DictObj) int {
	if st, ok := dict.GetName("Subtype"); !ok || st != "Image" {
		return 0
	}
	w, _ := dict.GetInt("Width")
	return int(w)
}
