package filters

import (
	"context"
	"testing"
)

func FuzzFilters(f *testing.F) {
	f.Add([]byte("some compressed data"), "FlateDecode")
	f.Add([]byte("some ascii85 data"), "ASCII85Decode")
	f.Add([]byte("some hex data"), "ASCIIHexDecode")
	f.Add([]byte{0x80, 0x0B, 0x60, 0x50, 0x22, 0x0C, 0x0C, 0x85, 0x01}, "LZWDecode")

	f.Fuzz(func(t *testing.T, data []byte, filterName string) {
		p := DefaultPipeline(Limits{MaxDecompressedSize: 1024 * 1024})
		if _, ok := p.registry.Get(filterName); !ok {
			return
		}
		_, _ = p.Decode(context.Background(), data, []string{filterName}, nil)
	})
}
