package filters

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"encoding/hex"

	"github.com/hhrutter/lzw"
)

// EncodeFlate compresses data with a zlib wrapper at the given level.
func EncodeFlate(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeLZW produces LZWDecode data with the given EarlyChange setting.
func EncodeLZW(data []byte, earlyChange int) ([]byte, error) {
	var buf bytes.Buffer
	w := lzw.NewWriter(&buf, earlyChange != 0)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeASCIIHex writes two hex digits per byte followed by '>'.
func EncodeASCIIHex(data []byte) []byte {
	dst := make([]byte, hex.EncodedLen(len(data)), hex.EncodedLen(len(data))+1)
	hex.Encode(dst, data)
	return append(dst, '>')
}

// EncodeASCII85 writes base-85 data terminated by "~>".
func EncodeASCII85(data []byte) []byte {
	dst := make([]byte, ascii85.MaxEncodedLen(len(data)))
	n := ascii85.Encode(dst, data)
	return append(dst[:n], '~', '>')
}

// EncodeRunLength emits runs of two or more equal bytes as repeat records
// and everything else as literal records of up to 128 bytes.
func EncodeRunLength(data []byte) []byte {
	var buf bytes.Buffer
	for i := 0; i < len(data); {
		run := 1
		for i+run < len(data) && run < 128 && data[i+run] == data[i] {
			run++
		}
		if run > 1 {
			buf.WriteByte(byte(257 - run))
			buf.WriteByte(data[i])
			i += run
			continue
		}
		lit := 1
		for i+lit < len(data) && lit < 128 && (i+lit+1 >= len(data) || data[i+lit] != data[i+lit+1]) {
			lit++
		}
		buf.WriteByte(byte(lit - 1))
		buf.Write(data[i : i+lit])
		i += lit
	}
	buf.WriteByte(runLengthEOD)
	return buf.Bytes()
}
