package raw

import (
	"golang.org/x/text/encoding/unicode"
)

var utf16BE = unicode.UTF16(unicode.BigEndian, unicode.UseBOM)

// TextString encodes s as a PDF text string. Printable ASCII is kept as a
// literal; anything else is written as UTF-16BE with a byte order mark.
func TextString(s string) StringObj {
	if isPlainASCII(s) {
		return StringObj{Bytes: []byte(s)}
	}
	enc, err := utf16BE.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return StringObj{Bytes: []byte(s)}
	}
	return StringObj{Bytes: enc}
}

// DecodeTextString converts a PDF text string into Go text.
// Strings without a UTF-16 byte order mark are returned byte for byte.
func DecodeTextString(b []byte) string {
	if len(b) >= 2 && ((b[0] == 0xFE && b[1] == 0xFF) || (b[0] == 0xFF && b[1] == 0xFE)) {
		dec, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(b)
		if err == nil {
			return string(dec)
		}
	}
	return string(b)
}

func isPlainASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x80 || (c < 0x20 && c != '\n' && c != '\r' && c != '\t') {
			return false
		}
	}
	return true
}
