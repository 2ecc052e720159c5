package writer

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/wudi/pdfstore/ir/raw"
)

// appendObject writes the PDF syntax of o. Dictionary keys are sorted so
// the same object always serializes to the same bytes. A stream's /Length
// is replaced by the direct length of its payload.
func appendObject(b *bytes.Buffer, o raw.Object) {
	switch v := o.(type) {
	case raw.NameObj:
		b.WriteByte('/')
		b.WriteString(nameLiteral(v.Val))
	case raw.NumberObj:
		if v.IsInteger() {
			b.WriteString(strconv.FormatInt(v.Int(), 10))
			return
		}
		b.WriteString(formatReal(v.Float()))
	case raw.BoolObj:
		b.WriteString(strconv.FormatBool(v.V))
	case raw.NullObj:
		b.WriteString("null")
	case raw.StringObj:
		appendLiteralString(b, v.Bytes)
	case raw.HexStringObj:
		b.WriteByte('<')
		dst := make([]byte, hex.EncodedLen(len(v.Bytes)))
		hex.Encode(dst, v.Bytes)
		b.Write(bytes.ToUpper(dst))
		b.WriteByte('>')
	case *raw.ArrayObj:
		b.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			appendObject(b, it)
		}
		b.WriteByte(']')
	case *raw.DictObj:
		appendDict(b, v)
	case *raw.StreamObj:
		d := raw.Dict()
		if v.Dict != nil {
			for k, item := range v.Dict.KV {
				d.Set(k, item)
			}
		}
		d.Set("Length", raw.NumberInt(int64(len(v.Data))))
		appendDict(b, d)
		b.WriteString("\nstream\n")
		b.Write(v.Data)
		b.WriteString("\nendstream")
	case raw.RefObj:
		fmt.Fprintf(b, "%d %d R", v.R.Num, v.R.Gen)
	default:
		b.WriteString("null")
	}
}

func appendDict(b *bytes.Buffer, d *raw.DictObj) {
	b.WriteString("<<")
	for _, k := range d.Keys() {
		b.WriteByte('/')
		b.WriteString(nameLiteral(k))
		item := d.KV[k]
		if needsSpace(item) {
			b.WriteByte(' ')
		}
		appendObject(b, item)
	}
	b.WriteString(">>")
}

// needsSpace reports whether a value must be separated from the key that
// precedes it. Delimited values can follow a name directly.
func needsSpace(o raw.Object) bool {
	switch o.(type) {
	case raw.NameObj, raw.StringObj, raw.HexStringObj, *raw.ArrayObj, *raw.DictObj:
		return false
	}
	return true
}

// formatReal never uses exponent notation, which PDF does not allow.
func formatReal(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if s == "-0" {
		return "0"
	}
	return s
}

func appendLiteralString(b *bytes.Buffer, data []byte) {
	b.WriteByte('(')
	for _, ch := range data {
		switch ch {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if ch < 0x20 || ch >= 0x80 {
				fmt.Fprintf(b, "\\%03o", ch)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte(')')
}

// nameLiteral escapes every byte outside the regular printable range as #XX.
func nameLiteral(v string) string {
	var sb bytes.Buffer
	for i := 0; i < len(v); i++ {
		ch := v[i]
		if ch <= ' ' || ch > '~' || ch == '#' || isDelimiter(ch) {
			fmt.Fprintf(&sb, "#%02X", ch)
			continue
		}
		sb.WriteByte(ch)
	}
	return sb.String()
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// serializeIndirect returns "num gen obj ... endobj" for one object.
func serializeIndirect(ref raw.ObjectRef, o raw.Object) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d %d obj\n", ref.Num, ref.Gen)
	appendObject(&b, o)
	b.WriteString("\nendobj\n")
	return b.Bytes()
}
