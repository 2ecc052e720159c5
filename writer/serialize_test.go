package writer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wudi/pdfstore/ir/raw"
)

func serialized(o raw.Object) string {
	var b bytes.Buffer
	appendObject(&b, o)
	return b.String()
}

func TestSerializeObjects(t *testing.T) {
	dict := raw.Dict()
	dict.Set("Type", raw.NameLiteral("Annot"))
	dict.Set("Rect", raw.NewArray(raw.NumberInt(0), raw.NumberFloat(10.5), raw.NumberFloat(-0.25), raw.NumberFloat(1e-7)))
	dict.Set("P", raw.Ref(4, 0))
	dict.Set("F", raw.NumberInt(4))

	tests := []struct {
		name string
		obj  raw.Object
		want string
	}{
		{"literal", raw.Str([]byte("Hello (world) \\ \n\t\r")), `(Hello \(world\) \\ \n\t\r)`},
		{"binary literal", raw.Str([]byte{0x01, 0xfe}), `(\001\376)`},
		{"hex", raw.HexStr([]byte{0xab, 0x01}), "<AB01>"},
		{"name escapes", raw.NameLiteral("A B#(x)"), "/A#20B#23#28x#29"},
		{"bool", raw.Bool(false), "false"},
		{"null", raw.NullObj{}, "null"},
		{"dict sorted", dict, "<</F 4/P 4 0 R/Rect[0 10.5 -0.25 0.0000001]/Type/Annot>>"},
		{"empty array", raw.NewArray(), "[]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := serialized(tt.obj); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSerializeStreamRewritesLength(t *testing.T) {
	d := raw.Dict()
	d.Set("Length", raw.Ref(9, 0))
	s := raw.NewStream(d, []byte("abc"))
	got := string(serializeIndirect(raw.ObjectRef{Num: 3}, s))
	want := "3 0 obj\n<</Length 3>>\nstream\nabc\nendstream\nendobj\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if _, ok := d.Get("Length"); !ok {
		t.Fatalf("source dictionary must not change")
	}
	if l, _ := d.Get("Length"); l != raw.Ref(9, 0) {
		t.Fatalf("source /Length replaced")
	}
}

func TestPositionWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewPositionWriter(&buf, 100)
	w.WriteString("hello")
	if w.Offset() != 105 || w.Written() != 5 {
		t.Fatalf("offset %d written %d", w.Offset(), w.Written())
	}

	w = NewPositionWriter(&failingWriter{left: 2}, 0)
	if _, err := w.Write([]byte("abcd")); err == nil {
		t.Fatalf("expected failure")
	}
	_, err := w.Write([]byte("x"))
	var ioErr *IOError
	if !errors.As(err, &ioErr) || w.Written() != 2 {
		t.Fatalf("sticky error missing: %v, written %d", err, w.Written())
	}
}

func TestParseWriteMode(t *testing.T) {
	for _, m := range []WriteMode{FullUpdate, IncrementUpdate} {
		got, err := ParseWriteMode(m.String())
		if err != nil || got != m {
			t.Fatalf("round trip of %v: %v, %v", m, got, err)
		}
	}
	if _, err := ParseWriteMode("linearized"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMaxVersion(t *testing.T) {
	tests := []struct {
		a, b, want string
		bad        bool
	}{
		{a: "1.4", want: "1.4"},
		{want: "1.7"},
		{a: "1.4", b: "1.7", want: "1.7"},
		{a: "2.0", b: "1.7", want: "2.0"},
		{a: "1.10", b: "1.9", want: "1.10"},
		{a: "1.4", b: "one.seven", want: "1.4", bad: true},
		{a: "junk", b: "1.7", want: "junk", bad: true},
		{b: "x", want: "1.7", bad: true},
	}
	for _, tt := range tests {
		got, err := maxVersion(tt.a, tt.b)
		if got != tt.want || (err != nil) != tt.bad {
			t.Fatalf("maxVersion(%q, %q) = %q, %v; want %q, error %v", tt.a, tt.b, got, err, tt.want, tt.bad)
		}
	}
}
