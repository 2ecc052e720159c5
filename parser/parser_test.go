package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wudi/pdfstore/filters"
	"github.com/wudi/pdfstore/ir/raw"
	"github.com/wudi/pdfstore/recovery"
	"github.com/wudi/pdfstore/security"
	"github.com/wudi/pdfstore/xref"
)

func open(t *testing.T, data []byte, cfg Config) *Result {
	t.Helper()
	res, err := Open(context.Background(), bytes.NewReader(data), int64(len(data)), cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return res
}

func TestOpenClassicXRef(t *testing.T) {
	data := buildClassicPDF()
	res := open(t, data, Config{})
	if res.Version != "1.7" {
		t.Fatalf("expected version 1.7, got %q", res.Version)
	}
	if res.Trailer.Root != (raw.ObjectRef{Num: 1}) {
		t.Fatalf("unexpected root %v", res.Trailer.Root)
	}
	obj, err := res.Loader.Load(context.Background(), raw.ObjectRef{Num: 2})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d, ok := obj.(*raw.DictObj)
	if !ok {
		t.Fatalf("expected dict, got %T", obj)
	}
	if typ, _ := d.GetName("Type"); typ != "Pages" {
		t.Fatalf("unexpected type %q", typ)
	}
}

func TestOpenFollowsPrevChain(t *testing.T) {
	res := open(t, buildIncrementalPDF(), Config{})
	ctx := context.Background()
	if _, err := res.Loader.Load(ctx, raw.ObjectRef{Num: 3}); err != nil {
		t.Fatalf("incremental object missing: %v", err)
	}
	obj, err := res.Loader.Load(ctx, raw.ObjectRef{Num: 2})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n, _ := obj.(*raw.DictObj).GetInt("Count"); n != 2 {
		t.Fatalf("expected Count 2 after update, got %d", n)
	}
	if res.Trailer.Prev == 0 {
		t.Fatalf("Prev not propagated on final trailer")
	}
}

func TestLoaderCachesObjects(t *testing.T) {
	data := buildClassicPDF()
	cache := newMemCache()
	res := open(t, data, Config{Cache: cache})
	ref := raw.ObjectRef{Num: 1}
	first, err := res.Loader.Load(context.Background(), ref)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := cache.Get(ref); !ok {
		t.Fatalf("expected object cached after load")
	}
	second, _ := res.Loader.Load(context.Background(), ref)
	if first != second {
		t.Fatalf("second load should come from the cache")
	}
}

func TestLoaderMissingObject(t *testing.T) {
	res := open(t, buildClassicPDF(), Config{})
	ctx := context.Background()
	if _, err := res.Loader.Load(ctx, raw.ObjectRef{Num: 9}); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if _, err := res.Loader.Load(ctx, raw.ObjectRef{Num: 1, Gen: 3}); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("wrong generation should not resolve, got %v", err)
	}
	got, err := res.Loader.Resolve(ctx, raw.Ref(9, 0))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := got.(raw.NullObj); !ok {
		t.Fatalf("missing reference should resolve to null, got %T", got)
	}
}

func TestLoaderIndirectLengthAndObjectStream(t *testing.T) {
	data := buildObjStmPDF(t)
	res := open(t, data, Config{})
	ctx := context.Background()

	payload, err := res.Loader.DecodeStream(ctx, raw.ObjectRef{Num: 4})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(payload) != "BT ET" {
		t.Fatalf("unexpected content %q", payload)
	}

	obj, err := res.Loader.Load(ctx, raw.ObjectRef{Num: 2})
	if err != nil {
		t.Fatalf("load compressed: %v", err)
	}
	if typ, _ := obj.(*raw.DictObj).GetName("Type"); typ != "Pages" {
		t.Fatalf("unexpected compressed object %v", obj)
	}
}

func TestValidateRejectsBadOffset(t *testing.T) {
	data := buildClassicPDF()
	// point object 2 into the middle of object 1
	bad := bytes.Replace(data, []byte(fmt.Sprintf("%010d 00000 n", bytes.Index(data, []byte("2 0 obj")))),
		[]byte(fmt.Sprintf("%010d 00000 n", 12)), 1)
	_, err := Open(context.Background(), bytes.NewReader(bad), int64(len(bad)), Config{})
	var se *xref.StructuralError
	if !errors.As(err, &se) || se.Kind != xref.BadObjectOffset {
		t.Fatalf("expected BadObjectOffset, got %v", err)
	}

	// a lenient strategy accepts it
	if _, err := Open(context.Background(), bytes.NewReader(bad), int64(len(bad)), Config{Recovery: recovery.NewLenientStrategy()}); err != nil {
		t.Fatalf("lenient open: %v", err)
	}
}

func TestValidateRejectsBadObjectStream(t *testing.T) {
	data := buildObjStmPDF(t)
	// corrupt the object stream payload, keeping its length
	i := bytes.Index(data, []byte("/Type /ObjStm"))
	j := bytes.Index(data[i:], []byte("stream\n")) + i + len("stream\n")
	bad := append([]byte(nil), data...)
	for k := j; k < j+8; k++ {
		bad[k] = 0xff
	}
	_, err := Open(context.Background(), bytes.NewReader(bad), int64(len(bad)), Config{})
	var se *xref.StructuralError
	if !errors.As(err, &se) || se.Kind != xref.BadEncoding {
		t.Fatalf("expected BadEncoding, got %v", err)
	}
}

func TestValidateRejectsFreeContainer(t *testing.T) {
	data := buildObjStmPDF(t, func(entries []xref.Entry) {
		entries[3] = xref.FreeEntry(3, 1)
	})
	_, err := Open(context.Background(), bytes.NewReader(data), int64(len(data)), Config{})
	var se *xref.StructuralError
	if !errors.As(err, &se) || se.Kind != xref.BadEncoding || se.Object != 3 {
		t.Fatalf("expected BadEncoding for container 3, got %v", err)
	}
}

func TestEncryptedWithoutHandler(t *testing.T) {
	data := buildEncryptedPDF()
	_, err := Open(context.Background(), bytes.NewReader(data), int64(len(data)), Config{})
	if !security.IsSecurityError(err) || !errors.Is(err, security.ErrEncrypted) {
		t.Fatalf("expected encrypted error, got %v", err)
	}
}

func TestEncryptedBadPassword(t *testing.T) {
	data := buildEncryptedPDF()
	_, err := Open(context.Background(), bytes.NewReader(data), int64(len(data)), Config{
		Security: xorFactory,
		Password: "nope",
	})
	if !security.IsSecurityError(err) || !errors.Is(err, security.ErrBadCredentials) {
		t.Fatalf("expected bad credentials, got %v", err)
	}
}

func TestEncryptedDecryptsStrings(t *testing.T) {
	data := buildEncryptedPDF()
	res := open(t, data, Config{Security: xorFactory, Password: "secret"})
	obj, err := res.Loader.Load(context.Background(), raw.ObjectRef{Num: 3})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s, _ := obj.(*raw.DictObj).Get("Title")
	if got := stringValue(t, s); got != "Hello" {
		t.Fatalf("expected decrypted title, got %q", got)
	}
	enc, err := res.Loader.Load(context.Background(), raw.ObjectRef{Num: 4})
	if err != nil {
		t.Fatalf("load encrypt dict: %v", err)
	}
	if f, _ := enc.(*raw.DictObj).GetName("Filter"); f != "XOR" {
		t.Fatalf("encryption dictionary must stay readable")
	}
}

func TestHeaderVersion(t *testing.T) {
	cases := map[string]string{
		"%PDF-1.4\n":         "1.4",
		"junk%PDF-2.0\r":     "2.0",
		"%PDF-1.7%\xe2\xe3\n": "1.7",
		"no header":          "",
	}
	for in, want := range cases {
		if got := HeaderVersion(bytes.NewReader([]byte(in))); got != want {
			t.Fatalf("HeaderVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func buildClassicPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	xrefOffset := buf.Len()
	fmt.Fprintf(buf, "xref\n0 3\n")
	fmt.Fprintf(buf, "0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n", off1, off2)
	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	buf.WriteString("startxref\n")
	fmt.Fprintf(buf, "%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes()
}

func buildIncrementalPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 1 >>\nendobj\n")

	xref1 := buf.Len()
	fmt.Fprintf(buf, "xref\n0 3\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n", off1, off2)
	fmt.Fprintf(buf, "trailer\n<< /Size 3 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref1)

	// replace object 2 and add object 3
	off2b := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 2 >>\nendobj\n")

	off3 := buf.Len()
	buf.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R >>\nendobj\n")

	xref2 := buf.Len()
	fmt.Fprintf(buf, "xref\n2 2\n%010d 00000 n \n%010d 00000 n \n", off2b, off3)
	fmt.Fprintf(buf, "trailer\n<< /Size 4 /Root 1 0 R /Prev %d >>\n", xref1)
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xref2)
	return buf.Bytes()
}

// buildObjStmPDF stores the page tree in an object stream and gives the
// content stream an indirect /Length.
// buildObjStmPDF writes a file whose page tree root sits in an object
// stream. edits may rewrite the xref entries before they are encoded.
func buildObjStmPDF(t *testing.T, edits ...func([]xref.Entry)) []byte {
	t.Helper()
	members := [][]byte{
		[]byte("<< /Type /Pages /Kids [] /Count 0 >>"),
	}
	header := "2 0 "
	body := bytes.Join(members, nil)
	stmData, err := filters.EncodeFlate(append([]byte(header), body...), 6)
	if err != nil {
		t.Fatalf("flate: %v", err)
	}

	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.5\n")
	offsets := map[uint32]int{}

	offsets[1] = buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[3] = buf.Len()
	fmt.Fprintf(buf, "3 0 obj\n<< /Type /ObjStm /N 1 /First %d /Filter /FlateDecode /Length %d >>\nstream\n", len(header), len(stmData))
	buf.Write(stmData)
	buf.WriteString("\nendstream\nendobj\n")

	offsets[4] = buf.Len()
	buf.WriteString("4 0 obj\n<< /Length 5 0 R >>\nstream\nBT ET\nendstream\nendobj\n")

	offsets[5] = buf.Len()
	buf.WriteString("5 0 obj\n5\nendobj\n")

	entries := []xref.Entry{
		xref.FreeEntry(0, 65535),
		xref.InUseEntry(1, 0, int64(offsets[1])),
		xref.CompressedEntry(2, 3, 0),
		xref.InUseEntry(3, 0, int64(offsets[3])),
		xref.InUseEntry(4, 0, int64(offsets[4])),
		xref.InUseEntry(5, 0, int64(offsets[5])),
	}
	offsets[6] = buf.Len()
	entries = append(entries, xref.InUseEntry(6, 0, int64(offsets[6])))
	for _, edit := range edits {
		edit(entries)
	}
	_, widths, rows, err := xref.EncodeStream(entries)
	if err != nil {
		t.Fatalf("encode stream: %v", err)
	}
	packed, err := filters.EncodeFlate(rows, 6)
	if err != nil {
		t.Fatalf("flate: %v", err)
	}
	fmt.Fprintf(buf, "6 0 obj\n<< /Type /XRef /Size 7 /W [%d %d %d] /Root 1 0 R /Filter /FlateDecode /Length %d >>\nstream\n",
		widths[0], widths[1], widths[2], len(packed))
	buf.Write(packed)
	fmt.Fprintf(buf, "\nendstream\nendobj\nstartxref\n%d\n%%%%EOF\n", offsets[6])
	return buf.Bytes()
}

const xorKey = 0x2a

type xorHandler struct{ authed bool }

func xorFactory(encrypt *raw.DictObj, _ []byte) (security.Handler, error) {
	if f, _ := encrypt.GetName("Filter"); f != "XOR" {
		return nil, fmt.Errorf("unsupported handler %q", f)
	}
	return &xorHandler{}, nil
}

func (h *xorHandler) IsEncrypted() bool     { return true }
func (h *xorHandler) EncryptMetadata() bool { return true }
func (h *xorHandler) Authenticate(pw string) error {
	if pw != "secret" {
		return security.ErrBadCredentials
	}
	h.authed = true
	return nil
}
func (h *xorHandler) Decrypt(_ raw.ObjectRef, data []byte, _ security.DataClass) ([]byte, error) {
	return xorBytes(data), nil
}
func (h *xorHandler) Encrypt(_ raw.ObjectRef, data []byte, _ security.DataClass) ([]byte, error) {
	return xorBytes(data), nil
}

func xorBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = c ^ xorKey
	}
	return out
}

func stringValue(t *testing.T, o raw.Object) string {
	t.Helper()
	switch s := o.(type) {
	case raw.StringObj:
		return string(s.Bytes)
	case raw.HexStringObj:
		return string(s.Bytes)
	}
	t.Fatalf("expected string, got %T", o)
	return ""
}

func buildEncryptedPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	offsets := make([]int, 5)

	offsets[1] = buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	offsets[2] = buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")
	offsets[3] = buf.Len()
	fmt.Fprintf(buf, "3 0 obj\n<< /Title <%x> >>\nendobj\n", xorBytes([]byte("Hello")))
	offsets[4] = buf.Len()
	buf.WriteString("4 0 obj\n<< /Filter /XOR >>\nendobj\n")

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 5\n0000000000 65535 f \n")
	for i := 1; i <= 4; i++ {
		fmt.Fprintf(buf, "%010d 00000 n \n", offsets[i])
	}
	buf.WriteString("trailer\n<< /Size 5 /Root 1 0 R /Info 3 0 R /Encrypt 4 0 R /ID [<0102> <0102>] >>\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes()
}
