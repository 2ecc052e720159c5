package document

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pdfstore/internal/pdftest"
	"github.com/wudi/pdfstore/ir/raw"
	"github.com/wudi/pdfstore/ledger"
	"github.com/wudi/pdfstore/source"
)

func load(t *testing.T, data []byte) *Document {
	t.Helper()
	doc, err := Load(context.Background(), source.FromBytes(data), Config{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return doc
}

func sample(t *testing.T) *Document {
	return load(t, pdftest.Classic("1.6", pdftest.Sample(), pdftest.SampleTrailer))
}

func ref(n uint32) raw.ObjectRef { return raw.ObjectRef{Num: n} }

func TestLoadSample(t *testing.T) {
	doc := sample(t)
	if doc.Version() != "1.6" {
		t.Fatalf("version = %q", doc.Version())
	}
	if doc.Trailer().Root != ref(1) {
		t.Fatalf("root = %v", doc.Trailer().Root)
	}
	if doc.Trailer().IsCompressedXref {
		t.Fatalf("classic file reported as compressed")
	}
	if !doc.Ledger().IsNoChange() {
		t.Fatalf("fresh document must have an empty ledger")
	}
	if got := doc.Ledger().NextNumber(); got != 12 {
		t.Fatalf("allocator should start at /Size 12, got %d", got)
	}
}

func TestPages(t *testing.T) {
	doc := sample(t)
	pages, err := doc.Pages(context.Background())
	if err != nil {
		t.Fatalf("pages: %v", err)
	}
	if diff := cmp.Diff([]raw.ObjectRef{ref(3), ref(4)}, pages); diff != "" {
		t.Fatalf("pages (-want +got):\n%s", diff)
	}
	if _, err := doc.Page(context.Background(), 2); !errors.Is(err, ErrNoPage) {
		t.Fatalf("expected ErrNoPage, got %v", err)
	}
}

func TestPagesCycleGuard(t *testing.T) {
	objs := pdftest.Sample()
	objs[2] = "<< /Type /Pages /Kids [3 0 R 2 0 R 4 0 R] /Count 2 >>"
	doc := load(t, pdftest.Classic("1.6", objs, pdftest.SampleTrailer))
	n, err := doc.PageCount(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 pages, got %d", n)
	}
}

func TestAnnotations(t *testing.T) {
	doc := sample(t)
	ctx := context.Background()
	got, err := doc.Annotations(ctx, ref(3))
	if err != nil {
		t.Fatalf("annotations: %v", err)
	}
	if diff := cmp.Diff([]raw.ObjectRef{ref(5), ref(6)}, got); diff != "" {
		t.Fatalf("annotations (-want +got):\n%s", diff)
	}
	got, _ = doc.Annotations(ctx, ref(4))
	if diff := cmp.Diff([]raw.ObjectRef{ref(10)}, got); diff != "" {
		t.Fatalf("indirect annots (-want +got):\n%s", diff)
	}
}

func TestDeleteAnnotationRemovesPopup(t *testing.T) {
	doc := sample(t)
	ctx := context.Background()
	if err := doc.DeleteAnnotation(ctx, ref(3), ref(5)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := doc.Annotations(ctx, ref(3))
	if len(got) != 0 {
		t.Fatalf("expected no annotations left, got %v", got)
	}
	for _, n := range []uint32{5, 6} {
		c, ok := doc.Ledger().Get(n)
		if !ok || c.Kind != ledger.Deleted {
			t.Fatalf("object %d should be deleted, got %+v", n, c)
		}
		if _, err := doc.Object(ctx, ref(n)); !errors.Is(err, ErrUnknownObject) {
			t.Fatalf("deleted object %d still readable: %v", n, err)
		}
	}
	page, _ := doc.Ledger().Get(3)
	if page.Kind != ledger.Modified {
		t.Fatalf("page should be modified, got %v", page.Kind)
	}
	if _, ok := page.Object.(*raw.DictObj).Get("Annots"); ok {
		t.Fatalf("empty /Annots should be dropped")
	}

	if err := doc.DeleteAnnotation(ctx, ref(3), ref(5)); !errors.Is(err, ErrNotAnnotation) {
		t.Fatalf("expected ErrNotAnnotation, got %v", err)
	}
}

func TestDeleteAnnotationIndirectArray(t *testing.T) {
	doc := sample(t)
	ctx := context.Background()
	if err := doc.DeleteAnnotation(ctx, ref(4), ref(10)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	arr, ok := doc.Ledger().Get(9)
	if !ok || arr.Kind != ledger.Modified || arr.Object.(*raw.ArrayObj).Len() != 0 {
		t.Fatalf("indirect annots array should be rewritten empty, got %+v", arr)
	}
	if _, ok := doc.Ledger().Get(4); ok {
		t.Fatalf("page must not change when its annots array is indirect")
	}
}

func TestDeleteDanglingAnnotationRecordsNothing(t *testing.T) {
	objs := pdftest.Sample()
	objs[3] = "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Annots [5 0 R 6 0 R 40 0 R] >>"
	doc := load(t, pdftest.Classic("1.6", objs, pdftest.SampleTrailer))
	err := doc.DeleteAnnotation(context.Background(), ref(3), ref(40))
	if !errors.Is(err, ErrUnknownObject) {
		t.Fatalf("expected ErrUnknownObject, got %v", err)
	}
	if n := doc.Ledger().Len(); n != 0 {
		t.Fatalf("failed delete left %d changes in the ledger", n)
	}
}

func TestAddAnnotationAndContents(t *testing.T) {
	doc := sample(t)
	ctx := context.Background()
	annot := raw.Dict()
	annot.Set("Subtype", raw.NameLiteral("Text"))
	annot.Set("Rect", raw.NewArray(raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(10), raw.NumberInt(10)))
	r, err := doc.AddAnnotation(ctx, ref(4), annot)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if r != ref(12) {
		t.Fatalf("expected allocation of 12, got %v", r)
	}
	got, _ := doc.Annotations(ctx, ref(4))
	if diff := cmp.Diff([]raw.ObjectRef{ref(10), ref(12)}, got); diff != "" {
		t.Fatalf("annotations (-want +got):\n%s", diff)
	}
	if _, ok := annot.Get("P"); ok {
		t.Fatalf("caller's dictionary must not be mutated")
	}

	if err := doc.SetAnnotationContents(ctx, ref(10), "édition"); err != nil {
		t.Fatalf("set contents: %v", err)
	}
	text, err := doc.AnnotationContents(ctx, ref(10))
	if err != nil {
		t.Fatalf("contents: %v", err)
	}
	if text != "édition" {
		t.Fatalf("contents = %q", text)
	}
	// the cached original stays untouched
	orig, _ := doc.loader.Load(ctx, ref(10))
	if c, _ := orig.(*raw.DictObj).Get("Contents"); string(c.(raw.StringObj).Bytes) != "square" {
		t.Fatalf("original object was mutated")
	}
}

func TestEnsureFont(t *testing.T) {
	doc := sample(t)
	ctx := context.Background()
	r, err := doc.EnsureFont(ctx, "Helvetica")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if r != ref(7) {
		t.Fatalf("existing font should be reused, got %v", r)
	}
	if !doc.Ledger().IsNoChange() {
		t.Fatalf("reusing a font must not record changes")
	}
	r, err = doc.EnsureFont(ctx, "Courier")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if c, ok := doc.Ledger().Get(r.Num); !ok || c.Kind != ledger.Added {
		t.Fatalf("new font should be added, got %+v", c)
	}
	again, _ := doc.EnsureFont(ctx, "Courier")
	if again != r {
		t.Fatalf("second call should hit the cache")
	}
}

func TestLiveObjectsAndContainers(t *testing.T) {
	objs := pdftest.Sample()
	data := pdftest.Compressed("1.5", objs, []uint32{2, 5, 6, 10}, pdftest.SampleTrailer)
	doc := load(t, data)
	if !doc.Trailer().IsCompressedXref {
		t.Fatalf("expected compressed xref")
	}
	// 12 is the object stream, 13 the xref stream
	if !doc.IsContainer(12) || !doc.IsContainer(13) || doc.IsContainer(5) {
		t.Fatalf("container detection wrong")
	}
	ctx := context.Background()
	if err := doc.DeleteObject(ctx, ref(11)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	added, _ := doc.AddObject(raw.NumberInt(1))
	var nums []uint32
	for _, r := range doc.LiveObjects() {
		nums = append(nums, r.Num)
	}
	want := []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, added.Num}
	if diff := cmp.Diff(want, nums); diff != "" {
		t.Fatalf("live objects (-want +got):\n%s", diff)
	}
}

func TestDecodeStream(t *testing.T) {
	doc := sample(t)
	data, err := doc.DecodeStream(context.Background(), ref(8))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(data) != "BT /F1 12 Tf 72 720 Td (Hello) Tj ET" {
		t.Fatalf("unexpected content %q", data)
	}
	if _, err := doc.DecodeStream(context.Background(), ref(7)); err == nil {
		t.Fatalf("decoding a dictionary should fail")
	}
}

func TestCommittedKeepsEditsVisible(t *testing.T) {
	doc := sample(t)
	ctx := context.Background()
	if err := doc.SetAnnotationContents(ctx, ref(5), "saved"); err != nil {
		t.Fatalf("set: %v", err)
	}
	doc.Committed(12, 4242, doc.Trailer().ID, false)
	if !doc.Ledger().IsNoChange() {
		t.Fatalf("ledger should be clear after commit")
	}
	text, _ := doc.AnnotationContents(ctx, ref(5))
	if text != "saved" {
		t.Fatalf("saved edit lost: %q", text)
	}
	if !doc.Saved() {
		t.Fatalf("commit not recorded")
	}
	tr := doc.Trailer()
	if tr.XRefOffset != 4242 || tr.Prev == 0 {
		t.Fatalf("trailer not advanced: %+v", tr)
	}
}

func TestMissingObjectIsUnknown(t *testing.T) {
	doc := sample(t)
	if err := doc.UpdateObject(context.Background(), ref(99), raw.NullObj{}); !errors.Is(err, ErrUnknownObject) {
		t.Fatalf("expected ErrUnknownObject, got %v", err)
	}
}
