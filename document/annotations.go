package document

import (
	"context"
	"fmt"

	"github.com/wudi/pdfstore/ir/raw"
	"github.com/wudi/pdfstore/observability"
)

func logRef(ref raw.ObjectRef) observability.Field { return observability.String("ref", ref.String()) }

// Annotations returns the indirect annotations of page in /Annots order.
// Direct annotation dictionaries have no identity and are not listed.
func (d *Document) Annotations(ctx context.Context, page raw.ObjectRef) ([]raw.ObjectRef, error) {
	arr, _, err := d.annots(ctx, page)
	if err != nil || arr == nil {
		return nil, err
	}
	var out []raw.ObjectRef
	for _, it := range arr.Items {
		if r, ok := it.(raw.RefObj); ok {
			out = append(out, r.R)
		}
	}
	return out, nil
}

// annots returns the page's /Annots array and, when the array is an
// object of its own, its reference.
func (d *Document) annots(ctx context.Context, page raw.ObjectRef) (*raw.ArrayObj, *raw.ObjectRef, error) {
	dict, err := d.pageDict(ctx, page)
	if err != nil {
		return nil, nil, err
	}
	v, ok := dict.Get("Annots")
	if !ok {
		return nil, nil, nil
	}
	if r, ok := v.(raw.RefObj); ok {
		obj, err := d.Resolve(ctx, r)
		if err != nil {
			return nil, nil, err
		}
		arr, _ := obj.(*raw.ArrayObj)
		ref := r.R
		return arr, &ref, nil
	}
	arr, _ := v.(*raw.ArrayObj)
	return arr, nil, nil
}

func (d *Document) pageDict(ctx context.Context, page raw.ObjectRef) (*raw.DictObj, error) {
	obj, err := d.Object(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("page %v: %w", page, ErrNoPage)
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, fmt.Errorf("page %v is %s: %w", page, obj.Type(), ErrNoPage)
	}
	return dict, nil
}

// setAnnots records arr as the new /Annots of page, writing it back to
// wherever the original array lived.
func (d *Document) setAnnots(ctx context.Context, page raw.ObjectRef, arr *raw.ArrayObj, arrRef *raw.ObjectRef) error {
	if arrRef != nil {
		return d.ledger.RecordModified(*arrRef, arr)
	}
	dict, err := d.pageDict(ctx, page)
	if err != nil {
		return err
	}
	dict = raw.Clone(dict).(*raw.DictObj)
	if arr.Len() == 0 {
		dict.Delete("Annots")
	} else {
		dict.Set("Annots", arr)
	}
	return d.ledger.RecordModified(page, dict)
}

// AddAnnotation stores annot as a new object and appends it to the page.
func (d *Document) AddAnnotation(ctx context.Context, page raw.ObjectRef, annot *raw.DictObj) (raw.ObjectRef, error) {
	arr, arrRef, err := d.annots(ctx, page)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	if arr == nil {
		arr = raw.NewArray()
	} else {
		arr = raw.Clone(arr).(*raw.ArrayObj)
	}
	annot = raw.Clone(annot).(*raw.DictObj)
	annot.Set("Type", raw.NameLiteral("Annot"))
	annot.Set("P", raw.RefObj{R: page})
	ref, err := d.AddObject(annot)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	arr.Append(raw.RefObj{R: ref})
	if err := d.setAnnots(ctx, page, arr, arrRef); err != nil {
		return raw.ObjectRef{}, err
	}
	d.log.Debug("annotation added", logRef(ref), observability.String("page", page.String()))
	return ref, nil
}

// DeleteAnnotation removes annot from page and deletes it, together with
// its pop-up annotation. Nothing is recorded unless annot exists and is
// listed on page.
func (d *Document) DeleteAnnotation(ctx context.Context, page, annot raw.ObjectRef) error {
	arr, arrRef, err := d.annots(ctx, page)
	if err != nil {
		return err
	}
	if arr == nil {
		return fmt.Errorf("%v: %w", annot, ErrNotAnnotation)
	}
	arr = raw.Clone(arr).(*raw.ArrayObj)
	if !arr.Remove(annot) {
		return fmt.Errorf("%v: %w", annot, ErrNotAnnotation)
	}
	obj, err := d.Object(ctx, annot)
	if err != nil {
		return err
	}
	var popup *raw.ObjectRef
	if dict, ok := obj.(*raw.DictObj); ok {
		if p, ok := dict.GetRef("Popup"); ok && p != annot {
			if _, err := d.Object(ctx, p); err == nil {
				popup = &p
			} else {
				d.log.Warn("popup already gone", logRef(p), observability.Error("error", err))
			}
			arr.Remove(p)
		}
	}
	if err := d.setAnnots(ctx, page, arr, arrRef); err != nil {
		return err
	}
	if err := d.ledger.RecordDeleted(annot); err != nil {
		return err
	}
	if popup != nil {
		if err := d.ledger.RecordDeleted(*popup); err != nil {
			return err
		}
	}
	d.log.Debug("annotation deleted", logRef(annot))
	return nil
}

// SetAnnotationContents replaces the /Contents text of annot.
func (d *Document) SetAnnotationContents(ctx context.Context, annot raw.ObjectRef, text string) error {
	obj, err := d.Object(ctx, annot)
	if err != nil {
		return err
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return fmt.Errorf("%v is %s: %w", annot, obj.Type(), ErrNotAnnotation)
	}
	dict = raw.Clone(dict).(*raw.DictObj)
	dict.Set("Contents", raw.TextString(text))
	return d.ledger.RecordModified(annot, dict)
}

// AnnotationContents returns the /Contents text of annot.
func (d *Document) AnnotationContents(ctx context.Context, annot raw.ObjectRef) (string, error) {
	dict, err := d.resolveDict(ctx, raw.RefObj{R: annot})
	if err != nil {
		return "", err
	}
	if dict == nil {
		return "", fmt.Errorf("%v: %w", annot, ErrUnknownObject)
	}
	switch s := valueOf(dict, "Contents").(type) {
	case raw.StringObj:
		return raw.DecodeTextString(s.Bytes), nil
	case raw.HexStringObj:
		return raw.DecodeTextString(s.Bytes), nil
	}
	return "", nil
}
