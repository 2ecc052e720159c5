package document

import (
	"context"
	"fmt"

	"github.com/wudi/pdfstore/ir/raw"
)

// Pages returns the page objects in document order.
func (d *Document) Pages(ctx context.Context) ([]raw.ObjectRef, error) {
	d.initMu.Lock()
	defer d.initMu.Unlock()
	return d.pages(ctx)
}

func (d *Document) pages(ctx context.Context) ([]raw.ObjectRef, error) {
	cat, err := d.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	root, ok := cat.GetRef("Pages")
	if !ok {
		return nil, fmt.Errorf("catalog has no /Pages reference")
	}
	var out []raw.ObjectRef
	visited := make(map[raw.ObjectRef]bool)
	if err := d.walkPages(ctx, root, visited, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Document) walkPages(ctx context.Context, ref raw.ObjectRef, visited map[raw.ObjectRef]bool, out *[]raw.ObjectRef) error {
	if visited[ref] {
		d.log.Warn("page tree cycle", logRef(ref))
		return nil
	}
	visited[ref] = true
	node, err := d.resolveDict(ctx, raw.RefObj{R: ref})
	if err != nil {
		return err
	}
	if node == nil {
		return nil
	}
	typ, _ := node.GetName("Type")
	kids, err := d.Resolve(ctx, valueOf(node, "Kids"))
	if err != nil {
		return err
	}
	arr, isTree := kids.(*raw.ArrayObj)
	if typ == "Page" || (!isTree && typ != "Pages") {
		*out = append(*out, ref)
		return nil
	}
	if !isTree {
		return nil
	}
	for _, kid := range arr.Items {
		r, ok := kid.(raw.RefObj)
		if !ok {
			continue
		}
		if err := d.walkPages(ctx, r.R, visited, out); err != nil {
			return err
		}
	}
	return nil
}

// PageCount returns the number of pages reachable from the page tree.
func (d *Document) PageCount(ctx context.Context) (int, error) {
	pages, err := d.Pages(ctx)
	return len(pages), err
}

// Page returns the page at index, counting from 0.
func (d *Document) Page(ctx context.Context, index int) (raw.ObjectRef, error) {
	pages, err := d.Pages(ctx)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	if index < 0 || index >= len(pages) {
		return raw.ObjectRef{}, fmt.Errorf("page %d of %d: %w", index, len(pages), ErrNoPage)
	}
	return pages[index], nil
}

func valueOf(d *raw.DictObj, key string) raw.Object {
	v, ok := d.Get(key)
	if !ok {
		return raw.NullObj{}
	}
	return v
}
