package document

import (
	"context"
	"sync"

	"github.com/wudi/pdfstore/ir/raw"
)

// FontCache maps base font names to font objects already present in the
// document, so adding text does not duplicate fonts.
type FontCache struct {
	mu    sync.Mutex
	fonts map[string]raw.ObjectRef
}

func NewFontCache() *FontCache { return &FontCache{fonts: make(map[string]raw.ObjectRef)} }

func (c *FontCache) Get(baseFont string) (raw.ObjectRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.fonts[baseFont]
	return r, ok
}

// Put records ref for baseFont. An existing entry is kept.
func (c *FontCache) Put(baseFont string, ref raw.ObjectRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.fonts[baseFont]; !ok {
		c.fonts[baseFont] = ref
	}
}

func (c *FontCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fonts)
}

// Resolver dereferences objects.
type Resolver interface {
	Resolve(ctx context.Context, obj raw.Object) (raw.Object, error)
}

// ScanAndRegister adds every indirect font of a /Resources dictionary.
func (c *FontCache) ScanAndRegister(ctx context.Context, r Resolver, resources raw.Object) error {
	res, err := r.Resolve(ctx, resources)
	if err != nil {
		return err
	}
	rd, ok := res.(*raw.DictObj)
	if !ok {
		return nil
	}
	fontsObj, err := r.Resolve(ctx, valueOf(rd, "Font"))
	if err != nil {
		return err
	}
	fonts, ok := fontsObj.(*raw.DictObj)
	if !ok {
		return nil
	}
	for _, key := range fonts.Keys() {
		ref, ok := fonts.GetRef(key)
		if !ok {
			continue
		}
		obj, err := r.Resolve(ctx, raw.RefObj{R: ref})
		if err != nil {
			return err
		}
		fd, ok := obj.(*raw.DictObj)
		if !ok {
			continue
		}
		if base, ok := fd.GetName("BaseFont"); ok {
			c.Put(base, ref)
		}
	}
	return nil
}

// EnsureFont returns a font object for baseFont, adding a simple Type1
// font only when no page already uses one.
func (d *Document) EnsureFont(ctx context.Context, baseFont string) (raw.ObjectRef, error) {
	if ref, ok := d.fonts.Get(baseFont); ok {
		return ref, nil
	}
	pages, err := d.Pages(ctx)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	for _, p := range pages {
		dict, err := d.pageDict(ctx, p)
		if err != nil {
			return raw.ObjectRef{}, err
		}
		if err := d.fonts.ScanAndRegister(ctx, d, valueOf(dict, "Resources")); err != nil {
			return raw.ObjectRef{}, err
		}
	}
	if ref, ok := d.fonts.Get(baseFont); ok {
		return ref, nil
	}
	font := raw.Dict()
	font.Set("Type", raw.NameLiteral("Font"))
	font.Set("Subtype", raw.NameLiteral("Type1"))
	font.Set("BaseFont", raw.NameLiteral(baseFont))
	font.Set("Encoding", raw.NameLiteral("WinAnsiEncoding"))
	ref, err := d.AddObject(font)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	d.fonts.Put(baseFont, ref)
	return ref, nil
}
