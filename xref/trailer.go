package xref

import (
	"errors"

	"github.com/wudi/pdfstore/ir/raw"
)

// Trailer is the document-level information of the newest cross-reference
// section. IsCompressedXref records whether that section is an xref stream
// and is never changed for the rest of the update chain.
type Trailer struct {
	Root    raw.ObjectRef
	Info    *raw.ObjectRef
	Encrypt *raw.ObjectRef
	// EncryptDict holds a direct /Encrypt dictionary, which some producers write.
	EncryptDict *raw.DictObj
	ID          [2][]byte
	HasID       bool
	Size        uint32
	// Prev is the offset of the previous section, 0 when there is none.
	Prev             int64
	IsCompressedXref bool
	// XRefOffset is where the newest section starts (the startxref value).
	XRefOffset int64
	Dict       *raw.DictObj
}

// Encrypted reports whether the trailer names an encryption dictionary.
func (t Trailer) Encrypted() bool { return t.Encrypt != nil || t.EncryptDict != nil }

// ParseTrailer reads the keys of a trailer or xref stream dictionary.
func ParseTrailer(d *raw.DictObj) (Trailer, error) {
	if d == nil {
		return Trailer{}, errors.New("trailer dictionary missing")
	}
	t := Trailer{Dict: d}
	root, ok := d.GetRef("Root")
	if !ok {
		return t, errors.New("trailer has no /Root reference")
	}
	t.Root = root
	if size, ok := d.GetInt("Size"); ok && size > 0 {
		t.Size = uint32(size)
	}
	if prev, ok := d.GetInt("Prev"); ok && prev > 0 {
		t.Prev = prev
	}
	if info, ok := d.GetRef("Info"); ok {
		t.Info = &info
	}
	if enc, ok := d.GetRef("Encrypt"); ok {
		t.Encrypt = &enc
	} else if enc, ok := d.GetDict("Encrypt"); ok {
		t.EncryptDict = enc
	}
	if ids, ok := d.GetArray("ID"); ok && ids.Len() == 2 {
		t.ID[0], t.ID[1] = stringBytes(ids.Items[0]), stringBytes(ids.Items[1])
		t.HasID = t.ID[0] != nil
	}
	return t, nil
}

func stringBytes(o raw.Object) []byte {
	switch s := o.(type) {
	case raw.StringObj:
		return s.Bytes
	case raw.HexStringObj:
		return s.Bytes
	}
	return nil
}
