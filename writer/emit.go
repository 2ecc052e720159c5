package writer

import (
	"bytes"
	"compress/flate"
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"hash"
	"time"

	"github.com/wudi/pdfstore/filters"
	"github.com/wudi/pdfstore/ir/raw"
	"github.com/wudi/pdfstore/observability"
	"github.com/wudi/pdfstore/security"
	"github.com/wudi/pdfstore/xref"
)

// emitter holds what both strategies share: the configuration and the
// interceptor chain.
type emitter struct {
	cfg          Config
	log          observability.Logger
	interceptors []Interceptor
}

func newEmitter(cfg Config, interceptors []Interceptor) *emitter {
	return &emitter{cfg: cfg, log: observability.OrNop(cfg.Logger), interceptors: interceptors}
}

func (e *emitter) level() int {
	if e.cfg.CompressionLevel == 0 {
		return flate.DefaultCompression
	}
	return e.cfg.CompressionLevel
}

func (e *emitter) now() time.Time {
	if e.cfg.Now != nil {
		return e.cfg.Now()
	}
	return time.Now()
}

// save tracks one run of a strategy. Numbers for objects the save itself
// creates come from next, so the ledger only moves when the save commits.
type save struct {
	*emitter
	doc    Document
	w      *PositionWriter
	sec    security.Handler
	digest hash.Hash
	next   uint32
}

func (e *emitter) begin(doc Document, w *PositionWriter) *save {
	sec := doc.Security()
	if sec == nil {
		sec = security.NoopHandler()
	}
	return &save{emitter: e, doc: doc, w: w, sec: sec, digest: md5.New(), next: doc.Ledger().NextNumber()}
}

// allocate numbers an object written by this save, such as an object
// stream or the xref stream.
func (s *save) allocate() raw.ObjectRef {
	ref := raw.ObjectRef{Num: s.next}
	s.next++
	return ref
}

func (s *save) write(b []byte) error {
	s.digest.Write(b)
	_, err := s.w.Write(b)
	return err
}

// writeObject emits one indirect object and returns its offset. Edited
// streams get the configured content filter. Strings and streams are
// encrypted unless the object is the encryption dictionary itself.
func (s *save) writeObject(ctx context.Context, ref raw.ObjectRef, obj raw.Object, edited bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for _, ic := range s.interceptors {
		if err := ic.BeforeWrite(ctx, ref, obj); err != nil {
			return 0, fmt.Errorf("before write %v: %w", ref, err)
		}
	}
	out := obj
	if st, ok := out.(*raw.StreamObj); ok && edited {
		enc, err := s.encodeContent(st)
		if err != nil {
			return 0, fmt.Errorf("encode %v: %w", ref, err)
		}
		out = enc
	}
	if !s.isEncryptDict(ref) {
		enc, err := encryptObject(out, ref, s.sec)
		if err != nil {
			return 0, &security.Error{Op: "encrypt", Err: fmt.Errorf("%v: %w", ref, err)}
		}
		out = enc
	}
	off := s.w.Offset()
	body := serializeIndirect(ref, out)
	if err := s.write(body); err != nil {
		return 0, err
	}
	for _, ic := range s.interceptors {
		if err := ic.AfterWrite(ctx, ref, obj, int64(len(body))); err != nil {
			return 0, fmt.Errorf("after write %v: %w", ref, err)
		}
	}
	return off, nil
}

func (s *save) isEncryptDict(ref raw.ObjectRef) bool {
	t := s.doc.Trailer()
	return t.Encrypt != nil && *t.Encrypt == ref
}

func (s *save) encodeContent(st *raw.StreamObj) (*raw.StreamObj, error) {
	if s.cfg.ContentFilter == FilterNone || st.Dict == nil {
		return st, nil
	}
	if _, filtered := st.Dict.Get("Filter"); filtered {
		return st, nil
	}
	var (
		data []byte
		name string
		err  error
	)
	switch s.cfg.ContentFilter {
	case FilterFlate:
		data, err = filters.EncodeFlate(st.Data, s.level())
		name = "FlateDecode"
	case FilterLZW:
		data, err = filters.EncodeLZW(st.Data, 1)
		name = "LZWDecode"
	case FilterASCIIHex:
		data, name = filters.EncodeASCIIHex(st.Data), "ASCIIHexDecode"
	case FilterASCII85:
		data, name = filters.EncodeASCII85(st.Data), "ASCII85Decode"
	case FilterRunLength:
		data, name = filters.EncodeRunLength(st.Data), "RunLengthDecode"
	default:
		return nil, fmt.Errorf("unknown content filter %d", s.cfg.ContentFilter)
	}
	if err != nil {
		return nil, err
	}
	dict := raw.Clone(st.Dict).(*raw.DictObj)
	dict.Set("Filter", raw.NameLiteral(name))
	dict.Delete("DecodeParms")
	return raw.NewStream(dict, data), nil
}

// encryptObject returns a copy of obj with every string and the stream
// payload transformed by h. Inputs are never modified.
func encryptObject(obj raw.Object, ref raw.ObjectRef, h security.Handler) (raw.Object, error) {
	if !h.IsEncrypted() {
		return obj, nil
	}
	switch v := obj.(type) {
	case raw.StringObj:
		b, err := h.Encrypt(ref, v.Bytes, security.DataClassString)
		return raw.Str(b), err
	case raw.HexStringObj:
		b, err := h.Encrypt(ref, v.Bytes, security.DataClassString)
		return raw.HexStr(b), err
	case *raw.ArrayObj:
		arr := &raw.ArrayObj{Items: make([]raw.Object, len(v.Items))}
		for i, it := range v.Items {
			enc, err := encryptObject(it, ref, h)
			if err != nil {
				return nil, err
			}
			arr.Items[i] = enc
		}
		return arr, nil
	case *raw.DictObj:
		d := raw.Dict()
		for k, it := range v.KV {
			enc, err := encryptObject(it, ref, h)
			if err != nil {
				return nil, err
			}
			d.Set(k, enc)
		}
		return d, nil
	case *raw.StreamObj:
		dict := v.Dict
		if dict == nil {
			dict = raw.Dict()
		}
		encDict, err := encryptObject(dict, ref, h)
		if err != nil {
			return nil, err
		}
		data := v.Data
		if !security.SkipsStream(h, dict) {
			if data, err = h.Encrypt(ref, v.Data, security.ClassFor(dict)); err != nil {
				return nil, err
			}
		}
		return raw.NewStream(encDict.(*raw.DictObj), data), nil
	}
	return obj, nil
}

// fileID keeps the permanent half of the old identifier and derives the
// changing half from the bytes written by this save.
func (s *save) fileID(size uint32) [2][]byte {
	t := s.doc.Trailer()
	var tail [12]byte
	binary.BigEndian.PutUint32(tail[:4], size)
	binary.BigEndian.PutUint64(tail[4:], uint64(s.w.Offset()))
	s.digest.Write(tail[:])
	if !s.cfg.Deterministic {
		s.digest.Write([]byte(s.now().UTC().Format(time.RFC3339Nano)))
	}
	changing := s.digest.Sum(nil)
	permanent := changing
	if t.HasID && len(t.ID[0]) > 0 {
		permanent = append([]byte(nil), t.ID[0]...)
	}
	return [2][]byte{permanent, changing}
}

func buildTrailer(size uint32, t xref.Trailer, prev int64, id [2][]byte) *raw.DictObj {
	d := raw.Dict()
	d.Set("Size", raw.NumberInt(int64(size)))
	d.Set("Root", raw.RefObj{R: t.Root})
	if t.Info != nil {
		d.Set("Info", raw.RefObj{R: *t.Info})
	}
	switch {
	case t.Encrypt != nil:
		d.Set("Encrypt", raw.RefObj{R: *t.Encrypt})
	case t.EncryptDict != nil:
		d.Set("Encrypt", raw.Clone(t.EncryptDict))
	}
	d.Set("ID", raw.NewArray(raw.HexStr(id[0]), raw.HexStr(id[1])))
	if prev > 0 {
		d.Set("Prev", raw.NumberInt(prev))
	}
	return d
}

// writeXRef emits the cross-reference section and the file tail. With a
// stream ref the section is an xref stream whose own entry is added here;
// otherwise it is a classic table followed by the trailer dictionary.
func (s *save) writeXRef(entries []xref.Entry, trailer *raw.DictObj, stream *raw.ObjectRef) (int64, error) {
	off := s.w.Offset()
	var b bytes.Buffer
	if stream == nil {
		if err := xref.EncodeTable(&b, entries); err != nil {
			return 0, err
		}
		b.WriteString("trailer\n")
		appendDict(&b, trailer)
		b.WriteString("\n")
	} else {
		entries = append(entries, xref.InUseEntry(stream.Num, stream.Gen, off))
		st, err := s.xrefStream(entries, trailer)
		if err != nil {
			return 0, err
		}
		b.Write(serializeIndirect(*stream, st))
	}
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", off)
	if _, err := s.w.Write(b.Bytes()); err != nil {
		return 0, err
	}
	return off, nil
}

// xrefStream packs rows with the PNG Up predictor before Flate, so
// neighbouring offsets compress well.
func (s *save) xrefStream(entries []xref.Entry, trailer *raw.DictObj) (*raw.StreamObj, error) {
	index, widths, rows, err := xref.EncodeStream(entries)
	if err != nil {
		return nil, err
	}
	size, _ := trailer.GetInt("Size")
	dict := xref.StreamDict(index, widths, uint32(size))
	for _, k := range trailer.Keys() {
		if k != "Size" {
			dict.Set(k, trailer.KV[k])
		}
	}
	fc := filters.DefaultContext(0)
	fc.Predictor = filters.PredictorPNGUp
	fc.Columns = widths[0] + widths[1] + widths[2]
	predicted, err := filters.PredictorApply(rows, fc)
	if err != nil {
		return nil, err
	}
	data, err := filters.EncodeFlate(predicted, s.level())
	if err != nil {
		return nil, err
	}
	dict.Set("Filter", raw.NameLiteral("FlateDecode"))
	if parms := fc.Parms(); parms != nil {
		dict.Set("DecodeParms", parms)
	}
	return raw.NewStream(dict, data), nil
}

func nextGeneration(g uint16) uint16 {
	if g >= xref.MaxGeneration {
		return xref.MaxGeneration
	}
	return g + 1
}
