package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/wudi/pdfstore/filters"
	"github.com/wudi/pdfstore/ir/raw"
	"github.com/wudi/pdfstore/observability"
	"github.com/wudi/pdfstore/recovery"
	"github.com/wudi/pdfstore/scanner"
	"github.com/wudi/pdfstore/security"
	"github.com/wudi/pdfstore/xref"
)

// ErrObjectNotFound is returned for references the cross-reference table
// does not list as in use. Readers treat such references as null.
var ErrObjectNotFound = errors.New("object not found")

type Cache interface {
	Get(ref raw.ObjectRef) (raw.Object, bool)
	Put(ref raw.ObjectRef, obj raw.Object)
}

type memCache struct {
	mu sync.RWMutex
	m  map[raw.ObjectRef]raw.Object
}

func newMemCache() *memCache { return &memCache{m: make(map[raw.ObjectRef]raw.Object)} }

func (c *memCache) Get(ref raw.ObjectRef) (raw.Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.m[ref]
	return o, ok
}

func (c *memCache) Put(ref raw.ObjectRef, obj raw.Object) {
	c.mu.Lock()
	c.m[ref] = obj
	c.mu.Unlock()
}

type LoaderBuilder struct {
	src        io.ReaderAt
	size       int64
	table      *xref.Table
	security   security.Handler
	limits     security.Limits
	cache      Cache
	recovery   recovery.Strategy
	logger     observability.Logger
	pipeline   *filters.Pipeline
	encryptRef *raw.ObjectRef
}

// NewLoaderBuilder starts a loader over src, whose objects are located by
// table.
func NewLoaderBuilder(src io.ReaderAt, size int64, table *xref.Table) *LoaderBuilder {
	return &LoaderBuilder{src: src, size: size, table: table}
}

func (b *LoaderBuilder) WithSecurity(h security.Handler) *LoaderBuilder {
	b.security = h
	return b
}
func (b *LoaderBuilder) WithLimits(l security.Limits) *LoaderBuilder {
	b.limits = l
	return b
}
func (b *LoaderBuilder) WithCache(c Cache) *LoaderBuilder { b.cache = c; return b }
func (b *LoaderBuilder) WithRecovery(r recovery.Strategy) *LoaderBuilder {
	b.recovery = r
	return b
}
func (b *LoaderBuilder) WithLogger(l observability.Logger) *LoaderBuilder {
	b.logger = l
	return b
}
func (b *LoaderBuilder) WithPipeline(p *filters.Pipeline) *LoaderBuilder {
	b.pipeline = p
	return b
}

// WithEncryptRef names the encryption dictionary, which is never decrypted.
func (b *LoaderBuilder) WithEncryptRef(ref *raw.ObjectRef) *LoaderBuilder {
	b.encryptRef = ref
	return b
}

func (b *LoaderBuilder) Build() (*Loader, error) {
	if b.src == nil || b.table == nil {
		return nil, errors.New("reader and xref table required")
	}
	limits := b.limits.WithDefaults()
	l := &Loader{
		src:        b.src,
		size:       b.size,
		table:      b.table,
		security:   b.security,
		limits:     limits,
		cache:      b.cache,
		recovery:   b.recovery,
		log:        observability.OrNop(b.logger),
		pipeline:   b.pipeline,
		encryptRef: b.encryptRef,
		objstm:     make(map[uint32]*objStm),
	}
	if l.security == nil {
		l.security = security.NoopHandler()
	}
	if l.cache == nil {
		l.cache = newMemCache()
	}
	if l.pipeline == nil {
		l.pipeline = filters.DefaultPipeline(filters.Limits{
			MaxDecompressedSize: limits.MaxDecompressedSize,
			MaxDecodeTime:       limits.MaxDecodeTime,
		})
	}
	return l, nil
}

// Loader materializes objects lazily. It is safe for concurrent use; each
// load scans with its own scanner over the shared reader.
type Loader struct {
	src        io.ReaderAt
	size       int64
	table      *xref.Table
	security   security.Handler
	limits     security.Limits
	cache      Cache
	recovery   recovery.Strategy
	log        observability.Logger
	pipeline   *filters.Pipeline
	encryptRef *raw.ObjectRef

	mu     sync.Mutex
	objstm map[uint32]*objStm
}

// objStm is a decoded object stream.
type objStm struct {
	data    []byte
	first   int64
	members []scanner.ObjStmMember
}

func (l *Loader) Table() *xref.Table        { return l.table }
func (l *Loader) Pipeline() *filters.Pipeline { return l.pipeline }

// Load returns the object ref points at. Objects are cached after their
// first load; callers that edit must clone.
func (l *Loader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	return l.load(ctx, ref, 0)
}

// Resolve follows references until a direct object is reached. Missing
// objects resolve to null.
func (l *Loader) Resolve(ctx context.Context, obj raw.Object) (raw.Object, error) {
	for depth := 0; ; depth++ {
		r, ok := obj.(raw.RefObj)
		if !ok {
			return obj, nil
		}
		if depth >= l.limits.MaxIndirectDepth {
			return nil, fmt.Errorf("reference chain at %v exceeds depth %d", r.R, l.limits.MaxIndirectDepth)
		}
		next, err := l.Load(ctx, r.R)
		if errors.Is(err, ErrObjectNotFound) {
			return raw.NullObj{}, nil
		}
		if err != nil {
			return nil, err
		}
		obj = next
	}
}

func (l *Loader) load(ctx context.Context, ref raw.ObjectRef, depth int) (raw.Object, error) {
	if obj, ok := l.cache.Get(ref); ok {
		return obj, nil
	}
	if depth > l.limits.MaxIndirectDepth {
		return nil, fmt.Errorf("load %v: indirect depth exceeded", ref)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := l.table.Lookup(ref.Num)
	if !ok || e.Kind == xref.Free {
		return nil, fmt.Errorf("%v: %w", ref, ErrObjectNotFound)
	}
	var (
		obj raw.Object
		err error
	)
	switch e.Kind {
	case xref.InUse:
		if e.Gen != ref.Gen {
			return nil, fmt.Errorf("%v: generation %d in use: %w", ref, e.Gen, ErrObjectNotFound)
		}
		obj, err = l.loadAt(ctx, ref, e.Offset, depth)
	case xref.Compressed:
		if ref.Gen != 0 {
			return nil, fmt.Errorf("%v: %w", ref, ErrObjectNotFound)
		}
		obj, err = l.loadCompressed(ctx, ref, e, depth)
	}
	if err != nil {
		return nil, err
	}
	l.cache.Put(ref, obj)
	return obj, nil
}

func (l *Loader) scannerConfig() scanner.Config {
	return scanner.Config{
		Recovery:        l.recovery,
		MaxStringLength: l.limits.MaxStringLength,
		MaxArrayDepth:   l.limits.MaxIndirectDepth,
		MaxDictDepth:    l.limits.MaxIndirectDepth,
		MaxStreamLength: l.limits.MaxStreamLength,
	}
}

func (l *Loader) loadAt(ctx context.Context, ref raw.ObjectRef, off int64, depth int) (raw.Object, error) {
	if off < 0 || (l.size > 0 && off >= l.size) {
		return nil, &xref.StructuralError{Kind: xref.BadObjectOffset, Offset: off, Object: ref.Num,
			Err: errors.New("offset outside the file")}
	}
	s := scanner.New(l.src, l.scannerConfig())
	if err := s.SeekTo(off); err != nil {
		return nil, err
	}
	tr := scanner.NewTokenReader(s)
	if err := expectHeader(tr, ref); err != nil {
		return nil, &xref.StructuralError{Kind: xref.BadObjectOffset, Offset: off, Object: ref.Num, Err: err}
	}
	loc := recovery.Location{ByteOffset: off, ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "parser"}
	obj, err := scanner.ParseObject(tr, l.recovery, loc)
	if err != nil {
		return nil, fmt.Errorf("parse %v: %w", ref, err)
	}
	if dict, ok := obj.(*raw.DictObj); ok {
		n, err := l.streamLength(ctx, dict, depth)
		if err != nil {
			return nil, fmt.Errorf("stream length of %v: %w", ref, err)
		}
		tr.SetStreamLengthHint(n)
		tok, err := tr.Next()
		if err == nil && tok.Type == scanner.TokenStream {
			obj = raw.NewStream(dict, tok.Bytes)
		}
	}
	return l.decrypt(ref, obj)
}

func expectHeader(tr *scanner.TokenReader, ref raw.ObjectRef) error {
	num, err := tr.Next()
	if err != nil {
		return err
	}
	gen, err := tr.Next()
	if err != nil {
		return err
	}
	if num.Type != scanner.TokenNumber || !num.IsInt || num.Int != int64(ref.Num) ||
		gen.Type != scanner.TokenNumber || !gen.IsInt || gen.Int != int64(ref.Gen) {
		return fmt.Errorf("object header does not match %v", ref)
	}
	return tr.ExpectKeyword("obj")
}

// streamLength returns the declared /Length, resolving an indirect value,
// or -1 when it is missing or unusable.
func (l *Loader) streamLength(ctx context.Context, dict *raw.DictObj, depth int) (int64, error) {
	v, ok := dict.Get("Length")
	if !ok {
		return -1, nil
	}
	switch n := v.(type) {
	case raw.NumberObj:
		return n.Int(), nil
	case raw.RefObj:
		obj, err := l.load(ctx, n.R, depth+1)
		if errors.Is(err, ErrObjectNotFound) {
			return -1, nil
		}
		if err != nil {
			return -1, err
		}
		if num, ok := obj.(raw.NumberObj); ok {
			return num.Int(), nil
		}
		return -1, fmt.Errorf("length reference %v is not numeric", n.R)
	}
	return -1, nil
}

func (l *Loader) loadCompressed(ctx context.Context, ref raw.ObjectRef, e xref.Entry, depth int) (raw.Object, error) {
	stm, err := l.objectStream(ctx, e.Container, depth)
	if err != nil {
		return nil, err
	}
	idx := int(e.Index)
	if idx >= len(stm.members) || stm.members[idx].Num != ref.Num {
		// index disagrees with the header; trust the header
		idx = -1
		for i, m := range stm.members {
			if m.Num == ref.Num {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%v not in object stream %d: %w", ref, e.Container, ErrObjectNotFound)
		}
	}
	start := stm.first + stm.members[idx].Offset
	if start < 0 || start > int64(len(stm.data)) {
		return nil, &xref.StructuralError{Kind: xref.BadEncoding, Object: e.Container,
			Err: fmt.Errorf("member %d offset outside object stream", ref.Num)}
	}
	s := scanner.New(bytes.NewReader(stm.data), l.scannerConfig())
	if err := s.SeekTo(start); err != nil {
		return nil, err
	}
	loc := recovery.Location{ObjectNum: ref.Num, Component: "parser:objstm"}
	obj, err := scanner.ParseObject(scanner.NewTokenReader(s), l.recovery, loc)
	if err != nil {
		return nil, &xref.StructuralError{Kind: xref.BadEncoding, Object: e.Container, Err: err}
	}
	return obj, nil
}

// objectStream decodes and indexes container num once.
func (l *Loader) objectStream(ctx context.Context, num uint32, depth int) (*objStm, error) {
	l.mu.Lock()
	stm, ok := l.objstm[num]
	l.mu.Unlock()
	if ok {
		return stm, nil
	}
	obj, err := l.load(ctx, raw.ObjectRef{Num: num}, depth+1)
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", num, err)
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, &xref.StructuralError{Kind: xref.BadEncoding, Object: num, Err: errors.New("object stream is not a stream")}
	}
	n, _ := st.Dict.GetInt("N")
	first, _ := st.Dict.GetInt("First")
	if n < 0 || first < 0 {
		return nil, &xref.StructuralError{Kind: xref.BadEncoding, Object: num, Err: errors.New("invalid /N or /First")}
	}
	data, err := l.pipeline.DecodeStream(ctx, st)
	if err != nil {
		return nil, &xref.StructuralError{Kind: xref.BadEncoding, Object: num, Err: err}
	}
	if first > int64(len(data)) {
		return nil, &xref.StructuralError{Kind: xref.BadEncoding, Object: num, Err: errors.New("/First beyond decoded data")}
	}
	members, err := scanner.ParseObjStmHeader(data[:first], int(n))
	if err != nil {
		return nil, &xref.StructuralError{Kind: xref.BadEncoding, Object: num, Err: err}
	}
	stm = &objStm{data: data, first: first, members: members}
	l.mu.Lock()
	l.objstm[num] = stm
	l.mu.Unlock()
	return stm, nil
}

// DecodeStream returns the decoded payload of the stream ref.
func (l *Loader) DecodeStream(ctx context.Context, ref raw.ObjectRef) ([]byte, error) {
	obj, err := l.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("%v is %s, not a stream", ref, obj.Type())
	}
	return l.pipeline.DecodeStream(ctx, st)
}

func (l *Loader) decrypt(ref raw.ObjectRef, obj raw.Object) (raw.Object, error) {
	if !l.security.IsEncrypted() || (l.encryptRef != nil && *l.encryptRef == ref) {
		return obj, nil
	}
	if st, ok := obj.(*raw.StreamObj); ok {
		if err := l.decryptValues(ref, st.Dict); err != nil {
			return nil, err
		}
		if security.SkipsStream(l.security, st.Dict) {
			return st, nil
		}
		dec, err := l.security.Decrypt(ref, st.Data, security.ClassFor(st.Dict))
		if err != nil {
			return nil, &security.Error{Op: "decrypt stream " + ref.String(), Err: err}
		}
		st.Data = dec
		return st, nil
	}
	return l.decryptValue(ref, obj)
}

func (l *Loader) decryptValue(ref raw.ObjectRef, obj raw.Object) (raw.Object, error) {
	switch v := obj.(type) {
	case raw.StringObj:
		dec, err := l.security.Decrypt(ref, v.Bytes, security.DataClassString)
		if err != nil {
			return nil, &security.Error{Op: "decrypt string " + ref.String(), Err: err}
		}
		return raw.Str(dec), nil
	case raw.HexStringObj:
		dec, err := l.security.Decrypt(ref, v.Bytes, security.DataClassString)
		if err != nil {
			return nil, &security.Error{Op: "decrypt string " + ref.String(), Err: err}
		}
		return raw.HexStr(dec), nil
	case *raw.ArrayObj:
		for i, item := range v.Items {
			dec, err := l.decryptValue(ref, item)
			if err != nil {
				return nil, err
			}
			v.Items[i] = dec
		}
	case *raw.DictObj:
		if err := l.decryptValues(ref, v); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func (l *Loader) decryptValues(ref raw.ObjectRef, d *raw.DictObj) error {
	if d == nil {
		return nil
	}
	for k, item := range d.KV {
		dec, err := l.decryptValue(ref, item)
		if err != nil {
			return err
		}
		d.KV[k] = dec
	}
	return nil
}
