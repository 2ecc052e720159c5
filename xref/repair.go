package xref

import (
	"context"
	"errors"
	"io"
	"math"

	"github.com/wudi/pdfstore/ir/raw"
	"github.com/wudi/pdfstore/observability"
	"github.com/wudi/pdfstore/recovery"
	"github.com/wudi/pdfstore/scanner"
)

type objStmRef struct {
	num  uint32
	dict *raw.DictObj
	data []byte
}

// repair scans the entire file to reconstruct the xref table.
// It looks for "<num> <gen> obj" patterns, trailer dictionaries and
// xref stream dictionaries; later definitions win. Members of object
// streams found on the way are registered as compressed entries.
func (r *Resolver) repair(ctx context.Context, src io.ReaderAt, size int64) (*Table, error) {
	s := scanner.New(src, scanner.Config{Recovery: r.cfg.Recovery})
	tr := scanner.NewTokenReader(s)
	t := newTable()
	t.repaired = true

	var (
		trailer *raw.DictObj
		catalog *raw.ObjectRef
		objStms []objStmRef
		window  []scanner.Token
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pos := s.Position()
		tok, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Skip invalid tokens during repair scan
			if s.Position() <= pos {
				if err := s.SeekTo(pos + 1); err != nil {
					return nil, err
				}
			}
			window = window[:0]
			continue
		}

		switch {
		case tok.Type == scanner.TokenNumber && tok.IsInt:
			window = append(window, tok)
			if len(window) > 2 {
				window = window[1:]
			}
			continue
		case tok.Type == scanner.TokenKeyword && tok.Str == "obj" && len(window) == 2:
			numTok, genTok := window[0], window[1]
			window = window[:0]
			if numTok.Int <= 0 || numTok.Int > math.MaxUint32 || genTok.Int < 0 || genTok.Int > MaxGeneration {
				continue
			}
			ref := raw.ObjectRef{Num: uint32(numTok.Int), Gen: uint16(genTok.Int)}
			t.entries[ref.Num] = InUseEntry(ref.Num, ref.Gen, numTok.Pos)

			loc := recovery.Location{ByteOffset: numTok.Pos, ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "repair"}
			obj, err := scanner.ParseObject(tr, r.cfg.Recovery, loc)
			if err != nil {
				continue
			}
			dict, ok := obj.(*raw.DictObj)
			if !ok {
				continue
			}
			switch typ, _ := dict.GetName("Type"); typ {
			case "Catalog":
				catalog = &ref
			case "XRef":
				if _, ok := dict.GetRef("Root"); ok {
					trailer = dict
				}
			case "ObjStm":
				if l, ok := dict.GetInt("Length"); ok {
					tr.SetStreamLengthHint(l)
				}
				next, err := tr.Next()
				if err != nil {
					continue
				}
				if next.Type != scanner.TokenStream {
					tr.Unread(next)
					continue
				}
				objStms = append(objStms, objStmRef{num: ref.Num, dict: dict, data: next.Bytes})
			}
		case tok.Type == scanner.TokenKeyword && tok.Str == "trailer":
			obj, err := scanner.ParseObject(tr, r.cfg.Recovery, recovery.Location{ByteOffset: tok.Pos, Component: "repair"})
			if err == nil {
				if dict, ok := obj.(*raw.DictObj); ok {
					if _, ok := dict.GetRef("Root"); ok {
						trailer = dict
					}
				}
			}
		}
		window = window[:0]
	}

	for _, stm := range objStms {
		r.registerObjStm(ctx, t, stm)
	}
	if len(t.entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}
	t.entries[0] = FreeEntry(0, MaxGeneration)

	if trailer == nil {
		if catalog == nil {
			return nil, errors.New("repair failed: no document catalog")
		}
		// Construct minimal trailer if missing
		trailer = raw.Dict()
		trailer.Set("Root", raw.RefObj{R: *catalog})
	}
	parsed, err := ParseTrailer(trailer)
	if err != nil {
		return nil, err
	}
	for _, e := range t.entries {
		if e.Kind == Compressed {
			parsed.IsCompressedXref = true
			break
		}
	}
	parsed.Prev = 0
	t.trailer = parsed
	t.trailer.Size = t.Size()
	return t, nil
}

func (r *Resolver) registerObjStm(ctx context.Context, t *Table, stm objStmRef) {
	decoded, err := r.pipeline.DecodeStream(ctx, raw.NewStream(stm.dict, stm.data))
	if err != nil {
		r.log.Warn("repair: object stream unreadable", observability.Int64("object", int64(stm.num)), observability.Error("error", err))
		return
	}
	n, _ := stm.dict.GetInt("N")
	members, err := scanner.ParseObjStmHeader(decoded, int(n))
	if err != nil {
		return
	}
	for i, m := range members {
		if e, ok := t.entries[m.Num]; ok && e.Kind == InUse {
			continue
		}
		t.entries[m.Num] = CompressedEntry(m.Num, stm.num, uint32(i))
	}
}
