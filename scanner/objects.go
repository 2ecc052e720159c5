package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/wudi/pdfstore/ir/raw"
	"github.com/wudi/pdfstore/recovery"
)

type streamLengthSetter interface{ SetNextStreamLength(int64) }

// TokenReader adds push-back on top of a Scanner.
type TokenReader struct {
	s            interface{ Next() (Token, error) }
	buf          []Token
	lengthSetter streamLengthSetter
}

func NewTokenReader(src interface{ Next() (Token, error) }) *TokenReader {
	tr := &TokenReader{s: src}
	if setter, ok := src.(streamLengthSetter); ok {
		tr.lengthSetter = setter
	}
	return tr
}

func (r *TokenReader) Next() (Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *TokenReader) Unread(tok Token) { r.buf = append(r.buf, tok) }

// SetStreamLengthHint tells the scanner how many payload bytes the next
// stream declares. A negative value clears the hint.
func (r *TokenReader) SetStreamLengthHint(n int64) {
	if r.lengthSetter != nil {
		r.lengthSetter.SetNextStreamLength(n)
	}
}

// ExpectKeyword consumes the next token and checks it is keyword kw.
func (r *TokenReader) ExpectKeyword(kw string) error {
	tok, err := r.Next()
	if err != nil {
		return err
	}
	if tok.Type != TokenKeyword || tok.Str != kw {
		return fmt.Errorf("expected %q at offset %d", kw, tok.Pos)
	}
	return nil
}

// RefFromToken converts a reference token, rejecting out-of-range numbers.
func RefFromToken(tok Token) (raw.ObjectRef, error) {
	if tok.Int < 0 || tok.Int > math.MaxUint32 || tok.Gen < 0 || tok.Gen > math.MaxUint16 {
		return raw.ObjectRef{}, fmt.Errorf("reference %d %d out of range", tok.Int, tok.Gen)
	}
	return raw.ObjectRef{Num: uint32(tok.Int), Gen: uint16(tok.Gen)}, nil
}

// ParseObject reads one direct object. Streams are not assembled here:
// a dictionary is returned and the caller decides whether a stream follows.
func ParseObject(tr *TokenReader, rec recovery.Strategy, loc recovery.Location) (raw.Object, error) {
	tok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case TokenName:
		return raw.NameObj{Val: tok.Str}, nil
	case TokenNumber:
		if tok.IsInt {
			return raw.NumberInt(tok.Int), nil
		}
		return raw.NumberFloat(tok.Float), nil
	case TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case TokenNull:
		return raw.NullObj{}, nil
	case TokenString:
		if tok.Hex {
			return raw.HexStr(tok.Bytes), nil
		}
		return raw.Str(tok.Bytes), nil
	case TokenArray:
		return parseArray(tr, rec, loc)
	case TokenDict:
		return parseDict(tr, rec, loc)
	case TokenRef:
		ref, err := RefFromToken(tok)
		if err != nil {
			return nil, err
		}
		return raw.RefObj{R: ref}, nil
	case TokenKeyword:
		if tok.Str == "endobj" {
			return nil, errors.New("unexpected endobj")
		}
	}
	return nil, fmt.Errorf("unexpected token %q at offset %d", tok.Str, tok.Pos)
}

func parseArray(tr *TokenReader, rec recovery.Strategy, loc recovery.Location) (raw.Object, error) {
	arr := &raw.ArrayObj{}
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Str == "]" {
			break
		}
		tr.Unread(tok)
		item, err := ParseObject(tr, rec, loc)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
	return arr, nil
}

func parseDict(tr *TokenReader, rec recovery.Strategy, loc recovery.Location) (raw.Object, error) {
	d := raw.Dict()
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Str == ">>" {
			break
		}
		if tok.Type != TokenName {
			if (tok.Type == TokenKeyword && tok.Str == "endobj") || tok.Type == TokenStream {
				err := errors.New("dictionary not closed (missing >>?)")
				loc.ByteOffset = tok.Pos
				loc.Component = "parser:dict"
				if recovery.Decide(context.Background(), rec, err, loc).Continues() {
					tr.Unread(tok)
					break
				}
				return nil, err
			}
			return nil, fmt.Errorf("expected name in dict at offset %d", tok.Pos)
		}
		val, err := ParseObject(tr, rec, loc)
		if err != nil {
			return nil, err
		}
		// a null value is equivalent to the key being absent
		if _, isNull := val.(raw.NullObj); isNull {
			continue
		}
		d.Set(tok.Str, val)
	}
	return d, nil
}

// ObjStmMember is one "number offset" pair of an object stream header.
// Offset is relative to the stream's /First.
type ObjStmMember struct {
	Num    uint32
	Offset int64
}

// ParseObjStmHeader reads the n header pairs of a decoded object stream.
func ParseObjStmHeader(data []byte, n int) ([]ObjStmMember, error) {
	s := New(bytes.NewReader(data), Config{})
	out := make([]ObjStmMember, 0, n)
	for i := 0; i < n; i++ {
		var pair [2]int64
		for j := range pair {
			tok, err := s.Next()
			if err != nil {
				return nil, fmt.Errorf("object stream header entry %d: %w", i, err)
			}
			if tok.Type != TokenNumber || !tok.IsInt || tok.Int < 0 {
				return nil, fmt.Errorf("object stream header entry %d is not an integer", i)
			}
			pair[j] = tok.Int
		}
		if pair[0] > math.MaxUint32 {
			return nil, fmt.Errorf("object stream member %d out of range", pair[0])
		}
		out = append(out, ObjStmMember{Num: uint32(pair[0]), Offset: pair[1]})
	}
	return out, nil
}
