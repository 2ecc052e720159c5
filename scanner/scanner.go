package scanner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/wudi/pdfstore/recovery"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal or hex string
	TokenNumber                   // numeric value
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenRef                      // indirect ref '5 0 R'
	TokenStream                   // 'stream' keyword followed by payload
	TokenKeyword                  // other keywords (obj, endobj, >>, ], xref, trailer, ...)
)

// Token is a lexical PDF token. Which fields are set depends on Type:
// names and keywords use Str, strings and stream payloads use Bytes,
// numbers use Int/Float/IsInt, references use Int (number) and Gen.
type Token struct {
	Type  TokenType
	Pos   int64
	Str   string
	Bytes []byte
	Int   int64
	Float float64
	IsInt bool
	Bool  bool
	Gen   int64
	Hex   bool
}

type Scanner interface {
	Next() (Token, error)
	Position() int64
	SeekTo(offset int64) error
	SetNextStreamLength(n int64)
}

type Config struct {
	MaxStringLength int64
	MaxArrayDepth   int
	MaxDictDepth    int
	MaxStreamLength int64
	MaxStreamScan   int64
	WindowSize      int64
	Recovery        recovery.Strategy
}

// pdfScanner buffers PDF data from a ReaderAt in a sliding window that
// starts at base. Seeking outside the window restarts it.
type pdfScanner struct {
	reader        io.ReaderAt
	base          int64
	data          []byte
	pos           int64
	eof           bool
	cfg           Config
	nextStreamLen int64
	chunkSize     int64
	arrayDepth    int
	dictDepth     int
	recLoc        recovery.Location
}

// New returns a scanner positioned at offset 0 of r.
func New(r io.ReaderAt, cfg Config) Scanner {
	chunk := cfg.WindowSize
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	return &pdfScanner{reader: r, cfg: cfg, nextStreamLen: -1, chunkSize: chunk}
}

func (s *pdfScanner) Position() int64 { return s.pos }

func (s *pdfScanner) SeekTo(offset int64) error {
	if offset < 0 {
		return errors.New("seek out of range")
	}
	if offset < s.base || offset > s.base+int64(len(s.data)) {
		s.base = offset
		s.data = s.data[:0]
		s.eof = false
	}
	s.pos = offset
	s.arrayDepth, s.dictDepth = 0, 0
	s.nextStreamLen = -1
	return nil
}

func (s *pdfScanner) SetNextStreamLength(n int64)               { s.nextStreamLen = n }
func (s *pdfScanner) SetRecoveryLocation(loc recovery.Location) { s.recLoc = loc }

func (s *pdfScanner) Next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	start := s.pos
	c, err := s.byteAt(s.pos)
	if err != nil {
		return Token{}, err
	}
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return s.emit(Token{Type: TokenDict, Str: "<<", Pos: start})
		}
		return s.scanHexString()
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return s.emit(Token{Type: TokenKeyword, Str: ">>", Pos: start})
		}
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: ">", Pos: start})
	case '[':
		s.pos++
		return s.emit(Token{Type: TokenArray, Str: "[", Pos: start})
	case ']':
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: "]", Pos: start})
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isDigitStart(c) {
		return s.scanNumberOrRef()
	}
	if isRegular(c) {
		return s.scanKeyword()
	}
	s.pos++
	return s.emit(Token{Type: TokenKeyword, Str: string(c), Pos: start})
}

// fill makes sure p is inside the window, reading more data as needed.
func (s *pdfScanner) fill(p int64) error {
	if p < s.base {
		s.base = p
		s.data = s.data[:0]
		s.eof = false
	}
	for p >= s.base+int64(len(s.data)) {
		if s.eof {
			return io.EOF
		}
		if err := s.loadMore(); err != nil {
			return err
		}
	}
	return nil
}

func (s *pdfScanner) loadMore() error {
	buf := make([]byte, s.chunkSize)
	n, err := s.reader.ReadAt(buf, s.base+int64(len(s.data)))
	if n > 0 {
		s.data = append(s.data, buf[:n]...)
	}
	if errors.Is(err, io.EOF) || (err == nil && n == 0) {
		s.eof = true
		return nil
	}
	return err
}

func (s *pdfScanner) byteAt(p int64) (byte, error) {
	if err := s.fill(p); err != nil {
		return 0, err
	}
	return s.data[p-s.base], nil
}

// peek returns the byte n positions ahead, or 0 at end of input.
func (s *pdfScanner) peek(n int64) byte {
	c, err := s.byteAt(s.pos + n)
	if err != nil {
		return 0
	}
	return c
}

// slice copies [from, to) clamped to the available data.
func (s *pdfScanner) slice(from, to int64) []byte {
	if to > from {
		_ = s.fill(to - 1)
	}
	end := s.base + int64(len(s.data))
	if to > end {
		to = end
	}
	if from >= to {
		return []byte{}
	}
	return append([]byte(nil), s.data[from-s.base:to-s.base]...)
}

func (s *pdfScanner) skipWSAndComments() error {
	for {
		c, err := s.byteAt(s.pos)
		if err != nil {
			return err
		}
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c != '%' {
			return nil
		}
		for {
			s.pos++
			c, err := s.byteAt(s.pos)
			if err != nil {
				return err
			}
			if isEOL(c) {
				break
			}
		}
	}
}

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for {
		c, err := s.byteAt(s.pos)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Token{}, err
		}
		if isDelimiter(c) {
			break
		}
		if c == '#' {
			hi, lo := s.peek(1), s.peek(2)
			if isHex(hi) && isHex(lo) {
				out.WriteByte(fromHex(hi)<<4 | fromHex(lo))
				s.pos += 3
				continue
			}
		}
		out.WriteByte(c)
		s.pos++
	}
	return s.emit(Token{Type: TokenName, Str: out.String(), Pos: start})
}

func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
	for depth > 0 {
		c, err := s.byteAt(s.pos)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Token{}, err
		}
		s.pos++
		switch c {
		case '\\':
			esc, err := s.byteAt(s.pos)
			if err != nil {
				continue
			}
			s.pos++
			switch {
			case esc == '\r':
				if s.peek(0) == '\n' {
					s.pos++
				}
			case esc == '\n':
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				for k := 0; k < 2; k++ {
					d := s.peek(0)
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
			}
		case '(':
			depth++
			buf.WriteByte(c)
		case ')':
			depth--
			if depth > 0 {
				buf.WriteByte(c)
			}
		default:
			buf.WriteByte(c)
		}
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, errors.New("literal string too long")
		}
	}
	if depth != 0 {
		if err := s.recover(errors.New("unterminated literal string"), "literal"); err != nil {
			return Token{}, err
		}
	}
	return s.emit(Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start})
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	var nibbles []byte
	closed := false
	for {
		c, err := s.byteAt(s.pos)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Token{}, err
		}
		s.pos++
		if c == '>' {
			closed = true
			break
		}
		if isWhitespace(c) {
			continue
		}
		if !isHex(c) {
			if err := s.recover(errors.New("invalid hex digit"), "hex"); err != nil {
				return Token{}, err
			}
			continue
		}
		nibbles = append(nibbles, c)
	}
	if !closed {
		if err := s.recover(errors.New("unterminated hex string"), "hex"); err != nil {
			return Token{}, err
		}
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, '0')
	}
	if s.cfg.MaxStringLength > 0 && int64(len(nibbles)/2) > s.cfg.MaxStringLength {
		return Token{}, errors.New("hex string too long")
	}
	out := make([]byte, 0, len(nibbles)/2)
	for i := 0; i < len(nibbles); i += 2 {
		out = append(out, fromHex(nibbles[i])<<4|fromHex(nibbles[i+1]))
	}
	return s.emit(Token{Type: TokenString, Bytes: out, Hex: true, Pos: start})
}

// scanStream reads the payload following the 'stream' keyword. A declared
// length is trusted only if 'endstream' follows it; otherwise the payload
// ends at the first 'endstream' preceded by an end of line.
func (s *pdfScanner) scanStream(start int64) (Token, error) {
	switch s.peek(0) {
	case '\r':
		s.pos++
		if s.peek(0) == '\n' {
			s.pos++
		}
	case '\n':
		s.pos++
	default:
		if err := s.recover(errors.New("stream missing EOL before data"), "stream"); err != nil {
			return Token{}, err
		}
	}
	dataStart := s.pos
	declared := s.nextStreamLen
	s.nextStreamLen = -1

	if declared >= 0 {
		if s.cfg.MaxStreamLength > 0 && declared > s.cfg.MaxStreamLength {
			return Token{}, errors.New("stream too long")
		}
		end := dataStart + declared
		if p, ok := s.endstreamAt(end); ok {
			payload := s.slice(dataStart, end)
			s.pos = p
			return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
		}
		// wrong /Length: fall back to searching for the marker
	}

	idx, err := s.indexFrom(dataStart, []byte("endstream"))
	if err != nil {
		return Token{}, err
	}
	if idx < 0 {
		if err := s.recover(errors.New("endstream not found"), "stream"); err != nil {
			return Token{}, err
		}
		payload := s.slice(dataStart, s.base+int64(len(s.data)))
		s.pos = s.base + int64(len(s.data))
		return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
	}
	end := idx
	if end > dataStart && s.data[end-1-s.base] == '\n' {
		end--
	}
	if end > dataStart && s.data[end-1-s.base] == '\r' {
		end--
	}
	payload := s.slice(dataStart, end)
	if s.cfg.MaxStreamLength > 0 && int64(len(payload)) > s.cfg.MaxStreamLength {
		return Token{}, errors.New("stream too long")
	}
	s.pos = idx + int64(len("endstream"))
	return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
}

// endstreamAt reports whether 'endstream' follows p after optional
// whitespace, and returns the position just past it.
func (s *pdfScanner) endstreamAt(p int64) (int64, bool) {
	for i := 0; i < 4; i++ {
		c, err := s.byteAt(p)
		if err != nil || !isWhitespace(c) {
			break
		}
		p++
	}
	const kw = "endstream"
	for i := 0; i < len(kw); i++ {
		c, err := s.byteAt(p + int64(i))
		if err != nil || c != kw[i] {
			return 0, false
		}
	}
	return p + int64(len(kw)), true
}

// indexFrom finds needle at or after from, growing the window as needed.
func (s *pdfScanner) indexFrom(from int64, needle []byte) (int64, error) {
	if err := s.fill(from); err != nil && !errors.Is(err, io.EOF) {
		return -1, err
	}
	searched := from
	for {
		window := s.data[searched-s.base:]
		if i := bytes.Index(window, needle); i >= 0 {
			return searched + int64(i), nil
		}
		if s.cfg.MaxStreamScan > 0 && s.base+int64(len(s.data))-from > s.cfg.MaxStreamScan {
			return -1, nil
		}
		if s.eof {
			return -1, nil
		}
		// keep an overlap so a needle split across reads is still found
		if next := s.base + int64(len(s.data)) - int64(len(needle)); next > searched {
			searched = next
		}
		if err := s.loadMore(); err != nil {
			return -1, err
		}
	}
}

func (s *pdfScanner) scanKeyword() (Token, error) {
	start := s.pos
	var buf bytes.Buffer
	for {
		c, err := s.byteAt(s.pos)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Token{}, err
		}
		if isDelimiter(c) {
			break
		}
		buf.WriteByte(c)
		s.pos++
	}
	kw := buf.String()
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Str: kw, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Str: kw, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	default:
		return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
	}
}

func (s *pdfScanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	num1 := s.scanNumberString()
	if num1 == "" {
		s.pos++
		if err := s.recover(errors.New("invalid number"), "number"); err != nil {
			return Token{}, err
		}
		return s.Next()
	}
	afterFirst := s.pos
	if isUnsigned(num1) {
		if err := s.skipWSAndComments(); err == nil {
			num2 := s.scanNumberString()
			if isUnsigned(num2) {
				if err := s.skipWSAndComments(); err == nil && s.peek(0) == 'R' && isDelimiterOrEnd(s.peek(1)) {
					s.pos++
					n1, _ := strconv.ParseInt(num1, 10, 64)
					n2, _ := strconv.ParseInt(num2, 10, 64)
					return Token{Type: TokenRef, Int: n1, Gen: n2, IsInt: true, Pos: start}, nil
				}
			}
		}
		s.pos = afterFirst
	}
	if i, err := strconv.ParseInt(num1, 10, 64); err == nil {
		return s.emit(Token{Type: TokenNumber, Int: i, IsInt: true, Pos: start})
	}
	f, err := strconv.ParseFloat(normalizeReal(num1), 64)
	if err != nil {
		if rerr := s.recover(err, "number"); rerr != nil {
			return Token{}, rerr
		}
		f = 0
	}
	return s.emit(Token{Type: TokenNumber, Float: f, Pos: start})
}

func (s *pdfScanner) scanNumberString() string {
	start := s.pos
	var buf bytes.Buffer
	seenDigit := false
	for {
		c, err := s.byteAt(s.pos)
		if err != nil {
			break
		}
		if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
			buf.WriteByte(c)
			if c >= '0' && c <= '9' {
				seenDigit = true
			}
			s.pos++
			continue
		}
		break
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return buf.String()
}

func (s *pdfScanner) recover(err error, component string) error {
	location := s.recLoc
	location.ByteOffset = s.pos
	if location.Component != "" {
		location.Component += "->"
	}
	location.Component += "scanner:" + component
	switch recovery.Decide(context.Background(), s.cfg.Recovery, err, location) {
	case recovery.ActionSkip, recovery.ActionFix:
		return nil
	default:
		return err
	}
}

func (s *pdfScanner) emit(tok Token) (Token, error) {
	switch tok.Type {
	case TokenArray:
		s.arrayDepth++
		if s.cfg.MaxArrayDepth > 0 && s.arrayDepth > s.cfg.MaxArrayDepth {
			return Token{}, errors.New("array depth exceeded")
		}
	case TokenDict:
		s.dictDepth++
		if s.cfg.MaxDictDepth > 0 && s.dictDepth > s.cfg.MaxDictDepth {
			return Token{}, errors.New("dict depth exceeded")
		}
	case TokenKeyword:
		if tok.Str == "]" && s.arrayDepth > 0 {
			s.arrayDepth--
		}
		if tok.Str == ">>" && s.dictDepth > 0 {
			s.dictDepth--
		}
	}
	return tok, nil
}

func isDigitStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }
func isRegular(c byte) bool    { return !isDelimiter(c) && c > 0x20 && c < 0x7F }

func isUnsigned(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// normalizeReal accepts forms like "--3" or "4." that ParseFloat rejects.
func normalizeReal(s string) string {
	for len(s) > 1 && (s[0] == '-' || s[0] == '+') && (s[1] == '-' || s[1] == '+') {
		s = s[1:]
	}
	if s == "." || s == "-." || s == "+." {
		return "0"
	}
	return s
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}
func isEOL(c byte) bool { return c == '\r' || c == '\n' }
func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}
func isDelimiterOrEnd(c byte) bool { return c == 0 || isDelimiter(c) }

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}
