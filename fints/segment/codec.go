package segment

import (
	"bytes"
	"strconv"

	"github.com/alapierre/go-fints-client/fints/parser"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const (
	escapeChar    = '?'
	reservedChars = "?:+'@"
)

func encodeText(s string) []byte {
	b, err := encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return b
}

func decodeText(b []byte) string {
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// DecodeText converts ISO-8859-1 wire bytes to a Go string.
func DecodeText(b []byte) string {
	return decodeText(b)
}

func escape(b []byte) []byte {
	if bytes.IndexAny(b, reservedChars) < 0 {
		return b
	}
	out := make([]byte, 0, len(b)+4)
	for _, c := range b {
		if bytes.IndexByte([]byte(reservedChars), c) >= 0 {
			out = append(out, escapeChar)
		}
		out = append(out, c)
	}
	return out
}

func unescape(b []byte) []byte {
	if bytes.IndexByte(b, escapeChar) < 0 {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] == escapeChar && i+1 < len(b) {
			i++
		}
		out = append(out, b[i])
	}
	return out
}

func writeElement(buf *bytes.Buffer, e Element) {
	switch e.kind {
	case KindValue:
		if !e.null {
			buf.Write(escape(encodeText(e.text)))
		}
	case KindBinary:
		buf.WriteByte('@')
		buf.WriteString(strconv.Itoa(len(e.data)))
		buf.WriteByte('@')
		buf.Write(e.data)
	case KindGroup:
		for i, m := range e.members {
			if i > 0 {
				buf.WriteByte(':')
			}
			writeElement(buf, m)
		}
	}
}

func writeSegment(buf *bytes.Buffer, s *Segment) {
	buf.WriteString(s.Name)
	buf.WriteByte(':')
	buf.WriteString(strconv.Itoa(s.Nr))
	buf.WriteByte(':')
	buf.WriteString(strconv.Itoa(s.Version))
	if s.Ref > 0 {
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(s.Ref))
	}
	for _, e := range s.elements {
		buf.WriteByte('+')
		writeElement(buf, e)
	}
	buf.WriteByte('\'')
}

// ParseAll splits a segment stream into segments. Line breaks between
// segments are ignored.
func ParseAll(data []byte) ([]*Segment, error) {
	sc := parser.New(data)
	var out []*Segment
	for {
		sc.SkipWhile("\r\n")
		if sc.EOF() {
			return out, nil
		}
		s, err := Parse(sc)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
}

// Parse reads one segment starting at the cursor. Error offsets are
// relative to the start of the segment.
func Parse(sc *parser.Scanner) (*Segment, error) {
	p := &segmentParser{sc: sc, start: sc.Pos()}
	return p.segment()
}

type segmentParser struct {
	sc    *parser.Scanner
	start int
}

func (p *segmentParser) errorf(format string, args ...any) error {
	e := p.sc.Errorf(format, args...)
	e.Pos -= p.start
	return e
}

func (p *segmentParser) headerField(name, delims string) (string, error) {
	p.sc.Mark("header")
	if !p.sc.Goto(delims) {
		return "", p.errorf("missing delimiter after segment %s", name)
	}
	return string(p.sc.FromMark("header")), nil
}

func (p *segmentParser) headerNumber(name, delims string) (int, error) {
	v, err := p.headerField(name, delims)
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.Atoi(v)
	if convErr != nil {
		return 0, p.errorf("segment %s %q is not a number", name, v)
	}
	return n, nil
}

func (p *segmentParser) segment() (*Segment, error) {
	s := &Segment{}
	var err error

	if s.Name, err = p.headerField("name", ":'+"); err != nil {
		return nil, err
	}
	if !p.sc.Is(':') {
		return nil, p.errorf("missing ':' after segment name %q", s.Name)
	}
	p.sc.Next()
	if s.Nr, err = p.headerNumber("number", ":'+"); err != nil {
		return nil, err
	}
	if !p.sc.Is(':') {
		return nil, p.errorf("missing ':' after segment number")
	}
	p.sc.Next()
	if s.Version, err = p.headerNumber("version", ":+'"); err != nil {
		return nil, err
	}
	if p.sc.Is(':') {
		p.sc.Next()
		if s.Ref, err = p.headerNumber("reference", "+'"); err != nil {
			return nil, err
		}
	}

	for {
		c, ok := p.sc.Current()
		if !ok {
			return nil, p.errorf("unexpected end of input in segment %s", s.Name)
		}
		if c == '\'' {
			p.sc.Next()
			return s, nil
		}
		if c != '+' {
			return nil, p.errorf("expected '+' or segment end, got %q", c)
		}
		p.sc.Next()
		e, err := p.element()
		if err != nil {
			return nil, err
		}
		s.elements = append(s.elements, e)
	}
}

func (p *segmentParser) element() (Element, error) {
	var members []Element
	for {
		m, err := p.member()
		if err != nil {
			return Element{}, err
		}
		members = append(members, m)
		if !p.sc.Is(':') {
			break
		}
		p.sc.Next()
	}
	if len(members) == 1 {
		return members[0], nil
	}
	return Element{kind: KindGroup, members: members}, nil
}

func (p *segmentParser) member() (Element, error) {
	if p.sc.Is('@') {
		return p.binary()
	}
	p.sc.Mark("field")
	if !p.sc.GotoUnescaped("+:'", escapeChar) {
		return Element{}, p.errorf("unexpected end of input inside a data element")
	}
	raw := p.sc.FromMark("field")
	if len(raw) == 0 {
		return Null(), nil
	}
	return Value(decodeText(unescape(raw))), nil
}

func (p *segmentParser) binary() (Element, error) {
	p.sc.Next()
	p.sc.Mark("binlen")
	if !p.sc.Goto("@") {
		return Element{}, p.errorf("binary length prefix is not terminated")
	}
	n, err := strconv.Atoi(string(p.sc.FromMark("binlen")))
	if err != nil || n < 0 {
		return Element{}, p.errorf("invalid binary length %q", p.sc.FromMark("binlen"))
	}
	p.sc.Next()
	b, takeErr := p.sc.Take(n)
	if takeErr != nil {
		return Element{}, p.errorf("binary field of %d bytes exceeds input", n)
	}
	c, ok := p.sc.Current()
	if !ok || (c != '+' && c != ':' && c != '\'') {
		return Element{}, p.errorf("binary field of %d bytes is not followed by a delimiter", n)
	}
	return Binary(append([]byte(nil), b...)), nil
}
