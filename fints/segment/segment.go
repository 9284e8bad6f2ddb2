// Package segment implements the FinTS data element grammar: values, binary
// fields, data element groups and segments, with the wire codec for them.
//
// Text values are kept unescaped in memory. Escaping with '?' and the
// ISO-8859-1 conversion happen only when a segment is written or parsed.
package segment

import (
	"bytes"
	"strconv"
)

// Segment is one "name:nr:version[:ref]+...'" record.
// Nr is assigned when the segment is added to a message.
type Segment struct {
	Name    string
	Nr      int
	Version int
	Ref     int

	elements []Element
}

func New(name string, version int, elements ...Element) *Segment {
	return &Segment{Name: name, Version: version, elements: elements}
}

// WithRef sets the reference to another segment number and returns s.
func (s *Segment) WithRef(ref int) *Segment {
	s.Ref = ref
	return s
}

func (s *Segment) Len() int { return len(s.elements) }

func (s *Segment) Elements() []Element { return s.elements }

// El returns the n-th top level element (1-based). Out of range access panics.
func (s *Segment) El(n int) Element {
	e, ok := s.Get(n)
	if !ok {
		panic("segment: " + s.Name + " element " + strconv.Itoa(n) + " out of range (len " + strconv.Itoa(len(s.elements)) + ")")
	}
	return e
}

func (s *Segment) Get(n int) (Element, bool) {
	if n < 1 || n > len(s.elements) {
		return Element{}, false
	}
	return s.elements[n-1], true
}

// Text returns the string of the n-th element or "" when it is missing.
func (s *Segment) Text(n int) string {
	e, ok := s.Get(n)
	if !ok {
		return ""
	}
	return e.String()
}

// Set replaces the n-th element, padding with Null when the segment is shorter.
func (s *Segment) Set(n int, e Element) {
	for len(s.elements) < n {
		s.elements = append(s.elements, Null())
	}
	s.elements[n-1] = e
}

func (s *Segment) Append(e ...Element) {
	s.elements = append(s.elements, e...)
}

func (s *Segment) Clone() *Segment {
	c := *s
	c.elements = make([]Element, len(s.elements))
	for i, e := range s.elements {
		c.elements[i] = e.Clone()
	}
	return &c
}

func (s *Segment) Equal(o *Segment) bool {
	if s.Name != o.Name || s.Nr != o.Nr || s.Version != o.Version || s.Ref != o.Ref || len(s.elements) != len(o.elements) {
		return false
	}
	for i := range s.elements {
		if !s.elements[i].Equal(o.elements[i]) {
			return false
		}
	}
	return true
}

// Bytes returns the wire form including the terminating apostrophe.
func (s *Segment) Bytes() []byte {
	var buf bytes.Buffer
	writeSegment(&buf, s)
	return buf.Bytes()
}

func (s *Segment) String() string {
	return decodeText(s.Bytes())
}

// Encode writes the wire form of all segments in order.
func Encode(segments ...*Segment) []byte {
	var buf bytes.Buffer
	for _, s := range segments {
		writeSegment(&buf, s)
	}
	return buf.Bytes()
}
