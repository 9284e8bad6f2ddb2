package segment

import (
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

type Kind int

const (
	KindValue Kind = iota
	KindBinary
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindBinary:
		return "binary"
	case KindGroup:
		return "group"
	}
	return "unknown"
}

// Element is a single data element: a text value, the NULL marker, a binary
// blob or a group of elements. Groups are always flat, the wire format has no
// way to express a group inside a group.
type Element struct {
	kind    Kind
	text    string
	null    bool
	data    []byte
	members []Element
}

// Value is a plain text field. An empty Value is written as an empty field
// and reads back as Null.
func Value(s string) Element {
	return Element{kind: KindValue, text: s}
}

func Int(n int) Element {
	return Value(strconv.Itoa(n))
}

// Null is the protocol "absent" marker. It is written as an empty field.
func Null() Element {
	return Element{kind: KindValue, null: true}
}

// OptionalValue returns Null for an empty string.
func OptionalValue(s string) Element {
	if s == "" {
		return Null()
	}
	return Value(s)
}

func Binary(b []byte) Element {
	return Element{kind: KindBinary, data: b}
}

// Group builds a data element group. Members that are groups themselves are
// spliced into the new group.
//
// A group with a single member has the same wire form as that member and
// reads back as a plain element. Only groups of two or more members survive
// a write and parse unchanged.
func Group(members ...Element) Element {
	flat := make([]Element, 0, len(members))
	for _, m := range members {
		if m.kind == KindGroup {
			flat = append(flat, m.members...)
			continue
		}
		flat = append(flat, m)
	}
	return Element{kind: KindGroup, members: flat}
}

func (e Element) Kind() Kind { return e.kind }

func (e Element) IsNull() bool { return e.kind == KindValue && e.null }

// String returns the text of a value, the raw content of a binary element
// decoded as ISO-8859-1, or the members of a group joined with ':'.
func (e Element) String() string {
	switch e.kind {
	case KindBinary:
		return decodeText(e.data)
	case KindGroup:
		parts := make([]string, len(e.members))
		for i, m := range e.members {
			parts[i] = m.String()
		}
		return strings.Join(parts, ":")
	}
	return e.text
}

// Bytes returns the raw content of a binary element or the wire encoding of a text value.
func (e Element) Bytes() []byte {
	switch e.kind {
	case KindBinary:
		return e.data
	case KindValue:
		if e.null {
			return nil
		}
		return encodeText(e.text)
	}
	return []byte(e.String())
}

func (e Element) Int() (int, error) {
	if e.kind != KindValue || e.null {
		return 0, errors.Errorf("element is not a number: %s", e.kind)
	}
	n, err := strconv.Atoi(strings.TrimSpace(e.text))
	if err != nil {
		return 0, errors.Wrapf(err, "parse number %q", e.text)
	}
	return n, nil
}

// Len returns the number of members. A value counts as a one member group.
func (e Element) Len() int {
	if e.kind == KindGroup {
		return len(e.members)
	}
	return 1
}

// Members returns the group members, or the element itself for values and binaries.
func (e Element) Members() []Element {
	if e.kind == KindGroup {
		return e.members
	}
	return []Element{e}
}

// El returns the n-th member (1-based). Out of range access panics.
func (e Element) El(n int) Element {
	m, ok := e.Get(n)
	if !ok {
		panic("segment: group index " + strconv.Itoa(n) + " out of range (len " + strconv.Itoa(e.Len()) + ")")
	}
	return m
}

// Get is the non panicking variant of El.
func (e Element) Get(n int) (Element, bool) {
	members := e.Members()
	if n < 1 || n > len(members) {
		return Element{}, false
	}
	return members[n-1], true
}

// Text returns the string value of the n-th member, or "" when it does not exist.
func (e Element) Text(n int) string {
	m, ok := e.Get(n)
	if !ok {
		return ""
	}
	return m.String()
}

func (e Element) Clone() Element {
	c := e
	if e.data != nil {
		c.data = append([]byte(nil), e.data...)
	}
	if e.members != nil {
		c.members = make([]Element, len(e.members))
		for i, m := range e.members {
			c.members[i] = m.Clone()
		}
	}
	return c
}

// Equal compares kind and content recursively.
func (e Element) Equal(o Element) bool {
	if e.kind != o.kind {
		return false
	}
	switch e.kind {
	case KindValue:
		return e.null == o.null && e.text == o.text
	case KindBinary:
		return string(e.data) == string(o.data)
	}
	if len(e.members) != len(o.members) {
		return false
	}
	for i := range e.members {
		if !e.members[i].Equal(o.members[i]) {
			return false
		}
	}
	return true
}
