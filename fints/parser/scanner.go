// Package parser provides a cursor based byte scanner with named marks.
// It is shared by the FinTS segment grammar and the MT940 statement parser.
package parser

import (
	"bytes"
	"fmt"
)

// Error is returned when input does not follow the expected grammar.
// Pos is relative to the start of the scanned input.
type Error struct {
	Pos int
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Pos, e.Msg)
}

// Scanner walks over a byte slice. It never copies the input.
type Scanner struct {
	data  []byte
	pos   int
	marks map[string]int
}

func New(data []byte) *Scanner {
	return &Scanner{data: data, marks: make(map[string]int)}
}

func NewString(s string) *Scanner {
	return New([]byte(s))
}

func (s *Scanner) Pos() int { return s.pos }

func (s *Scanner) SetPos(pos int) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(s.data) {
		pos = len(s.data)
	}
	s.pos = pos
}

func (s *Scanner) Len() int { return len(s.data) }

// Errorf builds an Error at the current position.
func (s *Scanner) Errorf(format string, args ...any) *Error {
	return &Error{Pos: s.pos, Msg: fmt.Sprintf(format, args...)}
}

// Mark remembers the current position under name.
func (s *Scanner) Mark(name string) {
	s.marks[name] = s.pos
}

// Back rewinds to a position stored with Mark. Unknown names leave the cursor untouched.
func (s *Scanner) Back(name string) bool {
	p, ok := s.marks[name]
	if ok {
		s.pos = p
	}
	return ok
}

// FromMark returns the bytes between the named mark and the cursor.
func (s *Scanner) FromMark(name string) []byte {
	p, ok := s.marks[name]
	if !ok || p > s.pos {
		return nil
	}
	return s.data[p:s.pos]
}

func (s *Scanner) EOF() bool { return s.pos >= len(s.data) }

// Current returns the byte under the cursor.
func (s *Scanner) Current() (byte, bool) {
	if s.EOF() {
		return 0, false
	}
	return s.data[s.pos], true
}

// Is reports whether the byte under the cursor equals c.
func (s *Scanner) Is(c byte) bool {
	cur, ok := s.Current()
	return ok && cur == c
}

// Peek returns the byte at cursor+offset.
func (s *Scanner) Peek(offset int) (byte, bool) {
	p := s.pos + offset
	if p < 0 || p >= len(s.data) {
		return 0, false
	}
	return s.data[p], true
}

// Next advances the cursor by one byte.
func (s *Scanner) Next() bool {
	if s.EOF() {
		return false
	}
	s.pos++
	return true
}

// Skip advances by n bytes, stopping at the end of input.
func (s *Scanner) Skip(n int) {
	s.SetPos(s.pos + n)
}

// Take returns the next n bytes and advances past them.
func (s *Scanner) Take(n int) ([]byte, error) {
	if n < 0 || s.pos+n > len(s.data) {
		return nil, s.Errorf("expected %d bytes, only %d left", n, len(s.data)-s.pos)
	}
	out := s.data[s.pos : s.pos+n]
	s.pos += n
	return out, nil
}

// SkipWhile advances while the current byte is one of set.
func (s *Scanner) SkipWhile(set string) {
	for !s.EOF() && bytes.IndexByte([]byte(set), s.data[s.pos]) >= 0 {
		s.pos++
	}
}

// Find returns the position of the next byte from set at or after the cursor,
// or -1. The cursor does not move.
func (s *Scanner) Find(set string) int {
	i := bytes.IndexAny(s.data[s.pos:], set)
	if i < 0 {
		return -1
	}
	return s.pos + i
}

// Goto moves the cursor to the next byte from set.
func (s *Scanner) Goto(set string) bool {
	p := s.Find(set)
	if p < 0 {
		return false
	}
	s.pos = p
	return true
}

// FindUnescaped is Find, except that a byte directly following esc is never
// treated as a delimiter. An escaped escape byte does not escape what follows it.
func (s *Scanner) FindUnescaped(set string, esc byte) int {
	for i := s.pos; i < len(s.data); i++ {
		c := s.data[i]
		if c == esc {
			i++
			continue
		}
		if bytes.IndexByte([]byte(set), c) >= 0 {
			return i
		}
	}
	return -1
}

// GotoUnescaped moves the cursor to the next unescaped byte from set.
func (s *Scanner) GotoUnescaped(set string, esc byte) bool {
	p := s.FindUnescaped(set, esc)
	if p < 0 {
		return false
	}
	s.pos = p
	return true
}

// FindString returns the position of the nearest occurrence of any of the
// needles together with the needle found.
func (s *Scanner) FindString(needles ...string) (int, string) {
	best, found := -1, ""
	for _, n := range needles {
		if n == "" {
			continue
		}
		i := bytes.Index(s.data[s.pos:], []byte(n))
		if i >= 0 && (best < 0 || s.pos+i < best) {
			best, found = s.pos+i, n
		}
	}
	return best, found
}

// GotoString moves the cursor to the nearest needle.
func (s *Scanner) GotoString(needles ...string) (string, bool) {
	p, n := s.FindString(needles...)
	if p < 0 {
		return "", false
	}
	s.pos = p
	return n, true
}

// HasPrefix reports whether the input at the cursor starts with prefix.
func (s *Scanner) HasPrefix(prefix string) bool {
	return bytes.HasPrefix(s.data[s.pos:], []byte(prefix))
}

// Rest returns the unread input.
func (s *Scanner) Rest() []byte {
	return s.data[s.pos:]
}
