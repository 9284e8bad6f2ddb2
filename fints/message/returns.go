package message

import (
	"fmt"
	"strings"

	"github.com/alapierre/go-fints-client/fints/segment"
	"github.com/go-faster/errors"
)

// Well known return codes.
const (
	CodeMessageReceived  = "0010"
	CodeDialogInitOK     = "0020"
	CodeWarningsReceived = "3060"
	CodeContinuation     = "3040"
	CodeTanProcedures    = "3920"
	CodeVersionRejected  = "9120"
	CodeDialogAborted    = "9800"
)

// Return is one return message from HIRMG or HIRMS.
type Return struct {
	Code   string
	Ref    string
	Text   string
	Params []string
}

func (r Return) IsError() bool { return strings.HasPrefix(r.Code, "9") }

func (r Return) IsWarning() bool { return strings.HasPrefix(r.Code, "3") }

func (r Return) String() string {
	if r.Ref != "" {
		return fmt.Sprintf("%s (%s): %s", r.Code, r.Ref, r.Text)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Text)
}

// Returns decodes every element of a HIRMG or HIRMS segment.
func Returns(s *segment.Segment) []Return {
	out := make([]Return, 0, s.Len())
	for _, e := range s.Elements() {
		r := Return{Code: e.Text(1), Ref: e.Text(2), Text: e.Text(3)}
		for i := 4; i <= e.Len(); i++ {
			r.Params = append(r.Params, e.Text(i))
		}
		out = append(out, r)
	}
	return out
}

// GlobalReturns returns the messages of the mandatory HIRMG segment.
func (m *Message) GlobalReturns() ([]Return, error) {
	hirmg := m.First("HIRMG")
	if hirmg == nil {
		return nil, errors.Wrap(ErrMalformed, "HIRMG segment missing")
	}
	return Returns(hirmg), nil
}

// SegmentReturns collects the HIRMS messages referencing segment nr.
func (m *Message) SegmentReturns(nr int) []Return {
	var out []Return
	for _, s := range m.ByNameAndRef("HIRMS", nr) {
		out = append(out, Returns(s)...)
	}
	return out
}

// HasGlobalReturn reports whether HIRMG carries the given code.
func (m *Message) HasGlobalReturn(code string) bool {
	returns, err := m.GlobalReturns()
	if err != nil {
		return false
	}
	return FindReturn(returns, code) != nil
}

func FindReturn(returns []Return, code string) *Return {
	for i := range returns {
		if returns[i].Code == code {
			return &returns[i]
		}
	}
	return nil
}

// FirstError returns the first return with a 9xxx code.
func FirstError(returns []Return) *Return {
	for i := range returns {
		if returns[i].IsError() {
			return &returns[i]
		}
	}
	return nil
}
