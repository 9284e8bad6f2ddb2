package message

import (
	"github.com/alapierre/go-fints-client/fints/segment"
	"github.com/go-faster/jx"
)

const masked = "***"

// DebugJSON renders the segments as JSON for trace logging. HNSHA content
// (PIN and TAN) is masked.
func (m *Message) DebugJSON() []byte {
	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, s := range m.Segments {
			encodeSegment(e, s)
		}
	})
	return e.Bytes()
}

func encodeSegment(e *jx.Encoder, s *segment.Segment) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("name", func(e *jx.Encoder) { e.Str(s.Name) })
		e.Field("nr", func(e *jx.Encoder) { e.Int(s.Nr) })
		e.Field("version", func(e *jx.Encoder) { e.Int(s.Version) })
		if s.Ref > 0 {
			e.Field("ref", func(e *jx.Encoder) { e.Int(s.Ref) })
		}
		e.Field("elements", func(e *jx.Encoder) {
			if s.Name == "HNSHA" {
				e.Str(masked)
				return
			}
			e.Arr(func(e *jx.Encoder) {
				for _, el := range s.Elements() {
					encodeElement(e, el)
				}
			})
		})
	})
}

func encodeElement(e *jx.Encoder, el segment.Element) {
	switch el.Kind() {
	case segment.KindBinary:
		e.Base64(el.Bytes())
	case segment.KindGroup:
		e.Arr(func(e *jx.Encoder) {
			for _, m := range el.Members() {
				encodeElement(e, m)
			}
		})
	default:
		if el.IsNull() {
			e.Null()
			return
		}
		e.Str(el.String())
	}
}
