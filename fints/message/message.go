// Package message builds and parses FinTS messages: the HNHBK/HNHBS frame,
// the PIN/TAN signature block (HNSHK/HNSHA) and the HNVSK/HNVSD envelope.
package message

import (
	"fmt"
	"strconv"

	"github.com/alapierre/go-fints-client/fints/segment"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "fints.message")

const (
	FinTS300 = 300
	HBCI220  = 220

	// CountryCode is the ISO 3166 numeric code used in bank identifiers.
	CountryCode = 280

	securityHeaderNr = 998
	encryptedDataNr  = 999
	lengthDigits     = 12
)

var (
	// ErrMalformed marks messages that cannot be processed: wrong envelope,
	// unsupported encryption method or a missing mandatory segment.
	ErrMalformed = errors.New("malformed FinTS message")

	ErrNotInitialised = errors.New("message header missing, call Init first")
)

// SignInfo carries what is needed for the PIN/TAN signature block.
// An empty TAN is sent as absent.
type SignInfo struct {
	PIN              string
	TAN              string
	SystemID         string
	SignatureID      int64
	SecurityFunction string
}

type Option func(*Message)

// WithClock sets the clock used for security timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(m *Message) {
		m.clock = c
	}
}

// Message is an ordered list of segments. The first segment is always the
// HNHBK header once Init was called.
type Message struct {
	ProtocolVersion int
	Number          int
	DialogID        string
	BankCode        string
	CustomerID      string
	Segments        []*segment.Segment

	sign  *SignInfo
	clock clockwork.Clock
}

func New(protocolVersion int, opts ...Option) *Message {
	m := &Message{ProtocolVersion: protocolVersion, clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Sign attaches signature data. It must be called before Init.
func (m *Message) Sign(info SignInfo) {
	m.sign = &info
}

func (m *Message) Signed() bool { return m.sign != nil }

// Init adds the message header and, for signed messages, the signature header.
func (m *Message) Init(dialogID string, number int, bankCode, customerID string) {
	m.DialogID = dialogID
	m.Number = number
	m.BankCode = bankCode
	m.CustomerID = customerID

	m.Add(segment.New("HNHBK", 3,
		segment.Value(lengthField(0)),
		segment.Int(m.ProtocolVersion),
		segment.Value(dialogID),
		segment.Int(number),
	))
	if m.sign != nil {
		m.Add(m.signatureHeader())
	}
}

// Add appends a segment and assigns it the next segment number.
func (m *Message) Add(s *segment.Segment) int {
	s.Nr = len(m.Segments) + 1
	m.Segments = append(m.Segments, s)
	return s.Nr
}

// Encode renders the message for sending. The message itself is not
// modified: the signature tail, the envelope and the footer exist only in
// the returned bytes.
func (m *Message) Encode() ([]byte, error) {
	if len(m.Segments) == 0 || m.Segments[0].Name != "HNHBK" {
		return nil, ErrNotInitialised
	}

	inner := append([]*segment.Segment(nil), m.Segments[1:]...)
	next := len(m.Segments) + 1
	if m.sign != nil {
		tail := m.signatureTail()
		tail.Nr = next
		next++
		inner = append(inner, tail)
	}
	body := segment.Encode(inner...)

	if m.sign != nil {
		hnvsk := m.encryptionHeader()
		hnvsk.Nr = securityHeaderNr
		hnvsd := segment.New("HNVSD", 1, segment.Binary(body))
		hnvsd.Nr = encryptedDataNr
		body = segment.Encode(hnvsk, hnvsd)
	}

	footer := segment.New("HNHBS", 1, segment.Int(m.Number))
	footer.Nr = next
	body = append(body, footer.Bytes()...)

	header := m.Segments[0].Clone()
	size := len(header.Bytes()) + len(body)
	header.Set(1, segment.Value(lengthField(size)))

	out := header.Bytes()
	if len(out)+len(body) != size {
		return nil, errors.Errorf("header length changed while patching: %d != %d", len(out)+len(body), size)
	}
	return append(out, body...), nil
}

func lengthField(n int) string {
	return fmt.Sprintf("%0*d", lengthDigits, n)
}

func (m *Message) signatureHeader() *segment.Segment {
	s := m.sign
	sigID := s.SignatureID
	if s.SystemID == "0" {
		sigID = 1
	}
	now := m.clock.Now()

	var els []segment.Element
	version := 3
	if m.ProtocolVersion == FinTS300 {
		version = 4
		els = append(els, segment.Group(segment.Value("PIN"), segment.Int(pinProfile(s.SecurityFunction))))
	}
	els = append(els,
		segment.Value(s.SecurityFunction),
		segment.Int(1),
		segment.Int(1),
		segment.Int(1),
		segment.Group(segment.Int(1), segment.Null(), segment.Value(s.SystemID)),
		segment.Value(strconv.FormatInt(sigID, 10)),
		segment.Group(segment.Int(1), segment.Value(now.Format("20060102")), segment.Value(now.Format("150405"))),
		segment.Group(segment.Int(1), segment.Int(999), segment.Int(1)),
		segment.Group(segment.Int(6), segment.Int(10), segment.Int(16)),
		keyName(m.BankCode, m.CustomerID, "S"),
	)
	return segment.New("HNSHK", version, els...)
}

func (m *Message) signatureTail() *segment.Segment {
	version := 1
	if m.ProtocolVersion == FinTS300 {
		version = 2
	}
	auth := segment.Group(segment.Value(m.sign.PIN))
	if m.sign.TAN != "" {
		auth = segment.Group(segment.Value(m.sign.PIN), segment.Value(m.sign.TAN))
	}
	return segment.New("HNSHA", version, segment.Int(1), segment.Null(), auth)
}

func (m *Message) encryptionHeader() *segment.Segment {
	now := m.clock.Now()

	var els []segment.Element
	version := 2
	if m.ProtocolVersion == FinTS300 {
		version = 3
		els = append(els, segment.Group(segment.Value("PIN"), segment.Int(pinProfile(m.sign.SecurityFunction))))
	}
	els = append(els,
		segment.Int(securityHeaderNr),
		segment.Int(1),
		segment.Group(segment.Int(1), segment.Null(), segment.Value(m.sign.SystemID)),
		segment.Group(segment.Int(1), segment.Value(now.Format("20060102")), segment.Value(now.Format("150405"))),
		segment.Group(segment.Int(2), segment.Int(2), segment.Int(13), segment.Binary(make([]byte, 8)), segment.Int(5), segment.Int(1)),
		keyName(m.BankCode, m.CustomerID, "V"),
		segment.Int(0),
	)
	return segment.New("HNVSK", version, els...)
}

// pinProfile is 1 for the one step procedure, 2 for two step procedures.
func pinProfile(securityFunction string) int {
	if securityFunction == "999" {
		return 1
	}
	return 2
}

func keyName(bankCode, customerID, kind string) segment.Element {
	return segment.Group(
		segment.Int(CountryCode),
		segment.Value(bankCode),
		segment.Value(customerID),
		segment.Value(kind),
		segment.Int(0),
		segment.Int(0),
	)
}

// Parse reads a message received from the bank. Encrypted messages are
// unwrapped: the result holds the header, the inner segments and the footer.
func Parse(data []byte) (*Message, error) {
	segs, err := segment.ParseAll(data)
	if err != nil {
		return nil, errors.Wrap(err, "parse message")
	}
	if len(segs) == 0 {
		return nil, errors.Wrap(ErrMalformed, "empty message")
	}

	if len(segs) == 4 && segs[1].Name == "HNVSK" && segs[2].Name == "HNVSD" {
		if err := checkEncryption(segs[1]); err != nil {
			return nil, err
		}
		payload, ok := segs[2].Get(1)
		if !ok || payload.Kind() != segment.KindBinary {
			return nil, errors.Wrap(ErrMalformed, "HNVSD does not carry binary data")
		}
		inner, err := segment.ParseAll(payload.Bytes())
		if err != nil {
			return nil, errors.Wrap(err, "parse encrypted data")
		}
		unwrapped := make([]*segment.Segment, 0, len(inner)+2)
		unwrapped = append(unwrapped, segs[0])
		unwrapped = append(unwrapped, inner...)
		segs = append(unwrapped, segs[3])
	}

	m := &Message{Segments: segs, clock: clockwork.NewRealClock()}
	if h := segs[0]; h.Name == "HNHBK" && h.Len() >= 4 {
		m.ProtocolVersion, _ = h.El(2).Int()
		m.DialogID = h.El(3).String()
		m.Number, _ = h.El(4).Int()
	} else {
		logger.WithField("first", h.Name).Debug("Message does not start with a complete HNHBK")
	}
	return m, nil
}

func checkEncryption(hnvsk *segment.Segment) error {
	first, ok := hnvsk.Get(1)
	if !ok {
		return errors.Wrap(ErrMalformed, "empty HNVSK")
	}
	switch hnvsk.Version {
	case 3:
		if first.Text(1) == "PIN" {
			return nil
		}
	case 2:
		if first.String() == strconv.Itoa(securityHeaderNr) {
			return nil
		}
	}
	return errors.Wrapf(ErrMalformed, "unsupported encryption method %q (HNVSK version %d)", first.String(), hnvsk.Version)
}

// First returns the first segment with the given name.
func (m *Message) First(name string) *segment.Segment {
	for _, s := range m.Segments {
		if s.Name == name {
			return s
		}
	}
	return nil
}

func (m *Message) ByName(name string) []*segment.Segment {
	var out []*segment.Segment
	for _, s := range m.Segments {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// ByRef returns all segments referencing the segment number nr.
func (m *Message) ByRef(nr int) []*segment.Segment {
	var out []*segment.Segment
	for _, s := range m.Segments {
		if s.Ref == nr {
			out = append(out, s)
		}
	}
	return out
}

func (m *Message) ByNameAndRef(name string, nr int) []*segment.Segment {
	var out []*segment.Segment
	for _, s := range m.Segments {
		if s.Name == name && s.Ref == nr {
			out = append(out, s)
		}
	}
	return out
}
