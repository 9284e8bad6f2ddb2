package fints

import (
	"context"
	"testing"
	"time"

	"github.com/alapierre/go-fints-client/fints/bank"
	"github.com/alapierre/go-fints-client/fints/message"
	"github.com/alapierre/go-fints-client/fints/segment"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const (
	testBLZ  = "12345678"
	testUser = "test1"
	testPIN  = "12345"
	testURL  = "https://banking.example/fints"
	testIBAN = "DE111234567800000001"
)

var testTime = time.Date(2024, 3, 1, 14, 5, 9, 0, time.UTC)

type responder func(req *message.Message) *message.Message

// fakeBank answers each request with the next scripted responder. Requests
// are kept in parsed (decrypted) form.
type fakeBank struct {
	t          *testing.T
	responders []responder
	requests   []*message.Message
	endpoints  []string
}

func newFakeBank(t *testing.T, responders ...responder) *fakeBank {
	return &fakeBank{t: t, responders: responders}
}

func (b *fakeBank) Send(_ context.Context, endpoint string, raw []byte) ([]byte, error) {
	req, err := message.Parse(raw)
	require.NoError(b.t, err)
	b.requests = append(b.requests, req)
	b.endpoints = append(b.endpoints, endpoint)
	if len(b.requests) > len(b.responders) {
		return nil, errors.Errorf("unexpected request %d: %v", len(b.requests), segmentNames(req))
	}
	return b.responders[len(b.requests)-1](req).Encode()
}

func (b *fakeBank) request(i int) *message.Message {
	b.t.Helper()
	require.Greater(b.t, len(b.requests), i, "request %d was not sent", i)
	return b.requests[i]
}

func segmentNames(m *message.Message) []string {
	out := make([]string, len(m.Segments))
	for i, s := range m.Segments {
		out[i] = s.Name
	}
	return out
}

func newTestClient(t *testing.T, b *fakeBank, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithTransport(b), WithClock(clockwork.NewFakeClockAt(testTime))}, opts...)
	c, err := NewClient(testBLZ, testUser, testPIN, bank.Single(testBLZ, testURL), opts...)
	require.NoError(t, err)
	return c
}

// answer builds an unencrypted bank message.
func answer(dialogID string, segs ...*segment.Segment) *message.Message {
	m := message.New(message.FinTS300)
	m.Init(dialogID, 1, testBLZ, testUser)
	for _, s := range segs {
		m.Add(s)
	}
	return m
}

func values(ss ...string) segment.Element {
	members := make([]segment.Element, len(ss))
	for i, s := range ss {
		members[i] = segment.OptionalValue(s)
	}
	return segment.Group(members...)
}

func ret(code, text string, params ...string) segment.Element {
	return values(append([]string{code, "", text}, params...)...)
}

func hirmg(codes ...segment.Element) *segment.Segment {
	return segment.New("HIRMG", 2, codes...)
}

func hirms(ref int, codes ...segment.Element) *segment.Segment {
	return segment.New("HIRMS", 2, codes...).WithRef(ref)
}

func nrOf(t *testing.T, req *message.Message, name string) int {
	t.Helper()
	s := req.First(name)
	require.NotNil(t, s, "%s missing in request %v", name, segmentNames(req))
	return s.Nr
}

type initAnswer struct {
	dialogID   string
	url        string
	accounts   []*segment.Segment
	parameters []*segment.Segment
}

func defaultParameters() []*segment.Segment {
	return []*segment.Segment{
		segment.New("HISPAS", 1, segment.Int(1), segment.Int(1), segment.Int(0), values("J", "J", "N")),
		segment.New("HISALS", 5, segment.Int(1), segment.Int(1), segment.Int(0)),
		segment.New("HISALS", 6, segment.Int(1), segment.Int(1), segment.Int(0)),
		segment.New("HIKAZS", 5, segment.Int(1), segment.Int(1), values("90", "N", "N")),
		segment.New("HIKAZS", 7, segment.Int(1), segment.Int(1), values("90", "N", "N")),
		segment.New("HICAZS", 1, segment.Int(1), segment.Int(1), segment.Int(0), values("90", "N", "N", camtFormat)),
	}
}

const camtFormat = "urn:iso:std:iso:20022:tech:xsd:camt.052.001.02"

func hiupd(nr, iban string) *segment.Segment {
	return segment.New("HIUPD", 6,
		values(nr, "", "280", testBLZ),
		segment.OptionalValue(iban),
		segment.Value(testUser),
		segment.Int(1),
		segment.Value("EUR"),
		segment.Value("Max Mustermann"),
		segment.Null(),
		segment.Value("Girokonto"),
	)
}

// respond answers a dialog initialisation the way a PIN/TAN bank does.
func (a initAnswer) respond(req *message.Message) *message.Message {
	vvb := req.First("HKVVB").Nr
	segs := []*segment.Segment{
		hirmg(ret("0010", "Nachricht entgegengenommen.")),
		hirms(vvb, ret("0020", "Auftrag ausgefuehrt."), ret("3920", "Zugelassene Verfahren", "942")),
		segment.New("HIBPA", 3, segment.Value("78"), values("280", testBLZ), segment.Value("Testbank"),
			segment.Int(3), segment.Int(1), values("220", "300")),
		segment.New("HIPINS", 1, segment.Int(1), segment.Int(1), segment.Int(0),
			values("5", "20", "6", "Benutzer ID", "", "HKSPA", "N", "HKKAZ", "N", "HKSAL", "J")),
		segment.New("HITANS", 6, segment.Int(1), segment.Int(1), segment.Int(0),
			values("N", "N", "0",
				"942", "2", "MTAN2", "mobileTAN", "", "mobile TAN", "6", "1", "SMS", "2048",
				"N", "1", "N", "0", "2", "N", "J", "00", "2", "N", "1")),
		segment.New("HIUPA", 4, segment.Value(testUser), segment.Int(3), segment.Int(0)),
	}
	if a.url != "" {
		segs = append(segs, segment.New("HIKOM", 4, values("280", testBLZ), segment.Int(1), values("3", a.url)))
	}
	segs = append(segs, a.accounts...)
	params := a.parameters
	if params == nil {
		params = defaultParameters()
	}
	segs = append(segs, params...)
	if syn := req.First("HKSYN"); syn != nil {
		segs = append(segs, segment.New("HISYN", 4, segment.Value("SYS-4711")).WithRef(syn.Nr))
	}
	id := a.dialogID
	if id == "" {
		id = "DLG-1"
	}
	return answer(id, segs...)
}

func endAnswer(req *message.Message) *message.Message {
	return answer(req.DialogID, hirmg(ret("0100", "Dialog beendet.")))
}

func sepaAnswer(req *message.Message) *message.Message {
	nr := req.First("HKSPA").Nr
	return answer(req.DialogID,
		hirmg(ret("0010", "Nachricht entgegengenommen.")),
		hirms(nr, ret("0020", "Auftrag ausgefuehrt.")),
		segment.New("HISPA", 1, values("J", testIBAN, "GENODE00TES", "0000000001", "", "280", testBLZ)).WithRef(nr),
	)
}
