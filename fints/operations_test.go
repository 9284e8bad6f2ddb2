package fints

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alapierre/go-fints-client/fints/message"
	"github.com/alapierre/go-fints-client/fints/model"
	"github.com/alapierre/go-fints-client/fints/segment"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initialised returns a client with an open dialog; the answers in rest
// follow the initialisation.
func initialised(t *testing.T, ia initAnswer, rest ...responder) (*Client, *fakeBank) {
	t.Helper()
	if ia.accounts == nil {
		ia.accounts = oneAccount
	}
	b := newFakeBank(t, append([]responder{ia.respond}, rest...)...)
	c := newTestClient(t, b)
	_, err := c.InitDialog(context.Background())
	require.NoError(t, err)
	return c, b
}

// answerWith answers a business segment with the given bank segments.
func answerWith(name string, segs ...*segment.Segment) responder {
	return func(req *message.Message) *message.Message {
		nr := req.First(name).Nr
		out := []*segment.Segment{
			hirmg(ret("0010", "Nachricht entgegengenommen.")),
			hirms(nr, ret("0020", "Auftrag ausgefuehrt.")),
		}
		for _, s := range segs {
			out = append(out, s.Clone().WithRef(nr))
		}
		return answer(req.DialogID, out...)
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestGetBalance(t *testing.T) {
	hisal := segment.New("HISAL", 6,
		values("0000000001", "", "280", testBLZ),
		segment.Value("Girokonto"),
		segment.Value("EUR"),
		values("C", "4,36", "EUR", "20240301"),
		segment.Null(),
		values("1000,", "EUR"),
		values("1004,36", "EUR"),
		segment.Null(),
		segment.Null(),
		values("20240301", "120000"),
	)
	c, b := initialised(t, initAnswer{}, answerWith("HKSAL", hisal))

	res, err := c.GetBalance(context.Background(), c.Accounts()[0])
	require.NoError(t, err)

	req := b.request(1)
	hksal := req.First("HKSAL")
	require.NotNil(t, hksal)
	assert.Equal(t, 6, hksal.Version)
	assert.Equal(t, "0000000001", hksal.El(1).Text(1))
	assert.Equal(t, testBLZ, hksal.El(1).Text(4))
	assert.Equal(t, "N", hksal.Text(2))
	assert.Equal(t, 2, req.Number)

	assert.Equal(t, "Girokonto", res.ProductName)
	assert.True(t, res.Booked.Credit())
	assert.True(t, dec("4.36").Equal(res.Booked.Value))
	assert.True(t, dec("4.36").Equal(res.Booked.Signed()))
	assert.Equal(t, "EUR", res.Booked.Currency)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local), res.Booked.Date)
	assert.Nil(t, res.Pending)
	require.NotNil(t, res.CreditLine)
	assert.True(t, dec("1000").Equal(res.CreditLine.Value))
	require.NotNil(t, res.Available)
	assert.True(t, dec("1004.36").Equal(res.Available.Value))
	assert.Nil(t, res.Used)
	assert.Nil(t, res.Overdraft)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local), res.BookedAt)
	assert.True(t, res.DueDate.IsZero())
}

func TestGetBalance_Version5(t *testing.T) {
	hisal := segment.New("HISAL", 5,
		values("0000000001", "", "280", testBLZ),
		segment.Value("Girokonto"),
		segment.Value("EUR"),
		values("D", "250,", "EUR", "20240229"),
		values("C", "10,", "EUR", "20240301"),
		segment.Null(),
		segment.Null(),
		segment.Null(),
		segment.Value("20240301"),
		segment.Value("083000"),
	)
	params := []*segment.Segment{segment.New("HISALS", 5, segment.Int(1), segment.Int(1), segment.Int(0))}
	c, b := initialised(t, initAnswer{parameters: params}, answerWith("HKSAL", hisal))

	res, err := c.GetBalance(context.Background(), c.Accounts()[0])
	require.NoError(t, err)

	assert.Equal(t, 5, b.request(1).First("HKSAL").Version)
	assert.True(t, res.Booked.Debit)
	assert.True(t, dec("-250").Equal(res.Booked.Signed()))
	require.NotNil(t, res.Pending)
	assert.True(t, dec("10").Equal(res.Pending.Signed()))
	assert.Equal(t, time.Date(2024, 3, 1, 8, 30, 0, 0, time.Local), res.BookedAt)
}

func TestGetBalance_InternationalAccount(t *testing.T) {
	params := append(defaultParameters(), segment.New("HISALS", 7, segment.Int(1), segment.Int(1), segment.Int(0)))
	hisal := segment.New("HISAL", 7,
		values(testIBAN, "GENODE00TES", "0000000001", "", "280", testBLZ),
		segment.Value("Girokonto"),
		segment.Value("EUR"),
		values("D", "12,5", "EUR", "20240301"),
	)
	c, b := initialised(t, initAnswer{parameters: params}, answerWith("HKSAL", hisal))

	acc := model.Account{
		AccountNumber: "0000000001",
		CountryCode:   "280",
		BankCode:      testBLZ,
		Sepa:          &model.SepaAccount{IsSepa: true, IBAN: testIBAN, BIC: "GENODE00TES"},
	}
	res, err := c.GetBalance(context.Background(), acc)
	require.NoError(t, err)

	hksal := b.request(1).First("HKSAL")
	assert.Equal(t, 7, hksal.Version)
	assert.Equal(t, testIBAN, hksal.El(1).Text(1))
	assert.Equal(t, "GENODE00TES", hksal.El(1).Text(2))
	assert.True(t, dec("-12.5").Equal(res.Booked.Signed()))
}

func TestGetBalance_NotSupported(t *testing.T) {
	params := []*segment.Segment{segment.New("HIKAZS", 5, segment.Int(1), segment.Int(1), values("90", "N", "N"))}
	c, b := initialised(t, initAnswer{parameters: params})

	_, err := c.GetBalance(context.Background(), c.Accounts()[0])

	var unsupported *NotSupportedError
	require.True(t, errors.As(err, &unsupported), "got %v", err)
	assert.Equal(t, "HKSAL", unsupported.Type)
	assert.Empty(t, unsupported.BankVersions)
	assert.Len(t, b.requests, 1)
}

func TestGetBalance_MissingHISAL(t *testing.T) {
	c, _ := initialised(t, initAnswer{}, answerWith("HKSAL"))

	_, err := c.GetBalance(context.Background(), c.Accounts()[0])
	assert.ErrorIs(t, err, ErrMalformed)
}

func crlf(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

var (
	firstPart = crlf(
		":20:STARTUMS",
		":25:12345678/0000000001",
		":28C:0",
		":60F:C240201EUR100,",
		":61:2402020202CR50,N062NONREF",
		":86:166?00GUTSCHRIFT?20SVWZ+Rechnung 1?32Max Mustermann",
		":62F:C240202EUR150,",
		"-",
	)
	secondPart = crlf(
		":20:STARTUMS",
		":25:12345678/0000000001",
		":28C:0",
		":60F:C240202EUR150,",
		":61:2402030203DR20,N005NONREF",
		":86:105?00BASISLASTSCHRIFT?20SVWZ+Strom?32Stadtwerke",
		":61:2402030203CR5,N062NONREF",
		":86:166?00GUTSCHRIFT?20SVWZ+Rueckzahlung",
		":62F:C240203EUR135,",
		"-",
	)
)

func TestGetTransactions_Continuation(t *testing.T) {
	round1 := func(req *message.Message) *message.Message {
		nr := req.First("HKKAZ").Nr
		return answer(req.DialogID,
			hirmg(ret("3060", "Bitte beachten Sie die enthaltenen Warnungen.")),
			hirms(nr, ret("3040", "Es liegen weitere Informationen vor.", "CONT-1")),
			segment.New("HIKAZ", 7, segment.Binary([]byte(firstPart))).WithRef(nr),
		)
	}
	round2 := answerWith("HKKAZ", segment.New("HIKAZ", 7, segment.Binary([]byte(secondPart))))
	c, b := initialised(t, initAnswer{}, round1, round2)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	stmts, err := c.GetTransactions(context.Background(), c.Accounts()[0], from, time.Time{})
	require.NoError(t, err)

	require.Len(t, b.requests, 3)
	first := b.request(1).First("HKKAZ")
	assert.Equal(t, 7, first.Version)
	assert.Equal(t, testIBAN, first.El(1).Text(1))
	assert.Equal(t, "N", first.Text(2))
	assert.Equal(t, "20240101", first.Text(3))
	assert.Empty(t, first.Text(4))
	assert.Empty(t, first.Text(6))

	second := b.request(2).First("HKKAZ")
	assert.Equal(t, "CONT-1", second.Text(6))
	assert.Equal(t, "20240101", second.Text(3))
	assert.Equal(t, 3, b.request(2).Number)

	require.Len(t, stmts, 2)
	records := stmts.Records()
	require.Len(t, records, 3)
	assert.True(t, dec("50").Equal(records[0].Signed()))
	assert.True(t, dec("-20").Equal(records[1].Signed()))
	require.NotNil(t, records[1].Description)
	assert.Equal(t, "Stadtwerke", records[1].Description.Name)
	require.NotNil(t, stmts[1].Closing)
	assert.True(t, dec("135").Equal(stmts[1].Closing.Value))
}

func TestGetTransactions_NationalAccount(t *testing.T) {
	params := []*segment.Segment{segment.New("HIKAZS", 5, segment.Int(1), segment.Int(1), values("90", "N", "N"))}
	c, b := initialised(t, initAnswer{parameters: params},
		answerWith("HKKAZ", segment.New("HIKAZ", 5, segment.Binary([]byte(firstPart)))))

	stmts, err := c.GetTransactions(context.Background(), c.Accounts()[0], time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, stmts, 1)

	hkkaz := b.request(1).First("HKKAZ")
	assert.Equal(t, 5, hkkaz.Version)
	assert.Equal(t, "0000000001", hkkaz.El(1).Text(1))
	assert.Equal(t, 2, hkkaz.Len())
}

func TestGetTransactions_SegmentError(t *testing.T) {
	c, b := initialised(t, initAnswer{}, func(req *message.Message) *message.Message {
		return answer(req.DialogID,
			hirmg(ret("3060", "Bitte beachten Sie die enthaltenen Warnungen.")),
			hirms(req.First("HKKAZ").Nr, ret("9010", "Zeitraum ungueltig.")),
		)
	})

	_, err := c.GetTransactions(context.Background(), c.Accounts()[0], time.Time{}, time.Time{})

	var failed *SegmentFailedError
	require.True(t, errors.As(err, &failed), "got %v", err)
	assert.Equal(t, "9010", failed.Return.Code)
	assert.Len(t, b.requests, 2)
}

const camtReport = `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.052.001.02">
  <BkToCstmrAcctRpt>
    <Rpt>
      <Id>RPT-1</Id>
      <Acct><Id><IBAN>DE111234567800000001</IBAN></Id></Acct>
      <Ntry>
        <Amt Ccy="EUR">42.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <BookgDt><Dt>2024-03-01</Dt></BookgDt>
        <ValDt><Dt>2024-03-01</Dt></ValDt>
      </Ntry>
    </Rpt>
  </BkToCstmrAcctRpt>
</Document>`

func TestGetStatementsCAMT(t *testing.T) {
	hicaz := segment.New("HICAZ", 1,
		values(testIBAN, "GENODE00TES", "0000000001", "", "280", testBLZ),
		segment.Value(camtFormat),
		segment.Binary([]byte(camtReport)),
	)
	c, b := initialised(t, initAnswer{}, answerWith("HKCAZ", hicaz))

	stmts, err := c.GetStatementsCAMT(context.Background(), c.Accounts()[0],
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local), time.Date(2024, 3, 2, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)

	hkcaz := b.request(1).First("HKCAZ")
	assert.Equal(t, 1, hkcaz.Version)
	assert.Equal(t, camtFormat, hkcaz.Text(2))
	assert.Equal(t, "N", hkcaz.Text(3))
	assert.Equal(t, "20240301", hkcaz.Text(4))
	assert.Equal(t, "20240302", hkcaz.Text(5))

	require.Len(t, stmts, 1)
	assert.Equal(t, "DE111234567800000001", stmts[0].AccountID)
	records := stmts.Records()
	require.Len(t, records, 1)
	assert.True(t, dec("42").Equal(records[0].Signed()))
}

func TestRequestSepaAccounts_SingleAccount(t *testing.T) {
	c, b := initialised(t, initAnswer{}, sepaAnswer)

	acc := c.Accounts()[0]
	sepa, err := c.RequestSepaAccounts(context.Background(), &acc)
	require.NoError(t, err)

	hkspa := b.request(1).First("HKSPA")
	require.Equal(t, 1, hkspa.Len())
	assert.Equal(t, "0000000001", hkspa.El(1).Text(1))
	assert.Equal(t, "280", hkspa.El(1).Text(3))

	require.Len(t, sepa, 1)
	assert.Equal(t, testIBAN, sepa[0].IBAN)
	assert.Equal(t, "GENODE00TES", sepa[0].BIC)
	assert.Empty(t, sepa[0].SubAccount)
	assert.Equal(t, testBLZ, sepa[0].BankCode)
}

func TestRequestSepaAccounts_MissingHISPA(t *testing.T) {
	c, _ := initialised(t, initAnswer{}, answerWith("HKSPA"))

	_, err := c.RequestSepaAccounts(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDateRange(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)

	assert.Nil(t, dateRange(time.Time{}, time.Time{}))

	rng := dateRange(time.Time{}, day)
	require.Len(t, rng, 2)
	assert.True(t, rng[0].IsNull())
	assert.Equal(t, "20240301", rng[1].String())
}

func TestAmount(t *testing.T) {
	for in, want := range map[string]string{
		"4,36":    "4.36",
		"1000,":   "1000",
		" 12,5 ":  "12.5",
		"0,01":    "0.01",
		"1234567": "1234567",
	} {
		got, err := amount(in)
		require.NoError(t, err, in)
		assert.True(t, dec(want).Equal(got), "%s: got %s", in, got)
	}
	_, err := amount("x,1")
	assert.Error(t, err)
}
