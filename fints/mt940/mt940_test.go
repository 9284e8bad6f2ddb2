package mt940

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

var twoStatements = crlf(
	":20:STARTUMS",
	":25:12345678/0000000001",
	":28C:0",
	":60F:C250501EUR1041,23",
	":61:2505020502CR182,34N062NONREF",
	":86:166?00GUTSCHRIFT?109249?20EREF+174?21SVWZ+Rechnung 4711?30GENODE",
	"00TES?31DE111234567800000002?32Max Mustermann",
	":62F:C250502EUR1223,57",
	"-",
	":20:STARTUMS",
	":25:12345678/0000000001",
	":28C:0",
	":60F:C250502EUR1223,57",
	":61:2505030503CR100,03N062NONREF",
	":86:166?00GUTSCHRIFT?20EREF+175 SVWZ+Miete Mai?32Erika Musterfrau",
	":61:2505030503CR100,N051KD4711//BANKREF1",
	"/OCMT/EUR100,00/",
	":86:Bareinzahlung Filiale",
	":62F:C250503EUR1423,6",
	"-",
)

func TestParse(t *testing.T) {
	stmts, err := Parse(twoStatements)
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	first := stmts[0]
	assert.Equal(t, "STARTUMS", first.Reference)
	assert.Equal(t, "12345678/0000000001", first.AccountID)
	require.NotNil(t, first.Opening)
	require.NotNil(t, first.Closing)
	assert.True(t, decimal.RequireFromString("1041.23").Equal(first.Opening.Value))
	assert.True(t, decimal.RequireFromString("1223.57").Equal(first.Closing.Value))
	assert.Equal(t, "EUR", first.Closing.Currency)
	assert.Equal(t, time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC), first.Closing.Date)

	second := stmts[1]
	require.NotNil(t, second.Closing)
	assert.True(t, decimal.RequireFromString("1423.6").Equal(second.Closing.Value))

	records := stmts.Records()
	require.Len(t, records, 3)
	for i, want := range []string{"182.34", "100.03", "100.00"} {
		assert.True(t, decimal.RequireFromString(want).Equal(records[i].Value), "record %d: %s", i, records[i].Value)
		assert.False(t, records[i].Debit)
		assert.Equal(t, "EUR", records[i].Currency)
	}
}

func TestParse_StatementLine(t *testing.T) {
	stmts, err := Parse(twoStatements)
	require.NoError(t, err)
	r := stmts[1].Records[1]

	assert.Equal(t, time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC), r.ValueDate)
	assert.Equal(t, time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC), r.EntryDate)
	assert.Equal(t, "R", r.FundsCode)
	assert.False(t, r.Reversal)
	assert.Equal(t, "051", r.BookingKey)
	assert.Equal(t, "KD4711", r.CustomerRef)
	assert.Equal(t, "BANKREF1", r.BankRef)
	assert.Equal(t, "/OCMT/EUR100,00/", r.Supplement)

	require.NotNil(t, r.Description)
	assert.False(t, r.Description.Structured)
	assert.Equal(t, "Bareinzahlung Filiale", r.Description.Text)
}

func TestParse_StructuredDescription(t *testing.T) {
	stmts, err := Parse(twoStatements)
	require.NoError(t, err)
	d := stmts[0].Records[0].Description
	require.NotNil(t, d)

	assert.True(t, d.Structured)
	assert.Equal(t, "166", d.GVCode)
	assert.Equal(t, "GUTSCHRIFT", d.PostingText)
	assert.Equal(t, "9249", d.Primanota)
	assert.Equal(t, []string{"EREF+174", "SVWZ+Rechnung 4711"}, d.TextLines)
	// continuation line joined without separator
	assert.Equal(t, "GENODE00TES", d.BIC)
	assert.Equal(t, "DE111234567800000002", d.IBAN)
	assert.Equal(t, "Max Mustermann", d.Name)
	assert.Equal(t, "174", d.EndToEndRef)
	assert.Equal(t, "Rechnung 4711", d.Purpose)
}

func TestParse_AtSeparators(t *testing.T) {
	text := ":20:STARTUMS@@:25:12345678/1@@:60F:D250101EUR10,@@" +
		":61:2501021231RD5,5NMSCNONREF@@:86:?00STORNO@@:62F:D250102EUR15,50@@@@" +
		":20:NEXT@@:62F:C250103EUR0,@@"

	stmts, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	first := stmts[0]
	require.NotNil(t, first.Opening)
	assert.True(t, first.Opening.Debit)
	require.Len(t, first.Records, 1)

	r := first.Records[0]
	assert.True(t, r.Reversal)
	assert.True(t, r.Debit)
	assert.True(t, decimal.RequireFromString("5.5").Equal(r.Value))
	assert.True(t, decimal.RequireFromString("-5.5").Equal(r.Signed()))
	assert.Equal(t, "MSC", r.BookingKey)
	// entry date in December belongs to the previous year
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), r.EntryDate)
	assert.Equal(t, "STORNO", r.Description.PostingText)

	assert.Equal(t, "NEXT", stmts[1].Reference)
	assert.True(t, stmts[1].Closing.Value.IsZero())
}

func TestParse_Empty(t *testing.T) {
	stmts, err := Parse("")
	require.NoError(t, err)
	assert.Empty(t, stmts)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"short balance":  ":60F:C2501\r\n-\r\n",
		"bad amount":     ":62F:C250101EURabc\r\n-\r\n",
		"no debit mark":  ":61:250101X10,N051\r\n-\r\n",
		"no type":        ":61:250101C10,00\r\n-\r\n",
		"bad date":       ":60F:C251399EUR1,00\r\n-\r\n",
		"open field tag": ":61",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestDescription_SepaKeys(t *testing.T) {
	d := Description("105?00SEPA-BASISLASTSCHRIFT?20EREF+E2E-1?21MREF+M-77?22CRED+DE98ZZZ09999999999?23SVWZ+Strom Mai")
	assert.Equal(t, "E2E-1", d.EndToEndRef)
	assert.Equal(t, "M-77", d.MandateRef)
	assert.Equal(t, "DE98ZZZ09999999999", d.CreditorID)
	assert.Equal(t, "Strom Mai", d.Purpose)
}
