// Package mt940 parses SWIFT MT940 account statements as delivered in
// HIKAZ segments.
//
// Lines end with CRLF (LF is tolerated) or with "@@". A statement ends with
// a "-" line or an empty "@@" line.
package mt940

import (
	"sort"
	"strings"
	"time"

	"github.com/alapierre/go-fints-client/fints/model"
	"github.com/alapierre/go-fints-client/fints/parser"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

type field struct {
	tag   string
	lines []string
}

func (f field) value() string { return strings.Join(f.lines, "") }

// Parse returns the statements contained in text in order.
func Parse(text string) (model.Transactions, error) {
	messages, err := split(text)
	if err != nil {
		return nil, err
	}
	out := make(model.Transactions, 0, len(messages))
	for i, fields := range messages {
		t, err := statement(fields)
		if err != nil {
			return nil, errors.Wrapf(err, "statement %d", i+1)
		}
		out = append(out, t)
	}
	return out, nil
}

var lineEnds = []string{"\r\n", "\n", "@@"}

func split(text string) ([][]field, error) {
	sc := parser.NewString(text)
	var (
		messages [][]field
		current  []field
	)
	flush := func() {
		if len(current) > 0 {
			messages = append(messages, current)
			current = nil
		}
	}

	for !sc.EOF() {
		switch {
		case sc.HasPrefix("@@"):
			sc.Skip(2)
			flush()
		case sc.HasPrefix("\r\n"):
			sc.Skip(2)
		case sc.HasPrefix("\n"):
			sc.Skip(1)
		case sc.Is('-'):
			sc.Next()
			readLine(sc)
			flush()
		case sc.Is(':'):
			f, err := readField(sc)
			if err != nil {
				return nil, err
			}
			current = append(current, f)
		default:
			// block headers like {1:...} and other noise
			readLine(sc)
		}
	}
	flush()
	return messages, nil
}

func readLine(sc *parser.Scanner) string {
	sc.Mark("line")
	end, ok := sc.GotoString(lineEnds...)
	if !ok {
		sc.SetPos(sc.Len())
		return string(sc.FromMark("line"))
	}
	line := string(sc.FromMark("line"))
	sc.Skip(len(end))
	return line
}

func readField(sc *parser.Scanner) (field, error) {
	sc.Next()
	sc.Mark("tag")
	if !sc.Goto(":") {
		return field{}, sc.Errorf("field tag is not terminated")
	}
	f := field{tag: string(sc.FromMark("tag"))}
	sc.Next()
	f.lines = append(f.lines, readLine(sc))

	for !sc.EOF() && !sc.Is(':') && !sc.Is('-') && !sc.HasPrefix("@@") && !sc.HasPrefix("\r\n") && !sc.HasPrefix("\n") {
		f.lines = append(f.lines, readLine(sc))
	}
	return f, nil
}

func statement(fields []field) (model.Transaction, error) {
	var t model.Transaction
	currency := ""
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		switch f.tag {
		case "20":
			t.Reference = f.value()
		case "21":
			t.RelatedReference = f.value()
		case "25":
			t.AccountID = f.value()
		case "28", "28C":
			t.StatementNumber = f.value()
		case "60F", "60M":
			b, err := balance(f.value())
			if err != nil {
				return t, errors.Wrapf(err, "field %s", f.tag)
			}
			t.Opening = &b
			currency = b.Currency
		case "62F", "62M":
			b, err := balance(f.value())
			if err != nil {
				return t, errors.Wrapf(err, "field %s", f.tag)
			}
			t.Closing = &b
		case "61":
			r, err := statementLine(f)
			if err != nil {
				return t, errors.Wrap(err, "field 61")
			}
			r.Currency = currency
			if i+1 < len(fields) && fields[i+1].tag == "86" {
				i++
				r.RawDescription = fields[i].value()
				r.Description = Description(r.RawDescription)
			}
			t.Records = append(t.Records, r)
		}
	}
	return t, nil
}

// balance decodes "C250501EUR1041,23".
func balance(v string) (model.Balance, error) {
	if len(v) < 11 {
		return model.Balance{}, errors.Errorf("balance %q too short", v)
	}
	b := model.Balance{Debit: v[0] == 'D'}
	if v[0] != 'C' && v[0] != 'D' {
		return b, errors.Errorf("balance %q: unknown credit/debit mark", v)
	}
	date, err := shortDate(v[1:7])
	if err != nil {
		return b, err
	}
	b.Date = date
	b.Currency = v[7:10]
	if b.Value, err = amount(v[10:]); err != nil {
		return b, err
	}
	return b, nil
}

// statementLine decodes field 61:
// value date, [entry date], [R], C|D, [funds code], amount, N + key, reference[//bank reference].
func statementLine(f field) (model.TransactionRecord, error) {
	var r model.TransactionRecord
	v := f.lines[0]
	if len(v) < 8 {
		return r, errors.Errorf("statement line %q too short", v)
	}

	var err error
	if r.ValueDate, err = shortDate(v[0:6]); err != nil {
		return r, err
	}
	p := 6
	if len(v) >= 10 && digits(v[6:10]) {
		r.EntryDate = entryDate(r.ValueDate, v[6:10])
		p = 10
	}
	if p < len(v) && v[p] == 'R' {
		r.Reversal = true
		p++
	}
	if p >= len(v) || (v[p] != 'C' && v[p] != 'D') {
		return r, errors.Errorf("statement line %q: credit/debit mark missing", v)
	}
	r.Debit = v[p] == 'D'
	p++
	if p < len(v) && !digits(v[p:p+1]) {
		r.FundsCode = v[p : p+1]
		p++
	}

	end := strings.IndexByte(v[p:], 'N')
	if end < 0 {
		return r, errors.Errorf("statement line %q: transaction type missing", v)
	}
	if r.Value, err = amount(v[p : p+end]); err != nil {
		return r, err
	}
	p += end + 1
	if p+3 <= len(v) {
		r.BookingKey = v[p : p+3]
		p += 3
	}
	rest := v[min(p, len(v)):]
	if i := strings.Index(rest, "//"); i >= 0 {
		r.CustomerRef = rest[:i]
		r.BankRef = rest[i+2:]
	} else {
		r.CustomerRef = rest
	}
	if len(f.lines) > 1 {
		r.Supplement = strings.Join(f.lines[1:], "")
	}
	return r, nil
}

var sepaKeys = []string{"EREF+", "KREF+", "MREF+", "CRED+", "DEBT+", "SVWZ+", "ABWA+", "ABWE+"}

// Description decodes field 86. Text with a '?' in the first four
// characters is structured into ?NN sub fields.
func Description(raw string) *model.Description {
	d := &model.Description{}
	if len(raw) >= 3 && digits(raw[:3]) {
		d.GVCode = raw[:3]
	}
	d.Structured = strings.Contains(raw[:min(4, len(raw))], "?")
	if !d.Structured {
		d.Text = raw
		return d
	}

	parts := strings.Split(raw[strings.IndexByte(raw, '?')+1:], "?")
	for _, part := range parts {
		if len(part) < 2 {
			continue
		}
		code, value := part[:2], part[2:]
		switch code {
		case "00":
			d.PostingText = value
		case "10":
			d.Primanota = value
		case "20", "21", "22", "23", "24", "25", "26", "27", "28", "29", "60", "61", "62", "63":
			d.TextLines = append(d.TextLines, value)
		case "30":
			d.BIC = value
		case "31":
			d.IBAN = value
		case "32", "33":
			d.Name += value
		case "34":
			d.TextKeyAddition = value
		}
	}
	d.Text = strings.Join(d.TextLines, "")
	sepaFields(d)
	return d
}

func sepaFields(d *model.Description) {
	type hit struct {
		key string
		at  int
	}
	var hits []hit
	for _, k := range sepaKeys {
		if i := strings.Index(d.Text, k); i >= 0 {
			hits = append(hits, hit{k, i})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].at < hits[j].at })

	for i, h := range hits {
		end := len(d.Text)
		if i+1 < len(hits) {
			end = hits[i+1].at
		}
		value := strings.TrimSpace(d.Text[h.at+len(h.key) : end])
		switch h.key {
		case "EREF+":
			d.EndToEndRef = value
		case "KREF+":
			d.CustomerRef = value
		case "MREF+":
			d.MandateRef = value
		case "CRED+":
			d.CreditorID = value
		case "SVWZ+":
			d.Purpose = value
		}
	}
}

func amount(s string) (decimal.Decimal, error) {
	s = strings.TrimSuffix(strings.Replace(strings.TrimSpace(s), ",", ".", 1), ".")
	if s == "" {
		return decimal.Zero, errors.New("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "amount %q", s)
	}
	return d, nil
}

// shortDate decodes YYMMDD. Years are taken as 20YY.
func shortDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation("060102", s, time.UTC)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "date %q", s)
	}
	if t.Year() < 2000 {
		t = t.AddDate(100, 0, 0)
	}
	return t, nil
}

// entryDate decodes MMDD relative to the value date. Bookings around new
// year may have their entry date in the neighbouring year.
func entryDate(valueDate time.Time, mmdd string) time.Time {
	t, err := time.ParseInLocation("0102", mmdd, time.UTC)
	if err != nil {
		return time.Time{}
	}
	year := valueDate.Year()
	switch {
	case t.Month() == time.December && valueDate.Month() == time.January:
		year--
	case t.Month() == time.January && valueDate.Month() == time.December:
		year++
	}
	return time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
