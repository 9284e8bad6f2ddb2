package fints

import (
	"context"
	"strings"
	"time"

	"github.com/alapierre/go-fints-client/fints/camt"
	"github.com/alapierre/go-fints-client/fints/message"
	"github.com/alapierre/go-fints-client/fints/model"
	"github.com/alapierre/go-fints-client/fints/mt940"
	"github.com/alapierre/go-fints-client/fints/order"
	"github.com/alapierre/go-fints-client/fints/segment"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// RequestSepaAccounts asks for the SEPA data (IBAN, BIC) of one account, or
// of all accounts when account is nil.
func (c *Client) RequestSepaAccounts(ctx context.Context, account *model.Account) ([]model.SepaAccount, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()
	return c.requestSepaAccounts(ctx, account)
}

func (c *Client) requestSepaAccounts(ctx context.Context, account *model.Account) ([]model.SepaAccount, error) {
	var payload []segment.Element
	continuationAt := 1
	if account != nil {
		payload = []segment.Element{nationalAccount(*account, c.bankCode)}
		continuationAt = 2
	}

	var out []model.SepaAccount
	handler := func(r order.Response) error {
		if err := order.Check("HKSPA", r.Returns); err != nil {
			return err
		}
		found := false
		for _, s := range r.Segments {
			if s.Name != "HISPA" {
				continue
			}
			found = true
			for _, e := range s.Elements() {
				out = append(out, model.SepaAccount{
					IsSepa:        yes(e.Text(1)),
					IBAN:          e.Text(2),
					BIC:           e.Text(3),
					AccountNumber: e.Text(4),
					SubAccount:    e.Text(5),
					CountryCode:   e.Text(6),
					BankCode:      e.Text(7),
				})
			}
		}
		if !found {
			return errors.Wrap(message.ErrMalformed, "HISPA missing in answer to HKSPA")
		}
		return nil
	}

	o := c.newOrder()
	err := o.Add(order.Request{
		Type:           "HKSPA",
		BankType:       "HISPA",
		ContinuationAt: []int{continuationAt},
		Payloads:       map[int][]segment.Element{1: payload, 2: payload, 3: payload},
		Handlers:       map[int]order.Handler{0: handler},
	})
	if err != nil {
		return nil, err
	}
	if err := o.Do(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTransactions fetches the MT940 statements of an account (HKKAZ). Zero
// from or to leave the range open on that side.
func (c *Client) GetTransactions(ctx context.Context, account model.Account, from, to time.Time) (model.Transactions, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	rng := dateRange(from, to)
	v5 := append([]segment.Element{nationalAccount(account, c.bankCode), segment.Value("N")}, rng...)
	v7 := append([]segment.Element{internationalAccount(account, c.bankCode), segment.Value("N")}, rng...)

	var text strings.Builder
	handler := func(r order.Response) error {
		if err := order.Check("HKKAZ", r.Returns); err != nil {
			return err
		}
		for _, s := range r.Segments {
			if s.Name == "HIKAZ" {
				text.WriteString(s.Text(1))
			}
		}
		return nil
	}

	o := c.newOrder()
	err := o.Add(order.Request{
		Type:           "HKKAZ",
		BankType:       "HIKAZ",
		ContinuationAt: []int{6},
		Payloads:       map[int][]segment.Element{5: v5, 7: v7},
		Handlers:       map[int]order.Handler{5: handler, 7: handler},
	})
	if err != nil {
		return nil, err
	}
	if err := o.Do(ctx); err != nil {
		return nil, err
	}
	statements, err := mt940.Parse(text.String())
	if err != nil {
		return nil, errors.Wrap(err, "parse MT940")
	}
	return statements, nil
}

// GetStatementsCAMT fetches booked transactions as camt.052 (HKCAZ).
func (c *Client) GetStatementsCAMT(ctx context.Context, account model.Account, from, to time.Time) (model.Transactions, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	payload := append([]segment.Element{
		internationalAccount(account, c.bankCode),
		segment.Value(camt.Format052),
		segment.Value("N"),
	}, dateRange(from, to)...)

	var out model.Transactions
	handler := func(r order.Response) error {
		if err := order.Check("HKCAZ", r.Returns); err != nil {
			return err
		}
		for _, s := range r.Segments {
			if s.Name != "HICAZ" {
				continue
			}
			booked, ok := s.Get(3)
			if !ok {
				continue
			}
			for _, doc := range booked.Members() {
				if doc.Kind() != segment.KindBinary {
					continue
				}
				statements, err := camt.Parse(doc.Bytes())
				if err != nil {
					return errors.Wrap(err, "parse camt.052")
				}
				out = append(out, statements...)
			}
		}
		return nil
	}

	o := c.newOrder()
	err := o.Add(order.Request{
		Type:           "HKCAZ",
		BankType:       "HICAZ",
		ContinuationAt: []int{7},
		Payloads:       map[int][]segment.Element{1: payload},
		Handlers:       map[int]order.Handler{0: handler},
	})
	if err != nil {
		return nil, err
	}
	if err := o.Do(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBalance fetches the balance of an account (HKSAL). Version 7 is used
// when the account has IBAN and BIC and the bank supports it.
func (c *Client) GetBalance(ctx context.Context, account model.Account) (*model.TotalResult, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	payloads := map[int][]segment.Element{}
	iban, bic := sepaIDs(account)
	if iban != "" && bic != "" && c.bpd.Supports("HISAL", 7) {
		payloads[7] = []segment.Element{internationalAccount(account, c.bankCode), segment.Value("N")}
	} else {
		v5 := []segment.Element{nationalAccount(account, c.bankCode), segment.Value("N")}
		payloads[5] = v5
		payloads[6] = v5
	}

	var result *model.TotalResult
	handler := func(r order.Response) error {
		if err := order.Check("HKSAL", r.Returns); err != nil {
			return err
		}
		for _, s := range r.Segments {
			if s.Name == "HISAL" {
				res, err := decodeBalance(s, r.Version)
				if err != nil {
					return err
				}
				result = res
				return nil
			}
		}
		return errors.Wrap(message.ErrMalformed, "HISAL missing in answer to HKSAL")
	}

	o := c.newOrder()
	err := o.Add(order.Request{
		Type:     "HKSAL",
		BankType: "HISAL",
		Payloads: payloads,
		Handlers: map[int]order.Handler{0: handler},
	})
	if err != nil {
		return nil, err
	}
	if err := o.Do(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

func decodeBalance(s *segment.Segment, version int) (*model.TotalResult, error) {
	booked, ok := balanceAt(s, 4)
	if !ok {
		return nil, errors.Wrap(message.ErrMalformed, "HISAL without booked balance")
	}
	res := &model.TotalResult{
		ProductName: s.Text(2),
		Currency:    s.Text(3),
		Booked:      booked,
		CreditLine:  figureAt(s, 6),
		Available:   figureAt(s, 7),
		Used:        figureAt(s, 8),
	}
	if pending, ok := balanceAt(s, 5); ok {
		res.Pending = &pending
	}
	if version == 5 {
		res.BookedAt = dateTime(s.Text(9), s.Text(10))
		res.DueDate = dateTime(s.Text(11), "")
		return res, nil
	}
	res.Overdraft = figureAt(s, 9)
	if ts, ok := s.Get(10); ok {
		res.BookedAt = dateTime(ts.Text(1), ts.Text(2))
	}
	res.DueDate = dateTime(s.Text(11), "")
	return res, nil
}

// balanceAt decodes "C:4,36:EUR[:date[:time]]".
func balanceAt(s *segment.Segment, n int) (model.Balance, bool) {
	e, ok := s.Get(n)
	if !ok || e.Kind() != segment.KindGroup || e.Len() < 3 {
		return model.Balance{}, false
	}
	v, err := amount(e.Text(2))
	if err != nil {
		return model.Balance{}, false
	}
	return model.Balance{
		Debit:  e.Text(1) == "D",
		Figure: model.Figure{Value: v, Currency: e.Text(3)},
		Date:   dateTime(e.Text(4), e.Text(5)),
	}, true
}

// figureAt decodes "4,36:EUR".
func figureAt(s *segment.Segment, n int) *model.Figure {
	e, ok := s.Get(n)
	if !ok || e.Kind() != segment.KindGroup {
		return nil
	}
	v, err := amount(e.Text(1))
	if err != nil {
		return nil
	}
	return &model.Figure{Value: v, Currency: e.Text(2)}
}

// amount decodes the FinTS decimal format, e.g. "1000," or "4,36".
func amount(s string) (decimal.Decimal, error) {
	s = strings.TrimSuffix(strings.Replace(strings.TrimSpace(s), ",", ".", 1), ".")
	return decimal.NewFromString(s)
}

// dateTime decodes YYYYMMDD and an optional hhmmss in local time.
func dateTime(date, clock string) time.Time {
	if date == "" {
		return time.Time{}
	}
	if clock == "" {
		clock = "000000"
	}
	t, err := time.ParseInLocation("20060102150405", date+clock, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

func dateRange(from, to time.Time) []segment.Element {
	if from.IsZero() && to.IsZero() {
		return nil
	}
	out := []segment.Element{segment.Null(), segment.Null()}
	if !from.IsZero() {
		out[0] = segment.Value(formatDate(from))
	}
	if !to.IsZero() {
		out[1] = segment.Value(formatDate(to))
	}
	return out
}

func countryCode(a model.Account) string {
	if a.CountryCode != "" {
		return a.CountryCode
	}
	return "280"
}

func accountBankCode(a model.Account, fallback string) string {
	if a.BankCode != "" {
		return a.BankCode
	}
	return fallback
}

func sepaIDs(a model.Account) (iban, bic string) {
	iban = a.IBAN
	if a.Sepa != nil {
		if a.Sepa.IBAN != "" {
			iban = a.Sepa.IBAN
		}
		bic = a.Sepa.BIC
	}
	return iban, bic
}

func nationalAccount(a model.Account, bankCode string) segment.Element {
	return segment.Group(
		segment.Value(a.AccountNumber),
		segment.OptionalValue(a.SubAccount),
		segment.Value(countryCode(a)),
		segment.Value(accountBankCode(a, bankCode)),
	)
}

func internationalAccount(a model.Account, bankCode string) segment.Element {
	iban, bic := sepaIDs(a)
	return segment.Group(
		segment.OptionalValue(iban),
		segment.OptionalValue(bic),
		segment.OptionalValue(a.AccountNumber),
		segment.OptionalValue(a.SubAccount),
		segment.Value(countryCode(a)),
		segment.Value(accountBankCode(a, bankCode)),
	)
}
