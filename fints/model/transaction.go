package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one account statement (an MT940 message): opening and
// closing balance with the statement lines between them.
type Transaction struct {
	Reference        string
	RelatedReference string
	AccountID        string
	StatementNumber  string
	Opening          *Balance
	Closing          *Balance
	Records          []TransactionRecord
}

// TransactionRecord is a single booking.
type TransactionRecord struct {
	ValueDate   time.Time
	EntryDate   time.Time
	Debit       bool
	Reversal    bool
	FundsCode   string
	Value       decimal.Decimal
	Currency    string
	BookingKey  string
	CustomerRef string
	BankRef     string
	Supplement  string

	Description    *Description
	RawDescription string
}

// Signed returns the amount negated for debit bookings.
func (r TransactionRecord) Signed() decimal.Decimal {
	if r.Debit {
		return r.Value.Neg()
	}
	return r.Value
}

// Description is the remittance information of a booking.
type Description struct {
	Structured bool
	GVCode     string

	PostingText     string
	Primanota       string
	TextLines       []string
	Text            string
	BIC             string
	IBAN            string
	Name            string
	TextKeyAddition string

	EndToEndRef string
	CustomerRef string
	MandateRef  string
	CreditorID  string
	Purpose     string
}

// Transactions is a list of statements in bank order.
type Transactions []Transaction

// Records flattens all statement lines into a single list.
func (t Transactions) Records() []TransactionRecord {
	var out []TransactionRecord
	for _, s := range t {
		out = append(out, s.Records...)
	}
	return out
}
