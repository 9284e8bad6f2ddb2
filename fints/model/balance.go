package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Figure is an amount in a currency.
type Figure struct {
	Value    decimal.Decimal
	Currency string
}

// Balance is a booked or pending balance. Value is always non negative,
// the direction is carried by Debit.
type Balance struct {
	Debit bool
	Figure
	Date time.Time
}

func (b Balance) Credit() bool { return !b.Debit }

// Signed returns the value negated for debit balances.
func (b Balance) Signed() decimal.Decimal {
	if b.Debit {
		return b.Value.Neg()
	}
	return b.Value
}

// TotalResult is the decoded HISAL answer.
type TotalResult struct {
	ProductName string
	Currency    string
	Booked      Balance
	Pending     *Balance
	CreditLine  *Figure
	Available   *Figure
	Used        *Figure
	Overdraft   *Figure
	BookedAt    time.Time
	DueDate     time.Time
}
