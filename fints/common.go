package fints

import (
	"fmt"

	"github.com/alapierre/go-fints-client/fints/message"
	"github.com/alapierre/go-fints-client/fints/order"
	"github.com/alapierre/go-fints-client/fints/parser"
	"github.com/alapierre/go-fints-client/fints/transport"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "fints")

// AnonymousCustomerID is used for dialogs without PIN.
const AnonymousCustomerID = "9999999999"

var (
	// ErrOutOfSequence is returned when an operation is started while another
	// one is still waiting for the bank. Nothing is sent and no state changes.
	ErrOutOfSequence = errors.New("fints: another request is still in progress")

	// ErrMultipleURLChanges means the bank announced a new address more than once
	// while the connection was established.
	ErrMultipleURLChanges = errors.New("fints: multiple URL changes are not supported")

	ErrMalformed = message.ErrMalformed
)

// Errors raised by the sub packages, re-exported for callers that only import fints.
type (
	ParseError            = parser.Error
	NotSupportedError     = order.NotSupportedError
	OrderFailedError      = order.FailedError
	SegmentFailedError    = order.SegmentFailedError
	InternalError         = order.InternalError
	ConnectionFailedError = transport.ConnectionFailedError
	RequestError          = transport.RequestError
	Return                = message.Return
)

// MissingBankDataError is returned when the bank directory has no entry for the bank code.
type MissingBankDataError struct {
	BankCode string
}

func (e *MissingBankDataError) Error() string {
	return fmt.Sprintf("no connection data for bank code %s", e.BankCode)
}

// InitFailedError is returned when the bank did not confirm the dialog initialisation.
type InitFailedError struct {
	Returns  []message.Return
	Response *message.Message
}

func (e *InitFailedError) Error() string {
	if r := message.FirstError(e.Returns); r != nil {
		return "dialog initialisation failed: " + r.String()
	}
	if len(e.Returns) > 0 {
		return "dialog initialisation not confirmed: " + e.Returns[0].String()
	}
	return "dialog initialisation not confirmed"
}
