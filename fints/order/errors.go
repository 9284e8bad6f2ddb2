package order

import (
	"fmt"

	"github.com/alapierre/go-fints-client/fints/message"
)

// NotSupportedError means none of the requested versions is announced by the bank.
type NotSupportedError struct {
	Type         string
	BankVersions []int
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("business transaction %s is not supported by the bank (bank versions: %v)", e.Type, e.BankVersions)
}

// FailedError is returned when HIRMG carries an error code. Returns holds
// all global messages of the failing response.
type FailedError struct {
	Returns []message.Return
}

func (e *FailedError) Error() string {
	if r := message.FirstError(e.Returns); r != nil {
		return "order failed: " + r.String()
	}
	return "order failed"
}

// SegmentFailedError is a 9xxx code reported for a single segment.
type SegmentFailedError struct {
	Type   string
	Return message.Return
}

func (e *SegmentFailedError) Error() string {
	return fmt.Sprintf("%s failed at bank: %s", e.Type, e.Return.String())
}

// InternalError signals a request definition the engine cannot handle.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string {
	return "internal error: " + e.Msg
}

// Check fails with a SegmentFailedError on the first 9xxx return.
func Check(typ string, returns []message.Return) error {
	if r := message.FirstError(returns); r != nil {
		return &SegmentFailedError{Type: typ, Return: *r}
	}
	return nil
}
