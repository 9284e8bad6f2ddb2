// Package order turns logical business transactions into FinTS messages.
//
// An Order picks the highest segment version supported by both sides,
// sends the segments, follows continuation points (return code 3040) until
// the bank has delivered everything and finally hands the collected answer
// segments to the response handlers.
package order

import (
	"context"
	"slices"

	"github.com/alapierre/go-fints-client/fints/message"
	"github.com/alapierre/go-fints-client/fints/metrics"
	"github.com/alapierre/go-fints-client/fints/segment"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "fints.order")

const (
	StateBuilding     = "building"
	StateSent         = "sent"
	StateContinuation = "continuation"
	StateDone         = "done"
	StateFailed       = "failed"

	eventSend     = "send"
	eventContinue = "continue"
	eventFinish   = "finish"
	eventFail     = "fail"
)

// Dialog is the part of a client an order needs.
type Dialog interface {
	// Versions returns the versions the bank announced for a bank side
	// transaction type such as HISAL.
	Versions(bankType string) []int
	// NewMessage returns an initialised (and signed, if applicable) message
	// with the next message number.
	NewMessage() *message.Message
	Send(ctx context.Context, m *message.Message) (*message.Message, error)
	// End is a best effort dialog teardown after a failed order.
	End(ctx context.Context) error
}

// Response is what a handler receives once the order completed.
type Response struct {
	Version  int
	Segments []*segment.Segment
	Returns  []message.Return
	Message  *message.Message
}

type Handler func(Response) error

// Request describes one business transaction.
type Request struct {
	// Type is the customer side segment name, e.g. HKSAL.
	Type string
	// BankType is the bank side name used to look up parameters, e.g. HISAL.
	BankType string
	// ContinuationAt is the element path where a continuation point is
	// placed. Only top level positions are supported.
	ContinuationAt []int
	// Payloads holds the segment elements per version.
	Payloads map[int][]segment.Element
	// Handlers per version, 0 is the fallback.
	Handlers map[int]Handler
}

type sendMessage struct {
	typ          string
	version      int
	seg          *segment.Segment
	location     []int
	continuation string
	pending      bool
	finished     bool
	segments     []*segment.Segment
	returns      []message.Return
	handler      Handler
}

func (s *sendMessage) applyContinuation() error {
	if len(s.location) == 0 {
		return &InternalError{Msg: "continuation point received for " + s.typ + " but no location is declared"}
	}
	if len(s.location) > 1 {
		return &InternalError{Msg: "continuation point inside a data element group is not supported (" + s.typ + ")"}
	}
	s.seg.Set(s.location[0], segment.Value(s.continuation))
	return nil
}

type Option func(*Order)

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Order) {
		o.metrics = m
	}
}

type Order struct {
	id      string
	dialog  Dialog
	metrics *metrics.Metrics
	machine *fsm.FSM
	log     *logrus.Entry

	messages []*sendMessage
	global   []message.Return
	rounds   int
	err      error
}

func New(d Dialog, opts ...Option) *Order {
	o := &Order{id: uuid.NewString(), dialog: d}
	for _, opt := range opts {
		opt(o)
	}
	o.log = logger.WithField("order", o.id)
	o.machine = fsm.NewFSM(
		StateBuilding,
		fsm.Events{
			{Name: eventSend, Src: []string{StateBuilding, StateContinuation}, Dst: StateSent},
			{Name: eventContinue, Src: []string{StateSent}, Dst: StateContinuation},
			{Name: eventFinish, Src: []string{StateSent}, Dst: StateDone},
			{Name: eventFail, Src: []string{StateBuilding, StateSent, StateContinuation}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				o.log.Tracef("Order %s -> %s", e.Src, e.Dst)
			},
		},
	)
	return o
}

func (o *Order) ID() string { return o.id }

func (o *Order) State() string { return o.machine.Current() }

// Rounds is the number of messages sent so far.
func (o *Order) Rounds() int { return o.rounds }

// GlobalReturns holds the HIRMG messages of all rounds.
func (o *Order) GlobalReturns() []message.Return { return o.global }

// Add queues a business transaction using the highest version present in
// both the payload map and the bank parameters. When no such version exists
// the order fails and the NotSupportedError is returned here and from Do.
func (o *Order) Add(r Request) error {
	if o.err != nil {
		return o.err
	}
	candidates := make([]int, 0, len(r.Payloads))
	for v := range r.Payloads {
		candidates = append(candidates, v)
	}
	slices.Sort(candidates)
	slices.Reverse(candidates)

	bank := o.dialog.Versions(r.BankType)
	version := 0
	for _, v := range candidates {
		if slices.Contains(bank, v) {
			version = v
			break
		}
	}
	if version == 0 {
		o.err = &NotSupportedError{Type: r.Type, BankVersions: bank}
		o.transition(context.Background(), eventFail)
		o.metrics.Order(r.Type, "unsupported")
		return o.err
	}

	payload := make([]segment.Element, len(r.Payloads[version]))
	for i, e := range r.Payloads[version] {
		payload[i] = e.Clone()
	}

	handler, ok := r.Handlers[version]
	if !ok {
		handler, ok = r.Handlers[0]
	}
	if !ok || handler == nil {
		handler = func(Response) error { return nil }
	}

	o.messages = append(o.messages, &sendMessage{
		typ:      r.Type,
		version:  version,
		seg:      segment.New(r.Type, version, payload...),
		location: r.ContinuationAt,
		handler:  handler,
	})
	o.log.WithField("type", r.Type).Debugf("Using version %d (bank announces %v)", version, bank)
	return nil
}

// Do sends the queued segments, follows continuation points and calls the
// handlers. No handler is called when any round fails.
func (o *Order) Do(ctx context.Context) error {
	if o.err != nil {
		return o.abort(ctx, o.err)
	}
	if len(o.messages) == 0 {
		return errors.New("order has nothing to send")
	}

	for {
		o.transition(ctx, eventSend)

		msg := o.dialog.NewMessage()
		var sent []*sendMessage
		for _, sm := range o.messages {
			if sm.finished {
				continue
			}
			if sm.pending {
				if err := sm.applyContinuation(); err != nil {
					return o.abort(ctx, err)
				}
			}
			msg.Add(sm.seg)
			sent = append(sent, sm)
		}

		o.rounds++
		resp, err := o.dialog.Send(ctx, msg)
		if err != nil {
			return o.abort(ctx, err)
		}

		global, err := resp.GlobalReturns()
		if err != nil {
			return o.abort(ctx, err)
		}
		o.global = append(o.global, global...)
		if message.FirstError(global) != nil {
			return o.abort(ctx, &FailedError{Returns: global})
		}

		more := false
		for _, sm := range sent {
			if o.collect(sm, resp) {
				more = true
			}
		}

		if more {
			o.transition(ctx, eventContinue)
			o.metrics.Continuation()
			o.log.Debugf("Continuation point received, sending round %d", o.rounds+1)
			continue
		}

		o.transition(ctx, eventFinish)
		o.metrics.Order(o.types(), "ok")
		for _, sm := range o.messages {
			err := sm.handler(Response{Version: sm.version, Segments: sm.segments, Returns: sm.returns, Message: resp})
			if err != nil {
				return errors.Wrapf(err, "handle %s response", sm.typ)
			}
		}
		return nil
	}
}

// collect assigns the answer segments referencing sm's segment and reports
// whether a continuation point was received.
func (o *Order) collect(sm *sendMessage, resp *message.Message) bool {
	sm.finished = true
	sm.pending = false
	for _, s := range resp.ByRef(sm.seg.Nr) {
		if s.Name != "HIRMS" {
			sm.segments = append(sm.segments, s)
			continue
		}
		returns := message.Returns(s)
		sm.returns = append(sm.returns, returns...)
		for _, r := range returns {
			if r.Code == message.CodeContinuation && len(r.Params) > 0 && r.Params[0] != "" {
				sm.continuation = r.Params[0]
				sm.pending = true
				sm.finished = false
			}
		}
	}
	return sm.pending
}

func (o *Order) abort(ctx context.Context, cause error) error {
	o.transition(ctx, eventFail)
	if _, unsupported := cause.(*NotSupportedError); !unsupported {
		o.metrics.Order(o.types(), "failed")
	}
	if err := o.dialog.End(ctx); err != nil {
		o.log.WithError(err).Warn("Ending dialog after failed order failed")
	}
	return cause
}

func (o *Order) transition(ctx context.Context, event string) {
	if !o.machine.Can(event) {
		return
	}
	if err := o.machine.Event(ctx, event); err != nil {
		o.log.WithError(err).Tracef("Order state transition %s ignored", event)
	}
}

func (o *Order) types() string {
	if len(o.messages) == 0 {
		return "none"
	}
	t := o.messages[0].typ
	for _, sm := range o.messages[1:] {
		t += "," + sm.typ
	}
	return t
}
