// Package fints is a FinTS 3.0 / HBCI 2.2 PIN/TAN banking client.
//
// A Client holds one dialog with one bank. Operations are strictly
// sequential: starting an operation while another one is in flight fails
// with ErrOutOfSequence.
package fints

import (
	"context"
	"time"

	"github.com/alapierre/go-fints-client/fints/bank"
	"github.com/alapierre/go-fints-client/fints/message"
	"github.com/alapierre/go-fints-client/fints/metrics"
	"github.com/alapierre/go-fints-client/fints/model"
	"github.com/alapierre/go-fints-client/fints/order"
	"github.com/alapierre/go-fints-client/fints/transport"
	"github.com/alapierre/go-fints-client/fints/util"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

const (
	defaultProductName    = "go-fints-client"
	defaultProductVersion = "1"
)

type Option func(*Client)

// WithTransport replaces the default HTTPS transport.
func WithTransport(t transport.Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithProduct sets the product registration sent in HKVVB.
func WithProduct(name, version string) Option {
	return func(c *Client) {
		c.productName = name
		c.productVersion = version
	}
}

// WithProtocolVersion sets the first protocol version tried, message.FinTS300 by default.
func WithProtocolVersion(v int) Option {
	return func(c *Client) {
		c.protocolVersion = v
	}
}

type Client struct {
	bankCode   string
	customerID string
	pin        string
	tan        string
	url        string

	productName     string
	productVersion  string
	protocolVersion int

	dialogID  string
	nextMsgNr int
	systemID  string
	lastSigID int64

	bpd      *model.BPD
	upd      *model.UPD
	accounts []model.Account

	transport transport.Transport
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	log       *logrus.Entry

	busy atomic.Bool
}

// NewClient creates a client for a PIN/TAN user. The bank address is taken
// from dir.
func NewClient(bankCode, customerID, pin string, dir bank.Directory, opts ...Option) (*Client, error) {
	b, ok := dir.Lookup(bankCode)
	if !ok || b.URL == "" {
		return nil, &MissingBankDataError{BankCode: bankCode}
	}
	c := &Client{
		bankCode:        bankCode,
		customerID:      customerID,
		pin:             pin,
		url:             b.URL,
		productName:     defaultProductName,
		productVersion:  defaultProductVersion,
		protocolVersion: message.FinTS300,
		clock:           clockwork.NewRealClock(),
		log:             logger,
	}
	for _, o := range opts {
		o(c)
	}
	if c.transport == nil {
		c.transport = transport.NewHTTP()
	}
	c.log = c.log.WithField("blz", bankCode)
	c.reset()
	return c, nil
}

// NewAnonymousClient creates a client for anonymous dialogs: messages are
// not signed and no system id is requested.
func NewAnonymousClient(bankCode string, dir bank.Directory, opts ...Option) (*Client, error) {
	return NewClient(bankCode, AnonymousCustomerID, "", dir, opts...)
}

// reset drops all dialog and bank state, the bank address returns to the
// one from the directory.
func (c *Client) reset() {
	c.dialogID = "0"
	c.nextMsgNr = 1
	c.systemID = "0"
	c.lastSigID = 1
	c.bpd = model.NewBPD(c.url)
	c.upd = model.NewUPD()
	c.accounts = nil
}

func (c *Client) Anonymous() bool { return c.customerID == AnonymousCustomerID }

// SetTAN sets the TAN carried in the signature of the following messages.
// An empty value removes it.
func (c *Client) SetTAN(tan string) { c.tan = tan }

func (c *Client) Accounts() []model.Account { return c.accounts }

func (c *Client) BPD() *model.BPD { return c.bpd }

func (c *Client) UPD() *model.UPD { return c.upd }

func (c *Client) SystemID() string { return c.systemID }

func (c *Client) DialogID() string { return c.dialogID }

func (c *Client) ProtocolVersion() int { return c.protocolVersion }

// URL is the bank address currently used.
func (c *Client) URL() string {
	if c.bpd == nil {
		return c.url
	}
	return c.bpd.URL
}

// Close ends an open dialog.
func (c *Client) Close(ctx context.Context) error {
	return c.EndDialog(ctx)
}

// CloseSecure ends an open dialog and wipes credentials and bank data from
// the client. The client cannot be used afterwards.
func (c *Client) CloseSecure(ctx context.Context) error {
	err := c.EndDialog(ctx)
	if errors.Is(err, ErrOutOfSequence) {
		return err
	}
	c.pin = ""
	c.tan = ""
	c.systemID = ""
	c.bpd = nil
	c.upd = nil
	c.accounts = nil
	return err
}

// acquire marks the client busy. Every public operation calls it first.
func (c *Client) acquire() error {
	if !c.busy.CompareAndSwap(false, true) {
		return ErrOutOfSequence
	}
	if c.bpd == nil {
		c.busy.Store(false)
		return errors.New("fints: client was closed with CloseSecure")
	}
	return nil
}

func (c *Client) release() {
	c.busy.Store(false)
}

func (c *Client) nextSignatureID() int64 {
	now := c.clock.Now().UnixMilli()
	if now > c.lastSigID {
		c.lastSigID = now
	} else {
		c.lastSigID++
	}
	return c.lastSigID
}

// newMessage returns an initialised message with the next message number,
// signed unless the client is anonymous.
func (c *Client) newMessage() *message.Message {
	m := message.New(c.protocolVersion, message.WithClock(c.clock))
	if !c.Anonymous() {
		m.Sign(message.SignInfo{
			PIN:              c.pin,
			TAN:              c.tan,
			SystemID:         c.systemID,
			SignatureID:      c.nextSignatureID(),
			SecurityFunction: c.upd.ActiveTanProcedure(),
		})
	}
	m.Init(c.dialogID, c.nextMsgNr, c.bankCode, c.customerID)
	c.nextMsgNr++
	return m
}

// send exchanges one message with the bank. The dialog id of the answer is
// adopted while no dialog is open, a 9800 answer closes the dialog.
func (c *Client) send(ctx context.Context, m *message.Message) (*message.Message, error) {
	raw, err := m.Encode()
	if err != nil {
		return nil, errors.Wrap(err, "encode message")
	}
	first := firstBusinessSegment(m)
	log := c.log.WithFields(logrus.Fields{"msg": m.Number, "segment": first})
	if util.DebugEnabled() {
		log.WithField("data", string(m.DebugJSON())).Trace("Send")
	}

	start := c.clock.Now()
	answer, err := c.transport.Send(ctx, c.URL(), raw)
	if err != nil {
		log.WithError(err).Error("Exchange with bank failed")
		return nil, err
	}
	c.metrics.RoundTrip(first, len(raw), len(answer), c.clock.Since(start))

	resp, err := message.Parse(answer)
	if err != nil {
		log.WithError(err).Error("Could not parse bank answer")
		return nil, err
	}
	if util.DebugEnabled() {
		log.WithField("data", string(resp.DebugJSON())).Trace("Received")
	}

	switch {
	case resp.HasGlobalReturn(message.CodeDialogAborted):
		log.Debug("Bank aborted the dialog")
		c.dialogID = "0"
	case c.dialogID == "0" && resp.DialogID != "" && resp.DialogID != "0":
		c.dialogID = resp.DialogID
	}
	return resp, nil
}

func firstBusinessSegment(m *message.Message) string {
	for _, s := range m.Segments {
		switch s.Name {
		case "HNHBK", "HNSHK", "HKIDN":
			continue
		}
		return s.Name
	}
	return "HNHBK"
}

func (c *Client) newOrder() *order.Order {
	return order.New(orderDialog{c}, order.WithMetrics(c.metrics))
}

// orderDialog lends the client's dialog to the order engine.
type orderDialog struct {
	c *Client
}

func (d orderDialog) Versions(bankType string) []int { return d.c.bpd.Versions(bankType) }

func (d orderDialog) NewMessage() *message.Message { return d.c.newMessage() }

func (d orderDialog) Send(ctx context.Context, m *message.Message) (*message.Message, error) {
	return d.c.send(ctx, m)
}

func (d orderDialog) End(ctx context.Context) error { return d.c.endDialog(ctx) }

func formatDate(t time.Time) string {
	return t.Format("20060102")
}
