package fints

import (
	"context"
	"strconv"
	"strings"

	"github.com/alapierre/go-fints-client/fints/message"
	"github.com/alapierre/go-fints-client/fints/model"
	"github.com/alapierre/go-fints-client/fints/order"
	"github.com/alapierre/go-fints-client/fints/segment"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

// InitResult is the outcome of a successful dialog initialisation.
type InitResult struct {
	Response *message.Message
	// NewURL is set when the bank announced a different address in HIKOM.
	NewURL bool
}

// InitDialog opens a dialog and reads bank and user parameters from the answer.
func (c *Client) InitDialog(ctx context.Context) (*InitResult, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()
	return c.initDialog(ctx)
}

// EndDialog closes the open dialog, nothing is sent when there is none.
func (c *Client) EndDialog(ctx context.Context) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	return c.endDialog(ctx)
}

func (c *Client) initDialog(ctx context.Context) (*InitResult, error) {
	m := c.newMessage()
	m.Add(segment.New("HKIDN", 2,
		segment.Group(segment.Int(message.CountryCode), segment.Value(c.bankCode)),
		segment.Value(c.customerID),
		segment.Value(c.systemID),
		segment.Int(1),
	))
	vvbNr := m.Add(segment.New("HKVVB", 3,
		segment.Int(c.bpd.Version),
		segment.Int(c.upd.Version),
		segment.Int(0),
		segment.Value(c.productName),
		segment.Value(c.productVersion),
	))
	synNr := 0
	if !c.Anonymous() && c.systemID == "0" {
		version := 3
		if c.protocolVersion == message.HBCI220 {
			version = 2
		}
		synNr = m.Add(segment.New("HKSYN", version, segment.Int(0)))
	}

	c.log.WithField("protocol", c.protocolVersion).Debug("Send HKIDN, HKVVB")
	resp, err := c.send(ctx, m)
	if err != nil {
		return nil, err
	}

	global, err := resp.GlobalReturns()
	if err != nil {
		return &InitResult{Response: resp}, err
	}
	vvbReturns := resp.SegmentReturns(vvbNr)
	confirmed := message.FindReturn(vvbReturns, message.CodeDialogInitOK) != nil ||
		message.FindReturn(global, message.CodeDialogInitOK) != nil
	if message.FirstError(global) != nil || !confirmed {
		return &InitResult{Response: resp}, &InitFailedError{Returns: append(global, vvbReturns...), Response: resp}
	}

	c.dialogID = resp.DialogID
	if !c.Anonymous() && c.systemID == "0" && synNr > 0 {
		if hisyn := resp.ByNameAndRef("HISYN", synNr); len(hisyn) > 0 && hisyn[0].Text(1) != "" {
			c.systemID = hisyn[0].Text(1)
		}
	}

	newURL := announcedURL(resp)
	result := &InitResult{Response: resp, NewURL: newURL != "" && newURL != c.bpd.URL}

	if len(c.accounts) == 0 {
		c.accounts = accounts(resp)
	}

	c.bestEffort("HIBPA", func() error { return c.readBankParameters(resp, newURL) })
	if c.protocolVersion == message.FinTS300 {
		c.bestEffort("HIPINS", func() error { return c.readPinInfo(resp) })
	} else {
		c.bestEffort("DIPINS", func() error { return c.readSpkPinInfo(resp) })
	}
	c.bestEffort("HITANS", func() error { return c.readTanInfo(resp) })
	c.bestEffort("HIUPA", func() error { return c.readUserParameters(resp) })
	c.readTanProcedures(vvbReturns)
	for _, s := range resp.Segments {
		if len(s.Name) >= 6 && s.Name[5] == 'S' {
			c.bpd.AddParameters(s)
		}
	}

	c.log.WithFields(logrus.Fields{
		"dialog":   c.dialogID,
		"bank":     c.bpd.BankName,
		"url":      c.bpd.URL,
		"accounts": len(c.accounts),
		"tan":      c.upd.ActiveTanProcedure(),
	}).Debug("Dialog initialised")
	return result, nil
}

func (c *Client) bestEffort(name string, read func() error) {
	if err := read(); err != nil {
		c.log.WithError(err).WithField("segment", name).Debug("Could not read init segment")
	}
}

func (c *Client) endDialog(ctx context.Context) error {
	if c.dialogID == "0" || c.dialogID == "" {
		return nil
	}
	m := c.newMessage()
	m.Add(segment.New("HKEND", 1, segment.Value(c.dialogID)))
	c.log.WithField("dialog", c.dialogID).Debug("Send HKEND")

	resp, err := c.send(ctx, m)
	c.dialogID = "0"
	c.nextMsgNr = 1
	if err != nil {
		return errors.Wrap(err, "end dialog")
	}
	global, err := resp.GlobalReturns()
	if err != nil {
		return err
	}
	if message.FirstError(global) != nil {
		return &order.FailedError{Returns: global}
	}
	return nil
}

// announcedURL returns the first HTTPS address (service type 3) from HIKOM.
func announcedURL(resp *message.Message) string {
	hikom := resp.First("HIKOM")
	if hikom == nil {
		return ""
	}
	for i := 3; i <= hikom.Len(); i++ {
		e := hikom.El(i)
		if e.Text(1) != "3" || e.Text(2) == "" {
			continue
		}
		u := e.Text(2)
		if !strings.HasPrefix(u, "http") {
			u = "https://" + u
		}
		return u
	}
	return ""
}

func accounts(resp *message.Message) []model.Account {
	var out []model.Account
	for _, s := range resp.ByName("HIUPD") {
		id, _ := s.Get(1)
		out = append(out, model.Account{
			AccountNumber: id.Text(1),
			SubAccount:    id.Text(2),
			CountryCode:   id.Text(3),
			BankCode:      id.Text(4),
			IBAN:          s.Text(2),
			CustomerID:    s.Text(3),
			Type:          s.Text(4),
			Currency:      s.Text(5),
			Name:          s.Text(6),
			Product:       s.Text(8),
		})
	}
	return out
}

func (c *Client) readBankParameters(resp *message.Message, newURL string) error {
	hibpa := resp.First("HIBPA")
	if hibpa == nil {
		return errors.New("HIBPA missing")
	}
	if newURL != "" {
		c.bpd.URL = newURL
	}
	v, err := strconv.Atoi(hibpa.Text(1))
	if err != nil {
		return errors.Wrap(err, "BPD version")
	}
	c.bpd.Version = v
	c.bpd.BankName = hibpa.Text(3)
	if supported, ok := hibpa.Get(6); ok {
		c.bpd.SupportedVersions = c.bpd.SupportedVersions[:0]
		for _, m := range supported.Members() {
			if n, err := m.Int(); err == nil {
				c.bpd.SupportedVersions = append(c.bpd.SupportedVersions, n)
			}
		}
	}
	return nil
}

// readPinInfo decodes HIPINS element 4: limits and labels followed by
// (segment, J/N) pairs.
func (c *Client) readPinInfo(resp *message.Message) error {
	hipins := resp.First("HIPINS")
	if hipins == nil {
		return errors.New("HIPINS missing")
	}
	data, ok := hipins.Get(4)
	if !ok {
		return errors.New("HIPINS element 4 missing")
	}
	pin := &c.bpd.Pin
	pin.MinLength = atoi(data.Text(1))
	pin.MaxLength = atoi(data.Text(2))
	pin.MaxTanLength = atoi(data.Text(3))
	pin.UserIDText = data.Text(4)
	pin.CustomerIDText = data.Text(5)
	pin.TanRequired = tanRequired(data.Members()[min(5, data.Len()):])
	return nil
}

func (c *Client) readSpkPinInfo(resp *message.Message) error {
	dipins := resp.First("DIPINS")
	if dipins == nil {
		c.log.Debug("Neither HIPINS nor DIPINS present in HBCI 2.2 answer")
		return nil
	}
	data, ok := dipins.Get(3)
	if !ok {
		return errors.New("DIPINS element 3 missing")
	}
	c.bpd.Pin.TanRequired = tanRequired(data.Members())
	return nil
}

func tanRequired(pairs []segment.Element) map[string]bool {
	out := make(map[string]bool, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out[pairs[i].String()] = strings.EqualFold(pairs[i+1].String(), "J")
	}
	return out
}

// Field count of one procedure record in HITANS element 4.
var tanRecordSize = map[int]int{5: 22, 6: 21}

func (c *Client) readTanInfo(resp *message.Message) error {
	var hitans *segment.Segment
	for _, s := range resp.ByName("HITANS") {
		if _, known := tanRecordSize[s.Version]; known && (hitans == nil || s.Version > hitans.Version) {
			hitans = s
		}
	}
	if hitans == nil {
		return errors.New("no HITANS in version 5 or 6")
	}
	data, ok := hitans.Get(4)
	if !ok {
		return errors.New("HITANS element 4 missing")
	}

	tan := &c.bpd.Tan
	tan.OneStepAllowed = yes(data.Text(1))
	tan.MultipleTANs = yes(data.Text(2))
	tan.HashType = data.Text(3)
	tan.Procedures = map[string]model.TanProcedure{}

	size := tanRecordSize[hitans.Version]
	fields := data.Members()
	for i := 3; i+size <= len(fields); i += size {
		p := tanProcedure(hitans.Version, fields[i:i+size])
		tan.Procedures[p.Code] = p
	}
	return nil
}

func tanProcedure(version int, f []segment.Element) model.TanProcedure {
	p := model.TanProcedure{
		Code:         f[0].String(),
		OneTwoStep:   f[1].String(),
		TechID:       f[2].String(),
		ZKAName:      f[3].String(),
		ZKAVersion:   f[4].String(),
		Description:  f[5].String(),
		MaxLenTAN:    atoi(f[6].String()),
		Alphanumeric: f[7].String() == "2",
		ReturnText:   f[8].String(),
		MaxLenReturn: atoi(f[9].String()),
	}
	if version == 5 {
		p.NumTanLists = atoi(f[10].String())
		p.MultipleTANs = yes(f[11].String())
		p.TimeDialogRef = f[12].String()
		p.TanListNumberRequired = f[13].String() == "2"
		p.Cancellable = yes(f[14].String())
		p.SMSAccountRequired = f[15].String() == "2"
		p.OrderAccountRequired = f[16].String() == "2"
		p.ChallengeClassRequired = yes(f[17].String())
		p.ChallengeStructured = yes(f[18].String())
		p.InitMode = f[19].String()
		p.MediumNameRequired = f[20].String() == "2"
		p.NumSupportedMedia = atoi(f[21].String())
		return p
	}
	p.MultipleTANs = yes(f[10].String())
	p.TimeDialogRef = f[11].String()
	p.Cancellable = yes(f[12].String())
	p.SMSAccountRequired = f[13].String() == "2"
	p.OrderAccountRequired = f[14].String() == "2"
	p.ChallengeClassRequired = yes(f[15].String())
	p.ChallengeStructured = yes(f[16].String())
	p.InitMode = f[17].String()
	p.MediumNameRequired = f[18].String() == "2"
	p.HHDUCRequired = yes(f[19].String())
	p.NumSupportedMedia = atoi(f[20].String())
	return p
}

func (c *Client) readUserParameters(resp *message.Message) error {
	hiupa := resp.First("HIUPA")
	if hiupa == nil {
		return errors.New("HIUPA missing")
	}
	v, err := strconv.Atoi(hiupa.Text(2))
	if err != nil {
		return errors.Wrap(err, "UPD version")
	}
	c.upd.Version = v
	c.upd.StoresTransactions = hiupa.Text(3) == "0"
	return nil
}

// readTanProcedures takes the allowed security functions from the 3920
// answer to HKVVB, the first one becomes active.
func (c *Client) readTanProcedures(returns []message.Return) {
	r := message.FindReturn(returns, message.CodeTanProcedures)
	if r == nil {
		return
	}
	var procedures []string
	for _, p := range r.Params {
		if p != "" {
			procedures = append(procedures, p)
		}
	}
	if len(procedures) == 0 {
		return
	}
	c.upd.TanProcedures = procedures
	c.log.WithField("tan", procedures[0]).Info("Using TAN procedure announced by bank")
}

func yes(s string) bool { return strings.EqualFold(s, "J") }

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
