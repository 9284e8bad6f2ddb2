package fints

import (
	"context"

	"github.com/alapierre/go-fints-client/fints/message"
	"github.com/alapierre/go-fints-client/fints/model"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

// snapshot is the parameter state before a speculative dialog.
type snapshot struct {
	bpd *model.BPD
	upd *model.UPD
}

func (c *Client) snapshot() snapshot {
	return snapshot{bpd: c.bpd.Clone(), upd: c.upd.Clone()}
}

// rollback drops what a dialog that is no longer open delivered.
func (c *Client) rollback(s snapshot) {
	c.bpd = s.bpd.Clone()
	c.upd = s.upd.Clone()
	c.accounts = nil
}

// EstablishConnection runs the full handshake:
//
//  1. init at the known address; a rejected FinTS 3.0 header (9120) switches
//     to HBCI 2.2 once and starts over,
//  2. init again when step 1 announced a new address,
//  3. the dialog that stays open, followed by the SEPA account request.
//
// Dialogs of steps 1 and 2 are ended right away and the parameters they
// delivered are dropped, only the address, the TAN procedure, the system id
// and the signature counter are kept. On error no dialog stays open and the
// parameters are those of the last confirmed address.
func (c *Client) EstablishConnection(ctx context.Context) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	return c.establishConnection(ctx)
}

func (c *Client) establishConnection(ctx context.Context) error {
	original := c.snapshot()
	downgraded := false
	step := 1

	for {
		log := c.log.WithFields(logrus.Fields{"step": step, "protocol": c.protocolVersion})
		log.Debug("Init dialog")

		res, err := c.initDialog(ctx)
		if err != nil {
			c.endQuietly(ctx, log)
			if !downgraded && c.protocolVersion == message.FinTS300 && res != nil && versionRejected(res.Response) {
				log.Debug("FinTS 3.0 rejected by bank, switching to HBCI 2.2")
				c.protocolVersion = message.HBCI220
				downgraded = true
				c.reset()
				original = c.snapshot()
				step = 1
				continue
			}
			log.WithError(err).Error("Init dialog failed")
			return err
		}

		confirmed := original.bpd.URL
		if step < 3 {
			url := c.bpd.URL
			tanProcedure := c.upd.ActiveTanProcedure()
			systemID, lastSig := c.systemID, c.lastSigID
			// the dialog lives at the address it was opened on
			c.bpd.URL = original.bpd.URL
			c.endQuietly(ctx, log)

			c.reset()
			c.bpd = original.bpd.Clone()
			c.upd = original.upd.Clone()
			c.bpd.URL = url
			c.upd.TanProcedures = withActive(c.upd.TanProcedures, tanProcedure)
			c.systemID, c.lastSigID = systemID, lastSig

			original.bpd.URL = url
			original.upd.TanProcedures = withActive(original.upd.TanProcedures, tanProcedure)
		}

		if res.NewURL {
			if step == 1 {
				log.WithField("url", c.bpd.URL).Debug("Bank announced new address")
				step = 2
				continue
			}
			if step == 3 {
				// the HKEND goes to the address the dialog was opened on
				c.rollback(original)
				c.endQuietly(ctx, log)
			}
			c.bpd.URL = confirmed
			log.Error("Multiple URL changes are not supported")
			return ErrMultipleURLChanges
		}

		if step < 3 {
			step = 3
			continue
		}

		if !c.Anonymous() {
			sepa, err := c.requestSepaAccounts(ctx, nil)
			if err != nil {
				c.endQuietly(ctx, log)
				c.rollback(original)
				log.WithError(err).Error("Could not get SEPA account data")
				return errors.Wrap(err, "request SEPA accounts")
			}
			model.MergeSepa(c.accounts, sepa)
		}
		c.log.WithFields(logrus.Fields{
			"url":      c.bpd.URL,
			"protocol": c.protocolVersion,
			"accounts": len(c.accounts),
		}).Info("Connection established")
		return nil
	}
}

// endQuietly ends the open dialog, failures are only logged.
func (c *Client) endQuietly(ctx context.Context, log *logrus.Entry) {
	if err := c.endDialog(ctx); err != nil {
		log.WithError(err).Warn("Ending dialog failed")
	}
}

// versionRejected reports a 9120 on element 3 of the message header.
func versionRejected(resp *message.Message) bool {
	if resp == nil {
		return false
	}
	for _, r := range resp.SegmentReturns(1) {
		if r.Code == message.CodeVersionRejected && r.Ref == "3" {
			return true
		}
	}
	return false
}

func withActive(procedures []string, active string) []string {
	if len(procedures) == 0 {
		return []string{active}
	}
	procedures[0] = active
	return procedures
}
