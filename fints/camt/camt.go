// Package camt reads ISO 20022 camt.052 account reports as returned in
// HICAZ segments.
package camt

import (
	"strings"
	"time"

	"github.com/alapierre/go-fints-client/fints/model"
	"github.com/beevik/etree"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Format052 is the camt descriptor sent in HKCAZ.
const Format052 = "urn:iso:std:iso:20022:tech:xsd:camt.052.001.02"

// Parse converts one camt.052 document. Each report (Rpt) becomes one
// statement, its entries (Ntry) the statement records.
func Parse(data []byte) (model.Transactions, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, errors.Wrap(err, "read camt document")
	}
	root := doc.FindElement("//BkToCstmrAcctRpt")
	if root == nil {
		return nil, errors.New("camt: BkToCstmrAcctRpt missing")
	}

	var out model.Transactions
	for i, rpt := range root.SelectElements("Rpt") {
		t, err := report(rpt)
		if err != nil {
			return nil, errors.Wrapf(err, "report %d", i+1)
		}
		out = append(out, t)
	}
	return out, nil
}

func report(rpt *etree.Element) (model.Transaction, error) {
	t := model.Transaction{
		Reference:       text(rpt, "Id"),
		StatementNumber: text(rpt, "ElctrncSeqNb"),
		AccountID:       text(rpt, "Acct/Id/IBAN"),
	}
	currency := text(rpt, "Acct/Ccy")

	for _, bal := range rpt.SelectElements("Bal") {
		b, err := balance(bal)
		if err != nil {
			return t, err
		}
		switch text(bal, "Tp/CdOrPrtry/Cd") {
		case "PRCD", "OPBD":
			t.Opening = &b
		case "CLBD":
			t.Closing = &b
		}
		if currency == "" {
			currency = b.Currency
		}
	}

	for _, e := range rpt.SelectElements("Ntry") {
		r, err := entry(e)
		if err != nil {
			return t, errors.Wrapf(err, "entry %s", text(e, "NtryRef"))
		}
		if r.Currency == "" {
			r.Currency = currency
		}
		t.Records = append(t.Records, r)
	}
	return t, nil
}

func balance(bal *etree.Element) (model.Balance, error) {
	v, ccy, err := amount(bal.FindElement("Amt"))
	if err != nil {
		return model.Balance{}, errors.Wrap(err, "balance")
	}
	return model.Balance{
		Debit:  text(bal, "CdtDbtInd") == "DBIT",
		Figure: model.Figure{Value: v, Currency: ccy},
		Date:   date(bal, "Dt"),
	}, nil
}

func entry(e *etree.Element) (model.TransactionRecord, error) {
	v, ccy, err := amount(e.FindElement("Amt"))
	if err != nil {
		return model.TransactionRecord{}, err
	}
	r := model.TransactionRecord{
		Value:     v,
		Currency:  ccy,
		Debit:     text(e, "CdtDbtInd") == "DBIT",
		Reversal:  text(e, "RvslInd") == "true",
		EntryDate: date(e, "BookgDt"),
		ValueDate: date(e, "ValDt"),
		BankRef:   text(e, "AcctSvcrRef"),
	}

	tx := e.FindElement("NtryDtls/TxDtls")
	if tx == nil {
		r.RawDescription = text(e, "AddtlNtryInf")
		r.Description = &model.Description{Text: r.RawDescription}
		return r, nil
	}

	party := "Dbtr"
	if r.Debit {
		party = "Cdtr"
	}
	lines := texts(tx, "RmtInf/Ustrd")
	d := &model.Description{
		Structured:  true,
		GVCode:      text(tx, "BkTxCd/Prtry/Cd"),
		PostingText: text(e, "AddtlNtryInf"),
		TextLines:   lines,
		Text:        strings.Join(lines, ""),
		Name:        text(tx, "RltdPties/"+party+"/Nm"),
		IBAN:        text(tx, "RltdPties/"+party+"Acct/Id/IBAN"),
		BIC:         text(tx, "RltdAgts/"+party+"Agt/FinInstnId/BIC"),
		EndToEndRef: text(tx, "Refs/EndToEndId"),
		MandateRef:  text(tx, "Refs/MndtId"),
		CreditorID:  text(tx, "RltdPties/Cdtr/Id/PrvtId/Othr/Id"),
	}
	if d.EndToEndRef == "NOTPROVIDED" {
		d.EndToEndRef = ""
	}
	d.Purpose = d.Text
	if gv := d.GVCode; len(gv) > 3 {
		// proprietary codes look like "NTRF+166+9249"
		if parts := strings.Split(gv, "+"); len(parts) > 1 {
			d.GVCode = parts[1]
			if len(parts) > 2 {
				d.Primanota = parts[2]
			}
		}
	}
	r.CustomerRef = text(tx, "Refs/EndToEndId")
	r.RawDescription = d.Text
	r.Description = d
	return r, nil
}

func amount(el *etree.Element) (decimal.Decimal, string, error) {
	if el == nil {
		return decimal.Zero, "", errors.New("Amt missing")
	}
	v, err := decimal.NewFromString(strings.TrimSpace(el.Text()))
	if err != nil {
		return decimal.Zero, "", errors.Wrapf(err, "amount %q", el.Text())
	}
	return v, el.SelectAttrValue("Ccy", ""), nil
}

// date reads <path><Dt> or <path><DtTm>.
func date(el *etree.Element, path string) time.Time {
	el = el.FindElement(path)
	if el == nil {
		return time.Time{}
	}
	if s := text(el, "Dt"); s != "" {
		if t, err := time.ParseInLocation(time.DateOnly, s, time.UTC); err == nil {
			return t
		}
	}
	if s := text(el, "DtTm"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
		if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

func text(el *etree.Element, path string) string {
	if found := el.FindElement(path); found != nil {
		return strings.TrimSpace(found.Text())
	}
	return ""
}

func texts(el *etree.Element, path string) []string {
	var out []string
	for _, found := range el.FindElements(path) {
		out = append(out, strings.TrimSpace(found.Text()))
	}
	return out
}
