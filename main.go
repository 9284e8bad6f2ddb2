package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alapierre/go-fints-client/fints"
	"github.com/alapierre/go-fints-client/fints/bank"
	"github.com/alapierre/go-fints-client/fints/util"
	"github.com/sirupsen/logrus"
)

func main() {

	logrus.SetLevel(logrus.DebugLevel)

	blz := util.GetEnvOrFailed("FINTS_BLZ")
	user := util.GetEnvOrFailed("FINTS_USER")
	pin := util.GetEnvOrFailed("FINTS_PIN")

	dir, err := directory(blz)
	if err != nil {
		panic(err)
	}

	client, err := fints.NewClient(blz, user, pin, dir)
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := client.EstablishConnection(ctx); err != nil {
		panic(err)
	}
	defer func() {
		if err := client.CloseSecure(ctx); err != nil {
			logrus.WithError(err).Warn("Closing dialog failed")
		}
	}()

	fmt.Println("Bank:", client.BPD().BankName, "URL:", client.URL())

	from := time.Now().AddDate(0, 0, -30)
	for _, account := range client.Accounts() {
		balance, err := client.GetBalance(ctx, account)
		if err != nil {
			logrus.WithError(err).WithField("account", account.AccountNumber).Error("Balance failed")
			continue
		}
		fmt.Printf("%s %s: %s %s\n", account.AccountNumber, account.IBAN,
			balance.Booked.Signed().StringFixed(2), balance.Booked.Currency)

		statements, err := client.GetTransactions(ctx, account, from, time.Time{})
		if err != nil {
			logrus.WithError(err).WithField("account", account.AccountNumber).Error("Transactions failed")
			continue
		}
		for _, r := range statements.Records() {
			text := ""
			if r.Description != nil {
				text = r.Description.Name + " " + r.Description.Purpose
			}
			fmt.Printf("  %s %10s %s\n", r.EntryDate.Format("2006-01-02"), r.Signed().StringFixed(2), text)
		}
	}
}

// directory reads FINTS_BANKS (a YAML bank list) when set, otherwise the
// address comes from FINTS_URL.
func directory(blz string) (bank.Directory, error) {
	if path := util.GetEnvOrDefault("FINTS_BANKS", ""); path != "" {
		banks, err := bank.LoadFile(path)
		if err != nil {
			return nil, err
		}
		return banks, nil
	}
	return bank.Single(blz, util.GetEnvOrFailed("FINTS_URL")), nil
}
