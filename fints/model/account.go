package model

// Account is an account announced by the bank in the user parameter data.
type Account struct {
	IBAN          string
	AccountNumber string
	SubAccount    string
	CountryCode   string
	BankCode      string
	CustomerID    string
	Type          string
	Currency      string
	Name          string
	Product       string

	// Sepa is filled in after a successful SEPA account request.
	Sepa *SepaAccount
}

// SameAccount compares national account number and sub account.
func (a Account) SameAccount(accountNumber, subAccount string) bool {
	return a.AccountNumber == accountNumber && a.SubAccount == subAccount
}

// SepaAccount is one entry of a HISPA answer.
type SepaAccount struct {
	IsSepa        bool
	IBAN          string
	BIC           string
	AccountNumber string
	SubAccount    string
	CountryCode   string
	BankCode      string
}

// MergeSepa attaches SEPA details to the accounts with the same account number
// and sub account. Accounts without a match are left untouched.
func MergeSepa(accounts []Account, sepa []SepaAccount) {
	for i := range accounts {
		for j := range sepa {
			if accounts[i].SameAccount(sepa[j].AccountNumber, sepa[j].SubAccount) {
				s := sepa[j]
				accounts[i].Sepa = &s
				if accounts[i].IBAN == "" {
					accounts[i].IBAN = s.IBAN
				}
				break
			}
		}
	}
}
