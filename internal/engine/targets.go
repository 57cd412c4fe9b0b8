package engine

import (
	"fmt"

	"prime-transaction-pipeline-go/internal/money"
)

// TargetKind is the kind of destination a transaction moves value to
type TargetKind int

const (
	TargetAddress TargetKind = iota
	TargetTradingAccount
	TargetInterestAccount
	TargetBank
)

func (k TargetKind) String() string {
	switch k {
	case TargetAddress:
		return "address"
	case TargetTradingAccount:
		return "trading_account"
	case TargetInterestAccount:
		return "interest_account"
	case TargetBank:
		return "bank"
	default:
		return "unknown"
	}
}

// Target is a transaction destination.
type Target interface {
	Kind() TargetKind
	Label() string
	Currency() money.Currency
}

// AddressTarget is an external on-chain address
type AddressTarget struct {
	Address string
	Asset   money.Currency
	Network string
	Memo    string
}

func (t AddressTarget) Kind() TargetKind { return TargetAddress }

func (t AddressTarget) Label() string {
	if t.Network != "" {
		return fmt.Sprintf("%s (%s)", t.Address, t.Network)
	}
	return t.Address
}

func (t AddressTarget) Currency() money.Currency { return t.Asset }

// AccountTarget is another account owned by the same user
type AccountTarget struct {
	Account Account
}

func (t AccountTarget) Kind() TargetKind {
	switch t.Account.Kind() {
	case AccountInterest:
		return TargetInterestAccount
	default:
		return TargetTradingAccount
	}
}

func (t AccountTarget) Label() string { return t.Account.Label() }

func (t AccountTarget) Currency() money.Currency { return t.Account.Currency() }

// BankTarget is the user's linked bank for a fiat currency. The concrete bank
// is resolved through BankLinks when the transaction is validated.
type BankTarget struct {
	Fiat money.Currency
}

func (t BankTarget) Kind() TargetKind { return TargetBank }

func (t BankTarget) Label() string { return "Linked bank (" + t.Fiat.Code + ")" }

func (t BankTarget) Currency() money.Currency { return t.Fiat }
