package models

import "time"

// Portfolio represents a Prime portfolio
type Portfolio struct {
	Id   string
	Name string
}

// Wallet represents a Prime wallet
type Wallet struct {
	Id     string
	Name   string
	Symbol string
	Type   string
}

// Withdrawal represents a Prime withdrawal transaction
type Withdrawal struct {
	ActivityId     string
	Asset          string
	Amount         string
	Destination    string
	IdempotencyKey string
}

// WalletTransaction is a wallet activity as reported by Prime. Symbol may be
// network-specific (BASEUSDC) and Amount may be signed.
type WalletTransaction struct {
	Id             string
	WalletId       string
	Type           string
	Status         string
	Symbol         string
	Amount         string
	Network        string
	IdempotencyKey string
	CreatedAt      time.Time
	CompletedAt    time.Time
}
