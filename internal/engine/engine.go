/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package engine contains the per-(source, action, destination) strategies that
// compute balances, fees, validation and confirmations, and perform execution.
package engine

import (
	"context"

	"prime-transaction-pipeline-go/internal/money"
	"prime-transaction-pipeline-go/internal/transaction"
)

// Engine is implemented by every source/action/destination combination.
// Operations that take a PendingTransaction return a new snapshot and never
// modify the one passed in. Expected validation failures are reported inside
// the returned snapshot's Validation, never as errors.
type Engine interface {
	Name() string

	// AssertInputsValid checks the binding once, when the engine is resolved.
	AssertInputsValid() error

	InitializeTransaction(ctx context.Context) (transaction.PendingTransaction, error)
	Update(ctx context.Context, amount money.Money, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error)
	DoBuildConfirmations(ctx context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error)
	ValidateAmount(ctx context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error)
	DoValidateAll(ctx context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error)
	DoUpdateFeeLevel(ctx context.Context, ptx transaction.PendingTransaction, level transaction.FeeLevel, customAmount *money.Money) (transaction.PendingTransaction, error)
	Execute(ctx context.Context, ptx transaction.PendingTransaction, secondPassword string) (Result, error)
	DoPostExecute(ctx context.Context, result Result) error
}

// StepCompleter is implemented by engines that keep state about completed
// external steps (for example a cleared security challenge).
type StepCompleter interface {
	CompleteExternalStep(ctx context.Context, ptx transaction.PendingTransaction, step ExternalStep) (transaction.PendingTransaction, error)
}

// ResultKind tells whether settlement produced an on-chain hash
type ResultKind int

const (
	ResultHashed ResultKind = iota
	ResultUnhashed
)

// Result is the acknowledgement returned by Execute
type Result struct {
	Kind      ResultKind
	Hash      string
	Reference string
	Amount    money.Money
}

// Action is the kind of transaction being built
type Action int

const (
	ActionSend Action = iota
	ActionSwap
	ActionBuy
	ActionSell
	ActionDeposit
	ActionWithdraw
	ActionInterestTransfer
	ActionInterestWithdraw
)

func (a Action) String() string {
	switch a {
	case ActionSend:
		return "send"
	case ActionSwap:
		return "swap"
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	case ActionDeposit:
		return "deposit"
	case ActionWithdraw:
		return "withdraw"
	case ActionInterestTransfer:
		return "interest_transfer"
	case ActionInterestWithdraw:
		return "interest_withdraw"
	default:
		return "unknown"
	}
}

// AccountKind is the custody model of a source or destination account
type AccountKind int

const (
	AccountNonCustodial AccountKind = iota
	AccountTrading
	AccountInterest
	AccountFiat
)

func (k AccountKind) String() string {
	switch k {
	case AccountNonCustodial:
		return "non_custodial"
	case AccountTrading:
		return "trading"
	case AccountInterest:
		return "interest"
	case AccountFiat:
		return "fiat"
	default:
		return "unknown"
	}
}

// Account is the capability set an engine needs from a source account.
type Account interface {
	ID() string
	Label() string
	Kind() AccountKind
	Currency() money.Currency
	Balance(ctx context.Context) (money.Money, error)
	ActionableBalance(ctx context.Context) (money.Money, error)
	ReceiveAddress(ctx context.Context) (string, error)
	Can(action Action) bool
}

// FeeAccount is implemented by accounts whose network fee is paid from a
// different balance than the amount (tokens paying gas in the native asset).
type FeeAccount interface {
	FeeCurrency() money.Currency
	FeeBalance(ctx context.Context) (money.Money, error)
}

// CreditObserver is implemented by destination accounts that track credits
// not yet settled.
type CreditObserver interface {
	OnPendingCredit(ctx context.Context, amount money.Money, reference string) error
}
