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

// Package transaction holds the PendingTransaction snapshot that every engine
// step consumes and returns. Snapshots are values: every With* method returns a
// copy and never writes through to the receiver.
package transaction

import (
	"prime-transaction-pipeline-go/internal/money"
)

// EngineState is engine-private data carried alongside a snapshot (quote
// expiry, memo, target references). Implementations must be immutable values.
type EngineState interface {
	EngineName() string
}

// PendingTransaction is the snapshot of a transaction under construction
type PendingTransaction struct {
	Amount               money.Money
	Available            money.Money
	SelectedFiatCurrency money.Currency
	FeeAmount            money.Money
	FeeForFullAvailable  money.Money
	Limits               *money.TransactionLimits
	Validation           ValidationState

	feeSelection  FeeSelection
	confirmations []Confirmation
	engineState   EngineState
}

// New builds the zero-amount starting snapshot in the available balance's currency.
func New(available, fee, feeForFullAvailable money.Money, selection FeeSelection, fiat money.Currency) PendingTransaction {
	return PendingTransaction{
		Amount:               money.Zero(available.Currency()),
		Available:            available,
		SelectedFiatCurrency: fiat,
		FeeAmount:            fee,
		FeeForFullAvailable:  feeForFullAvailable,
		Validation:           Uninitialized(),
		feeSelection:         selection,
	}
}

func (p PendingTransaction) FeeSelection() FeeSelection { return p.feeSelection }

func (p PendingTransaction) EngineState() EngineState { return p.engineState }

// Confirmations returns a copy of the ordered confirmation list.
func (p PendingTransaction) Confirmations() []Confirmation {
	return append([]Confirmation(nil), p.confirmations...)
}

// Confirmation looks up the line of the given kind.
func (p PendingTransaction) Confirmation(kind ConfirmationKind) (Confirmation, bool) {
	for _, c := range p.confirmations {
		if c.Kind == kind {
			return c, true
		}
	}
	return Confirmation{}, false
}

func (p PendingTransaction) WithAmount(amount money.Money) PendingTransaction {
	p.Amount = amount
	return p
}

func (p PendingTransaction) WithAvailable(available money.Money) PendingTransaction {
	p.Available = available
	return p
}

func (p PendingTransaction) WithFees(fee, feeForFullAvailable money.Money, selection FeeSelection) PendingTransaction {
	p.FeeAmount = fee
	p.FeeForFullAvailable = feeForFullAvailable
	p.feeSelection = selection
	return p
}

func (p PendingTransaction) WithLimits(limits money.TransactionLimits) PendingTransaction {
	p.Limits = &limits
	return p
}

func (p PendingTransaction) WithValidation(v ValidationState) PendingTransaction {
	p.Validation = v
	return p
}

func (p PendingTransaction) WithEngineState(s EngineState) PendingTransaction {
	p.engineState = s
	return p
}

// WithConfirmations replaces the confirmation list. Duplicated kinds collapse
// onto the position of their first occurrence, keeping the last value.
func (p PendingTransaction) WithConfirmations(list []Confirmation) PendingTransaction {
	p.confirmations = nil
	for _, c := range list {
		p = p.InsertConfirmation(c)
	}
	return p
}

// InsertConfirmation replaces the line of the same kind in place, or appends it.
func (p PendingTransaction) InsertConfirmation(c Confirmation) PendingTransaction {
	next := make([]Confirmation, len(p.confirmations), len(p.confirmations)+1)
	copy(next, p.confirmations)
	for i := range next {
		if next[i].Kind == c.Kind {
			next[i] = c
			p.confirmations = next
			return p
		}
	}
	p.confirmations = append(next, c)
	return p
}

func (p PendingTransaction) RemoveConfirmation(kind ConfirmationKind) PendingTransaction {
	next := make([]Confirmation, 0, len(p.confirmations))
	for _, c := range p.confirmations {
		if c.Kind != kind {
			next = append(next, c)
		}
	}
	p.confirmations = next
	return p
}

// AcknowledgeConfirmation marks an acknowledgement line as accepted.
func (p PendingTransaction) AcknowledgeConfirmation(kind ConfirmationKind) PendingTransaction {
	c, ok := p.Confirmation(kind)
	if !ok || !c.RequiresAck {
		return p
	}
	c.Acked = true
	return p.InsertConfirmation(c)
}

// PendingAcknowledgements lists acknowledgement lines not yet accepted.
func (p PendingTransaction) PendingAcknowledgements() []ConfirmationKind {
	var kinds []ConfirmationKind
	for _, c := range p.confirmations {
		if c.RequiresAck && !c.Acked {
			kinds = append(kinds, c.Kind)
		}
	}
	return kinds
}

// FeeInAmountCurrency reports whether the fee is paid out of the same balance as the amount.
func (p PendingTransaction) FeeInAmountCurrency() bool {
	return p.FeeAmount.Currency().Code == p.Available.Currency().Code
}

// AmountWithFee is the amount plus the fee when both share a currency.
func (p PendingTransaction) AmountWithFee() money.Money {
	if p.FeeInAmountCurrency() {
		return p.Amount.Add(p.FeeAmount)
	}
	return p.Amount
}

// MinSpendable is the limits minimum, clamped to [0, available net of fees].
func (p PendingTransaction) MinSpendable() money.Money {
	if !p.limitsApply() {
		return money.Zero(p.Available.Currency())
	}
	return p.clamp(p.Limits.Minimum)
}

// MaxSpendable is min(maximum, available) minus the full-balance fee, floored at zero.
func (p PendingTransaction) MaxSpendable() money.Money {
	if !p.limitsApply() {
		return p.spendable(p.Available)
	}
	return p.spendable(money.Min(p.Limits.Maximum, p.Available))
}

func (p PendingTransaction) MaxSpendableDaily() money.Money {
	if !p.limitsApply() {
		return p.spendable(p.Available)
	}
	return p.spendable(money.Min(p.Limits.MaximumDaily, p.Available))
}

func (p PendingTransaction) MaxSpendableAnnually() money.Money {
	if !p.limitsApply() {
		return p.spendable(p.Available)
	}
	return p.spendable(money.Min(p.Limits.MaximumAnnual, p.Available))
}

func (p PendingTransaction) limitsApply() bool {
	return p.Limits != nil && p.Limits.Currency.Code == p.Available.Currency().Code
}

func (p PendingTransaction) netOfFees() money.Money {
	if p.FeeForFullAvailable.Currency().Code == p.Available.Currency().Code {
		return p.Available.Sub(p.FeeForFullAvailable).FloorZero()
	}
	return p.Available.FloorZero()
}

func (p PendingTransaction) spendable(ceiling money.Money) money.Money {
	if p.FeeForFullAvailable.Currency().Code == ceiling.Currency().Code {
		ceiling = ceiling.Sub(p.FeeForFullAvailable)
	}
	return p.clamp(ceiling)
}

func (p PendingTransaction) clamp(m money.Money) money.Money {
	return money.Min(m.FloorZero(), p.netOfFees())
}
