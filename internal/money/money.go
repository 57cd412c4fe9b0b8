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

package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyKind distinguishes crypto assets from fiat currencies
type CurrencyKind int

const (
	Crypto CurrencyKind = iota
	Fiat
)

// Currency identifies an asset or fiat currency together with its display precision
type Currency struct {
	Code      string
	Kind      CurrencyKind
	Precision int32
}

var (
	BTC  = Currency{Code: "BTC", Kind: Crypto, Precision: 8}
	ETH  = Currency{Code: "ETH", Kind: Crypto, Precision: 18}
	SOL  = Currency{Code: "SOL", Kind: Crypto, Precision: 9}
	USDC = Currency{Code: "USDC", Kind: Crypto, Precision: 6}
	USDT = Currency{Code: "USDT", Kind: Crypto, Precision: 6}
	USD  = Currency{Code: "USD", Kind: Fiat, Precision: 2}
	EUR  = Currency{Code: "EUR", Kind: Fiat, Precision: 2}
	GBP  = Currency{Code: "GBP", Kind: Fiat, Precision: 2}
)

var knownCurrencies = map[string]Currency{
	BTC.Code:  BTC,
	ETH.Code:  ETH,
	SOL.Code:  SOL,
	USDC.Code: USDC,
	USDT.Code: USDT,
	USD.Code:  USD,
	EUR.Code:  EUR,
	GBP.Code:  GBP,
}

// LookupCurrency resolves a currency code. Unknown codes are treated as crypto with precision 6.
func LookupCurrency(code string) Currency {
	code = strings.ToUpper(strings.TrimSpace(code))
	if c, ok := knownCurrencies[code]; ok {
		return c
	}
	return Currency{Code: code, Kind: Crypto, Precision: 6}
}

func (c Currency) IsFiat() bool { return c.Kind == Fiat }

func (c Currency) String() string { return c.Code }

// Money is an amount tagged with its currency. Arithmetic between different
// currencies is a programming error and panics.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

func New(amount decimal.Decimal, currency Currency) Money {
	return Money{amount: amount, currency: currency}
}

func Zero(currency Currency) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// Parse builds a Money value from a decimal string such as "0.5".
func Parse(value string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return New(d, currency), nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(value string, currency Currency) Money {
	m, err := Parse(value, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Amount() decimal.Decimal { return m.amount }

func (m Money) Currency() Currency { return m.currency }

func (m Money) IsZero() bool { return m.amount.IsZero() }

func (m Money) IsPositive() bool { return m.amount.IsPositive() }

func (m Money) IsNegative() bool { return m.amount.IsNegative() }

func (m Money) SameCurrency(other Money) bool {
	return m.currency.Code == other.currency.Code
}

func (m Money) mustMatch(other Money, op string) {
	if !m.SameCurrency(other) {
		panic(fmt.Sprintf("money: %s between %s and %s", op, m.currency.Code, other.currency.Code))
	}
}

func (m Money) Add(other Money) Money {
	m.mustMatch(other, "add")
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}
}

func (m Money) Sub(other Money) Money {
	m.mustMatch(other, "sub")
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}
}

// Cmp returns -1, 0 or +1.
func (m Money) Cmp(other Money) int {
	m.mustMatch(other, "compare")
	return m.amount.Cmp(other.amount)
}

func (m Money) Equal(other Money) bool {
	return m.SameCurrency(other) && m.amount.Equal(other.amount)
}

func (m Money) GreaterThan(other Money) bool { return m.Cmp(other) > 0 }

func (m Money) LessThan(other Money) bool { return m.Cmp(other) < 0 }

// FloorZero returns m, or zero when m is negative.
func (m Money) FloorZero() Money {
	if m.amount.IsNegative() {
		return Zero(m.currency)
	}
	return m
}

func Min(a, b Money) Money {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func Max(a, b Money) Money {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// MinorUnits returns the amount expressed in the currency's smallest unit.
func (m Money) MinorUnits() decimal.Decimal {
	return m.amount.Shift(m.currency.Precision).Truncate(0)
}

func (m Money) String() string {
	return m.amount.String() + " " + m.currency.Code
}

// Display formats the amount at the currency's precision with trailing zeros removed.
func (m Money) Display() string {
	return m.amount.Round(m.currency.Precision).String() + " " + m.currency.Code
}
