package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	CurrencyUSD = "USD"
	CurrencyLBP = "LBP"
)

const (
	usdPlaces = 2
	lbpPlaces = 0
)

// Money is a dual-currency amount. USD keeps cents, LBP has no subdivision.
// Both components are rounded independently and never derived from each other
// after the value exists.
type Money struct {
	USD decimal.Decimal `json:"usd"`
	LBP decimal.Decimal `json:"lbp"`
}

func ZeroMoney() Money {
	return Money{USD: decimal.Zero, LBP: decimal.Zero}
}

// NewMoney rounds both components and rejects negative amounts.
func NewMoney(usd decimal.Decimal, lbp decimal.Decimal) (Money, error) {
	m := Money{USD: usd, LBP: lbp}.rounded()
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}

func MoneyFromFloat(usd float64, lbp float64) (Money, error) {
	return NewMoney(decimal.NewFromFloat(usd), decimal.NewFromFloat(lbp))
}

// MoneyFromUSD derives the LBP side from an exchange rate. Only used where a
// price is first set.
func MoneyFromUSD(usd decimal.Decimal, rate decimal.Decimal) (Money, error) {
	if rate.IsNegative() {
		return Money{}, ErrNegativeMoney
	}
	return NewMoney(usd, usd.Mul(rate))
}

func (m Money) Validate() error {
	if m.USD.IsNegative() || m.LBP.IsNegative() {
		return ErrNegativeMoney
	}
	return nil
}

func (m Money) Add(other Money) Money {
	return Money{USD: m.USD.Add(other.USD), LBP: m.LBP.Add(other.LBP)}.rounded()
}

// Sub fails instead of clamping when either component would go negative.
func (m Money) Sub(other Money) (Money, error) {
	out := Money{USD: m.USD.Sub(other.USD), LBP: m.LBP.Sub(other.LBP)}.rounded()
	if err := out.Validate(); err != nil {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrNegativeMoney, m, other)
	}
	return out, nil
}

func (m Money) Scale(factor decimal.Decimal) (Money, error) {
	if factor.IsNegative() {
		return Money{}, ErrNegativeMoney
	}
	return Money{USD: m.USD.Mul(factor), LBP: m.LBP.Mul(factor)}.rounded(), nil
}

// ScaleRatio computes m × num / den with a single rounding step per currency,
// so prorations like rate × minutes / 60 stay exact until the final round.
func (m Money) ScaleRatio(num decimal.Decimal, den decimal.Decimal) (Money, error) {
	if num.IsNegative() || !den.IsPositive() {
		return Money{}, ErrNegativeMoney
	}
	return Money{
		USD: m.USD.Mul(num).DivRound(den, usdPlaces),
		LBP: m.LBP.Mul(num).DivRound(den, lbpPlaces),
	}, nil
}

func (m Money) Amount(currency string) (decimal.Decimal, error) {
	switch currency {
	case CurrencyUSD:
		return m.USD, nil
	case CurrencyLBP:
		return m.LBP, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported currency %q", ErrInvalidInput, currency)
	}
}

func (m Money) IsZero() bool {
	return m.USD.IsZero() && m.LBP.IsZero()
}

func (m Money) Equal(other Money) bool {
	return m.USD.Equal(other.USD) && m.LBP.Equal(other.LBP)
}

func (m Money) String() string {
	return fmt.Sprintf("{usd:%s lbp:%s}", m.USD.StringFixed(usdPlaces), m.LBP.StringFixed(lbpPlaces))
}

func (m Money) rounded() Money {
	return Money{USD: m.USD.Round(usdPlaces), LBP: m.LBP.Round(lbpPlaces)}
}

func SumMoney(values ...Money) Money {
	total := ZeroMoney()
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

func IsSupportedCurrency(currency string) bool {
	return currency == CurrencyUSD || currency == CurrencyLBP
}
