package auction

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-house/internal/model"
)

// moneyPrecision is the number of decimal places kept for bid amounts.
const moneyPrecision int32 = 2

// Rules holds the timing constants of the engine.
type Rules struct {
	// ExtensionWindow is how close to ends_at a bid must land to extend it.
	ExtensionWindow time.Duration
	// ExtensionStep is how far ends_at moves on every qualifying bid.
	ExtensionStep time.Duration
	// PaymentWindow is how long each settlement candidate has to pay.
	PaymentWindow time.Duration
}

// DefaultRules returns the marketplace defaults: 60s window, 30s step,
// one hour to pay.
func DefaultRules() Rules {
	return Rules{
		ExtensionWindow: 60 * time.Second,
		ExtensionStep:   30 * time.Second,
		PaymentWindow:   time.Hour,
	}
}

func (r Rules) withDefaults() Rules {
	d := DefaultRules()
	if r.ExtensionWindow <= 0 {
		r.ExtensionWindow = d.ExtensionWindow
	}
	if r.ExtensionStep <= 0 {
		r.ExtensionStep = d.ExtensionStep
	}
	if r.PaymentWindow <= 0 {
		r.PaymentWindow = d.PaymentWindow
	}
	return r
}

// MinIncrementOf returns the auction's minimum increment, defaulting to 1
// when unset or not positive.
func MinIncrementOf(a model.Auction) decimal.Decimal {
	if a.MinIncrement.LessThanOrEqual(decimal.Zero) {
		return decimal.NewFromInt(1)
	}
	return a.MinIncrement
}

// HasMoneyPrecision reports whether d carries no digits past the cent.
func HasMoneyPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(moneyPrecision))
}

// CheckAmount applies the pricing rules to a raw bid amount, in order:
// finite, positive and whole cents, above the current price, at least the
// minimum increment above it and, when a cap is set, at most the maximum
// increment above it.  The amount is never rounded.
func CheckAmount(a model.Auction, amount float64) (decimal.Decimal, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	amt := decimal.NewFromFloat(amount)
	if !HasMoneyPrecision(amt) {
		return decimal.Zero, reject(KindInvalidAmount, "bid amount must not have more than two decimal places")
	}
	if !amt.GreaterThan(a.CurrentPrice) {
		return decimal.Zero, reject(KindTooLow,
			fmt.Sprintf("bid must be higher than the current price of %s", a.CurrentPrice.StringFixed(moneyPrecision)))
	}
	diff := amt.Sub(a.CurrentPrice)
	minInc := MinIncrementOf(a)
	if diff.LessThan(minInc) {
		return decimal.Zero, rejectWithThreshold(KindIncrementTooSmall,
			fmt.Sprintf("minimum bid increment is %s; bid at least %s",
				minInc.String(), a.CurrentPrice.Add(minInc).StringFixed(moneyPrecision)),
			minInc)
	}
	if a.MaxIncrement.Valid && diff.GreaterThan(a.MaxIncrement.Decimal) {
		maxInc := a.MaxIncrement.Decimal
		return decimal.Zero, rejectWithThreshold(KindIncrementTooLarge,
			fmt.Sprintf("maximum bid increment is %s; bid at most %s",
				maxInc.String(), a.CurrentPrice.Add(maxInc).StringFixed(moneyPrecision)),
			maxInc)
	}
	return amt, nil
}

// ExtendEnd applies the anti-sniping rule.  When endsAt is set and the
// time left is positive and within window, the end moves forward by step.
// Every qualifying bid extends again.  The returned pointer is a copy; the
// boolean reports whether an extension happened.
func ExtendEnd(endsAt *time.Time, now time.Time, window, step time.Duration) (*time.Time, bool) {
	if endsAt == nil {
		return nil, false
	}
	end := *endsAt
	left := end.Sub(now)
	if left > 0 && left <= window {
		end = end.Add(step)
		return &end, true
	}
	return &end, false
}
