package auction

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Kind classifies why a bid was rejected.  Every kind is request-scoped
// and non-fatal; none is retried automatically.
type Kind string

const (
	KindUnauthorized       Kind = "unauthorized"
	KindNotFound           Kind = "not_found"
	KindNotStarted         Kind = "not_started"
	KindEnded              Kind = "ended"
	KindInvalidAmount      Kind = "invalid_amount"
	KindTooLow             Kind = "too_low"
	KindIncrementTooSmall  Kind = "increment_too_small"
	KindIncrementTooLarge  Kind = "increment_too_large"
	KindInsufficientTokens Kind = "insufficient_tokens"
	KindConsecutiveBid     Kind = "consecutive_bid"
)

// Rejection is returned by PlaceBid when a precondition fails.  Message is
// meant for end users; Threshold carries the numeric limit for increment
// rejections.
type Rejection struct {
	Kind      Kind
	Message   string
	Threshold *decimal.Decimal
}

func (r *Rejection) Error() string { return r.Message }

// Is matches on Kind so callers can write errors.Is(err, auction.ErrEnded).
func (r *Rejection) Is(target error) bool {
	var t *Rejection
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == r.Kind
}

func reject(kind Kind, msg string) *Rejection {
	return &Rejection{Kind: kind, Message: msg}
}

func rejectWithThreshold(kind Kind, msg string, threshold decimal.Decimal) *Rejection {
	return &Rejection{Kind: kind, Message: msg, Threshold: &threshold}
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthorized       = reject(KindUnauthorized, "unauthorized")
	ErrNotFound           = reject(KindNotFound, "auction not found")
	ErrNotStarted         = reject(KindNotStarted, "auction has not started yet")
	ErrEnded              = reject(KindEnded, "auction has ended")
	ErrInvalidAmount      = reject(KindInvalidAmount, "bid amount must be a positive number")
	ErrTooLow             = reject(KindTooLow, "bid must be higher than the current price")
	ErrIncrementTooSmall  = reject(KindIncrementTooSmall, "bid increment is too small")
	ErrIncrementTooLarge  = reject(KindIncrementTooLarge, "bid increment is too large")
	ErrInsufficientTokens = reject(KindInsufficientTokens, "not enough tokens to place a bid")
	ErrConsecutiveBid     = reject(KindConsecutiveBid, "you already hold the latest bid on this auction")
)

// Settlement errors.
var (
	ErrNotCurrentCandidate = errors.New("bid is not the current payment candidate")
	ErrAlreadyPaid         = errors.New("auction is already paid")
)
