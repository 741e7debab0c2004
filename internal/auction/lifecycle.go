package auction

import (
	"time"

	"github.com/iliyamo/auction-house/internal/model"
)

// Reconcile returns the status an auction should have at now.  It is the
// whole transition table of the lifecycle:
//
//	ended, delivered             -> unchanged (terminal for bidding)
//	starts_at in the future      -> unchanged
//	ends_at <= now               -> ended
//	scheduled, started           -> active
//
// The function is pure; callers persist the result with a conditional
// status update so repeated or concurrent reconciles are harmless.
func Reconcile(a model.Auction, now time.Time) model.Status {
	if a.Status.Closed() {
		return a.Status
	}
	if a.StartsAt != nil && a.StartsAt.After(now) {
		return a.Status
	}
	if a.EndsAt != nil && !a.EndsAt.After(now) {
		return model.StatusEnded
	}
	if a.Status == model.StatusScheduled {
		return model.StatusActive
	}
	return a.Status
}

// InitialStatus is the status a freshly created auction gets.
func InitialStatus(startsAt *time.Time, now time.Time) model.Status {
	if startsAt != nil && startsAt.After(now) {
		return model.StatusScheduled
	}
	return model.StatusActive
}

// pastEnd reports whether bidding is over for a, by status or by clock.
func pastEnd(a model.Auction, now time.Time) bool {
	if a.Status.Closed() {
		return true
	}
	return a.EndsAt != nil && !a.EndsAt.After(now)
}
