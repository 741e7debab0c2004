package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/auction-house/internal/model"
	"github.com/iliyamo/auction-house/internal/repository"
)

// Reason explains a Resolution.
type Reason string

const (
	ReasonNotEnded       Reason = "auction_not_ended"
	ReasonAlreadyPaid    Reason = "already_paid"
	ReasonNoEligibleBids Reason = "no_eligible_bids"
	ReasonOK             Reason = "ok"
)

// Resolution is the settlement state of an auction after a resolver run.
type Resolution struct {
	Auction      model.Auction `json:"auction"`
	Candidate    *Candidate    `json:"candidate"`
	PaymentDueAt *time.Time    `json:"payment_due_at"`
	Reason       Reason        `json:"reason"`
}

// SettlementStore is the part of the auction repository the resolver
// writes through.
type SettlementStore interface {
	GetByID(ctx context.Context, id uint64) (model.Auction, error)
	UpdateStatus(ctx context.Context, id uint64, from, to model.Status, now time.Time) (bool, error)
	SaveSettlement(ctx context.Context, id uint64, expected *uint64, u repository.SettlementUpdate, now time.Time) error
	MarkPaid(ctx context.Context, id, bidID, winnerID uint64, now time.Time) error
}

// RankedBids lists an auction's bids in ranking order.
type RankedBids interface {
	ListRankedByAuction(ctx context.Context, auctionID uint64) ([]model.Bid, error)
}

// maxResolveAttempts bounds retries after losing a settlement
// compare-and-swap to a concurrent resolver.
const maxResolveAttempts = 3

// Resolver computes and advances the obligated payer of ended auctions.
// It is safe to call on every page view: until a payment deadline lapses
// repeated calls write nothing.
type Resolver struct {
	auctions SettlementStore
	bids     RankedBids
	window   time.Duration
	now      func() time.Time
}

// NewResolver returns a resolver granting each candidate window to pay.
func NewResolver(auctions SettlementStore, bids RankedBids, window time.Duration) *Resolver {
	if window <= 0 {
		window = DefaultRules().PaymentWindow
	}
	return &Resolver{auctions: auctions, bids: bids, window: window, now: time.Now}
}

// SetClock replaces the time source.  Tests only.
func (r *Resolver) SetClock(now func() time.Time) { r.now = now }

// Resolve returns the current settlement candidate of an auction,
// assigning or advancing it when needed.
func (r *Resolver) Resolve(ctx context.Context, auctionID uint64) (Resolution, error) {
	for attempt := 1; ; attempt++ {
		res, err := r.resolveOnce(ctx, auctionID)
		if errors.Is(err, repository.ErrConcurrentModification) && attempt < maxResolveAttempts {
			zap.L().Debug("settlement: lost race, re-reading auction",
				zap.Uint64("auction_id", auctionID), zap.Int("attempt", attempt))
			continue
		}
		return res, err
	}
}

func (r *Resolver) resolveOnce(ctx context.Context, auctionID uint64) (Resolution, error) {
	a, err := r.auctions.GetByID(ctx, auctionID)
	if errors.Is(err, repository.ErrAuctionNotFound) {
		return Resolution{}, ErrNotFound
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("load auction: %w", err)
	}

	now := r.now().UTC()
	if !pastEnd(a, now) {
		return Resolution{Auction: a, Reason: ReasonNotEnded}, nil
	}
	if !a.Status.Closed() {
		if _, err := r.auctions.UpdateStatus(ctx, a.ID, a.Status, model.StatusEnded, now); err != nil {
			return Resolution{}, fmt.Errorf("mark auction ended: %w", err)
		}
		a.Status = model.StatusEnded
	}

	if a.Paid {
		return Resolution{Auction: a, Reason: ReasonAlreadyPaid}, nil
	}
	// The fallback chain ran out on an earlier call; the item is unsold.
	if a.UnsoldAt != nil {
		return Resolution{Auction: a, Reason: ReasonNoEligibleBids}, nil
	}

	bids, err := r.bids.ListRankedByAuction(ctx, a.ID)
	if err != nil {
		return Resolution{}, fmt.Errorf("list bids: %w", err)
	}
	chain := RankCandidates(bids, a.ReservePrice)

	if len(chain) == 0 {
		if !a.HasCandidateState() {
			return Resolution{Auction: a, Reason: ReasonNoEligibleBids}, nil
		}
		return r.closeUnsold(ctx, a, now)
	}

	idx := indexOfBid(chain, a.WinningBidID)
	switch {
	case idx < 0:
		return r.assign(ctx, a, chain[0], now)
	case a.PaymentDueAt == nil:
		return r.assign(ctx, a, chain[idx], now)
	case a.PaymentDueAt.After(now):
		c := chain[idx]
		return Resolution{Auction: a, Candidate: &c, PaymentDueAt: a.PaymentDueAt, Reason: ReasonOK}, nil
	case idx+1 < len(chain):
		zap.L().Info("settlement: payment window lapsed, advancing",
			zap.Uint64("auction_id", a.ID),
			zap.Uint64("lapsed_bid_id", chain[idx].Bid.ID),
			zap.Uint64("next_bid_id", chain[idx+1].Bid.ID))
		return r.assign(ctx, a, chain[idx+1], now)
	default:
		return r.closeUnsold(ctx, a, now)
	}
}

// assign makes c the obligated payer with a fresh deadline.
func (r *Resolver) assign(ctx context.Context, a model.Auction, c Candidate, now time.Time) (Resolution, error) {
	due := now.Add(r.window)
	bidID := c.Bid.ID
	u := repository.SettlementUpdate{
		Status:       model.StatusEnded,
		WinningBidID: &bidID,
		PaymentDueAt: &due,
	}
	if a.Status == model.StatusDelivered {
		u.Status = a.Status
	}
	if err := r.auctions.SaveSettlement(ctx, a.ID, a.WinningBidID, u, now); err != nil {
		return Resolution{}, fmt.Errorf("save settlement candidate: %w", err)
	}
	a.Status = u.Status
	a.WinningBidID = &bidID
	a.WinnerID = nil
	a.PaymentDueAt = &due
	zap.L().Info("settlement: candidate assigned",
		zap.Uint64("auction_id", a.ID),
		zap.Int("rank", c.Rank),
		zap.Uint64("bid_id", bidID),
		zap.Uint64("bidder_id", c.Bid.BidderID),
		zap.Time("payment_due_at", due))
	return Resolution{Auction: a, Candidate: &c, PaymentDueAt: &due, Reason: ReasonOK}, nil
}

// closeUnsold clears the candidate and marks the fallback chain as spent.
func (r *Resolver) closeUnsold(ctx context.Context, a model.Auction, now time.Time) (Resolution, error) {
	u := repository.SettlementUpdate{Status: model.StatusEnded, UnsoldAt: &now}
	if a.Status == model.StatusDelivered {
		u.Status = a.Status
	}
	if err := r.auctions.SaveSettlement(ctx, a.ID, a.WinningBidID, u, now); err != nil {
		return Resolution{}, fmt.Errorf("clear settlement candidate: %w", err)
	}
	a.Status = u.Status
	a.WinningBidID = nil
	a.WinnerID = nil
	a.PaymentDueAt = nil
	a.UnsoldAt = &now
	zap.L().Info("settlement: no eligible bids left, closing unsold", zap.Uint64("auction_id", a.ID))
	return Resolution{Auction: a, Reason: ReasonNoEligibleBids}, nil
}

// ConfirmPayment records payment by the current candidate.  The auction
// is resolved first so a lapsed window is never accepted.
func (r *Resolver) ConfirmPayment(ctx context.Context, auctionID, bidID uint64) (Resolution, error) {
	res, err := r.Resolve(ctx, auctionID)
	if err != nil {
		return Resolution{}, err
	}
	switch {
	case res.Reason == ReasonAlreadyPaid:
		return res, ErrAlreadyPaid
	case res.Candidate == nil || res.Candidate.Bid.ID != bidID:
		return res, ErrNotCurrentCandidate
	}

	now := r.now().UTC()
	winner := res.Candidate.Bid.BidderID
	if err := r.auctions.MarkPaid(ctx, auctionID, bidID, winner, now); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return res, ErrNotCurrentCandidate
		}
		return Resolution{}, fmt.Errorf("mark paid: %w", err)
	}

	a := res.Auction
	a.Paid = true
	a.WinnerID = &winner
	a.PaymentDueAt = nil
	zap.L().Info("settlement: payment confirmed",
		zap.Uint64("auction_id", auctionID),
		zap.Uint64("bid_id", bidID),
		zap.Uint64("winner_id", winner))
	return Resolution{Auction: a, Candidate: res.Candidate, Reason: ReasonAlreadyPaid}, nil
}
