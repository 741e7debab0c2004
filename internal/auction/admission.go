package auction

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/auction-house/internal/model"
	"github.com/iliyamo/auction-house/internal/notify"
	"github.com/iliyamo/auction-house/internal/repository"
)

// PlaceBidInput is one bid attempt.  BidderID comes from the
// authenticated caller, never from the request body.
type PlaceBidInput struct {
	AuctionID uint64
	BidderID  uint64
	Amount    float64
}

// PlaceBidResult describes an admitted bid.
type PlaceBidResult struct {
	Bid          model.Bid
	CurrentPrice decimal.Decimal
	EndsAt       *time.Time
	Extended     bool
	BidCount     int64
}

// BidService admits bids.  Admission for one auction is serialized by an
// in-process lock and, across processes, by a compare-and-swap on the
// auction's bid count inside the bid transaction.
type BidService struct {
	auctions *repository.AuctionRepo
	bids     *repository.BidRepo
	profiles *repository.ProfileRepo
	watchers *repository.WatcherRepo
	notifier notify.Notifier
	locks    *Locker
	rules    Rules
	now      func() time.Time

	// pending tracks notification fan-outs still running.
	pending sync.WaitGroup
}

// NewBidService wires a BidService.  A zero Rules value selects the
// defaults.
func NewBidService(
	auctions *repository.AuctionRepo,
	bids *repository.BidRepo,
	profiles *repository.ProfileRepo,
	watchers *repository.WatcherRepo,
	notifier notify.Notifier,
	rules Rules,
) *BidService {
	return &BidService{
		auctions: auctions,
		bids:     bids,
		profiles: profiles,
		watchers: watchers,
		notifier: notifier,
		locks:    NewLocker(),
		rules:    rules.withDefaults(),
		now:      time.Now,
	}
}

// SetClock replaces the time source.  Tests only.
func (s *BidService) SetClock(now func() time.Time) { s.now = now }

// Wait blocks until every notification fan-out started by PlaceBid has
// returned.  Called on shutdown.
func (s *BidService) Wait() { s.pending.Wait() }

// PlaceBid validates and admits one bid.  Rejections are *Rejection
// values; anything else is a store failure.  Lifecycle flips observed
// while validating are persisted even when the bid is rejected.
func (s *BidService) PlaceBid(ctx context.Context, in PlaceBidInput) (*PlaceBidResult, error) {
	if in.BidderID == 0 {
		return nil, ErrUnauthorized
	}

	unlock := s.locks.Lock(in.AuctionID)
	defer unlock()

	a, err := s.auctions.GetByID(ctx, in.AuctionID)
	if errors.Is(err, repository.ErrAuctionNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load auction: %w", err)
	}

	now := s.now().UTC()
	if err := s.reconcile(ctx, &a, now); err != nil {
		return nil, err
	}
	if a.StartsAt != nil && a.StartsAt.After(now) {
		return nil, ErrNotStarted
	}
	if pastEnd(a, now) {
		return nil, ErrEnded
	}

	amount, err := CheckAmount(a, in.Amount)
	if err != nil {
		return nil, err
	}

	res, watchers, prevBidder, err := s.admit(ctx, a, in.BidderID, amount, now)
	if err != nil {
		return nil, err
	}

	zap.L().Info("bid admitted",
		zap.Uint64("auction_id", a.ID),
		zap.Uint64("bid_id", res.Bid.ID),
		zap.Uint64("bidder_id", in.BidderID),
		zap.String("amount", amount.StringFixed(moneyPrecision)),
		zap.Bool("extended", res.Extended))

	ns := bidNotifications(a, res, prevBidder, watchers)
	if s.notifier != nil && len(ns) > 0 {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			s.notifier.FanOut(context.WithoutCancel(ctx), ns)
		}()
	}
	return res, nil
}

// reconcile persists the lifecycle status observed at now.  The write is
// conditional on the stored status, so losing a race is not an error.
func (s *BidService) reconcile(ctx context.Context, a *model.Auction, now time.Time) error {
	next := Reconcile(*a, now)
	if next == a.Status {
		return nil
	}
	if _, err := s.auctions.UpdateStatus(ctx, a.ID, a.Status, next, now); err != nil {
		return fmt.Errorf("update auction status: %w", err)
	}
	zap.L().Info("auction status reconciled",
		zap.Uint64("auction_id", a.ID),
		zap.String("from", string(a.Status)),
		zap.String("to", string(next)))
	a.Status = next
	return nil
}

// admit runs the bid transaction: balance and consecutive-bid checks, the
// bid insert, the auction compare-and-swap, the token debit and its audit
// row.  Price and extension come from the snapshot a.
func (s *BidService) admit(ctx context.Context, a model.Auction, bidderID uint64, amount decimal.Decimal, now time.Time) (*PlaceBidResult, []uint64, *uint64, error) {
	tx, err := s.auctions.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("begin bid tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	bal, err := s.profiles.BalanceTx(ctx, tx, bidderID)
	if errors.Is(err, repository.ErrProfileNotFound) {
		return nil, nil, nil, ErrUnauthorized
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load token balance: %w", err)
	}
	if bal < 1 {
		return nil, nil, nil, ErrInsufficientTokens
	}

	prev, err := s.bids.LatestBidderTx(ctx, tx, a.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load latest bidder: %w", err)
	}
	if prev != nil && *prev == bidderID {
		return nil, nil, nil, ErrConsecutiveBid
	}

	bid := model.Bid{AuctionID: a.ID, BidderID: bidderID, Amount: amount, CreatedAt: now}
	if err := s.bids.CreateTx(ctx, tx, &bid); err != nil {
		return nil, nil, nil, fmt.Errorf("insert bid: %w", err)
	}

	endsAt, extended := ExtendEnd(a.EndsAt, now, s.rules.ExtensionWindow, s.rules.ExtensionStep)
	if err := s.auctions.ApplyBidTx(ctx, tx, a.ID, a.BidCount, amount, endsAt, now); err != nil {
		return nil, nil, nil, fmt.Errorf("apply bid to auction: %w", err)
	}

	if err := s.profiles.DebitTokenTx(ctx, tx, bidderID, now); err != nil {
		if errors.Is(err, repository.ErrInsufficientTokens) {
			return nil, nil, nil, ErrInsufficientTokens
		}
		return nil, nil, nil, fmt.Errorf("debit token: %w", err)
	}
	if err := s.profiles.RecordTokenTxTx(ctx, tx, &model.TokenTransaction{
		ProfileID: bidderID,
		Type:      model.TokenTxBid,
		Amount:    -1,
		Reference: TokenReference(a.ID),
		CreatedAt: now,
	}); err != nil {
		return nil, nil, nil, fmt.Errorf("record token transaction: %w", err)
	}

	watchers, err := s.watchers.ListWatchersTx(ctx, tx, a.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list watchers: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, nil, fmt.Errorf("commit bid tx: %w", err)
	}
	committed = true

	return &PlaceBidResult{
		Bid:          bid,
		CurrentPrice: amount,
		EndsAt:       endsAt,
		Extended:     extended,
		BidCount:     a.BidCount + 1,
	}, watchers, prev, nil
}

// TokenReference is the token_transactions reference of a bid debit.
func TokenReference(auctionID uint64) string {
	return "auction:" + strconv.FormatUint(auctionID, 10)
}

// bidNotifications builds the messages for an admitted bid: the bidder,
// the bidder who held the previous latest bid, the seller and every
// watcher other than the bidder and the seller.
func bidNotifications(a model.Auction, res *PlaceBidResult, prevBidder *uint64, watchers []uint64) []notify.Notification {
	bidID := strconv.FormatUint(res.Bid.ID, 10)
	params := func(extra ...string) map[string]string {
		p := map[string]string{
			"auction_id":    strconv.FormatUint(a.ID, 10),
			"auction_title": a.Title,
			"amount":        res.CurrentPrice.StringFixed(moneyPrecision),
		}
		if res.EndsAt != nil {
			p["ends_at"] = res.EndsAt.UTC().Format(time.RFC3339)
		}
		for i := 0; i+1 < len(extra); i += 2 {
			p[extra[i]] = extra[i+1]
		}
		return p
	}
	note := func(recipient uint64, tmpl string, p map[string]string) notify.Notification {
		return notify.Notification{
			RecipientID: recipient,
			TemplateKey: tmpl,
			Params:      p,
			DedupeKey:   "bid:" + bidID + ":" + tmpl + ":" + strconv.FormatUint(recipient, 10),
		}
	}

	bidder := res.Bid.BidderID
	out := []notify.Notification{note(bidder, notify.TemplateBidPlaced, params())}
	if prevBidder != nil && *prevBidder != bidder {
		out = append(out, note(*prevBidder, notify.TemplateOutbid, params()))
	}
	if a.SellerID != 0 && a.SellerID != bidder {
		out = append(out, note(a.SellerID, notify.TemplateSellerNewBid,
			params("bid_count", strconv.FormatInt(res.BidCount, 10))))
	}
	for _, w := range watchers {
		if w == bidder || w == a.SellerID {
			continue
		}
		out = append(out, note(w, notify.TemplateWatcherNewBid, params()))
	}
	return out
}
