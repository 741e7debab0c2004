package auction

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auction-house/internal/database/dbtest"
	"github.com/iliyamo/auction-house/internal/model"
	"github.com/iliyamo/auction-house/internal/repository"
)

// memStore is an in-memory SettlementStore that counts writes.
type memStore struct {
	a          model.Auction
	bids       []model.Bid
	writes     int
	beforeSave func(s *memStore) error
}

func (s *memStore) GetByID(_ context.Context, id uint64) (model.Auction, error) {
	if id != s.a.ID {
		return model.Auction{}, repository.ErrAuctionNotFound
	}
	return s.a, nil
}

func (s *memStore) UpdateStatus(_ context.Context, _ uint64, from, to model.Status, _ time.Time) (bool, error) {
	if s.a.Status != from {
		return false, nil
	}
	s.a.Status = to
	s.writes++
	return true, nil
}

func (s *memStore) SaveSettlement(_ context.Context, _ uint64, expected *uint64, u repository.SettlementUpdate, _ time.Time) error {
	if s.beforeSave != nil {
		hook := s.beforeSave
		s.beforeSave = nil
		if err := hook(s); err != nil {
			return err
		}
	}
	if s.a.Paid || !sameID(s.a.WinningBidID, expected) {
		return repository.ErrConcurrentModification
	}
	s.a.Status = u.Status
	s.a.WinningBidID = u.WinningBidID
	s.a.WinnerID = u.WinnerID
	s.a.PaymentDueAt = u.PaymentDueAt
	s.a.UnsoldAt = u.UnsoldAt
	s.writes++
	return nil
}

func (s *memStore) MarkPaid(_ context.Context, _ uint64, bidID, winnerID uint64, _ time.Time) error {
	if s.a.Paid || s.a.WinningBidID == nil || *s.a.WinningBidID != bidID {
		return repository.ErrConflict
	}
	s.a.Paid = true
	s.a.WinnerID = &winnerID
	s.a.PaymentDueAt = nil
	s.writes++
	return nil
}

func (s *memStore) ListRankedByAuction(_ context.Context, _ uint64) ([]model.Bid, error) {
	return SortRanked(s.bids), nil
}

func sameID(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func endedStore(bids ...model.Bid) *memStore {
	return &memStore{
		a:    model.Auction{ID: 1, Status: model.StatusEnded, EndsAt: at(-time.Minute), BidCount: int64(len(bids))},
		bids: bids,
	}
}

func newMemResolver(s *memStore, now *time.Time) *Resolver {
	r := NewResolver(s, s, time.Hour)
	r.SetClock(func() time.Time { return *now })
	return r
}

func TestResolveIsIdempotentBeforeDeadline(t *testing.T) {
	s := endedStore(bid(1, 10, "500", 0), bid(2, 20, "400", time.Second))
	now := t0
	r := newMemResolver(s, &now)
	ctx := context.Background()

	first, err := r.Resolve(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, ReasonOK, first.Reason)
	require.Equal(t, 1, s.writes)

	now = now.Add(59 * time.Minute)
	second, err := r.Resolve(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, ReasonOK, second.Reason)
	assert.Equal(t, first.Candidate.Bid.ID, second.Candidate.Bid.ID)
	assert.True(t, first.PaymentDueAt.Equal(*second.PaymentDueAt))
	assert.Equal(t, 1, s.writes, "second call must not write")
}

func TestResolveNotEndedWritesNothing(t *testing.T) {
	s := endedStore(bid(1, 10, "500", 0))
	s.a.Status = model.StatusActive
	s.a.EndsAt = at(time.Minute)
	now := t0

	res, err := newMemResolver(s, &now).Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, ReasonNotEnded, res.Reason)
	assert.Nil(t, res.Candidate)
	assert.Zero(t, s.writes)
}

func TestResolvePersistsEndedFlip(t *testing.T) {
	s := endedStore(bid(1, 10, "500", 0))
	s.a.Status = model.StatusActive
	now := t0

	res, err := newMemResolver(s, &now).Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, ReasonOK, res.Reason)
	assert.Equal(t, model.StatusEnded, s.a.Status)
}

func TestResolveAlreadyPaid(t *testing.T) {
	s := endedStore(bid(1, 10, "500", 0))
	s.a.Paid = true
	now := t0

	res, err := newMemResolver(s, &now).Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, ReasonAlreadyPaid, res.Reason)
	assert.Zero(t, s.writes)
}

func TestResolveReserveExcludesSoloBid(t *testing.T) {
	s := endedStore(bid(1, 10, "300", 0))
	s.a.ReservePrice = decimal.NewNullDecimal(decimal.NewFromInt(350))
	now := t0
	r := newMemResolver(s, &now)

	for i := 0; i < 2; i++ {
		res, err := r.Resolve(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, ReasonNoEligibleBids, res.Reason)
		assert.Nil(t, res.Candidate)
	}
	assert.Zero(t, s.writes)
}

func TestResolveClearsStaleCandidateState(t *testing.T) {
	s := endedStore(bid(1, 10, "300", 0))
	s.a.ReservePrice = decimal.NewNullDecimal(decimal.NewFromInt(350))
	stale := uint64(1)
	s.a.WinningBidID = &stale
	s.a.PaymentDueAt = at(time.Hour)
	now := t0

	res, err := newMemResolver(s, &now).Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, ReasonNoEligibleBids, res.Reason)
	assert.Nil(t, s.a.WinningBidID)
	assert.Nil(t, s.a.PaymentDueAt)
	assert.Nil(t, s.a.WinnerID)
	assert.Equal(t, 1, s.writes)
}

func TestResolveAssignsMissingDeadlineToSameCandidate(t *testing.T) {
	s := endedStore(bid(1, 10, "500", 0), bid(2, 20, "400", 0))
	second := uint64(2)
	s.a.WinningBidID = &second
	now := t0

	res, err := newMemResolver(s, &now).Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Candidate.Bid.ID)
	assert.True(t, res.PaymentDueAt.Equal(t0.Add(time.Hour)))
}

func TestResolveRetriesAfterLosingRace(t *testing.T) {
	s := endedStore(bid(1, 10, "500", 0), bid(2, 20, "400", 0))
	now := t0
	s.beforeSave = func(s *memStore) error {
		// another resolver assigned rank 1 first
		won, due := uint64(1), t0.Add(time.Hour)
		s.a.WinningBidID, s.a.PaymentDueAt = &won, &due
		return repository.ErrConcurrentModification
	}

	res, err := newMemResolver(s, &now).Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, ReasonOK, res.Reason)
	assert.Equal(t, uint64(1), res.Candidate.Bid.ID)
	assert.Zero(t, s.writes)
}

func TestResolveUnknownAuction(t *testing.T) {
	now := t0
	_, err := newMemResolver(endedStore(), &now).Resolve(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

// settlementFixture runs the resolver against the SQLite repositories.
type settlementFixture struct {
	db       *repository.AuctionRepo
	resolver *Resolver
	now      time.Time
	auction  model.Auction
	bids     map[string]uint64
	bidders  map[string]uint64
}

func newSettlementFixture(t *testing.T, reserve string, amounts map[string]string) *settlementFixture {
	t.Helper()
	db := dbtest.Open(t)
	f := &settlementFixture{
		db:      repository.NewAuctionRepo(db),
		now:     t0,
		bids:    map[string]uint64{},
		bidders: map[string]uint64{},
	}
	seller := dbtest.InsertProfile(t, db, "seller@example.com", model.RoleSeller, 0)
	end := t0.Add(-time.Minute)
	f.auction = model.Auction{
		SellerID: seller, Title: "Painting", EndsAt: &end,
		CurrentPrice: decimal.NewFromInt(1), MinIncrement: decimal.NewFromInt(1),
		Status: model.StatusActive, CreatedAt: t0.Add(-time.Hour), UpdatedAt: t0.Add(-time.Hour),
	}
	if reserve != "" {
		f.auction.ReservePrice = decimal.NewNullDecimal(decimal.RequireFromString(reserve))
	}
	require.NoError(t, f.db.Create(context.Background(), &f.auction))

	i := 0
	for name, amount := range amounts {
		i++
		f.bidders[name] = dbtest.InsertProfile(t, db, name+"@example.com", model.RoleBidder, 0)
		f.bids[name] = dbtest.InsertBid(t, db, f.auction.ID, f.bidders[name], amount, t0.Add(-time.Duration(i)*time.Hour))
	}
	f.resolver = NewResolver(f.db, repository.NewBidRepo(db), time.Hour)
	f.resolver.SetClock(func() time.Time { return f.now })
	return f
}

func (f *settlementFixture) resolve(t *testing.T) Resolution {
	t.Helper()
	res, err := f.resolver.Resolve(context.Background(), f.auction.ID)
	require.NoError(t, err)
	return res
}

func TestResolveWalksFallbackChain(t *testing.T) {
	f := newSettlementFixture(t, "350", map[string]string{"b1": "500", "b2": "400", "b3": "300"})

	res := f.resolve(t)
	require.Equal(t, ReasonOK, res.Reason)
	assert.Equal(t, f.bids["b1"], res.Candidate.Bid.ID)
	assert.Equal(t, 1, res.Candidate.Rank)
	assert.True(t, res.PaymentDueAt.Equal(t0.Add(time.Hour)))
	assert.Equal(t, model.StatusEnded, res.Auction.Status)

	f.now = t0.Add(time.Hour)
	res = f.resolve(t)
	require.Equal(t, ReasonOK, res.Reason)
	assert.Equal(t, f.bids["b2"], res.Candidate.Bid.ID)
	assert.True(t, res.PaymentDueAt.Equal(t0.Add(2*time.Hour)))

	f.now = t0.Add(2 * time.Hour)
	res = f.resolve(t)
	assert.Equal(t, ReasonNoEligibleBids, res.Reason)
	assert.Nil(t, res.Candidate)

	// the chain never restarts and b3 is never offered
	f.now = t0.Add(5 * time.Hour)
	res = f.resolve(t)
	assert.Equal(t, ReasonNoEligibleBids, res.Reason)

	stored, err := f.db.GetByID(context.Background(), f.auction.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.WinningBidID)
	assert.Nil(t, stored.PaymentDueAt)
	assert.Nil(t, stored.WinnerID)
	assert.NotNil(t, stored.UnsoldAt)
	assert.Equal(t, model.StatusEnded, stored.Status)
}

func TestConfirmPayment(t *testing.T) {
	f := newSettlementFixture(t, "", map[string]string{"b1": "500", "b2": "400"})
	ctx := context.Background()

	_, err := f.resolver.ConfirmPayment(ctx, f.auction.ID, f.bids["b2"])
	assert.ErrorIs(t, err, ErrNotCurrentCandidate)

	f.now = t0.Add(30 * time.Minute)
	res, err := f.resolver.ConfirmPayment(ctx, f.auction.ID, f.bids["b1"])
	require.NoError(t, err)
	assert.Equal(t, ReasonAlreadyPaid, res.Reason)

	stored, err := f.db.GetByID(ctx, f.auction.ID)
	require.NoError(t, err)
	assert.True(t, stored.Paid)
	require.NotNil(t, stored.WinnerID)
	assert.Equal(t, f.bidders["b1"], *stored.WinnerID)
	assert.Nil(t, stored.PaymentDueAt)

	_, err = f.resolver.ConfirmPayment(ctx, f.auction.ID, f.bids["b1"])
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	assert.Equal(t, ReasonAlreadyPaid, f.resolve(t).Reason)
}

func TestConfirmPaymentAfterDeadlineIsRefused(t *testing.T) {
	f := newSettlementFixture(t, "", map[string]string{"b1": "500", "b2": "400"})
	ctx := context.Background()
	f.resolve(t)

	f.now = t0.Add(2 * time.Hour)
	res, err := f.resolver.ConfirmPayment(ctx, f.auction.ID, f.bids["b1"])
	assert.ErrorIs(t, err, ErrNotCurrentCandidate)
	assert.Equal(t, f.bids["b2"], res.Candidate.Bid.ID)
}
