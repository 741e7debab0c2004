package auction

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auction-house/internal/database/dbtest"
	"github.com/iliyamo/auction-house/internal/model"
	"github.com/iliyamo/auction-house/internal/notify"
	"github.com/iliyamo/auction-house/internal/repository"
)

type recordingNotifier struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (n *recordingNotifier) Queue(_ context.Context, x notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, x)
}

func (n *recordingNotifier) FanOut(ctx context.Context, xs []notify.Notification) {
	for _, x := range xs {
		n.Queue(ctx, x)
	}
}

func (n *recordingNotifier) sent() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Notification(nil), n.got...)
}

func itoa(v uint64) string { return strconv.FormatUint(v, 10) }

type bidFixture struct {
	db       *sql.DB
	auctions *repository.AuctionRepo
	profiles *repository.ProfileRepo
	watchers *repository.WatcherRepo
	notifier *recordingNotifier
	svc      *BidService
	now      time.Time
	seller   uint64
}

func newBidFixture(t *testing.T) *bidFixture {
	t.Helper()
	db := dbtest.Open(t)
	f := &bidFixture{
		db:       db,
		auctions: repository.NewAuctionRepo(db),
		profiles: repository.NewProfileRepo(db),
		watchers: repository.NewWatcherRepo(db),
		notifier: &recordingNotifier{},
		now:      t0,
	}
	f.svc = NewBidService(f.auctions, repository.NewBidRepo(db), f.profiles, f.watchers, f.notifier, Rules{})
	f.svc.SetClock(func() time.Time { return f.now })
	f.seller = dbtest.InsertProfile(t, db, "seller@example.com", model.RoleSeller, 0)
	return f
}

// auction creates an active auction priced at current with the given
// increments, ending endsIn after the fixture clock.
func (f *bidFixture) auction(t *testing.T, current, minInc, maxInc string, endsIn time.Duration) model.Auction {
	t.Helper()
	a := model.Auction{
		SellerID:      f.seller,
		Title:         "Vintage camera",
		StartingPrice: decimal.RequireFromString(current),
		CurrentPrice:  decimal.RequireFromString(current),
		MinIncrement:  decimal.RequireFromString(minInc),
		Status:        model.StatusActive,
		CreatedAt:     f.now,
		UpdatedAt:     f.now,
	}
	if maxInc != "" {
		a.MaxIncrement = decimal.NewNullDecimal(decimal.RequireFromString(maxInc))
	}
	if endsIn != 0 {
		end := f.now.Add(endsIn)
		a.EndsAt = &end
	}
	require.NoError(t, f.auctions.Create(context.Background(), &a))
	return a
}

func (f *bidFixture) bidder(t *testing.T, email string, tokens int64) uint64 {
	return dbtest.InsertProfile(t, f.db, email, model.RoleBidder, tokens)
}

func (f *bidFixture) place(auctionID, bidderID uint64, amount float64) (*PlaceBidResult, error) {
	return f.svc.PlaceBid(context.Background(), PlaceBidInput{AuctionID: auctionID, BidderID: bidderID, Amount: amount})
}

func (f *bidFixture) reload(t *testing.T, id uint64) model.Auction {
	t.Helper()
	a, err := f.auctions.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestPlaceBidPriceFollowsLatestBid(t *testing.T) {
	f := newBidFixture(t)
	a := f.auction(t, "100", "1", "", time.Hour)
	alice := f.bidder(t, "alice@example.com", 5)
	bob := f.bidder(t, "bob@example.com", 5)

	for i, step := range []struct {
		who    uint64
		amount float64
	}{{alice, 110}, {bob, 120}, {alice, 130}, {bob, 131.5}} {
		f.now = f.now.Add(time.Second)
		res, err := f.place(a.ID, step.who, step.amount)
		require.NoError(t, err, "bid %d", i)

		got := f.reload(t, a.ID)
		assert.True(t, got.CurrentPrice.Equal(decimal.NewFromFloat(step.amount)), "bid %d price %s", i, got.CurrentPrice)
		assert.True(t, res.CurrentPrice.Equal(got.CurrentPrice))
		assert.Equal(t, int64(i+1), got.BidCount)
	}
}

func TestPlaceBidRejectsConsecutiveBid(t *testing.T) {
	f := newBidFixture(t)
	a := f.auction(t, "100", "1", "", time.Hour)
	alice := f.bidder(t, "alice@example.com", 5)

	_, err := f.place(a.ID, alice, 110)
	require.NoError(t, err)

	_, err = f.place(a.ID, alice, 500)
	assert.ErrorIs(t, err, ErrConsecutiveBid)
	assert.Equal(t, int64(4), dbtest.Balance(t, f.db, alice))
	assert.True(t, f.reload(t, a.ID).CurrentPrice.Equal(decimal.NewFromInt(110)))
}

func TestPlaceBidIncrementRules(t *testing.T) {
	f := newBidFixture(t)
	a := f.auction(t, "100", "5", "50", time.Hour)
	alice := f.bidder(t, "alice@example.com", 5)

	_, err := f.place(a.ID, alice, 104)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, KindIncrementTooSmall, rej.Kind)
	assert.Contains(t, rej.Message, "105.00")

	_, err = f.place(a.ID, alice, 151)
	assert.ErrorIs(t, err, ErrIncrementTooLarge)

	_, err = f.place(a.ID, alice, 130)
	assert.NoError(t, err)
}

func TestPlaceBidExtendsNearDeadline(t *testing.T) {
	f := newBidFixture(t)
	alice := f.bidder(t, "alice@example.com", 5)
	bob := f.bidder(t, "bob@example.com", 5)

	near := f.auction(t, "100", "1", "", 45*time.Second)
	res, err := f.place(near.ID, alice, 101)
	require.NoError(t, err)
	assert.True(t, res.Extended)
	assert.True(t, f.reload(t, near.ID).EndsAt.Equal(t0.Add(75*time.Second)))

	// every qualifying bid extends again
	f.now = f.now.Add(50 * time.Second)
	res, err = f.place(near.ID, bob, 102)
	require.NoError(t, err)
	assert.True(t, res.Extended)
	assert.True(t, f.reload(t, near.ID).EndsAt.Equal(t0.Add(105*time.Second)))

	f.now = t0
	far := f.auction(t, "100", "1", "", 90*time.Second)
	res, err = f.place(far.ID, alice, 101)
	require.NoError(t, err)
	assert.False(t, res.Extended)
	assert.True(t, f.reload(t, far.ID).EndsAt.Equal(t0.Add(90*time.Second)))
}

func TestPlaceBidDebitsOneTokenWithAuditRow(t *testing.T) {
	f := newBidFixture(t)
	a := f.auction(t, "100", "1", "", time.Hour)
	alice := f.bidder(t, "alice@example.com", 3)

	_, err := f.place(a.ID, alice, 100)
	require.ErrorIs(t, err, ErrTooLow)
	assert.Equal(t, int64(3), dbtest.Balance(t, f.db, alice))

	_, err = f.place(a.ID, alice, 101)
	require.NoError(t, err)
	assert.Equal(t, int64(2), dbtest.Balance(t, f.db, alice))

	txs, err := f.profiles.ListTokenTransactions(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TokenTxBid, txs[0].Type)
	assert.Equal(t, int64(-1), txs[0].Amount)
	assert.Equal(t, TokenReference(a.ID), txs[0].Reference)
}

func TestPlaceBidInsufficientTokens(t *testing.T) {
	f := newBidFixture(t)
	a := f.auction(t, "100", "1", "", time.Hour)
	broke := f.bidder(t, "broke@example.com", 0)

	_, err := f.place(a.ID, broke, 150)
	assert.ErrorIs(t, err, ErrInsufficientTokens)

	got := f.reload(t, a.ID)
	assert.Equal(t, int64(0), got.BidCount)
	assert.True(t, got.CurrentPrice.Equal(decimal.NewFromInt(100)))
}

func TestPlaceBidPersistsEndedFlipOnRejection(t *testing.T) {
	f := newBidFixture(t)
	a := f.auction(t, "100", "1", "", time.Minute)
	alice := f.bidder(t, "alice@example.com", 5)

	f.now = t0.Add(time.Minute)
	_, err := f.place(a.ID, alice, 200)
	assert.ErrorIs(t, err, ErrEnded)
	assert.Equal(t, model.StatusEnded, f.reload(t, a.ID).Status)
	assert.Equal(t, int64(5), dbtest.Balance(t, f.db, alice))
}

func TestPlaceBidActivatesScheduledAuction(t *testing.T) {
	f := newBidFixture(t)
	alice := f.bidder(t, "alice@example.com", 5)
	start := t0.Add(time.Minute)
	end := t0.Add(time.Hour)
	a := model.Auction{
		SellerID: f.seller, Title: "Lamp",
		StartsAt: &start, EndsAt: &end,
		CurrentPrice: decimal.NewFromInt(10), MinIncrement: decimal.NewFromInt(1),
		Status: model.StatusScheduled, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, f.auctions.Create(context.Background(), &a))

	_, err := f.place(a.ID, alice, 20)
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.Equal(t, model.StatusScheduled, f.reload(t, a.ID).Status)

	// the flip survives a rejected bid
	f.now = start
	_, err = f.place(a.ID, alice, 10)
	assert.ErrorIs(t, err, ErrTooLow)
	assert.Equal(t, model.StatusActive, f.reload(t, a.ID).Status)

	_, err = f.place(a.ID, alice, 20)
	assert.NoError(t, err)
}

func TestPlaceBidUnknownAuctionAndCaller(t *testing.T) {
	f := newBidFixture(t)
	alice := f.bidder(t, "alice@example.com", 5)
	a := f.auction(t, "100", "1", "", time.Hour)

	_, err := f.place(9999, alice, 10)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.place(a.ID, 0, 150)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestPlaceBidNotifiesParticipants(t *testing.T) {
	f := newBidFixture(t)
	a := f.auction(t, "100", "1", "", time.Hour)
	alice := f.bidder(t, "alice@example.com", 5)
	bob := f.bidder(t, "bob@example.com", 5)
	watcher := f.bidder(t, "watcher@example.com", 0)
	ctx := context.Background()
	require.NoError(t, f.watchers.Watch(ctx, a.ID, watcher, t0))
	require.NoError(t, f.watchers.Watch(ctx, a.ID, bob, t0))

	_, err := f.place(a.ID, alice, 110)
	require.NoError(t, err)
	res, err := f.place(a.ID, bob, 120)
	require.NoError(t, err)
	f.svc.Wait()

	byKey := map[string]notify.Notification{}
	for _, n := range f.notifier.sent() {
		byKey[n.DedupeKey] = n
	}
	key := func(tmpl string, to uint64) string {
		return "bid:" + itoa(res.Bid.ID) + ":" + tmpl + ":" + itoa(to)
	}

	assert.Contains(t, byKey, key(notify.TemplateBidPlaced, bob))
	assert.Contains(t, byKey, key(notify.TemplateOutbid, alice))
	assert.Contains(t, byKey, key(notify.TemplateWatcherNewBid, watcher))
	assert.NotContains(t, byKey, key(notify.TemplateWatcherNewBid, bob))
	seller, ok := byKey[key(notify.TemplateSellerNewBid, f.seller)]
	require.True(t, ok)
	assert.Equal(t, "2", seller.Params["bid_count"])
	assert.Equal(t, "120.00", seller.Params["amount"])
}

func TestPlaceBidConcurrentSamePriceAdmitsOne(t *testing.T) {
	f := newBidFixture(t)
	a := f.auction(t, "100", "1", "", time.Hour)

	const n = 8
	bidders := make([]uint64, n)
	for i := range bidders {
		bidders[i] = f.bidder(t, "b"+itoa(uint64(i))+"@example.com", 1)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range bidders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.place(a.ID, bidders[i], 150)
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		if err == nil {
			admitted++
			continue
		}
		assert.ErrorIs(t, err, ErrTooLow)
	}
	assert.Equal(t, 1, admitted)
	assert.Equal(t, int64(1), f.reload(t, a.ID).BidCount)
}

func TestApplyBidCompareAndSwapDetectsStaleSnapshot(t *testing.T) {
	f := newBidFixture(t)
	a := f.auction(t, "100", "1", "", time.Hour)
	ctx := context.Background()

	tx, err := f.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, f.auctions.ApplyBidTx(ctx, tx, a.ID, 0, decimal.NewFromInt(110), a.EndsAt, t0))
	err = f.auctions.ApplyBidTx(ctx, tx, a.ID, 0, decimal.NewFromInt(111), a.EndsAt, t0)
	assert.ErrorIs(t, err, repository.ErrConcurrentModification)
	require.NoError(t, tx.Rollback())
}

func TestBidSnapshotTakenBeforeSettlementCannotCommit(t *testing.T) {
	f := newBidFixture(t)
	a := f.auction(t, "100", "1", "", 5*time.Minute)
	alice := f.bidder(t, "alice@example.com", 3)
	bob := f.bidder(t, "bob@example.com", 3)

	_, err := f.place(a.ID, alice, 110)
	require.NoError(t, err)
	snapshot := f.reload(t, a.ID)

	resolver := NewResolver(f.auctions, repository.NewBidRepo(f.db), time.Hour)
	resolver.SetClock(func() time.Time { return t0.Add(5*time.Minute + time.Second) })
	res, err := resolver.Resolve(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, ReasonOK, res.Reason)

	_, _, _, err = f.svc.admit(context.Background(), snapshot, bob, decimal.NewFromInt(120), t0.Add(30*time.Second))
	assert.ErrorIs(t, err, repository.ErrConcurrentModification)

	got := f.reload(t, a.ID)
	assert.Equal(t, model.StatusEnded, got.Status)
	assert.True(t, got.CurrentPrice.Equal(decimal.NewFromInt(110)))
	assert.EqualValues(t, 1, got.BidCount)
	assert.True(t, got.EndsAt.Equal(*snapshot.EndsAt))
	assert.EqualValues(t, 3, dbtest.Balance(t, f.db, bob))
}
