package auction

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/auction-house/internal/notify"
)

// DueLister lists auctions that may need settlement work.
type DueLister interface {
	ListSettlementDue(ctx context.Context, now time.Time, limit int) ([]uint64, error)
}

const sweeperLeaseKey = "auction:settlement:sweeper"

// Sweeper periodically resolves every ended, unpaid auction so lapsed
// payment windows advance without a page view, and reminds the current
// candidate that payment is due.
type Sweeper struct {
	resolver *Resolver
	due      DueLister
	notifier notify.Notifier
	rdb      *redis.Client
	interval time.Duration
	batch    int
	owner    string

	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper returns a sweeper.  rdb may be nil; with Redis configured
// only the instance holding the lease sweeps in a given interval.
func NewSweeper(resolver *Resolver, due DueLister, notifier notify.Notifier, rdb *redis.Client, interval time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 200
	}
	return &Sweeper{
		resolver: resolver,
		due:      due,
		notifier: notifier,
		rdb:      rdb,
		interval: interval,
		batch:    batch,
		owner:    uuid.NewString(),
		shutdown: make(chan struct{}),
	}
}

// Start runs the sweep loop in the background until Shutdown.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.interval)
				if _, err := s.SweepOnce(ctx); err != nil {
					zap.L().Error("settlement sweep failed", zap.Error(err))
				}
				cancel()
			case <-s.shutdown:
				return
			}
		}
	}()
	zap.L().Info("settlement sweeper started", zap.Duration("interval", s.interval))
}

// Shutdown stops the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Shutdown() {
	s.stopOnce.Do(func() { close(s.shutdown) })
	s.wg.Wait()
	zap.L().Info("settlement sweeper stopped")
}

// SweepOnce resolves every due auction and returns how many were
// processed.  Failures on one auction are logged and do not stop the
// sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if ok, err := s.acquireLease(ctx); err != nil {
		return 0, err
	} else if !ok {
		zap.L().Debug("settlement sweep skipped, lease held elsewhere")
		return 0, nil
	}

	ids, err := s.due.ListSettlementDue(ctx, s.resolver.now().UTC(), s.batch)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		res, err := s.resolver.Resolve(ctx, id)
		if err != nil {
			zap.L().Warn("settlement sweep: resolve failed", zap.Uint64("auction_id", id), zap.Error(err))
			continue
		}
		processed++
		if res.Reason == ReasonOK && res.Candidate != nil && s.notifier != nil {
			s.notifier.Queue(ctx, paymentDueNotification(res))
		}
	}
	return processed, nil
}

func (s *Sweeper) acquireLease(ctx context.Context) (bool, error) {
	if s.rdb == nil {
		return true, nil
	}
	ttl := s.interval - s.interval/10
	if ttl <= 0 {
		ttl = s.interval
	}
	return s.rdb.SetNX(ctx, sweeperLeaseKey, s.owner, ttl).Result()
}

// paymentDueNotification reminds the current candidate once per
// candidacy.
func paymentDueNotification(res Resolution) notify.Notification {
	c := res.Candidate
	auctionID := strconv.FormatUint(res.Auction.ID, 10)
	bidID := strconv.FormatUint(c.Bid.ID, 10)
	p := map[string]string{
		"auction_id":    auctionID,
		"auction_title": res.Auction.Title,
		"bid_id":        bidID,
		"amount":        c.Bid.Amount.StringFixed(moneyPrecision),
		"rank":          strconv.Itoa(c.Rank),
	}
	if res.PaymentDueAt != nil {
		p["payment_due_at"] = res.PaymentDueAt.UTC().Format(time.RFC3339)
	}
	return notify.Notification{
		RecipientID: c.Bid.BidderID,
		TemplateKey: notify.TemplatePaymentDue,
		Params:      p,
		DedupeKey:   "payment_due:" + auctionID + ":" + bidID,
	}
}
