// Package notify queues outbound notifications.  Delivery is best effort:
// callers never see an error, duplicates by dedupe key are dropped and
// individual failures are logged and swallowed.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/auction-house/internal/queue"
)

// Template keys understood by the delivery workers.
const (
	TemplateBidPlaced     = "bid_placed"
	TemplateOutbid        = "outbid"
	TemplateSellerNewBid  = "seller_new_bid"
	TemplateWatcherNewBid = "watcher_new_bid"
	TemplatePaymentDue    = "payment_due"
)

// Notification is one message for one recipient.
type Notification struct {
	RecipientID uint64
	TemplateKey string
	Params      map[string]string
	DedupeKey   string
}

// Notifier is what the auction core depends on.
type Notifier interface {
	Queue(ctx context.Context, n Notification)
	FanOut(ctx context.Context, ns []Notification)
}

// Dispatcher publishes notifications to a queue.Publisher after checking
// the dedupe key.
type Dispatcher struct {
	pub     queue.Publisher
	dedupe  Deduper
	limit   int
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConcurrency caps the number of publishes FanOut runs at once.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limit = n
		}
	}
}

// WithTimeout bounds every single publish.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// NewDispatcher returns a dispatcher.  dedupe may be nil, in which case
// every notification is published.
func NewDispatcher(pub queue.Publisher, dedupe Deduper, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pub:     pub,
		dedupe:  dedupe,
		limit:   8,
		timeout: 5 * time.Second,
		now:     time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Queue publishes n unless its dedupe key was already queued.
func (d *Dispatcher) Queue(ctx context.Context, n Notification) {
	_ = d.queue(ctx, n)
}

func (d *Dispatcher) queue(ctx context.Context, n Notification) error {
	log := zap.L().With(
		zap.Uint64("recipient_id", n.RecipientID),
		zap.String("template", n.TemplateKey),
		zap.String("dedupe_key", n.DedupeKey))

	if n.RecipientID == 0 || n.TemplateKey == "" {
		log.Warn("notify: dropping notification without recipient or template")
		return nil
	}
	if d.dedupe != nil && n.DedupeKey != "" {
		first, err := d.dedupe.FirstSeen(ctx, n.DedupeKey)
		if err != nil {
			// Publish anyway; a duplicate is better than a lost message.
			log.Warn("notify: dedupe lookup failed", zap.Error(err))
		} else if !first {
			log.Debug("notify: duplicate dropped")
			return nil
		}
	}

	pctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	ev := queue.NotificationEvent{
		ID:          uuid.NewString(),
		RecipientID: n.RecipientID,
		TemplateKey: n.TemplateKey,
		Params:      n.Params,
		DedupeKey:   n.DedupeKey,
		QueuedAt:    d.now().UTC().Format(time.RFC3339),
	}
	if err := d.pub.Publish(pctx, ev); err != nil {
		log.Error("notify: publish failed", zap.Error(err))
		if d.dedupe != nil && n.DedupeKey != "" {
			d.dedupe.Forget(context.WithoutCancel(ctx), n.DedupeKey)
		}
		return err
	}
	return nil
}

// FanOut queues every notification independently and waits for all of
// them.  One failure never cancels the others.
func (d *Dispatcher) FanOut(ctx context.Context, ns []Notification) {
	var g errgroup.Group
	g.SetLimit(d.limit)
	for _, n := range ns {
		n := n
		g.Go(func() error {
			d.Queue(ctx, n)
			return nil
		})
	}
	_ = g.Wait()
}
