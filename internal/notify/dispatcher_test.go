package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auction-house/internal/queue"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.NotificationEvent
	failOn string
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.NotificationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.TemplateKey == p.failOn {
		return errors.New("broker down")
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) templates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.TemplateKey)
	}
	return out
}

func newMemoryDispatcher(t *testing.T, pub queue.Publisher) *Dispatcher {
	t.Helper()
	dd, err := NewMemoryDeduper(100)
	require.NoError(t, err)
	return NewDispatcher(pub, dd)
}

func TestQueueDropsDuplicateKeys(t *testing.T) {
	pub := &recordingPublisher{}
	d := newMemoryDispatcher(t, pub)
	n := Notification{RecipientID: 7, TemplateKey: TemplateOutbid, DedupeKey: "bid:1:outbid:7"}

	d.Queue(context.Background(), n)
	d.Queue(context.Background(), n)

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, uint64(7), ev.RecipientID)
	assert.Equal(t, "bid:1:outbid:7", ev.DedupeKey)
	assert.NotEmpty(t, ev.ID)
	assert.NotEmpty(t, ev.QueuedAt)
}

func TestQueueWithoutDedupeKeyAlwaysPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	d := newMemoryDispatcher(t, pub)
	n := Notification{RecipientID: 7, TemplateKey: TemplateBidPlaced}

	d.Queue(context.Background(), n)
	d.Queue(context.Background(), n)

	assert.Len(t, pub.events, 2)
}

func TestQueueForgetsKeyAfterFailedPublish(t *testing.T) {
	pub := &recordingPublisher{failOn: TemplatePaymentDue}
	d := newMemoryDispatcher(t, pub)
	n := Notification{RecipientID: 3, TemplateKey: TemplatePaymentDue, DedupeKey: "payment_due:1:2"}

	d.Queue(context.Background(), n)
	require.Empty(t, pub.events)

	pub.failOn = ""
	d.Queue(context.Background(), n)
	assert.Len(t, pub.events, 1)
}

func TestQueueIgnoresIncompleteNotifications(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(pub, nil)

	d.Queue(context.Background(), Notification{TemplateKey: TemplateOutbid})
	d.Queue(context.Background(), Notification{RecipientID: 1})

	assert.Empty(t, pub.events)
}

func TestFanOutIsolatesFailures(t *testing.T) {
	pub := &recordingPublisher{failOn: TemplateOutbid}
	d := NewDispatcher(pub, nil, WithConcurrency(2))

	d.FanOut(context.Background(), []Notification{
		{RecipientID: 1, TemplateKey: TemplateBidPlaced},
		{RecipientID: 2, TemplateKey: TemplateOutbid},
		{RecipientID: 3, TemplateKey: TemplateSellerNewBid},
		{RecipientID: 4, TemplateKey: TemplateWatcherNewBid},
	})

	assert.ElementsMatch(t,
		[]string{TemplateBidPlaced, TemplateSellerNewBid, TemplateWatcherNewBid},
		pub.templates())
}

func TestMemoryDeduperEvictsOldest(t *testing.T) {
	dd, err := NewMemoryDeduper(2)
	require.NoError(t, err)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		first, err := dd.FirstSeen(ctx, k)
		require.NoError(t, err)
		assert.True(t, first, k)
	}
	first, _ := dd.FirstSeen(ctx, "a")
	assert.True(t, first, "evicted key is new again")
	first, _ = dd.FirstSeen(ctx, "c")
	assert.False(t, first)
}
