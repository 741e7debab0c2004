package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/auction-house/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := t0.Add(d)
	return &t
}

func TestReconcile(t *testing.T) {
	cases := []struct {
		name string
		a    model.Auction
		want model.Status
	}{
		{"future start stays scheduled", model.Auction{Status: model.StatusScheduled, StartsAt: at(time.Minute)}, model.StatusScheduled},
		{"started scheduled becomes active", model.Auction{Status: model.StatusScheduled, StartsAt: at(-time.Minute), EndsAt: at(time.Hour)}, model.StatusActive},
		{"no bounds scheduled becomes active", model.Auction{Status: model.StatusScheduled}, model.StatusActive},
		{"active past end becomes ended", model.Auction{Status: model.StatusActive, EndsAt: at(-time.Second)}, model.StatusEnded},
		{"end exactly now is ended", model.Auction{Status: model.StatusActive, EndsAt: at(0)}, model.StatusEnded},
		{"scheduled past end skips to ended", model.Auction{Status: model.StatusScheduled, StartsAt: at(-time.Hour), EndsAt: at(-time.Minute)}, model.StatusEnded},
		{"active before end unchanged", model.Auction{Status: model.StatusActive, EndsAt: at(time.Second)}, model.StatusActive},
		{"ended stays ended", model.Auction{Status: model.StatusEnded, EndsAt: at(time.Hour)}, model.StatusEnded},
		{"delivered stays delivered", model.Auction{Status: model.StatusDelivered, EndsAt: at(-time.Hour)}, model.StatusDelivered},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Reconcile(tc.a, t0))
		})
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	a := model.Auction{Status: model.StatusScheduled, StartsAt: at(-time.Hour), EndsAt: at(-time.Minute)}
	a.Status = Reconcile(a, t0)
	assert.Equal(t, a.Status, Reconcile(a, t0))
}

func TestInitialStatus(t *testing.T) {
	assert.Equal(t, model.StatusScheduled, InitialStatus(at(time.Second), t0))
	assert.Equal(t, model.StatusActive, InitialStatus(at(0), t0))
	assert.Equal(t, model.StatusActive, InitialStatus(nil, t0))
}
