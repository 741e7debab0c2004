package auction

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/auction-house/internal/model"
)

func bid(id, bidder uint64, amount string, offset time.Duration) model.Bid {
	return model.Bid{ID: id, AuctionID: 1, BidderID: bidder, Amount: decimal.RequireFromString(amount), CreatedAt: t0.Add(offset)}
}

func bidIDs(cs []Candidate) []uint64 {
	out := make([]uint64, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Bid.ID)
	}
	return out
}

func TestRankCandidatesDedupesByBidder(t *testing.T) {
	bids := []model.Bid{
		bid(1, 10, "100", 0),
		bid(2, 20, "150", time.Second),
		bid(3, 10, "200", 2*time.Second),
		bid(4, 30, "180", 3*time.Second),
		bid(5, 20, "210", 4*time.Second),
	}

	chain := RankCandidates(bids, decimal.NullDecimal{})

	assert.Equal(t, []uint64{5, 3, 4}, bidIDs(chain))
	for i, c := range chain {
		assert.Equal(t, i+1, c.Rank)
	}
}

func TestRankCandidatesTieBreaksOnEarliestBid(t *testing.T) {
	bids := []model.Bid{
		bid(7, 2, "300", 5*time.Second),
		bid(8, 1, "300", time.Second),
		bid(9, 3, "300", time.Second),
	}

	chain := RankCandidates(bids, decimal.NullDecimal{})

	assert.Equal(t, []uint64{8, 9, 7}, bidIDs(chain))
}

func TestRankCandidatesAppliesReserve(t *testing.T) {
	bids := []model.Bid{
		bid(1, 1, "500", 0),
		bid(2, 2, "400", time.Second),
		bid(3, 3, "300", 2*time.Second),
	}
	reserve := decimal.NewNullDecimal(decimal.NewFromInt(350))

	chain := RankCandidates(bids, reserve)

	assert.Equal(t, []uint64{1, 2}, bidIDs(chain))
}

func TestRankCandidatesDoesNotFallBackToLowerBidOfSameBidder(t *testing.T) {
	// bidder 1's best bid is the one that counts even if it is below reserve
	bids := []model.Bid{
		bid(1, 1, "340", 0),
		bid(2, 1, "360", time.Second),
	}
	reserve := decimal.NewNullDecimal(decimal.NewFromInt(350))

	chain := RankCandidates(bids, reserve)
	require.Len(t, chain, 1)
	assert.Equal(t, uint64(2), chain[0].Bid.ID)
}

func TestMeetsReserve(t *testing.T) {
	reserve := decimal.NewNullDecimal(decimal.RequireFromString("350"))

	assert.True(t, MeetsReserve(decimal.RequireFromString("350"), reserve))
	assert.True(t, MeetsReserve(decimal.NewFromFloat(349.99999), reserve), "float noise within tolerance")
	assert.False(t, MeetsReserve(decimal.RequireFromString("349.99"), reserve))
	assert.True(t, MeetsReserve(decimal.NewFromInt(1), decimal.NullDecimal{}))
}

func TestSortRankedLeavesInputUntouched(t *testing.T) {
	bids := []model.Bid{bid(1, 1, "1", 0), bid(2, 2, "2", 0)}
	_ = SortRanked(bids)
	assert.Equal(t, uint64(1), bids[0].ID)
}

func TestIndexOfBid(t *testing.T) {
	chain := []Candidate{{Rank: 1, Bid: bid(4, 1, "5", 0)}, {Rank: 2, Bid: bid(9, 2, "4", 0)}}
	nine, missing := uint64(9), uint64(3)

	assert.Equal(t, 1, indexOfBid(chain, &nine))
	assert.Equal(t, -1, indexOfBid(chain, &missing))
	assert.Equal(t, -1, indexOfBid(chain, nil))
}
