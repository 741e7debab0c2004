package auction

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-house/internal/model"
)

// reservePrecision is the rounding applied before comparing a bid with the
// reserve price so float noise cannot push an equal bid below it.
const reservePrecision int32 = 4

// Candidate is one entry of the settlement fallback chain.  Rank starts
// at 1 for the obligated payer.
type Candidate struct {
	Rank int       `json:"rank"`
	Bid  model.Bid `json:"bid"`
}

// MeetsReserve reports whether amount is at or above the reserve.  A
// missing reserve accepts every amount.
func MeetsReserve(amount decimal.Decimal, reserve decimal.NullDecimal) bool {
	if !reserve.Valid {
		return true
	}
	return amount.Round(reservePrecision).GreaterThanOrEqual(reserve.Decimal.Round(reservePrecision))
}

// SortRanked orders bids by amount descending, then created_at ascending,
// then id ascending.  The input slice is not modified.
func SortRanked(bids []model.Bid) []model.Bid {
	out := make([]model.Bid, len(bids))
	copy(out, bids)
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DedupeByBidder keeps the first bid of every bidder from an already
// ranked sequence, so each bidder is represented by their best bid.
func DedupeByBidder(ranked []model.Bid) []model.Bid {
	seen := make(map[uint64]bool, len(ranked))
	out := make([]model.Bid, 0, len(ranked))
	for _, b := range ranked {
		if seen[b.BidderID] {
			continue
		}
		seen[b.BidderID] = true
		out = append(out, b)
	}
	return out
}

// RankCandidates builds the fallback chain of an auction: bids ranked,
// one per bidder, filtered by the reserve price.
func RankCandidates(bids []model.Bid, reserve decimal.NullDecimal) []Candidate {
	unique := DedupeByBidder(SortRanked(bids))
	out := make([]Candidate, 0, len(unique))
	for _, b := range unique {
		if !MeetsReserve(b.Amount, reserve) {
			continue
		}
		out = append(out, Candidate{Rank: len(out) + 1, Bid: b})
	}
	return out
}

// indexOfBid returns the position of bidID in the chain or -1.
func indexOfBid(chain []Candidate, bidID *uint64) int {
	if bidID == nil {
		return -1
	}
	for i, c := range chain {
		if c.Bid.ID == *bidID {
			return i
		}
	}
	return -1
}
