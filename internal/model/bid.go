package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// Bid mirrors the `bids` table.  Bids are immutable once written.
type Bid struct {
    ID        uint64          `json:"id"`
    AuctionID uint64          `json:"auction_id"`
    BidderID  uint64          `json:"bidder_id"`
    Amount    decimal.Decimal `json:"amount"`
    CreatedAt time.Time       `json:"created_at"`
}
