package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// Status is the lifecycle state of an auction as stored in the
// `auctions.status` column.
type Status string

const (
    StatusScheduled Status = "scheduled"
    StatusActive    Status = "active"
    StatusEnded     Status = "ended"
    StatusDelivered Status = "delivered"
)

// Closed reports whether bidding is over for the status.  Delivered
// auctions are past ended and stay closed.
func (s Status) Closed() bool {
    return s == StatusEnded || s == StatusDelivered
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
    switch s {
    case StatusScheduled, StatusActive, StatusEnded, StatusDelivered:
        return true
    }
    return false
}

// Auction mirrors a row of the `auctions` table.  Nullable columns are
// pointers or decimal.NullDecimal.  CurrentPrice never decreases and
// EndsAt only moves forward.
//
// Settlement fields:
//  WinningBidID – bid currently obligated to pay (nil when no candidate).
//  WinnerID     – payer identity; set once payment is confirmed.
//  PaymentDueAt – deadline of the current payment window (nil when none).
//  UnsoldAt     – set when the fallback chain ran out; settlement is final.
type Auction struct {
    ID            uint64              `json:"id"`
    SellerID      uint64              `json:"seller_id"`
    Title         string              `json:"title"`
    StartsAt      *time.Time          `json:"starts_at"`
    EndsAt        *time.Time          `json:"ends_at"`
    StartingPrice decimal.Decimal     `json:"starting_price"`
    CurrentPrice  decimal.Decimal     `json:"current_price"`
    ReservePrice  decimal.NullDecimal `json:"reserve_price"`
    MinIncrement  decimal.Decimal     `json:"min_increment"`
    MaxIncrement  decimal.NullDecimal `json:"max_increment"`
    Status        Status              `json:"status"`
    Paid          bool                `json:"paid"`
    BidCount      int64               `json:"bid_count"`
    WinningBidID  *uint64             `json:"winning_bid_id"`
    WinnerID      *uint64             `json:"winner_id"`
    PaymentDueAt  *time.Time          `json:"auction_payment_due_at"`
    UnsoldAt      *time.Time          `json:"unsold_at"`
    CreatedAt     time.Time           `json:"created_at"`
    UpdatedAt     time.Time           `json:"updated_at"`
}

// HasCandidateState reports whether any settlement field is populated.
func (a Auction) HasCandidateState() bool {
    return a.WinningBidID != nil || a.WinnerID != nil || a.PaymentDueAt != nil
}
