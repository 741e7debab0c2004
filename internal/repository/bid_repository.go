package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/auction-house/internal/model"
)

// BidRepo provides access to the bids table.  Bids are append-only: the
// repository exposes inserts and reads, never updates or deletes.
type BidRepo struct {
	db *sql.DB
}

// NewBidRepo returns a new BidRepo bound to the given database.
func NewBidRepo(db *sql.DB) *BidRepo { return &BidRepo{db: db} }

// CreateTx inserts a bid within the caller's transaction and populates its
// generated ID.  CreatedAt must be set by the caller; it is the tie-break
// key for settlement ranking.
func (r *BidRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Bid) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO bids (auction_id, bidder_id, amount, created_at) VALUES (?, ?, ?, ?)`,
		b.AuctionID, b.BidderID, b.Amount, b.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	return nil
}

// LatestBidderTx returns the author of the most recently created bid on
// the auction, or nil when the auction has no bids yet.  Ties on
// created_at fall back to the higher id.
func (r *BidRepo) LatestBidderTx(ctx context.Context, tx *sql.Tx, auctionID uint64) (*uint64, error) {
	var bidder uint64
	err := tx.QueryRowContext(ctx,
		`SELECT bidder_id FROM bids WHERE auction_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		auctionID).Scan(&bidder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bidder, nil
}

// ListRankedByAuction returns every bid of an auction ordered by amount
// descending, then created_at ascending, then id ascending.  This is the
// input order expected by settlement ranking.
func (r *BidRepo) ListRankedByAuction(ctx context.Context, auctionID uint64) ([]model.Bid, error) {
	return r.list(ctx,
		`SELECT id, auction_id, bidder_id, amount, created_at FROM bids
		  WHERE auction_id = ?
		  ORDER BY amount DESC, created_at ASC, id ASC`, auctionID)
}

// ListByAuction returns the bid history of an auction, newest first,
// capped at limit rows.
func (r *BidRepo) ListByAuction(ctx context.Context, auctionID uint64, limit int) ([]model.Bid, error) {
	return r.list(ctx,
		`SELECT id, auction_id, bidder_id, amount, created_at FROM bids
		  WHERE auction_id = ?
		  ORDER BY created_at DESC, id DESC
		  LIMIT ?`, auctionID, limit)
}

func (r *BidRepo) list(ctx context.Context, q string, args ...any) ([]model.Bid, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	bids := make([]model.Bid, 0)
	for rows.Next() {
		var b model.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.CreatedAt = b.CreatedAt.UTC()
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bids, nil
}
