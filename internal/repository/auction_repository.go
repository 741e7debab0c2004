package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-house/internal/model"
)

// AuctionRepo provides access to the auctions table.  Writes that race
// with bid admission or settlement are compare-and-swap updates: they
// carry the value observed by the caller in the WHERE clause and report
// ErrConcurrentModification when no row matched.  All timestamps are
// passed in by the caller in UTC so the same SQL runs on MySQL and SQLite.
type AuctionRepo struct {
	db *sql.DB
}

// NewAuctionRepo returns a new AuctionRepo bound to the given database.
func NewAuctionRepo(db *sql.DB) *AuctionRepo { return &AuctionRepo{db: db} }

// DB exposes the underlying handle so services can open transactions.
func (r *AuctionRepo) DB() *sql.DB { return r.db }

const auctionColumns = `id, seller_id, title, starts_at, ends_at, starting_price, current_price,
       reserve_price, min_increment, max_increment, status, paid, bid_count,
       winning_bid_id, winner_id, auction_payment_due_at, unsold_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(s rowScanner) (model.Auction, error) {
	var (
		a                               model.Auction
		startsAt, endsAt, dueAt, unsold sql.NullTime
		winningBid, winner              sql.NullInt64
		status                          string
	)
	err := s.Scan(
		&a.ID, &a.SellerID, &a.Title, &startsAt, &endsAt, &a.StartingPrice, &a.CurrentPrice,
		&a.ReservePrice, &a.MinIncrement, &a.MaxIncrement, &status, &a.Paid, &a.BidCount,
		&winningBid, &winner, &dueAt, &unsold, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return model.Auction{}, err
	}
	a.Status = model.Status(status)
	a.StartsAt = timePtr(startsAt)
	a.EndsAt = timePtr(endsAt)
	a.PaymentDueAt = timePtr(dueAt)
	a.UnsoldAt = timePtr(unsold)
	a.WinningBidID = idPtr(winningBid)
	a.WinnerID = idPtr(winner)
	return a, nil
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func idPtr(n sql.NullInt64) *uint64 {
	if !n.Valid {
		return nil
	}
	id := uint64(n.Int64)
	return &id
}

// Create inserts a new auction and populates its generated ID.  BidCount,
// Paid and the settlement fields always start empty.
func (r *AuctionRepo) Create(ctx context.Context, a *model.Auction) error {
	const q = `INSERT INTO auctions (seller_id, title, starts_at, ends_at, starting_price, current_price,
	               reserve_price, min_increment, max_increment, status, paid, bid_count, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		a.SellerID, a.Title, a.StartsAt, a.EndsAt, a.StartingPrice, a.CurrentPrice,
		a.ReservePrice, a.MinIncrement, a.MaxIncrement, string(a.Status), false,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	return nil
}

// GetByID loads a single auction.  ErrAuctionNotFound is returned when the
// id does not exist.
func (r *AuctionRepo) GetByID(ctx context.Context, id uint64) (model.Auction, error) {
	a, err := scanAuction(r.db.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Auction{}, ErrAuctionNotFound
	}
	return a, err
}

// UpdateStatus moves an auction from one status to another.  It only
// writes when the stored status still equals from, so concurrent
// reconcilers cannot undo each other.  The boolean reports whether a row
// changed.
func (r *AuctionRepo) UpdateStatus(ctx context.Context, id uint64, from, to model.Status, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE auctions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), now, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ApplyBidTx records an admitted bid on the auction row: the new current
// price, the (possibly extended) end time and the incremented bid count.
// The update is guarded by the bid count observed when the bid was
// validated and by the auction still being open with no settlement
// candidate.  A concurrent admission or resolver run makes it fail with
// ErrConcurrentModification and the caller's transaction must roll back.
func (r *AuctionRepo) ApplyBidTx(ctx context.Context, tx *sql.Tx, id uint64, observedBidCount int64, price decimal.Decimal, endsAt *time.Time, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE auctions SET current_price = ?, ends_at = ?, bid_count = bid_count + 1, updated_at = ?
		 WHERE id = ? AND bid_count = ? AND status IN (?, ?) AND winning_bid_id IS NULL AND paid = ?`,
		price, endsAt, now, id, observedBidCount,
		string(model.StatusScheduled), string(model.StatusActive), false)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// SettlementUpdate is the full set of settlement columns written by one
// resolver step.  Nil pointers clear the column.
type SettlementUpdate struct {
	Status       model.Status
	WinningBidID *uint64
	WinnerID     *uint64
	PaymentDueAt *time.Time
	UnsoldAt     *time.Time
}

// SaveSettlement writes a resolver decision.  The write only applies while
// the auction is unpaid and its winning_bid_id still equals expected (nil
// meaning no candidate), so two resolvers racing on the same lapsed
// deadline cannot skip a candidate.
func (r *AuctionRepo) SaveSettlement(ctx context.Context, id uint64, expected *uint64, u SettlementUpdate, now time.Time) error {
	var exp uint64
	if expected != nil {
		exp = *expected
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE auctions
		    SET status = ?, winning_bid_id = ?, winner_id = ?, auction_payment_due_at = ?, unsold_at = ?, updated_at = ?
		  WHERE id = ? AND paid = ? AND COALESCE(winning_bid_id, 0) = ?`,
		string(u.Status), u.WinningBidID, u.WinnerID, u.PaymentDueAt, u.UnsoldAt, now,
		id, false, exp)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// MarkPaid finalizes settlement for the given winning bid.  It returns
// ErrConflict when the auction is already paid or the candidate moved on.
func (r *AuctionRepo) MarkPaid(ctx context.Context, id, bidID, winnerID uint64, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE auctions SET paid = ?, winner_id = ?, auction_payment_due_at = NULL, updated_at = ?
		 WHERE id = ? AND winning_bid_id = ? AND paid = ?`,
		true, winnerID, now, id, bidID, false)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ListSettlementDue returns ids of unpaid auctions with bids that are
// ended or past their end time and whose fallback chain has not run out.
// Auctions whose highest bid is below the reserve can never settle and
// are skipped.  The result is capped at limit.
func (r *AuctionRepo) ListSettlementDue(ctx context.Context, now time.Time, limit int) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM auctions
		  WHERE paid = ? AND unsold_at IS NULL AND bid_count > 0
		    AND (reserve_price IS NULL OR current_price >= reserve_price)
		    AND (status = ? OR (status IN (?, ?) AND ends_at IS NOT NULL AND ends_at <= ?))
		  ORDER BY id
		  LIMIT ?`,
		false, string(model.StatusEnded), string(model.StatusScheduled), string(model.StatusActive), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]uint64, 0)
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
