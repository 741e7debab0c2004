package repository

import (
	"context"
	"strings"
	"time"

	"github.com/iliyamo/auction-house/internal/model"
)

// AuctionSearchQuery defines filters & pagination for browsing auctions.
type AuctionSearchQuery struct {
	Title    string
	SellerID uint64
	// Time is "open" (default, not yet past ends_at and not closed),
	// "upcoming" (starts_at in the future), "closed" or "any".
	Time     string
	Page     int
	PageSize int
}

// Search lists auctions matching q, soonest ending first, together with
// the total number of matches.  now replaces NOW() so the clock stays in
// the caller's hands.
func (r *AuctionRepo) Search(ctx context.Context, q AuctionSearchQuery, now time.Time) ([]model.Auction, int64, error) {
	where := []string{}
	args := []any{}

	switch strings.ToLower(q.Time) {
	case "any":
	case "upcoming":
		where = append(where, "starts_at > ?")
		args = append(args, now)
	case "closed":
		where = append(where, "(status IN ('ended','delivered') OR (ends_at IS NOT NULL AND ends_at <= ?))")
		args = append(args, now)
	default:
		where = append(where, "status IN ('scheduled','active') AND (ends_at IS NULL OR ends_at > ?)")
		args = append(args, now)
	}

	if q.Title != "" {
		where = append(where, "LOWER(title) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Title)+"%")
	}
	if q.SellerID != 0 {
		where = append(where, "seller_id = ?")
		args = append(args, q.SellerID)
	}

	cond := "1=1"
	if len(where) > 0 {
		cond = strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM auctions WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := q.PageSize
	offset := (q.Page - 1) * q.PageSize
	dataSQL := `SELECT ` + auctionColumns + ` FROM auctions
		WHERE ` + cond + `
		ORDER BY ends_at IS NULL, ends_at ASC, id ASC
		LIMIT ? OFFSET ?`
	argsData := append(append([]any{}, args...), limit, offset)

	rows, err := r.db.QueryContext(ctx, dataSQL, argsData...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.Auction, 0, limit)
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
