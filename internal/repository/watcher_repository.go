package repository

import (
	"context"
	"database/sql"
	"time"
)

// WatcherRepo stores which profiles follow an auction.  Watchers receive
// a notification for every admitted bid.
type WatcherRepo struct {
	db *sql.DB
}

// NewWatcherRepo returns a new WatcherRepo bound to the given database.
func NewWatcherRepo(db *sql.DB) *WatcherRepo { return &WatcherRepo{db: db} }

// Watch registers profileID as a watcher.  Watching twice is a no-op.
func (r *WatcherRepo) Watch(ctx context.Context, auctionID, profileID uint64, now time.Time) error {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM auction_watchers WHERE auction_id = ? AND profile_id = ?`,
		auctionID, profileID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO auction_watchers (auction_id, profile_id, created_at) VALUES (?, ?, ?)`,
		auctionID, profileID, now)
	return err
}

// Unwatch removes the watcher row if present.
func (r *WatcherRepo) Unwatch(ctx context.Context, auctionID, profileID uint64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM auction_watchers WHERE auction_id = ? AND profile_id = ?`, auctionID, profileID)
	return err
}

// ListWatchersTx returns the ids of every profile watching the auction.
func (r *WatcherRepo) ListWatchersTx(ctx context.Context, tx *sql.Tx, auctionID uint64) ([]uint64, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT profile_id FROM auction_watchers WHERE auction_id = ? ORDER BY profile_id`, auctionID)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for rows.Next() {
		var id uint64
		if scanErr := rows.Scan(&id); scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		ids = append(ids, id)
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}
	return ids, nil
}
