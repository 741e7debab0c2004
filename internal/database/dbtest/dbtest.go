// Package dbtest provides an in-memory SQLite database with the service
// schema for repository, service and handler tests.
package dbtest

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const schema = `
	CREATE TABLE profiles (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		email         TEXT     NOT NULL UNIQUE,
		password_hash TEXT     NOT NULL,
		role          TEXT     NOT NULL DEFAULT 'BIDDER',
		token_balance INTEGER  NOT NULL DEFAULT 0 CHECK (token_balance >= 0),
		created_at    DATETIME NOT NULL,
		updated_at    DATETIME NOT NULL
	);

	CREATE TABLE auctions (
		id                     INTEGER PRIMARY KEY AUTOINCREMENT,
		seller_id              INTEGER  NOT NULL,
		title                  TEXT     NOT NULL,
		starts_at              DATETIME NULL,
		ends_at                DATETIME NULL,
		starting_price         NUMERIC  NOT NULL DEFAULT 0,
		current_price          NUMERIC  NOT NULL DEFAULT 0,
		reserve_price          NUMERIC  NULL,
		min_increment          NUMERIC  NOT NULL DEFAULT 1,
		max_increment          NUMERIC  NULL,
		status                 TEXT     NOT NULL,
		paid                   BOOLEAN  NOT NULL DEFAULT 0,
		bid_count              INTEGER  NOT NULL DEFAULT 0,
		winning_bid_id         INTEGER  NULL,
		winner_id              INTEGER  NULL,
		auction_payment_due_at DATETIME NULL,
		unsold_at              DATETIME NULL,
		created_at             DATETIME NOT NULL,
		updated_at             DATETIME NOT NULL
	);

	CREATE TABLE bids (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		auction_id INTEGER  NOT NULL,
		bidder_id  INTEGER  NOT NULL,
		amount     NUMERIC  NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE token_transactions (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id INTEGER  NOT NULL,
		type       TEXT     NOT NULL,
		amount     INTEGER  NOT NULL,
		reference  TEXT     NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE auction_watchers (
		auction_id INTEGER  NOT NULL,
		profile_id INTEGER  NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (auction_id, profile_id)
	);
`

// Open returns a fresh in-memory database with the schema applied.  The
// pool is capped at one connection so every query sees the same memory
// database.  It is closed when the test ends.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?_loc=UTC")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		t.Fatalf("apply schema: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// InsertProfile adds a profile with the given token balance and returns
// its id.  The password hash is a placeholder.
func InsertProfile(t testing.TB, db *sql.DB, email, role string, tokens int64) uint64 {
	t.Helper()
	now := time.Now().UTC()
	res, err := db.Exec(
		`INSERT INTO profiles (email, password_hash, role, token_balance, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		email, "x", role, tokens, now, now)
	if err != nil {
		t.Fatalf("insert profile: %v", err)
	}
	id, _ := res.LastInsertId()
	return uint64(id)
}

// InsertBid adds a bid row directly, bypassing admission.  The auction's
// bid count and current price follow the inserted bid.
func InsertBid(t testing.TB, db *sql.DB, auctionID, bidderID uint64, amount string, at time.Time) uint64 {
	t.Helper()
	amt := decimal.RequireFromString(amount)
	res, err := db.Exec(
		`INSERT INTO bids (auction_id, bidder_id, amount, created_at) VALUES (?, ?, ?, ?)`,
		auctionID, bidderID, amt, at.UTC())
	if err != nil {
		t.Fatalf("insert bid: %v", err)
	}
	if _, err := db.Exec(
		`UPDATE auctions SET bid_count = bid_count + 1, current_price = MAX(current_price, ?) WHERE id = ?`,
		amt.InexactFloat64(), auctionID); err != nil {
		t.Fatalf("bump bid count: %v", err)
	}
	id, _ := res.LastInsertId()
	return uint64(id)
}

// Balance reads a profile's token balance.
func Balance(t testing.TB, db *sql.DB, profileID uint64) int64 {
	t.Helper()
	var bal int64
	if err := db.QueryRow(`SELECT token_balance FROM profiles WHERE id = ?`, profileID).Scan(&bal); err != nil {
		t.Fatalf("read balance: %v", err)
	}
	return bal
}
