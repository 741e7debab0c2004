package model

import "time"

// Roles stored in profiles.role and carried in the JWT "role" claim.
const (
    RoleBidder = "BIDDER"
    RoleSeller = "SELLER"
    RoleAdmin  = "ADMIN"
)

// Profile represents an account as stored in the `profiles` table.  The
// token balance is spent one token per admitted bid.
//
// Fields:
//  ID           – primary key identifier.
//  Email        – unique, normalized email address.
//  PasswordHash – bcrypt hashed password.
//  Role         – BIDDER, SELLER or ADMIN.
//  TokenBalance – spendable bid tokens, never negative.
type Profile struct {
    ID           uint64
    Email        string
    PasswordHash string
    Role         string
    TokenBalance int64
    CreatedAt    time.Time
    UpdatedAt    time.Time
}

// Token transaction types recorded in token_transactions.type.
const (
    TokenTxBid   = "bid"
    TokenTxGrant = "grant"
)

// TokenTransaction is an append-only audit row for every balance change.
type TokenTransaction struct {
    ID        uint64    `json:"id"`
    ProfileID uint64    `json:"profile_id"`
    Type      string    `json:"type"`
    Amount    int64     `json:"amount"`
    Reference string    `json:"reference"`
    CreatedAt time.Time `json:"created_at"`
}
