package database

// mysqlSchema is applied in order by Migrate.  Times are DATETIME(6) so
// bids placed within the same second still order by created_at.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id             BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		email          VARCHAR(255) NOT NULL,
		password_hash  VARCHAR(255) NOT NULL,
		role           VARCHAR(16)  NOT NULL DEFAULT 'BIDDER',
		token_balance  BIGINT       NOT NULL DEFAULT 0,
		created_at     DATETIME(6)  NOT NULL,
		updated_at     DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_profiles_email (email),
		CONSTRAINT chk_profiles_balance CHECK (token_balance >= 0)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS auctions (
		id                      BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		seller_id               BIGINT UNSIGNED NOT NULL,
		title                   VARCHAR(255)    NOT NULL,
		starts_at               DATETIME(6)     NULL,
		ends_at                 DATETIME(6)     NULL,
		starting_price          DECIMAL(14,2)   NOT NULL DEFAULT 0,
		current_price           DECIMAL(14,2)   NOT NULL DEFAULT 0,
		reserve_price           DECIMAL(14,2)   NULL,
		min_increment           DECIMAL(14,2)   NOT NULL DEFAULT 1,
		max_increment           DECIMAL(14,2)   NULL,
		status                  VARCHAR(16)     NOT NULL,
		paid                    BOOLEAN         NOT NULL DEFAULT FALSE,
		bid_count               BIGINT          NOT NULL DEFAULT 0,
		winning_bid_id          BIGINT UNSIGNED NULL,
		winner_id               BIGINT UNSIGNED NULL,
		auction_payment_due_at  DATETIME(6)     NULL,
		unsold_at               DATETIME(6)     NULL,
		created_at              DATETIME(6)     NOT NULL,
		updated_at              DATETIME(6)     NOT NULL,
		KEY idx_auctions_settlement (paid, status, ends_at),
		CONSTRAINT fk_auctions_seller FOREIGN KEY (seller_id) REFERENCES profiles(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS bids (
		id          BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		auction_id  BIGINT UNSIGNED NOT NULL,
		bidder_id   BIGINT UNSIGNED NOT NULL,
		amount      DECIMAL(14,2)   NOT NULL,
		created_at  DATETIME(6)     NOT NULL,
		KEY idx_bids_auction_rank (auction_id, amount, created_at),
		KEY idx_bids_auction_latest (auction_id, created_at, id),
		CONSTRAINT fk_bids_auction FOREIGN KEY (auction_id) REFERENCES auctions(id),
		CONSTRAINT fk_bids_bidder FOREIGN KEY (bidder_id) REFERENCES profiles(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS token_transactions (
		id          BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		profile_id  BIGINT UNSIGNED NOT NULL,
		type        VARCHAR(16)     NOT NULL,
		amount      BIGINT          NOT NULL,
		reference   VARCHAR(64)     NOT NULL DEFAULT '',
		created_at  DATETIME(6)     NOT NULL,
		KEY idx_token_tx_profile (profile_id, id),
		CONSTRAINT fk_token_tx_profile FOREIGN KEY (profile_id) REFERENCES profiles(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS auction_watchers (
		auction_id  BIGINT UNSIGNED NOT NULL,
		profile_id  BIGINT UNSIGNED NOT NULL,
		created_at  DATETIME(6)     NOT NULL,
		PRIMARY KEY (auction_id, profile_id),
		CONSTRAINT fk_watchers_auction FOREIGN KEY (auction_id) REFERENCES auctions(id),
		CONSTRAINT fk_watchers_profile FOREIGN KEY (profile_id) REFERENCES profiles(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
