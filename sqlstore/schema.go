package sqlstore

// Prices are stored as integer hundredths, never floating point.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		canonical_url VARCHAR(512) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		brand VARCHAR(255) NOT NULL DEFAULT '',
		category VARCHAR(255) NOT NULL DEFAULT ''
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`,

	`CREATE TABLE IF NOT EXISTS variants (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		product_id VARCHAR(64) NOT NULL,
		attributes MEDIUMTEXT,
		canonical_url VARCHAR(512) NOT NULL,
		KEY idx_variants_product (product_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`,

	`CREATE TABLE IF NOT EXISTS price_observations (
		id BIGINT NOT NULL PRIMARY KEY AUTO_INCREMENT,
		variant_id VARCHAR(64) NOT NULL,
		day CHAR(10) NOT NULL,
		observed_at DATETIME NOT NULL,
		current_price BIGINT NULL,
		list_price BIGINT NULL,
		omnibus_min_30d BIGINT NULL,
		promotion TINYINT(1) NOT NULL DEFAULT 0,
		voucher_required TINYINT(1) NOT NULL DEFAULT 0,
		anomaly TINYINT(1) NOT NULL DEFAULT 0,
		session_id VARCHAR(32) NOT NULL DEFAULT '',
		UNIQUE KEY uq_variant_day (variant_id, day)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`,

	`CREATE TABLE IF NOT EXISTS fetch_sessions (
		id VARCHAR(32) NOT NULL PRIMARY KEY,
		identity_label VARCHAR(64) NOT NULL DEFAULT '',
		request_count INT NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`,
}

const upsertProductSQL = `INSERT INTO products (id, canonical_url, name, brand, category)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE name = VALUES(name), category = VALUES(category);`

const upsertVariantSQL = `INSERT INTO variants (id, product_id, attributes, canonical_url)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE attributes = VALUES(attributes);`

const selectObservationSQL = `SELECT current_price, list_price, omnibus_min_30d, promotion, voucher_required
FROM price_observations WHERE variant_id = ? AND day = ?;`

// same-day re-observations overwrite the price fields in place: the row
// keeps the latest known value for that calendar day.
const upsertObservationSQL = `INSERT INTO price_observations
(variant_id, day, observed_at, current_price, list_price, omnibus_min_30d, promotion, voucher_required, anomaly, session_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
observed_at = VALUES(observed_at),
current_price = VALUES(current_price),
list_price = VALUES(list_price),
omnibus_min_30d = VALUES(omnibus_min_30d),
promotion = VALUES(promotion),
voucher_required = VALUES(voucher_required),
anomaly = VALUES(anomaly),
session_id = VALUES(session_id);`

const openSessionSQL = `INSERT INTO fetch_sessions (id, identity_label, request_count, started_at)
VALUES (?, ?, ?, ?);`

const closeSessionSQL = `UPDATE fetch_sessions SET request_count = ?, ended_at = ? WHERE id = ?;`
