package database

import (
	"context"
	"fmt"
)

// schema is idempotent; EnsureSchema runs it on every start.
const schema = `
CREATE TABLE IF NOT EXISTS extraction_pages (
	id                   BIGSERIAL PRIMARY KEY,
	session_id           TEXT        NOT NULL,
	page_number          INTEGER     NOT NULL,
	total_records        INTEGER     NOT NULL,
	total_products       INTEGER     NOT NULL,
	total_items          INTEGER     NOT NULL,
	orders_with_products INTEGER     NOT NULL,
	duration_ms          BIGINT      NOT NULL DEFAULT 0,
	extracted_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (session_id, page_number)
);

CREATE TABLE IF NOT EXISTS extracted_orders (
	page_id             BIGINT      NOT NULL REFERENCES extraction_pages (id) ON DELETE CASCADE,
	page_position       INTEGER     NOT NULL,
	order_id            TEXT,
	order_code          TEXT,
	customer_name       TEXT,
	has_product_details BOOLEAN     NOT NULL,
	product_count       INTEGER     NOT NULL,
	total_items         INTEGER     NOT NULL,
	product_summary     TEXT        NOT NULL DEFAULT '',
	record              JSONB       NOT NULL,
	processed_at        TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (page_id, page_position)
);

CREATE INDEX IF NOT EXISTS extracted_orders_order_id_idx ON extracted_orders (order_id);

CREATE TABLE IF NOT EXISTS outbox_event (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT        NOT NULL,
	aggregate_id   TEXT        NOT NULL,
	event_type     TEXT        NOT NULL,
	payload        JSONB       NOT NULL,
	target_stream  TEXT        NOT NULL,
	status         TEXT        NOT NULL,
	retry_count    INTEGER     NOT NULL DEFAULT 0,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL,
	processed_at   TIMESTAMPTZ,
	next_retry_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS outbox_event_pending_idx ON outbox_event (status, next_retry_at);
`

func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
