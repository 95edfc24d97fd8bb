package postgres

import (
	"context"
	"fmt"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is idempotent; Migrate runs it on startup when MIGRATE=true.
const Schema = `
CREATE TABLE IF NOT EXISTS categories (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	slug       TEXT NOT NULL UNIQUE,
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS products (
	id          BIGSERIAL PRIMARY KEY,
	category_id BIGINT NOT NULL REFERENCES categories(id) ON DELETE RESTRICT,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	price       NUMERIC(8,2) NOT NULL CHECK (price >= 0),
	stock       INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
	is_active   BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS products_category_active_idx ON products(category_id, is_active, created_at DESC);

CREATE TABLE IF NOT EXISTS orders (
	id          BIGSERIAL PRIMARY KEY,
	user_id     BIGINT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending'
	            CHECK (status IN ('pending','processing','shipped','delivered','cancelled')),
	total_price NUMERIC(10,2) NOT NULL DEFAULT 0 CHECK (total_price >= 0),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS orders_user_created_idx ON orders(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS order_items (
	id                BIGSERIAL PRIMARY KEY,
	order_id          BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	product_id        BIGINT NOT NULL REFERENCES products(id) ON DELETE RESTRICT,
	quantity          INTEGER NOT NULL CHECK (quantity >= 1),
	price_at_purchase NUMERIC(8,2) NOT NULL CHECK (price_at_purchase >= 0),
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (order_id, product_id)
);
`

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
