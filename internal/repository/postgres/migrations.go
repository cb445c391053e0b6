package repository

import "database/sql"

// schema is executed on startup so the tables exist before serving.
// group_members is collaborator-owned reference data: this service only
// reads it, rows are administered by the membership service.
const schema = `
CREATE TABLE IF NOT EXISTS group_members (
    group_id BIGINT NOT NULL,
    user_id BIGINT NOT NULL,
    joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (group_id, user_id)
);

CREATE TABLE IF NOT EXISTS purchases (
    id BIGSERIAL PRIMARY KEY,
    group_id BIGINT,
    buyer_id BIGINT NOT NULL,
    bean_ref TEXT NOT NULL,
    total_amount BIGINT NOT NULL CHECK (total_amount >= 0),
    purchased_on DATE NOT NULL,
    collected_amount BIGINT NOT NULL DEFAULT 0,
    is_fully_paid BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payment_shares (
    id BIGSERIAL PRIMARY KEY,
    purchase_id BIGINT NOT NULL REFERENCES purchases(id),
    user_id BIGINT NOT NULL,
    amount BIGINT NOT NULL CHECK (amount >= 0),
    status TEXT NOT NULL DEFAULT 'UNPAID',
    payment_reference TEXT NOT NULL UNIQUE,
    paid_at TIMESTAMPTZ,
    paid_by_id BIGINT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (purchase_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_purchases_group_id ON purchases(group_id);
CREATE INDEX IF NOT EXISTS idx_payment_shares_purchase_id ON payment_shares(purchase_id);
`

// RunMigrations executes the schema setup.
func RunMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
