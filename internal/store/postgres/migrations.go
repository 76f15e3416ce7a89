package postgres

// Tables owned elsewhere (users, credit_packages, action_costs,
// user_subscriptions) are created here too so a fresh database is usable for
// local development; production points at the shared schema.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS credit_packages (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	credits BIGINT NOT NULL,
	price NUMERIC(10, 2) NOT NULL DEFAULT 0,
	is_subscription BOOLEAN NOT NULL DEFAULT FALSE,
	expiration_days INTEGER,
	platform TEXT NOT NULL DEFAULT '',
	product_id TEXT NOT NULL DEFAULT '',
	price_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	transaction_type TEXT NOT NULL,
	transaction_source TEXT NOT NULL,
	amount BIGINT NOT NULL,
	balance_after BIGINT NOT NULL,
	description TEXT NOT NULL,
	api_endpoint TEXT NOT NULL DEFAULT '',
	platform_transaction_id TEXT NOT NULL DEFAULT '',
	related_transaction_id UUID,
	subscription_id UUID,
	package_id UUID,
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_created
	ON credit_transactions (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS user_credit_balances (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	package_id UUID,
	transaction_id UUID NOT NULL REFERENCES credit_transactions (id),
	initial_amount BIGINT NOT NULL,
	remaining_amount BIGINT NOT NULL,
	expires_at TIMESTAMPTZ,
	consumed_at TIMESTAMPTZ,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT balance_within_bounds CHECK (remaining_amount >= 0 AND remaining_amount <= initial_amount)
);
CREATE INDEX IF NOT EXISTS idx_user_credit_balances_active
	ON user_credit_balances (user_id, expires_at) WHERE is_active;

CREATE TABLE IF NOT EXISTS credit_consumption_logs (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	balance_id UUID NOT NULL REFERENCES user_credit_balances (id),
	transaction_id UUID NOT NULL REFERENCES credit_transactions (id),
	amount BIGINT NOT NULL,
	api_endpoint TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_credit_consumption_logs_transaction
	ON credit_consumption_logs (transaction_id);

CREATE TABLE IF NOT EXISTS user_subscriptions (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	package_id UUID NOT NULL,
	platform TEXT NOT NULL,
	platform_subscription_id TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	current_period_start TIMESTAMPTZ NOT NULL,
	current_period_end TIMESTAMPTZ NOT NULL,
	cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
	credits_per_period BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS action_costs (
	action_type TEXT PRIMARY KEY,
	cost BIGINT NOT NULL,
	endpoint TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS processed_billing_events (
	event_id TEXT PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}
