package store

// Schema definitions for the transfer property graph.
// Compatible with both SQLite and PostgreSQL.

// Input load. Rows here are read-only to the pipeline.
const schemaGraph = `
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS transfers (
    id BIGINT PRIMARY KEY,
    sender_id TEXT NOT NULL REFERENCES accounts(id),
    receiver_id TEXT NOT NULL REFERENCES accounts(id),
    amount DOUBLE PRECISION NOT NULL,
    step INTEGER NOT NULL,
    type TEXT NOT NULL DEFAULT '',
    ground_truth_fraud BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_transfers_sender ON transfers(sender_id, step);
CREATE INDEX IF NOT EXISTS idx_transfers_receiver ON transfers(receiver_id, step);
`

// Derived properties. Cleanup empties both tables.
const schemaProperties = `
CREATE TABLE IF NOT EXISTS account_properties (
    account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    value DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (account_id, name)
);

CREATE INDEX IF NOT EXISTS idx_account_properties_name ON account_properties(name);

CREATE TABLE IF NOT EXISTS transfer_properties (
    transfer_id BIGINT NOT NULL REFERENCES transfers(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    num_value DOUBLE PRECISION,
    text_value TEXT,
    PRIMARY KEY (transfer_id, name)
);

CREATE INDEX IF NOT EXISTS idx_transfer_properties_name ON transfer_properties(name, num_value);
`

// AllSchemas returns all schema definitions in order.
func AllSchemas() []string {
	return []string{
		schemaGraph,
		schemaProperties,
	}
}
