package sqlstore

import "strings"

// schemaTemplate is rendered per dialect: {{money}} and {{ts}} become the
// column types for decimal amounts and timestamps.
var schemaTemplate = []string{
	`CREATE TABLE IF NOT EXISTS medicines (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		company TEXT NOT NULL DEFAULT '',
		price {{money}} NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		rack TEXT NOT NULL DEFAULT '',
		shelf TEXT NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_medicines_name ON medicines (name)`,
	`CREATE INDEX IF NOT EXISTS idx_medicines_company ON medicines (company)`,
	`CREATE TABLE IF NOT EXISTS sale_records (
		id TEXT PRIMARY KEY,
		bill_id TEXT NOT NULL,
		medicine_id TEXT NOT NULL,
		medicine_name TEXT NOT NULL,
		qty INTEGER NOT NULL,
		line_total {{money}} NOT NULL,
		sold_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sale_records_bill ON sale_records (bill_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sale_records_sold_at ON sale_records (sold_at)`,
	`CREATE TABLE IF NOT EXISTS bills (
		id TEXT PRIMARY KEY,
		total_amount {{money}} NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bill_items (
		bill_id TEXT NOT NULL REFERENCES bills (id),
		line_no INTEGER NOT NULL,
		medicine_id TEXT NOT NULL,
		name TEXT NOT NULL,
		qty INTEGER NOT NULL,
		price {{money}} NOT NULL,
		total {{money}} NOT NULL,
		PRIMARY KEY (bill_id, line_no)
	)`,
	`CREATE TABLE IF NOT EXISTS app_users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		day TEXT NOT NULL,
		status TEXT NOT NULL,
		check_in {{ts}},
		check_out {{ts}},
		created_at {{ts}} NOT NULL,
		UNIQUE (user_id, day)
	)`,
}

func renderSchema(d Dialect) []string {
	replacer := strings.NewReplacer("{{money}}", d.MoneyType, "{{ts}}", d.TimestampType)
	out := make([]string, 0, len(schemaTemplate))
	for _, stmt := range schemaTemplate {
		out = append(out, replacer.Replace(stmt))
	}
	return out
}
