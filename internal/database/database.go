package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the tables if needed. Having the migration in code
// keeps deployment self-contained: `strepadb migrate` and server startup
// both run it.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS datasets (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS imports (
	id TEXT PRIMARY KEY,
	dataset_id TEXT NOT NULL REFERENCES datasets(id),
	file_name TEXT NOT NULL,
	object_key TEXT NOT NULL,
	uploaded_by TEXT NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL,
	committed_at TIMESTAMPTZ,
	staged JSONB NOT NULL,
	deleted BOOLEAN NOT NULL DEFAULT false,
	last_status TEXT
);
CREATE INDEX IF NOT EXISTS idx_imports_dataset ON imports(dataset_id);

CREATE TABLE IF NOT EXISTS studies (
	id TEXT PRIMARY KEY,
	dataset_id TEXT NOT NULL REFERENCES datasets(id),
	import_id TEXT REFERENCES imports(id) ON DELETE CASCADE,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	approved_by TEXT,
	approved_at TIMESTAMPTZ,
	import_row_id TEXT,
	import_row_number INTEGER,
	study_group TEXT NOT NULL DEFAULT '',
	paper_title TEXT NOT NULL DEFAULT '',
	paper_link TEXT NOT NULL DEFAULT '',
	year INTEGER,
	study_description TEXT NOT NULL DEFAULT '',
	disease TEXT NOT NULL DEFAULT '',
	study_design TEXT NOT NULL DEFAULT '',
	diagnosis_method TEXT NOT NULL DEFAULT '',
	data_source TEXT NOT NULL DEFAULT '',
	data_source_name TEXT,
	surveillance_setting TEXT NOT NULL DEFAULT '',
	clinical_definition_category TEXT NOT NULL DEFAULT '',
	coverage TEXT NOT NULL DEFAULT '',
	climate TEXT NOT NULL DEFAULT '',
	urban_rural_coverage TEXT NOT NULL DEFAULT '',
	focus_of_study TEXT NOT NULL DEFAULT '',
	limitations_identified TEXT,
	other_points TEXT
);
CREATE INDEX IF NOT EXISTS idx_studies_import ON studies(import_id);
CREATE INDEX IF NOT EXISTS idx_studies_dataset ON studies(dataset_id);

CREATE TABLE IF NOT EXISTS results (
	id TEXT PRIMARY KEY,
	study_id TEXT NOT NULL REFERENCES studies(id) ON DELETE CASCADE,
	import_row_number INTEGER,
	age_general TEXT NOT NULL DEFAULT '',
	age_min DOUBLE PRECISION,
	age_max DOUBLE PRECISION,
	age_specific TEXT NOT NULL DEFAULT '',
	population_gender TEXT NOT NULL DEFAULT '',
	indigenous_status BOOLEAN,
	indigenous_population TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT '',
	jurisdiction TEXT NOT NULL DEFAULT '',
	specific_location TEXT,
	year_start INTEGER,
	year_stop INTEGER,
	observation_time_years DOUBLE PRECISION,
	numerator BIGINT,
	denominator BIGINT,
	point_estimate TEXT,
	measure TEXT NOT NULL DEFAULT '',
	interpolated_from_graph BOOLEAN NOT NULL DEFAULT false,
	proportion BOOLEAN NOT NULL DEFAULT false,
	mortality_flag BOOLEAN,
	recurrent_arf_flag BOOLEAN,
	schoolchildren_flag BOOLEAN,
	hospitalised_flag BOOLEAN,
	strepa_attributable_fraction BOOLEAN
);
CREATE INDEX IF NOT EXISTS idx_results_study ON results(study_id);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	file_name TEXT NOT NULL,
	object_key TEXT NOT NULL,
	processed_key TEXT,
	status TEXT NOT NULL,
	content TEXT,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
