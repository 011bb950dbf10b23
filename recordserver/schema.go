// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

// Package recordserver is the Postgres-backed system of record that field
// devices sync against. It serves the REST contract consumed by package remote.
package recordserver

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SchemaName is the Postgres schema holding all record tables
const SchemaName = "fieldsync"

var schemaStatements = []struct {
	name string
	sql  string
}{
	{"schema", `CREATE SCHEMA IF NOT EXISTS fieldsync`},
	{"agents",
		/*language=postgresql*/ `
CREATE TABLE IF NOT EXISTS fieldsync.agents (
	id TEXT PRIMARY KEY,
	full_name TEXT NOT NULL,
	phone_number TEXT,
	ward_name TEXT,
	ward_number TEXT,
	status TEXT,
	verification_status TEXT NOT NULL DEFAULT 'pending',
	payment_status TEXT NOT NULL DEFAULT 'unpaid',
	last_report_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`},
	{"reports",
		/*language=postgresql*/ `
CREATE TABLE IF NOT EXISTS fieldsync.reports (
	id UUID PRIMARY KEY,
	client_ref TEXT NOT NULL UNIQUE,
	agent_id TEXT NOT NULL,
	report_type TEXT NOT NULL CHECK (report_type IN ('turnout_update','incident','emergency','material_shortage','other')),
	details TEXT NOT NULL,
	ward_number TEXT,
	lat DOUBLE PRECISION,
	lng DOUBLE PRECISION,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL,
	received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK ((lat IS NULL) = (lng IS NULL))
)`},
	{"reports agent index", `CREATE INDEX IF NOT EXISTS idx_reports_agent_id ON fieldsync.reports(agent_id, created_at)`},
	{"broadcasts",
		/*language=postgresql*/ `
CREATE TABLE IF NOT EXISTS fieldsync.broadcasts (
	id UUID PRIMARY KEY,
	message TEXT NOT NULL,
	priority TEXT NOT NULL DEFAULT 'normal' CHECK (priority IN ('low','normal','high','urgent')),
	sender_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`},
	{"broadcasts index", `CREATE INDEX IF NOT EXISTS idx_broadcasts_created_at ON fieldsync.broadcasts(created_at DESC, id DESC)`},
	{"agent_push_tokens",
		/*language=postgresql*/ `
CREATE TABLE IF NOT EXISTS fieldsync.agent_push_tokens (
	agent_id TEXT NOT NULL,
	token TEXT NOT NULL,
	platform TEXT NOT NULL,
	app_version TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (agent_id, token)
)`},
}

// InitSchema creates the record tables in a single transaction. It is safe to
// call on every start.
func (s *Service) InitSchema(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, stmt := range schemaStatements {
			if _, err := tx.Exec(ctx, stmt.sql); err != nil {
				return fmt.Errorf("failed to create %s: %w", stmt.name, err)
			}
		}
		s.logger.Info("Record schema initialized", "schema", SchemaName)
		return nil
	})
}
