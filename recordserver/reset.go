// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package recordserver

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// ResetDatabase drops every record table. The next Setup recreates them.
func ResetDatabase(ctx context.Context, databaseURL string) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS `+SchemaName+` CASCADE`); err != nil {
		return fmt.Errorf("failed to drop schema %s: %w", SchemaName, err)
	}
	return nil
}
