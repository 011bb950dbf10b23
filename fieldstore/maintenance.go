// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PurgeExpired removes rows older than the retention window:
//   - synced reports created before the cutoff
//   - cached broadcasts and agent snapshots last refreshed before the cutoff
//   - queued commands that exceeded MaxAttempts and were last tried before
//     the cutoff (dead letters)
//
// Each deletion runs independently; failures are joined and returned after
// all of them have been attempted.
func (s *Store) PurgeExpired(ctx context.Context, retentionDays int) (PurgeResult, error) {
	if retentionDays < 1 {
		return PurgeResult{}, fmt.Errorf("retention must be at least one day, got %d", retentionDays)
	}
	cutoff := formatTime(s.now().Add(-time.Duration(retentionDays) * 24 * time.Hour))
	maxAttempts := s.config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultConfig("").MaxAttempts
	}

	var (
		result PurgeResult
		errs   []error
	)
	purge := func(name string, dst *int64, query string, args ...any) {
		res, err := s.DB.ExecContext(ctx, query, args...)
		if err != nil {
			errs = append(errs, storageErr("purge "+name, err))
			return
		}
		*dst, _ = res.RowsAffected()
	}

	purge("reports", &result.Reports,
		`DELETE FROM pending_reports WHERE synced = 1 AND created_at < ?`, cutoff)
	purge("broadcasts", &result.Broadcasts,
		`DELETE FROM cached_broadcasts WHERE cached_at < ?`, cutoff)
	purge("agents", &result.Agents,
		`DELETE FROM cached_agents WHERE cached_at < ?`, cutoff)
	purge("dead letters", &result.DeadLetters,
		`DELETE FROM sync_queue WHERE attempts > ? AND last_attempt IS NOT NULL AND last_attempt < ?`, maxAttempts, cutoff)

	if result.DeadLetters > 0 {
		s.logger.Warn("Dropped dead-lettered commands", "count", result.DeadLetters, "max_attempts", maxAttempts)
	}
	s.logger.Debug("Purged expired rows",
		"reports", result.Reports,
		"broadcasts", result.Broadcasts,
		"agents", result.Agents,
		"dead_letters", result.DeadLetters)

	return result, errors.Join(errs...)
}

// Stats returns row counts for the status surface.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.DB.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM pending_reports WHERE synced = 0 AND rejected = 0),
			(SELECT COUNT(*) FROM pending_reports WHERE synced = 0 AND rejected = 1),
			(SELECT COUNT(*) FROM cached_broadcasts),
			(SELECT COUNT(*) FROM sync_queue WHERE rejected = 0),
			(SELECT COUNT(*) FROM sync_queue WHERE rejected = 1)
	`).Scan(&st.UnsyncedReports, &st.RejectedReports, &st.CachedBroadcasts, &st.QueueDepth, &st.RejectedCommands)
	if err != nil {
		return Stats{}, storageErr("load stats", err)
	}
	return st, nil
}
