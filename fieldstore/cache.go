// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertCachedAgent replaces the cached profile for snap.ID and stamps cached_at.
func (s *Store) UpsertCachedAgent(ctx context.Context, snap AgentSnapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("agent snapshot id is required")
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO cached_agents (
			id, full_name, phone_number, ward_name, ward_number,
			verification_status, payment_status, last_report_at, cached_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, snap.ID, snap.FullName, nullString(snap.PhoneNumber), nullString(snap.WardName), nullString(snap.WardNumber),
		nullString(snap.VerificationStatus), nullString(snap.PaymentStatus), nullTime(snap.LastReportAt),
		formatTime(s.now()))
	if err != nil {
		return storageErr("upsert cached agent", err)
	}
	return nil
}

// GetCachedAgent returns the cached profile for id, or ErrNotFound.
func (s *Store) GetCachedAgent(ctx context.Context, id string) (AgentSnapshot, error) {
	var (
		a                                   AgentSnapshot
		phone, wardName, wardNumber         sql.NullString
		verification, payment, lastReportAt sql.NullString
		cachedAt                            string
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, full_name, phone_number, ward_name, ward_number,
		       verification_status, payment_status, last_report_at, cached_at
		FROM cached_agents WHERE id = ?
	`, id).Scan(&a.ID, &a.FullName, &phone, &wardName, &wardNumber, &verification, &payment, &lastReportAt, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AgentSnapshot{}, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return AgentSnapshot{}, storageErr("get cached agent", err)
	}

	a.PhoneNumber = phone.String
	a.WardName = wardName.String
	a.WardNumber = wardNumber.String
	a.VerificationStatus = verification.String
	a.PaymentStatus = payment.String
	if a.LastReportAt, err = parseNullTime(lastReportAt); err != nil {
		return AgentSnapshot{}, storageErr("get cached agent", err)
	}
	if a.CachedAt, err = parseTime(cachedAt); err != nil {
		return AgentSnapshot{}, storageErr("get cached agent", err)
	}
	return a, nil
}

// UpsertCachedBroadcast replaces the cached broadcast for snap.ID. The local
// read flag is kept when an existing broadcast is refreshed.
func (s *Store) UpsertCachedBroadcast(ctx context.Context, snap BroadcastSnapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("broadcast snapshot id is required")
	}
	priority := snap.Priority
	if priority == "" {
		priority = "normal"
	}
	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO cached_broadcasts (id, message, priority, sender_id, created_at, cached_at, read)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			message    = excluded.message,
			priority   = excluded.priority,
			sender_id  = excluded.sender_id,
			created_at = excluded.created_at,
			cached_at  = excluded.cached_at
	`, snap.ID, snap.Message, priority, nullString(snap.SenderID), formatTime(createdAt),
		formatTime(s.now()), boolInt(snap.Read))
	if err != nil {
		return storageErr("upsert cached broadcast", err)
	}
	return nil
}

// ListCachedBroadcasts returns cached broadcasts, newest first.
func (s *Store) ListCachedBroadcasts(ctx context.Context) ([]BroadcastSnapshot, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, message, priority, sender_id, created_at, cached_at, read
		FROM cached_broadcasts
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, storageErr("query cached broadcasts", err)
	}
	defer rows.Close()

	var out []BroadcastSnapshot
	for rows.Next() {
		var (
			b                   BroadcastSnapshot
			sender              sql.NullString
			createdAt, cachedAt string
		)
		if err := rows.Scan(&b.ID, &b.Message, &b.Priority, &sender, &createdAt, &cachedAt, &b.Read); err != nil {
			return nil, storageErr("scan cached broadcast", err)
		}
		b.SenderID = sender.String
		if b.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, storageErr("scan cached broadcast", err)
		}
		if b.CachedAt, err = parseTime(cachedAt); err != nil {
			return nil, storageErr("scan cached broadcast", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate cached broadcasts", err)
	}
	return out, nil
}

// MarkBroadcastRead sets the read flag. It is idempotent.
func (s *Store) MarkBroadcastRead(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE cached_broadcasts SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return storageErr("mark broadcast read", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("broadcast %s: %w", id, ErrNotFound)
	}
	return nil
}
