// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// EnqueueCommand appends a command to the outbound queue. The payload is
// stored as given; callers serialize it at their boundary.
func (s *Store) EnqueueCommand(ctx context.Context, cmdType string, payload []byte) (QueuedCommand, error) {
	if strings.TrimSpace(cmdType) == "" {
		return QueuedCommand{}, fmt.Errorf("%w: command type is required", ErrInvalidCommand)
	}
	if payload == nil {
		payload = []byte{}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return QueuedCommand{}, fmt.Errorf("failed to generate command id: %w", err)
	}
	cmd := QueuedCommand{
		ID:        id.String(),
		Type:      cmdType,
		Payload:   payload,
		CreatedAt: s.now(),
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO sync_queue (id, type, payload, created_at, attempts) VALUES (?, ?, ?, ?, 0)
	`, cmd.ID, cmd.Type, cmd.Payload, formatTime(cmd.CreatedAt))
	if err != nil {
		return QueuedCommand{}, storageErr("enqueue command", err)
	}
	return cmd, nil
}

// ListQueuedCommands returns dispatchable commands, oldest first.
// Commands held for manual review are excluded.
func (s *Store) ListQueuedCommands(ctx context.Context) ([]QueuedCommand, error) {
	return s.listCommands(ctx, `WHERE rejected = 0`)
}

// ListRejectedCommands returns commands the remote permanently rejected.
func (s *Store) ListRejectedCommands(ctx context.Context) ([]QueuedCommand, error) {
	return s.listCommands(ctx, `WHERE rejected = 1`)
}

func (s *Store) listCommands(ctx context.Context, where string, args ...any) ([]QueuedCommand, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, type, payload, created_at, attempts, last_attempt, error, rejected
		FROM sync_queue `+where+`
		ORDER BY created_at ASC, id ASC
	`, args...)
	if err != nil {
		return nil, storageErr("query sync queue", err)
	}
	defer rows.Close()

	var out []QueuedCommand
	for rows.Next() {
		var (
			c           QueuedCommand
			createdAt   string
			lastAttempt sql.NullString
			errMsg      sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Type, &c.Payload, &createdAt, &c.Attempts, &lastAttempt, &errMsg, &c.Rejected); err != nil {
			return nil, storageErr("scan queued command", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, storageErr("scan queued command", err)
		}
		if c.LastAttempt, err = parseNullTime(lastAttempt); err != nil {
			return nil, storageErr("scan queued command", err)
		}
		if errMsg.Valid {
			v := errMsg.String
			c.Error = &v
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate sync queue", err)
	}
	return out, nil
}

// DequeueCommand removes an acknowledged command. Removing an absent id is a no-op.
func (s *Store) DequeueCommand(ctx context.Context, id string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return storageErr("dequeue command", err)
	}
	return nil
}

// RecordCommandError increments attempts and keeps the command queued.
func (s *Store) RecordCommandError(ctx context.Context, id, message string) error {
	return s.recordCommandFailure(ctx, id, message, false)
}

// MarkCommandRejected records a permanent rejection. The command stays in the
// table for review but is no longer dispatched.
func (s *Store) MarkCommandRejected(ctx context.Context, id, message string) error {
	return s.recordCommandFailure(ctx, id, message, true)
}

func (s *Store) recordCommandFailure(ctx context.Context, id, message string, rejected bool) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE sync_queue
		SET error = ?, attempts = attempts + 1, last_attempt = ?, rejected = ?
		WHERE id = ?
	`, message, formatTime(s.now()), boolInt(rejected), id)
	if err != nil {
		return storageErr("record command error", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("command %s: %w", id, ErrNotFound)
	}
	return nil
}

// RequeueCommand returns a rejected command to dispatch. Attempts are kept.
func (s *Store) RequeueCommand(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE sync_queue SET rejected = 0 WHERE id = ?`, id)
	if err != nil {
		return storageErr("requeue command", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("command %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetCommand loads a queued command by id
func (s *Store) GetCommand(ctx context.Context, id string) (QueuedCommand, error) {
	cmds, err := s.listCommands(ctx, `WHERE id = ?`, id)
	if err != nil {
		return QueuedCommand{}, err
	}
	if len(cmds) == 0 {
		return QueuedCommand{}, fmt.Errorf("command %s: %w", id, ErrNotFound)
	}
	return cmds[0], nil
}
