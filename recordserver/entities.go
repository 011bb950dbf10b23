// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package recordserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jothanjoseph26-ctrl/election/remote"
)

type columnKind int

const (
	textRequired columnKind = iota // non-empty string
	textNullable                   // string or null; "" stores null
	number                         // JSON number or null
	reportType                     // one of reportTypes
)

// updatableColumns whitelists the columns a device may patch per entity kind
var updatableColumns = map[string]map[string]columnKind{
	remote.EntityReport: {
		"details":     textRequired,
		"ward_number": textNullable,
		"lat":         number,
		"lng":         number,
		"report_type": reportType,
		"status":      textRequired,
	},
	remote.EntityAgent: {
		"full_name":    textRequired,
		"phone_number": textNullable,
		"ward_name":    textNullable,
		"ward_number":  textNullable,
		"status":       textNullable,
	},
}

// buildAssignments validates fields against the kind's whitelist and renders
// a SET list with placeholders starting at $1. Columns are emitted in sorted
// order.
func buildAssignments(kind string, fields map[string]any) (string, []any, error) {
	allowed, ok := updatableColumns[kind]
	if !ok {
		return "", nil, fmt.Errorf("%w: kind %q does not accept column updates", ErrValidation, kind)
	}
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("%w: no fields to update", ErrValidation)
	}

	cols := make([]string, 0, len(fields))
	for col := range fields {
		if _, ok := allowed[col]; !ok {
			return "", nil, fmt.Errorf("%w: column %q is not updatable on %s", ErrValidation, col, kind)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for i, col := range cols {
		v, err := coerceColumn(col, allowed[col], fields[col])
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, v)
	}
	return strings.Join(sets, ", "), args, nil
}

func coerceColumn(col string, kind columnKind, v any) (any, error) {
	switch kind {
	case textRequired, reportType:
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("%w: %s must be a non-empty string", ErrValidation, col)
		}
		if kind == reportType && !reportTypes[s] {
			return nil, fmt.Errorf("%w: unknown report_type %q", ErrValidation, s)
		}
		return s, nil
	case textNullable:
		if v == nil {
			return nil, nil
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a string", ErrValidation, col)
		}
		if s == "" {
			return nil, nil
		}
		return s, nil
	case number:
		switch n := v.(type) {
		case nil:
			return nil, nil
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("%w: %s must be a number", ErrValidation, col)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("%w: %s must be a number", ErrValidation, col)
		}
	}
	return nil, fmt.Errorf("%w: column %q has no type", ErrValidation, col)
}

// UpdateEntity applies a partial update on behalf of agentID and returns the
// number of rows touched. Reports must belong to the caller; agent profiles
// and push tokens may only be written for the caller itself.
func (s *Service) UpdateEntity(ctx context.Context, agentID, kind, id string, fields map[string]any) (int64, error) {
	var (
		n   int64
		err error
	)
	switch kind {
	case remote.EntityReport:
		n, err = s.updateReport(ctx, agentID, id, fields)
	case remote.EntityAgent:
		n, err = s.updateAgent(ctx, agentID, id, fields)
	case remote.EntityPushToken:
		n, err = s.registerPushToken(ctx, agentID, id, fields)
	default:
		return 0, fmt.Errorf("%w: unknown entity kind %q", ErrValidation, kind)
	}
	if err != nil {
		return 0, classifyPGError(err)
	}
	s.logger.Info("Entity updated", "kind", kind, "id", id, "agent_id", agentID, "rows", n)
	return n, nil
}

func (s *Service) updateReport(ctx context.Context, agentID, id string, fields map[string]any) (int64, error) {
	sets, args, err := buildAssignments(remote.EntityReport, fields)
	if err != nil {
		return 0, err
	}
	// A device that edited a report before its first sync only knows the
	// local id, which the server stores as client_ref.
	args = append(args, id, agentID)
	query := fmt.Sprintf(`UPDATE fieldsync.reports SET %s, updated_at = now()
		WHERE (id::text = $%[2]d OR client_ref = $%[2]d) AND agent_id = $%[3]d`,
		sets, len(args)-1, len(args))

	var n int64
	err = s.inTx(ctx, "update_report", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update report: %w", err)
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("report %q: %w", id, ErrNotFound)
	}
	return n, nil
}

func (s *Service) updateAgent(ctx context.Context, agentID, id string, fields map[string]any) (int64, error) {
	if id != agentID {
		return 0, fmt.Errorf("%w: agent %q", ErrNotOwned, id)
	}
	sets, args, err := buildAssignments(remote.EntityAgent, fields)
	if err != nil {
		return 0, err
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE fieldsync.agents SET %s, updated_at = now() WHERE id = $%d`, sets, len(args))

	var n int64
	err = s.inTx(ctx, "update_agent", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update agent: %w", err)
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("agent %q: %w", id, ErrNotFound)
	}
	return n, nil
}

func (s *Service) registerPushToken(ctx context.Context, agentID, id string, fields map[string]any) (int64, error) {
	if id != agentID {
		return 0, fmt.Errorf("%w: push token for agent %q", ErrNotOwned, id)
	}
	for col := range fields {
		switch col {
		case "token", "platform", "app_version":
		default:
			return 0, fmt.Errorf("%w: unknown push token field %q", ErrValidation, col)
		}
	}
	token, err := coerceColumn("token", textRequired, fields["token"])
	if err != nil {
		return 0, err
	}
	platform, err := coerceColumn("platform", textRequired, fields["platform"])
	if err != nil {
		return 0, err
	}
	appVersion, err := coerceColumn("app_version", textNullable, fields["app_version"])
	if err != nil {
		return 0, err
	}

	err = s.inTx(ctx, "register_push_token", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO fieldsync.agent_push_tokens (agent_id, token, platform, app_version)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (agent_id, token) DO UPDATE SET
				platform    = excluded.platform,
				app_version = excluded.app_version,
				updated_at  = now()`,
			agentID, token, platform, appVersion)
		if err != nil {
			return fmt.Errorf("failed to register push token: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return 1, nil
}

// PushTokens returns the push tokens registered for agentID
func (s *Service) PushTokens(ctx context.Context, agentID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT token FROM fieldsync.agent_push_tokens WHERE agent_id = $1 ORDER BY token`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query push tokens: %w", err)
	}
	tokens, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect push tokens: %w", err)
	}
	return tokens, nil
}
