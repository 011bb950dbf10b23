// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package recordserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jothanjoseph26-ctrl/election/remote"
)

var (
	// ErrValidation marks a request that can never succeed as sent
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing report or agent
	ErrNotFound = errors.New("not found")
	// ErrNotOwned marks a write to another agent's data
	ErrNotOwned = errors.New("entity not owned by caller")
)

var reportTypes = map[string]bool{
	"turnout_update":    true,
	"incident":          true,
	"emergency":         true,
	"material_shortage": true,
	"other":             true,
}

var broadcastPriorities = map[string]bool{
	"low":    true,
	"normal": true,
	"high":   true,
	"urgent": true,
}

// ServiceConfig holds record service tuning
type ServiceConfig struct {
	MaxTxRetries          int
	RetryBackoff          time.Duration
	DefaultBroadcastLimit int
	MaxBroadcastLimit     int
}

// DefaultServiceConfig returns the default service configuration
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		MaxTxRetries:          3,
		RetryBackoff:          20 * time.Millisecond,
		DefaultBroadcastLimit: 50,
		MaxBroadcastLimit:     200,
	}
}

// Service implements the record operations on Postgres
type Service struct {
	pool   *pgxpool.Pool
	config *ServiceConfig
	logger *slog.Logger
}

// Report is a report as stored on the server
type Report struct {
	ID         string    `json:"id"`
	ClientRef  string    `json:"client_ref"`
	AgentID    string    `json:"agent_id"`
	ReportType string    `json:"report_type"`
	Details    string    `json:"details"`
	WardNumber string    `json:"ward_number,omitempty"`
	Lat        *float64  `json:"lat,omitempty"`
	Lng        *float64  `json:"lng,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewService creates a record service over pool
func NewService(pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) *Service {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, config: config, logger: logger}
}

// Ping checks database connectivity
func (s *Service) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InsertReport stores a report submitted by agentID. A repeated client_ref
// from the same agent returns the id of the first insert with Duplicate set;
// from another agent it is ErrNotOwned.
func (s *Service) InsertReport(ctx context.Context, agentID string, p remote.ReportPayload) (remote.InsertReportResponse, error) {
	if err := validateReport(agentID, &p); err != nil {
		return remote.InsertReportResponse{}, err
	}

	var resp remote.InsertReportResponse
	err := s.inTx(ctx, "insert_report", func(tx pgx.Tx) error {
		resp = remote.InsertReportResponse{}
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate report id: %w", err)
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO fieldsync.reports
				(id, client_ref, agent_id, report_type, details, ward_number, lat, lng, created_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
			ON CONFLICT (client_ref) DO NOTHING
			RETURNING id::text`,
			id.String(), p.ClientRef, p.AgentID, p.ReportType, p.Details, p.WardNumber, p.Lat, p.Lng, p.CreatedAt,
		).Scan(&resp.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			var owner string
			if err := tx.QueryRow(ctx,
				`SELECT id::text, agent_id FROM fieldsync.reports WHERE client_ref = $1`, p.ClientRef,
			).Scan(&resp.ID, &owner); err != nil {
				return fmt.Errorf("failed to look up duplicate report: %w", err)
			}
			if owner != p.AgentID {
				resp.ID = ""
				return fmt.Errorf("%w: client_ref %q belongs to another agent", ErrNotOwned, p.ClientRef)
			}
			resp.Duplicate = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to insert report: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE fieldsync.agents
			SET last_report_at = GREATEST(COALESCE(last_report_at, $2), $2), updated_at = now()
			WHERE id = $1`, p.AgentID, p.CreatedAt); err != nil {
			return fmt.Errorf("failed to update agent last report time: %w", err)
		}
		return nil
	})
	if err != nil {
		return remote.InsertReportResponse{}, classifyPGError(err)
	}

	if resp.Duplicate {
		s.logger.Debug("Duplicate report ignored", "client_ref", p.ClientRef, "id", resp.ID, "agent_id", agentID)
	} else {
		s.logger.Info("Report stored", "id", resp.ID, "client_ref", p.ClientRef, "agent_id", agentID, "type", p.ReportType)
	}
	return resp, nil
}

func validateReport(agentID string, p *remote.ReportPayload) error {
	if p.ClientRef == "" {
		return fmt.Errorf("%w: client_ref is required", ErrValidation)
	}
	if p.AgentID == "" {
		p.AgentID = agentID
	}
	if p.AgentID != agentID {
		return fmt.Errorf("%w: report agent %q does not match caller", ErrNotOwned, p.AgentID)
	}
	if !reportTypes[p.ReportType] {
		return fmt.Errorf("%w: unknown report_type %q", ErrValidation, p.ReportType)
	}
	if p.Details == "" {
		return fmt.Errorf("%w: details are required", ErrValidation)
	}
	if (p.Lat == nil) != (p.Lng == nil) {
		return fmt.Errorf("%w: lat and lng must be set together", ErrValidation)
	}
	if p.Lat != nil && (*p.Lat < -90 || *p.Lat > 90 || *p.Lng < -180 || *p.Lng > 180) {
		return fmt.Errorf("%w: coordinates out of range", ErrValidation)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return nil
}

// ListReports returns an agent's reports, newest first
func (s *Service) ListReports(ctx context.Context, agentID string, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, client_ref, agent_id, report_type, details, COALESCE(ward_number, ''),
		       lat, lng, status, created_at, received_at
		FROM fieldsync.reports
		WHERE agent_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	reports := []Report{}
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.ClientRef, &r.AgentID, &r.ReportType, &r.Details, &r.WardNumber,
			&r.Lat, &r.Lng, &r.Status, &r.CreatedAt, &r.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}
	return reports, nil
}

// ListBroadcasts returns the latest broadcasts, newest first. limit is
// clamped to the configured maximum.
func (s *Service) ListBroadcasts(ctx context.Context, limit int) ([]remote.Broadcast, error) {
	if limit <= 0 {
		limit = s.config.DefaultBroadcastLimit
	}
	if limit > s.config.MaxBroadcastLimit {
		limit = s.config.MaxBroadcastLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, message, priority, COALESCE(sender_id, ''), created_at
		FROM fieldsync.broadcasts
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query broadcasts: %w", err)
	}
	defer rows.Close()

	broadcasts := []remote.Broadcast{}
	for rows.Next() {
		var b remote.Broadcast
		if err := rows.Scan(&b.ID, &b.Message, &b.Priority, &b.SenderID, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan broadcast: %w", err)
		}
		b.CreatedAt = b.CreatedAt.UTC()
		broadcasts = append(broadcasts, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate broadcasts: %w", err)
	}
	return broadcasts, nil
}

// CreateBroadcast stores a new broadcast. ID and CreatedAt are assigned when
// empty.
func (s *Service) CreateBroadcast(ctx context.Context, b remote.Broadcast) (remote.Broadcast, error) {
	if b.Message == "" {
		return remote.Broadcast{}, fmt.Errorf("%w: message is required", ErrValidation)
	}
	if b.Priority == "" {
		b.Priority = "normal"
	}
	if !broadcastPriorities[b.Priority] {
		return remote.Broadcast{}, fmt.Errorf("%w: unknown priority %q", ErrValidation, b.Priority)
	}
	if b.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return remote.Broadcast{}, fmt.Errorf("failed to generate broadcast id: %w", err)
		}
		b.ID = id.String()
	} else if _, err := uuid.Parse(b.ID); err != nil {
		return remote.Broadcast{}, fmt.Errorf("%w: broadcast id must be a UUID", ErrValidation)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.CreatedAt = b.CreatedAt.UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO fieldsync.broadcasts (id, message, priority, sender_id, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
		b.ID, b.Message, b.Priority, b.SenderID, b.CreatedAt)
	if err != nil {
		return remote.Broadcast{}, classifyPGError(fmt.Errorf("failed to insert broadcast: %w", err))
	}
	s.logger.Info("Broadcast created", "id", b.ID, "priority", b.Priority)
	return b, nil
}

// GetAgent returns the agent profile or ErrNotFound
func (s *Service) GetAgent(ctx context.Context, id string) (*remote.Agent, error) {
	var a remote.Agent
	err := s.pool.QueryRow(ctx, `
		SELECT id, full_name, COALESCE(phone_number, ''), COALESCE(ward_name, ''), COALESCE(ward_number, ''),
		       verification_status, payment_status, last_report_at
		FROM fieldsync.agents WHERE id = $1`, id,
	).Scan(&a.ID, &a.FullName, &a.PhoneNumber, &a.WardName, &a.WardNumber,
		&a.VerificationStatus, &a.PaymentStatus, &a.LastReportAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agent %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}
	if a.LastReportAt != nil {
		t := a.LastReportAt.UTC()
		a.LastReportAt = &t
	}
	return &a, nil
}

// UpsertAgent creates or replaces an agent profile. last_report_at is owned
// by report ingestion and is not touched.
func (s *Service) UpsertAgent(ctx context.Context, a remote.Agent) error {
	if a.ID == "" || a.FullName == "" {
		return fmt.Errorf("%w: agent id and full_name are required", ErrValidation)
	}
	if a.VerificationStatus == "" {
		a.VerificationStatus = "pending"
	}
	if a.PaymentStatus == "" {
		a.PaymentStatus = "unpaid"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fieldsync.agents
			(id, full_name, phone_number, ward_name, ward_number, verification_status, payment_status)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			full_name           = excluded.full_name,
			phone_number        = excluded.phone_number,
			ward_name           = excluded.ward_name,
			ward_number         = excluded.ward_number,
			verification_status = excluded.verification_status,
			payment_status      = excluded.payment_status,
			updated_at          = now()`,
		a.ID, a.FullName, a.PhoneNumber, a.WardName, a.WardNumber, a.VerificationStatus, a.PaymentStatus)
	if err != nil {
		return classifyPGError(fmt.Errorf("failed to upsert agent: %w", err))
	}
	s.logger.Info("Agent upserted", "id", a.ID)
	return nil
}

// classifyPGError maps integrity constraint violations (SQLSTATE class 23)
// and invalid input (class 22) to ErrValidation.
func classifyPGError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	if len(pgErr.Code) == 5 && (pgErr.Code[:2] == "23" || pgErr.Code[:2] == "22") {
		return fmt.Errorf("%w: %s", ErrValidation, pgErr.Message)
	}
	return err
}
