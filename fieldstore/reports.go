// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const reportColumns = `id, agent_id, report_type, details, ward_number, lat, lng, created_at,
	synced, synced_at, remote_id, sync_error, attempts, last_attempt, rejected`

// SavePendingReport durably stores a new report in the unsynced state.
// Input is stored as captured; content problems surface as remote rejections
// during sync. The only failure is ErrStorageUnavailable.
func (s *Store) SavePendingReport(ctx context.Context, in ReportInput) (PendingReport, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return PendingReport{}, storageErr("generate report id", err)
	}

	report := PendingReport{
		ID:         id.String(),
		AgentID:    in.AgentID,
		Type:       in.Type,
		Details:    in.Details,
		WardNumber: in.WardNumber,
		Lat:        in.Lat,
		Lng:        in.Lng,
		CreatedAt:  s.now(),
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO pending_reports (id, agent_id, report_type, details, ward_number, lat, lng, created_at, synced, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
	`, report.ID, report.AgentID, string(report.Type), report.Details, nullString(report.WardNumber),
		nullFloat(report.Lat), nullFloat(report.Lng), formatTime(report.CreatedAt))
	if err != nil {
		return PendingReport{}, storageErr("save pending report", err)
	}

	s.logger.Debug("Report saved locally", "id", report.ID, "type", report.Type)
	return report, nil
}

// GetReport loads a single report by id
func (s *Store) GetReport(ctx context.Context, id string) (PendingReport, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM pending_reports WHERE id = ?`, id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingReport{}, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return PendingReport{}, storageErr("get report", err)
	}
	return r, nil
}

// ListUnsyncedReports returns reports awaiting delivery, oldest first.
// Reports held for manual review are excluded.
func (s *Store) ListUnsyncedReports(ctx context.Context) ([]PendingReport, error) {
	return s.listReports(ctx, `WHERE synced = 0 AND rejected = 0 ORDER BY created_at ASC, id ASC`)
}

// ListRejectedReports returns reports the remote permanently rejected, oldest first.
func (s *Store) ListRejectedReports(ctx context.Context) ([]PendingReport, error) {
	return s.listReports(ctx, `WHERE synced = 0 AND rejected = 1 ORDER BY created_at ASC, id ASC`)
}

func (s *Store) listReports(ctx context.Context, where string) ([]PendingReport, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+reportColumns+` FROM pending_reports `+where)
	if err != nil {
		return nil, storageErr("query reports", err)
	}
	defer rows.Close()

	var reports []PendingReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, storageErr("scan report", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate reports", err)
	}
	return reports, nil
}

// MarkReportSynced transitions a report to synced. Calling it again for an
// already synced report is a no-op.
func (s *Store) MarkReportSynced(ctx context.Context, id, remoteID string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE pending_reports
		SET synced = 1, synced_at = ?, remote_id = ?, sync_error = NULL, rejected = 0
		WHERE id = ? AND synced = 0
	`, formatTime(s.now()), nullString(remoteID), id)
	if err != nil {
		return storageErr("mark report synced", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	synced, err := s.reportSynced(ctx, id)
	if err != nil {
		return err
	}
	if !synced {
		// Row exists but was not updated; should not happen.
		return fmt.Errorf("failed to mark report %s synced", id)
	}
	return nil
}

// RecordReportSyncError increments the attempt counter and stores the error.
// The report stays unsynced.
func (s *Store) RecordReportSyncError(ctx context.Context, id, message string) error {
	return s.recordReportFailure(ctx, id, message, false)
}

// MarkReportRejected records a permanent rejection. The report stays
// unsynced but is withheld from ListUnsyncedReports until requeued.
func (s *Store) MarkReportRejected(ctx context.Context, id, message string) error {
	return s.recordReportFailure(ctx, id, message, true)
}

func (s *Store) recordReportFailure(ctx context.Context, id, message string, rejected bool) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE pending_reports
		SET sync_error = ?, attempts = attempts + 1, last_attempt = ?, rejected = ?
		WHERE id = ? AND synced = 0
	`, message, formatTime(s.now()), boolInt(rejected), id)
	if err != nil {
		return storageErr("record report sync error", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	synced, err := s.reportSynced(ctx, id)
	if err != nil {
		return err
	}
	if synced {
		return fmt.Errorf("report %s: %w", id, ErrReportSynced)
	}
	return fmt.Errorf("failed to record sync error for report %s", id)
}

// RequeueReport returns a rejected report to the delivery queue. Attempts are kept.
func (s *Store) RequeueReport(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE pending_reports SET rejected = 0 WHERE id = ? AND synced = 0`, id)
	if err != nil {
		return storageErr("requeue report", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	synced, err := s.reportSynced(ctx, id)
	if err != nil {
		return err
	}
	if synced {
		return fmt.Errorf("report %s: %w", id, ErrReportSynced)
	}
	return nil
}

func (s *Store) reportSynced(ctx context.Context, id string) (bool, error) {
	var synced bool
	err := s.DB.QueryRowContext(ctx, `SELECT synced FROM pending_reports WHERE id = ?`, id).Scan(&synced)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return false, storageErr("load report state", err)
	}
	return synced, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (PendingReport, error) {
	var (
		r                     PendingReport
		reportType            string
		ward, remoteID        sql.NullString
		syncErr               sql.NullString
		lat, lng              sql.NullFloat64
		createdAt             string
		syncedAt, lastAttempt sql.NullString
	)
	if err := row.Scan(&r.ID, &r.AgentID, &reportType, &r.Details, &ward, &lat, &lng, &createdAt,
		&r.Synced, &syncedAt, &remoteID, &syncErr, &r.Attempts, &lastAttempt, &r.Rejected); err != nil {
		return PendingReport{}, err
	}

	r.Type = ReportType(reportType)
	r.WardNumber = ward.String
	r.RemoteID = remoteID.String
	if lat.Valid {
		v := lat.Float64
		r.Lat = &v
	}
	if lng.Valid {
		v := lng.Float64
		r.Lng = &v
	}
	if syncErr.Valid {
		v := syncErr.String
		r.SyncError = &v
	}

	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return PendingReport{}, err
	}
	if r.SyncedAt, err = parseNullTime(syncedAt); err != nil {
		return PendingReport{}, err
	}
	if r.LastAttempt, err = parseNullTime(lastAttempt); err != nil {
		return PendingReport{}, err
	}
	return r, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
