// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import "time"

// ReportType is the category of a field report
type ReportType string

const (
	ReportTurnoutUpdate    ReportType = "turnout_update"
	ReportIncident         ReportType = "incident"
	ReportEmergency        ReportType = "emergency"
	ReportMaterialShortage ReportType = "material_shortage"
	ReportOther            ReportType = "other"
)

// Valid reports whether t is one of the known report categories.
func (t ReportType) Valid() bool {
	switch t {
	case ReportTurnoutUpdate, ReportIncident, ReportEmergency, ReportMaterialShortage, ReportOther:
		return true
	default:
		return false
	}
}

// ReportInput is the payload produced by the capture flow
type ReportInput struct {
	AgentID    string
	Type       ReportType
	Details    string
	WardNumber string
	Lat        *float64
	Lng        *float64
}

// PendingReport is a locally captured report and its delivery bookkeeping
type PendingReport struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agent_id"`
	Type        ReportType `json:"report_type"`
	Details     string     `json:"details"`
	WardNumber  string     `json:"ward_number,omitempty"`
	Lat         *float64   `json:"lat,omitempty"`
	Lng         *float64   `json:"lng,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Synced      bool       `json:"synced"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
	RemoteID    string     `json:"remote_id,omitempty"`
	SyncError   *string    `json:"sync_error,omitempty"`
	Attempts    int        `json:"attempts"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	Rejected    bool       `json:"rejected"`
}

// AgentSnapshot is the cached profile of a field agent
type AgentSnapshot struct {
	ID                 string     `json:"id"`
	FullName           string     `json:"full_name"`
	PhoneNumber        string     `json:"phone_number,omitempty"`
	WardName           string     `json:"ward_name,omitempty"`
	WardNumber         string     `json:"ward_number,omitempty"`
	VerificationStatus string     `json:"verification_status,omitempty"`
	PaymentStatus      string     `json:"payment_status,omitempty"`
	LastReportAt       *time.Time `json:"last_report_at,omitempty"`
	CachedAt           time.Time  `json:"cached_at"`
}

// BroadcastSnapshot is a cached broadcast message
type BroadcastSnapshot struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Priority  string    `json:"priority"`
	SenderID  string    `json:"sender_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	CachedAt  time.Time `json:"cached_at"`
	Read      bool      `json:"read"`
}

// QueuedCommand is a deferred remote mutation. Payload is opaque to the store.
type QueuedCommand struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Payload     []byte     `json:"payload"`
	CreatedAt   time.Time  `json:"created_at"`
	Attempts    int        `json:"attempts"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Rejected    bool       `json:"rejected"`
}

// Stats summarizes local state for the status surface
type Stats struct {
	UnsyncedReports  int `json:"unsynced_reports"`
	RejectedReports  int `json:"rejected_reports"`
	CachedBroadcasts int `json:"cached_broadcasts"`
	QueueDepth       int `json:"queue_depth"` // dispatchable commands only
	RejectedCommands int `json:"rejected_commands"`
}

// PurgeResult reports how many rows PurgeExpired removed
type PurgeResult struct {
	Reports     int64 `json:"reports"`
	Broadcasts  int64 `json:"broadcasts"`
	Agents      int64 `json:"agents"`
	DeadLetters int64 `json:"dead_letters"`
}
