// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import "time"

// REST/JSON models shared by the client and the record server

// Entity kinds accepted by PATCH /v1/entities/{kind}/{id}
const (
	EntityReport    = "report"
	EntityAgent     = "agent"
	EntityPushToken = "push_token"
)

// ReportPayload is the body of POST /v1/reports.
// ClientRef is the device-local report id; the server treats a repeated
// ClientRef as the same report.
type ReportPayload struct {
	ClientRef  string    `json:"client_ref"`
	AgentID    string    `json:"agent_id"`
	ReportType string    `json:"report_type"`
	Details    string    `json:"details"`
	WardNumber string    `json:"ward_number,omitempty"`
	Lat        *float64  `json:"lat,omitempty"`
	Lng        *float64  `json:"lng,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// InsertReportResponse is returned by POST /v1/reports
type InsertReportResponse struct {
	ID        string `json:"id"`        // server-assigned id
	Duplicate bool   `json:"duplicate"` // client_ref was already known
}

// UpdateEntityRequest is the body of PATCH /v1/entities/{kind}/{id}
type UpdateEntityRequest struct {
	Fields map[string]any `json:"fields"`
}

// UpdateEntityResponse is returned by PATCH /v1/entities/{kind}/{id}
type UpdateEntityResponse struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	Updated int64  `json:"updated"` // rows touched
}

// Broadcast is a message sent to field agents
type Broadcast struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Priority  string    `json:"priority"`
	SenderID  string    `json:"sender_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// BroadcastListResponse is returned by GET /v1/broadcasts
type BroadcastListResponse struct {
	Broadcasts []Broadcast `json:"broadcasts"`
}

// Agent is the server's view of a field agent profile
type Agent struct {
	ID                 string     `json:"id"`
	FullName           string     `json:"full_name"`
	PhoneNumber        string     `json:"phone_number,omitempty"`
	WardName           string     `json:"ward_name,omitempty"`
	WardNumber         string     `json:"ward_number,omitempty"`
	VerificationStatus string     `json:"verification_status,omitempty"`
	PaymentStatus      string     `json:"payment_status,omitempty"`
	LastReportAt       *time.Time `json:"last_report_at,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status string `json:"status"` // healthy, unhealthy
}
