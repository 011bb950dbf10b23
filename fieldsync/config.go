// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"log/slog"
	"time"
)

// Config holds configuration for the sync orchestrator
type Config struct {
	AgentID        string        // agent whose profile is cached and who owns push tokens
	Interval       time.Duration // periodic pass interval, 5m
	CallTimeout    time.Duration // bound for every remote call, 30s
	BroadcastLimit int           // broadcasts fetched per refresh, 50
	RetentionDays  int           // PurgeExpired window, 30
	PurgeInterval  time.Duration // 24h, 0 disables maintenance

	// Optional: stage timing hooks.
	StageMetrics    StageMetricsRecorder
	LogStageTimings bool

	Logger *slog.Logger
}

// DefaultConfig returns a default configuration for agentID
func DefaultConfig(agentID string) *Config {
	return &Config{
		AgentID:        agentID,
		Interval:       5 * time.Minute,
		CallTimeout:    30 * time.Second,
		BroadcastLimit: 50,
		RetentionDays:  30,
		PurgeInterval:  24 * time.Hour,
		Logger:         slog.Default(),
	}
}

// withDefaults fills zero values from DefaultConfig. PurgeInterval is left
// alone since zero disables maintenance.
func (c Config) withDefaults() Config {
	d := DefaultConfig(c.AgentID)
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.BroadcastLimit <= 0 {
		c.BroadcastLimit = d.BroadcastLimit
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = d.RetentionDays
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}
