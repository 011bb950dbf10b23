// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package netmon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ProberConfig holds configuration for the reachability prober
type ProberConfig struct {
	HealthURL string        // e.g. https://records.example.org/health
	Interval  time.Duration // 15s
	Timeout   time.Duration // 5s
	Logger    *slog.Logger
}

// DefaultProberConfig returns a default prober configuration for healthURL
func DefaultProberConfig(healthURL string) *ProberConfig {
	return &ProberConfig{
		HealthURL: healthURL,
		Interval:  15 * time.Second,
		Timeout:   5 * time.Second,
		Logger:    slog.Default(),
	}
}

// Prober derives State readings from the host's interfaces and a remote
// health endpoint and feeds them into a Monitor.
type Prober struct {
	monitor *Monitor
	config  *ProberConfig
	logger  *slog.Logger

	HTTPClient *http.Client
	// InterfaceUp reports whether a non-loopback interface is up.
	// Replaced in tests.
	InterfaceUp func() bool
}

// NewProber creates a prober that reports into monitor
func NewProber(monitor *Monitor, cfg *ProberConfig) (*Prober, error) {
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.HealthURL == "" {
		return nil, fmt.Errorf("config.HealthURL must be provided")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		monitor:     monitor,
		config:      cfg,
		logger:      logger,
		HTTPClient:  &http.Client{Timeout: cfg.Timeout},
		InterfaceUp: hasActiveInterface,
	}, nil
}

// CheckOnce probes once, records the reading and returns it.
func (p *Prober) CheckOnce(ctx context.Context) State {
	s := State{Connected: p.InterfaceUp()}
	if s.Connected {
		s.Reachable = p.reachable(ctx)
	}
	p.monitor.Observe(s)
	return s
}

// Run probes immediately and then on every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	interval := p.config.Interval
	if interval <= 0 {
		interval = DefaultProberConfig("").Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Debug("Reachability prober started", "url", p.config.HealthURL, "interval", interval)
	defer p.logger.Debug("Reachability prober stopped")

	p.CheckOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CheckOnce(ctx)
		}
	}
}

func (p *Prober) reachable(ctx context.Context) bool {
	timeout := p.config.Timeout
	if timeout <= 0 {
		timeout = DefaultProberConfig("").Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.HealthURL, nil)
	if err != nil {
		p.logger.Warn("Invalid health URL", "url", p.config.HealthURL, "error", err)
		return false
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		p.logger.Debug("Health probe failed", "error", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func hasActiveInterface() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
			return true
		}
	}
	return false
}
