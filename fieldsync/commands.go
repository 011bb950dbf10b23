// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jothanjoseph26-ctrl/election/fieldstore"
	"github.com/jothanjoseph26-ctrl/election/remote"
)

// Built-in command types
const (
	CommandReportUpdate      = "report_update"
	CommandAgentStatusUpdate = "agent_status_update"
	CommandPushTokenRegister = "push_token_register"
)

// ErrInvalidPayload marks a queued payload that can never be dispatched.
// Commands failing with it are held for review instead of retried.
var ErrInvalidPayload = errors.New("invalid command payload")

// ReportUpdate patches fields of a report already on the remote
type ReportUpdate struct {
	ReportID string         `json:"report_id"`
	Updates  map[string]any `json:"updates"`
}

// AgentStatusUpdate patches fields of an agent profile
type AgentStatusUpdate struct {
	AgentID string         `json:"agent_id"`
	Updates map[string]any `json:"updates"`
}

// PushTokenRegistration registers the device's push token for the agent
type PushTokenRegistration struct {
	Token      string `json:"token"`
	Platform   string `json:"platform"`
	AppVersion string `json:"app_version,omitempty"`
}

// CommandHandler decodes a queued payload and performs the remote mutation.
// Decode and validation failures must wrap ErrInvalidPayload.
type CommandHandler func(ctx context.Context, api RemoteAPI, payload []byte) error

// Registry maps command type tags to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]CommandHandler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]CommandHandler)}
}

// DefaultRegistry returns a registry with the built-in commands. Push tokens
// are registered against agentID.
func DefaultRegistry(agentID string) *Registry {
	r := NewRegistry()
	r.handlers[CommandReportUpdate] = handleReportUpdate
	r.handlers[CommandAgentStatusUpdate] = handleAgentStatusUpdate
	r.handlers[CommandPushTokenRegister] = pushTokenHandler(agentID)
	return r
}

// Register adds a handler for cmdType. Registering a type twice is an error.
func (r *Registry) Register(cmdType string, h CommandHandler) error {
	if cmdType == "" || h == nil {
		return fmt.Errorf("command type and handler are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[cmdType]; exists {
		return fmt.Errorf("command type %q already registered", cmdType)
	}
	r.handlers[cmdType] = h
	return nil
}

// Lookup returns the handler for cmdType
func (r *Registry) Lookup(cmdType string) (CommandHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[cmdType]
	return h, ok
}

// Types returns the registered command types in sorted order
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func decodePayload(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func handleReportUpdate(ctx context.Context, api RemoteAPI, payload []byte) error {
	var cmd ReportUpdate
	if err := decodePayload(payload, &cmd); err != nil {
		return err
	}
	if err := cmd.validate(); err != nil {
		return err
	}
	return api.UpdateEntity(ctx, remote.EntityReport, cmd.ReportID, cmd.Updates)
}

func handleAgentStatusUpdate(ctx context.Context, api RemoteAPI, payload []byte) error {
	var cmd AgentStatusUpdate
	if err := decodePayload(payload, &cmd); err != nil {
		return err
	}
	if err := cmd.validate(); err != nil {
		return err
	}
	return api.UpdateEntity(ctx, remote.EntityAgent, cmd.AgentID, cmd.Updates)
}

func pushTokenHandler(agentID string) CommandHandler {
	return func(ctx context.Context, api RemoteAPI, payload []byte) error {
		var cmd PushTokenRegistration
		if err := decodePayload(payload, &cmd); err != nil {
			return err
		}
		if err := cmd.validate(); err != nil {
			return err
		}
		fields := map[string]any{
			"token":    cmd.Token,
			"platform": cmd.Platform,
		}
		if cmd.AppVersion != "" {
			fields["app_version"] = cmd.AppVersion
		}
		return api.UpdateEntity(ctx, remote.EntityPushToken, agentID, fields)
	}
}

func (c ReportUpdate) validate() error {
	if c.ReportID == "" {
		return fmt.Errorf("%w: report_id is required", ErrInvalidPayload)
	}
	if len(c.Updates) == 0 {
		return fmt.Errorf("%w: updates are required", ErrInvalidPayload)
	}
	return nil
}

func (c AgentStatusUpdate) validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("%w: agent_id is required", ErrInvalidPayload)
	}
	if len(c.Updates) == 0 {
		return fmt.Errorf("%w: updates are required", ErrInvalidPayload)
	}
	return nil
}

func (c PushTokenRegistration) validate() error {
	if c.Token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidPayload)
	}
	if c.Platform == "" {
		return fmt.Errorf("%w: platform is required", ErrInvalidPayload)
	}
	return nil
}

// Enqueue serializes v and queues it under cmdType. The background loop is
// woken so the command is attempted promptly when online.
func (o *Orchestrator) Enqueue(ctx context.Context, cmdType string, v any) (fieldstore.QueuedCommand, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return fieldstore.QueuedCommand{}, fmt.Errorf("failed to marshal %s payload: %w", cmdType, err)
	}
	cmd, err := o.store.EnqueueCommand(ctx, cmdType, payload)
	if err != nil {
		return fieldstore.QueuedCommand{}, err
	}
	o.logger.Debug("Command queued", "id", cmd.ID, "type", cmdType)
	if o.monitor.CurrentlyOnline() {
		o.TriggerWake()
	}
	return cmd, nil
}

// EnqueueReportUpdate queues a partial update of a remote report
func (o *Orchestrator) EnqueueReportUpdate(ctx context.Context, reportID string, updates map[string]any) (fieldstore.QueuedCommand, error) {
	cmd := ReportUpdate{ReportID: reportID, Updates: updates}
	if err := cmd.validate(); err != nil {
		return fieldstore.QueuedCommand{}, err
	}
	return o.Enqueue(ctx, CommandReportUpdate, cmd)
}

// EnqueueAgentStatusUpdate queues a partial update of an agent profile
func (o *Orchestrator) EnqueueAgentStatusUpdate(ctx context.Context, agentID string, updates map[string]any) (fieldstore.QueuedCommand, error) {
	cmd := AgentStatusUpdate{AgentID: agentID, Updates: updates}
	if err := cmd.validate(); err != nil {
		return fieldstore.QueuedCommand{}, err
	}
	return o.Enqueue(ctx, CommandAgentStatusUpdate, cmd)
}

// EnqueuePushTokenRegistration queues registration of a push token
func (o *Orchestrator) EnqueuePushTokenRegistration(ctx context.Context, reg PushTokenRegistration) (fieldstore.QueuedCommand, error) {
	if err := reg.validate(); err != nil {
		return fieldstore.QueuedCommand{}, err
	}
	return o.Enqueue(ctx, CommandPushTokenRegister, reg)
}
