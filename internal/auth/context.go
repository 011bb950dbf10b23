// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth carries the authenticated field agent through a request.
package auth

import (
	"context"
)

// Identity is the agent and device a device token was issued to
type Identity struct {
	AgentID  string
	DeviceID string
}

// Complete reports whether both parts of the identity are known. Records are
// attributed to the agent and tokens are bound to a device, so a partial
// identity is treated as none.
func (id Identity) Complete() bool {
	return id.AgentID != "" && id.DeviceID != ""
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity. ok is false when
// none is stored or it is incomplete.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id, id.Complete()
}

// AgentID returns the authenticated agent, if any
func AgentID(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	return id.AgentID, ok
}
