// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jothanjoseph26-ctrl/election/internal/auth"
)

const tokenIssuer = "fieldsync"

// JWTAuth mints and validates device tokens
type JWTAuth struct {
	secret []byte
	now    func() time.Time
}

// NewJWTAuth creates a new JWT authenticator
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// JWTClaims identifies a field agent on a specific device
type JWTClaims struct {
	DeviceID string `json:"did"` // Device ID
	jwt.RegisteredClaims
}

// GenerateToken generates a token for agentID on deviceID
func (j *JWTAuth) GenerateToken(agentID, deviceID string, expiration time.Duration) (string, error) {
	if agentID == "" || deviceID == "" {
		return "", fmt.Errorf("agent id and device id are required")
	}
	now := j.now()
	claims := &JWTClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   agentID, // Agent ID goes in standard 'sub' claim
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken validates a token and returns the claims
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(j.now))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		if claims.DeviceID == "" {
			return nil, fmt.Errorf("missing did (device ID) in token")
		}
		if claims.Subject == "" {
			return nil, fmt.Errorf("missing sub (agent ID) in token")
		}
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// TokenSource returns a token func for Client that mints a fresh token
// whenever the cached one is within a minute of expiring.
func (j *JWTAuth) TokenSource(agentID, deviceID string, ttl time.Duration) func(context.Context) (string, error) {
	var (
		mu      sync.Mutex
		token   string
		expires time.Time
	)
	return func(context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()

		if token != "" && j.now().Add(time.Minute).Before(expires) {
			return token, nil
		}
		t, err := j.GenerateToken(agentID, deviceID, ttl)
		if err != nil {
			return "", err
		}
		token, expires = t, j.now().Add(ttl)
		return token, nil
	}
}

// StaticToken returns a token func that always yields token
func StaticToken(token string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		if token == "" {
			return "", fmt.Errorf("no token configured")
		}
		return token, nil
	}
}

// Middleware returns an HTTP middleware for JWT authentication.
// Authenticated requests carry the agent and device ID in their context.
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeAuthError(w, "Authorization header required")
			return
		}

		bearerToken := strings.Split(authHeader, " ")
		if len(bearerToken) != 2 || bearerToken[0] != "Bearer" {
			writeAuthError(w, "Invalid authorization header format")
			return
		}

		claims, err := j.ValidateToken(bearerToken[1])
		if err != nil {
			// Safely log token prefix (max 20 chars)
			tokenPrefix := bearerToken[1]
			if len(tokenPrefix) > 20 {
				tokenPrefix = tokenPrefix[:20]
			}
			slog.Error("JWT validation failed", "error", err, "token_prefix", tokenPrefix)
			writeAuthError(w, "Invalid token")
			return
		}

		ctx := auth.WithIdentity(r.Context(), auth.Identity{AgentID: claims.Subject, DeviceID: claims.DeviceID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":"unauthorized","message":%q}`, message)
}
