package recordserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jothanjoseph26-ctrl/election/internal/auth"
	"github.com/jothanjoseph26-ctrl/election/remote"
	"github.com/stretchr/testify/require"
)

// These requests fail before reaching the database, so the service runs
// without a pool.
func newOfflineHandlers() *Handlers {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandlers(NewService(nil, nil, logger), logger)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) remote.ErrorResponse {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body remote.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestInsertReportRequiresIdentity(t *testing.T) {
	h := newOfflineHandlers()
	req := httptest.NewRequest(http.MethodPost, "/v1/reports", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.HandleInsertReport(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "authentication_failed", decodeError(t, rec).Error)
}

func TestInsertReportValidationStatuses(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"client_ref":`, http.StatusBadRequest, "invalid_request"},
		{"missing details", `{"client_ref":"r1","report_type":"incident"}`, http.StatusUnprocessableEntity, "validation_failed"},
		{"other agent", `{"client_ref":"r1","agent_id":"agent-9","report_type":"incident","details":"x"}`, http.StatusUnprocessableEntity, "not_owned"},
	}
	h := newOfflineHandlers()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/reports", strings.NewReader(tt.body))
			req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{AgentID: "agent-1", DeviceID: "device-1"}))
			rec := httptest.NewRecorder()

			h.HandleInsertReport(rec, req)

			require.Equal(t, tt.status, rec.Code)
			require.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestUpdateEntityRejectsBeforeDatabase(t *testing.T) {
	h := newOfflineHandlers()
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /v1/entities/{kind}/{id}", h.HandleUpdateEntity)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown kind", "/v1/entities/ballot/1", `{"fields":{"x":"y"}}`, http.StatusUnprocessableEntity},
		{"foreign agent", "/v1/entities/agent/agent-2", `{"fields":{"status":"x"}}`, http.StatusUnprocessableEntity},
		{"foreign push token", "/v1/entities/push_token/agent-2", `{"fields":{"token":"t","platform":"ios"}}`, http.StatusUnprocessableEntity},
		{"report id not uuid", "/v1/entities/report/srv-1", `{"fields":{"details":"x"}}`, http.StatusNotFound},
		{"bad column", "/v1/entities/agent/agent-1", `{"fields":{"payment_status":"paid"}}`, http.StatusUnprocessableEntity},
		{"bad body", "/v1/entities/agent/agent-1", `nope`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPatch, tt.path, strings.NewReader(tt.body))
			req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{AgentID: "agent-1", DeviceID: "device-1"}))
			rec := httptest.NewRecorder()

			mux.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestListBroadcastsRejectsBadLimit(t *testing.T) {
	h := newOfflineHandlers()
	for _, limit := range []string{"abc", "-1"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/broadcasts?limit="+limit, nil)
		rec := httptest.NewRecorder()
		h.HandleListBroadcasts(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	jwtAuth := remote.NewJWTAuth("secret")
	h := newOfflineHandlers()
	handler := jwtAuth.Middleware(http.HandlerFunc(h.HandleInsertReport))

	req := httptest.NewRequest(http.MethodPost, "/v1/reports", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := jwtAuth.GenerateToken("agent-1", "device-1", time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/v1/reports", strings.NewReader(`{"client_ref":"r1"}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	// authenticated, then rejected by validation
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLoggingMiddlewareCapturesStatus(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := LoggingMiddleware(true, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}), logger)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/broadcasts?limit=5", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Contains(t, buf.String(), "status=418")
	require.Contains(t, buf.String(), "bytes=15")
	require.Contains(t, buf.String(), "limit=5")
}
