package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callcenter/internal/audit"
	"callcenter/internal/auth"
	"callcenter/internal/calls"
	"callcenter/internal/config"
	"callcenter/internal/httpapi"
	"callcenter/internal/prospects"
	"callcenter/internal/reporting"
	"callcenter/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, dev bool) (*gin.Engine, *auth.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	am, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "callcenter",
		JWTAudience:     "callcenter-api",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	require.NoError(t, err)

	callRepo := calls.NewMemoryRepo()
	callRepo.AddProspect(42, "Ada Lovelace", "+15551234567")
	prospectRepo := prospects.NewMemoryRepo()
	prospectRepo.Add(prospects.Prospect{ID: 42, FullName: "Ada Lovelace", PhoneNumber: "+15551234567"})

	m := calls.NewManager(callRepo, calls.Options{})
	auditSvc := audit.NewService(audit.NewMemoryRepo())

	r := gin.New()
	registerRoutes(r, routeDeps{
		Auth: am,
		API: httpapi.Handlers{
			Auth:      am,
			Calls:     m,
			Prospects: prospects.NewService(prospectRepo, nil),
			Reports:   reporting.NewService(m, prospectRepo),
			Audit:     auditSvc,
		},
		Webhooks:  telephony.WebhookHandler{Calls: m, Audit: auditSvc},
		DevRoutes: dev,
	})
	return r, am
}

func bearer(t *testing.T, am *auth.Manager, userID int64, role string) string {
	t.Helper()
	pair, err := am.IssuePair(time.Now(), userID, role)
	require.NoError(t, err)
	return "Bearer " + pair.AccessToken
}

func serve(r *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t, false)
	w := serve(r, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestV1RequiresToken(t *testing.T) {
	r, _ := newTestRouter(t, false)
	w := serve(r, http.MethodGet, "/v1/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoleGates(t *testing.T) {
	r, am := newTestRouter(t, false)
	agent := bearer(t, am, 7, "agent")
	manager := bearer(t, am, 8, "manager")
	admin := bearer(t, am, 1, "admin")

	w := serve(r, http.MethodPost, "/v1/prospects/42/start-call", agent, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = serve(r, http.MethodGet, "/v1/active-calls", agent, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = serve(r, http.MethodGet, "/v1/active-calls", manager, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = serve(r, http.MethodGet, "/v1/active-calls", admin, "")
	assert.Equal(t, http.StatusOK, w.Code)

	body := `{"assigned_to":7,"expires_at":"` + time.Now().Add(time.Hour).UTC().Format(time.RFC3339) + `"}`
	w = serve(r, http.MethodPost, "/v1/prospects/42/assignment", agent, body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = serve(r, http.MethodPost, "/v1/prospects/42/assignment", manager, body)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Agents may read an assignment.
	w = serve(r, http.MethodGet, "/v1/prospects/42/assignment", agent, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodGet, "/v1/reports/calls?from=2026-01-01T00:00:00Z&to=2026-02-01T00:00:00Z", agent, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = serve(r, http.MethodGet, "/v1/reports/calls?from=2026-01-01T00:00:00Z&to=2026-02-01T00:00:00Z", manager, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDevTokenRouteOnlyInDev(t *testing.T) {
	r, _ := newTestRouter(t, false)
	w := serve(r, http.MethodPost, "/v1/auth/dev-token", "", `{"user_id":7,"role":"agent"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	r, _ = newTestRouter(t, true)
	w = serve(r, http.MethodPost, "/v1/auth/dev-token", "", `{"user_id":7,"role":"agent"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "access_token")

	w = serve(r, http.MethodPost, "/v1/auth/dev-token", "", `{"user_id":7,"role":"root"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
