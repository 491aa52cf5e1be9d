package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apihttp "github.com/spec-kit/itsm-workflow/internal/api/http"
	"github.com/spec-kit/itsm-workflow/internal/api/http/handlers"
	"github.com/spec-kit/itsm-workflow/internal/auth"
	"github.com/spec-kit/itsm-workflow/internal/domain"
	"github.com/spec-kit/itsm-workflow/internal/events"
	"github.com/spec-kit/itsm-workflow/internal/observability"
	"github.com/spec-kit/itsm-workflow/internal/repository"
	"github.com/spec-kit/itsm-workflow/internal/service"
)

const testOrg = "org-1"

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	app    *fiber.App
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T, deps map[string]handlers.Pinger) *testServer {
	t.Helper()

	users := repository.NewMemoryUserRepository(
		domain.UserRef{ID: "admin-1", OrgID: testOrg, Role: domain.RoleAdmin, IsActive: true},
		domain.UserRef{ID: "user-1", OrgID: testOrg, Role: domain.RoleUser, IsActive: true},
	)
	history := repository.NewMemoryTicketHistoryRepository()
	dispatcher := events.NewInMemoryDispatcher()
	service.NewHistoryRecorder(dispatcher, history).RegisterHandlers()

	engine := service.NewWorkflowEngine(service.EngineDependencies{
		TicketRepo:  repository.NewMemoryTicketRepository(),
		UserRepo:    users,
		Permissions: auth.NewCapabilityChecker(),
		Sink:        dispatcher,
		Now:         func() time.Time { return time.Now().UTC() },
	})

	tokens := auth.NewTokenManager("test-secret", 5)
	metrics := observability.NewMetrics()
	app := fiber.New()
	apihttp.RegisterMiddlewares(app, zap.NewNop(), metrics, time.Second)
	apihttp.RegisterRoutes(app, apihttp.RouteConfig{
		Health:         handlers.NewHealthHandler("itsm-workflow", "test", deps),
		Tickets:        handlers.NewTicketsHandler(engine, history),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, users),
		Metrics:        metrics,
	})
	return &testServer{app: app, tokens: tokens}
}

func (s *testServer) token(t *testing.T, userID string, role domain.Role) string {
	t.Helper()
	token, _, err := s.tokens.GenerateToken(domain.Actor{UserID: userID, OrgID: testOrg, Role: role})
	require.NoError(t, err)
	return token
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, token, body string, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env))
	}
	return resp, env
}

func ticketData(t *testing.T, env envelope) map[string]any {
	t.Helper()
	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data
}

const incidentBody = `{"ticket_type":"incident","title":"Checkout down","metadata":{"impact":"high","urgency":"high"}}`

func TestCreateAndTransitionIncident(t *testing.T) {
	srv := newTestServer(t, nil)
	admin := srv.token(t, "admin-1", domain.RoleAdmin)

	resp, env := srv.do(t, http.MethodPost, "/api/v1/tickets", admin, incidentBody, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `"1"`, resp.Header.Get(fiber.HeaderETag))
	created := ticketData(t, env)
	assert.Equal(t, "investigating", created["status"])
	assert.Equal(t, "critical", created["priority"])
	id := created["id"].(string)

	resp, env = srv.do(t, http.MethodPatch, "/api/v1/tickets/"+id+"/status", admin,
		`{"status":"identified"}`, map[string]string{fiber.HeaderIfMatch: `"1"`})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `"2"`, resp.Header.Get(fiber.HeaderETag))
	assert.Equal(t, "identified", ticketData(t, env)["status"])

	resp, env = srv.do(t, http.MethodPatch, "/api/v1/tickets/"+id+"/status", admin,
		`{"status":"monitoring"}`, map[string]string{fiber.HeaderIfMatch: `"1"`})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	resp, env = srv.do(t, http.MethodGet, "/api/v1/tickets/"+id+"/history", admin, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 2)
	assert.Equal(t, string(events.EventTicketCreated), history[0]["event_type"])
}

func TestInvalidTransitionListsAllowedStatuses(t *testing.T) {
	srv := newTestServer(t, nil)
	admin := srv.token(t, "admin-1", domain.RoleAdmin)

	_, env := srv.do(t, http.MethodPost, "/api/v1/tickets", admin,
		`{"ticket_type":"change","title":"Upgrade db","metadata":{"risk":"low","backout_plan":"restore","test_plan":"smoke"}}`, nil)
	id := ticketData(t, env)["id"].(string)

	resp, env := srv.do(t, http.MethodPatch, "/api/v1/tickets/"+id+"/status", admin, `{"status":"scheduled"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_TRANSITION", env.Error.Code)
	assert.NotContains(t, env.Error.Details["allowed"], "scheduled")
}

func TestRequesterDoesNotSeeInternalUpdates(t *testing.T) {
	srv := newTestServer(t, nil)
	admin := srv.token(t, "admin-1", domain.RoleAdmin)
	requester := srv.token(t, "user-1", domain.RoleUser)

	resp, env := srv.do(t, http.MethodPost, "/api/v1/tickets", requester, incidentBody, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := ticketData(t, env)["id"].(string)

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/tickets/"+id+"/updates", admin,
		`{"message":"Root cause is the payment gateway","internal":true}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = srv.do(t, http.MethodPost, "/api/v1/tickets/"+id+"/updates", admin,
		`{"message":"We are working on a fix"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	_, env = srv.do(t, http.MethodGet, "/api/v1/tickets/"+id, requester, "", nil)
	assert.Len(t, ticketData(t, env)["updates"], 1)

	_, env = srv.do(t, http.MethodGet, "/api/v1/tickets/"+id, admin, "", nil)
	assert.Len(t, ticketData(t, env)["updates"], 2)

	resp, env = srv.do(t, http.MethodGet, "/api/v1/tickets/"+id+"/history", requester, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, historyData(t, env), 2)
	assert.NotContains(t, string(env.Data), "Root cause")

	_, env = srv.do(t, http.MethodGet, "/api/v1/tickets/"+id+"/history", admin, "", nil)
	assert.Len(t, historyData(t, env), 3)
	assert.Contains(t, string(env.Data), "Root cause")
}

func historyData(t *testing.T, env envelope) []map[string]any {
	t.Helper()
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	return entries
}

func TestRequesterCannotApprove(t *testing.T) {
	srv := newTestServer(t, nil)
	requester := srv.token(t, "user-1", domain.RoleUser)

	_, env := srv.do(t, http.MethodPost, "/api/v1/tickets", requester,
		`{"ticket_type":"service_request","title":"New laptop","metadata":{"form_data":{"model":"x1"}}}`, nil)
	id := ticketData(t, env)["id"].(string)

	resp, env := srv.do(t, http.MethodPost, "/api/v1/tickets/"+id+"/approve", requester, "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "service_requests.approve", env.Error.Details["missing_capability"])
}

func TestRequestRejections(t *testing.T) {
	srv := newTestServer(t, nil)
	admin := srv.token(t, "admin-1", domain.RoleAdmin)

	resp, _ := srv.do(t, http.MethodGet, "/api/v1/tickets", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, env := srv.do(t, http.MethodPatch, "/api/v1/tickets/any/status", admin,
		`{"status":"closed"}`, map[string]string{fiber.HeaderIfMatch: "abc"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	resp, env = srv.do(t, http.MethodGet, "/api/v1/tickets/missing", admin, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	resp, env = srv.do(t, http.MethodGet, "/nowhere", "", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestHealthReadiness(t *testing.T) {
	srv := newTestServer(t, map[string]handlers.Pinger{
		"postgres": pingerFunc(func(context.Context) error { return nil }),
		"redis":    pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	resp, _ := srv.do(t, http.MethodGet, "/health/live", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env := srv.do(t, http.MethodGet, "/health/ready", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "ok", env.Error.Details["postgres"])
	assert.Equal(t, "connection refused", env.Error.Details["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := srv.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
