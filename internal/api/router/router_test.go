package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucasdeangeli4scale/disparaai/internal/http/handlers"
	"github.com/lucasdeangeli4scale/disparaai/internal/session"
	"github.com/lucasdeangeli4scale/disparaai/internal/workflow"
	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
)

type recordingQueue struct {
	mu     sync.Mutex
	events []workflow.Event
}

func (q *recordingQueue) Enqueue(_ context.Context, _ string, ev workflow.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	return nil
}

type openInstance struct{}

func (openInstance) InstanceStatus(context.Context) (string, error) { return "open", nil }

func newTestRouter(t *testing.T) (http.Handler, *recordingQueue, *session.Registry) {
	t.Helper()
	logger := logging.Discard()
	queue := &recordingQueue{}
	reg := session.NewRegistry()
	return New(&Config{
		Logger:          logger,
		Health:          handlers.NewHealthHandler(openInstance{}, logger),
		EvolutionHook:   handlers.NewEvolutionWebhookHandler(handlers.EvolutionWebhookConfig{Inbound: queue, Logger: logger}),
		Admin:           handlers.NewAdminHandler(reg, nil, nil, logger),
		MetricsHandler:  promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}),
		WebhookToken:    "hook-token",
		AdminAuthSecret: "admin-secret",
	}), queue, reg
}

func TestRouterPublicRoutes(t *testing.T) {
	r, _, _ := newTestRouter(t)

	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestRouterWebhookRequiresToken(t *testing.T) {
	r, queue, _ := newTestRouter(t)
	body := `{"event":"messages.upsert","data":{"key":{"id":"1","remoteJid":"5511987654321@s.whatsapp.net"},"message":{"conversation":"oi"}}}`

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/evolution", strings.NewReader(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook/evolution", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer hook-token")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	if len(queue.events) != 1 {
		t.Fatalf("expected one queued event, got %d", len(queue.events))
	}
}

func TestRouterAdminRequiresJWT(t *testing.T) {
	r, _, reg := newTestRouter(t)
	reg.Load("5511987654321")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/sessions/5511987654321", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString([]byte("admin-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/admin/sessions/5511987654321", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"current_step":"welcome"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}
