package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasdeangeli4scale/disparaai/internal/events"
	observemetrics "github.com/lucasdeangeli4scale/disparaai/internal/observability/metrics"
	"github.com/lucasdeangeli4scale/disparaai/internal/workflow"
	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
)

type stubEnqueuer struct {
	mu     sync.Mutex
	events []workflow.Event
	ids    []string
	err    error
}

func (s *stubEnqueuer) Enqueue(_ context.Context, messageID string, ev workflow.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.ids = append(s.ids, messageID)
	s.events = append(s.events, ev)
	return nil
}

func (s *stubEnqueuer) queued() []workflow.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]workflow.Event(nil), s.events...)
}

type failingDeduper struct{}

func (failingDeduper) MarkProcessed(context.Context, string, string) (bool, error) {
	return false, errors.New("redis down")
}

func (failingDeduper) Release(context.Context, string, string) error {
	return errors.New("redis down")
}

func newWebhookHandler(t *testing.T, cfg EvolutionWebhookConfig) (*EvolutionWebhookHandler, *stubEnqueuer) {
	t.Helper()
	q := &stubEnqueuer{}
	if cfg.Inbound == nil {
		cfg.Inbound = q
	}
	cfg.Logger = logging.Discard()
	cfg.Metrics = observemetrics.NewMessagingMetrics(prometheus.NewRegistry())
	return NewEvolutionWebhookHandler(cfg), q
}

func postWebhook(h *EvolutionWebhookHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/evolution", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func textPayload(id, from, text string, fromMe bool) string {
	me := "false"
	if fromMe {
		me = "true"
	}
	return `{"event":"messages.upsert","instance":"disparaai","data":{` +
		`"key":{"id":"` + id + `","remoteJid":"` + from + `@s.whatsapp.net","fromMe":` + me + `},` +
		`"pushName":"Ana","messageTimestamp":1760000000,` +
		`"message":{"conversation":"` + text + `"}}}`
}

func TestEvolutionWebhookQueuesText(t *testing.T) {
	h, q := newWebhookHandler(t, EvolutionWebhookConfig{})

	rec := postWebhook(h, textPayload("MSG1", "5511987654321", "iniciar campanha", false))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "accepted")
	got := q.queued()
	require.Len(t, got, 1)
	assert.Equal(t, "5511987654321", got[0].UserID)
	assert.Equal(t, workflow.EventText, got[0].Kind)
	assert.Equal(t, "iniciar campanha", got[0].Text)
	assert.Equal(t, []string{"MSG1"}, q.ids)
}

func TestEvolutionWebhookQueuesDocument(t *testing.T) {
	h, q := newWebhookHandler(t, EvolutionWebhookConfig{})
	csv := base64.StdEncoding.EncodeToString([]byte("name,phone\nAna,11987654321\n"))
	body := `{"event":"messages.upsert","data":{"key":{"id":"DOC1","remoteJid":"5511987654321@s.whatsapp.net"},` +
		`"message":{"documentMessage":{"mimetype":"text/csv","fileName":"contatos.csv"},"base64":"` + csv + `"}}}`

	rec := postWebhook(h, body)

	require.Equal(t, http.StatusOK, rec.Code)
	got := q.queued()
	require.Len(t, got, 1)
	assert.Equal(t, workflow.EventDocument, got[0].Kind)
	require.NotNil(t, got[0].Media)
	assert.Equal(t, "contatos.csv", got[0].Media.Filename)
	assert.Equal(t, "name,phone\nAna,11987654321\n", string(got[0].Media.Data))
}

func TestEvolutionWebhookSkipsWithoutQueueing(t *testing.T) {
	tests := []struct {
		name   string
		cfg    EvolutionWebhookConfig
		body   string
		status string
	}{
		{"from me", EvolutionWebhookConfig{}, textPayload("A", "5511987654321", "oi", true), "from_me"},
		{"testing mode", EvolutionWebhookConfig{TestingMode: true, OwnerPhone: "+55 11 90000-0000"},
			textPayload("B", "5511987654321", "oi", false), "filtered"},
		{"empty text", EvolutionWebhookConfig{}, textPayload("C", "5511987654321", "  ", false), "ignored"},
		{"connection update", EvolutionWebhookConfig{},
			`{"event":"connection.update","instance":"disparaai","data":{"state":"open"}}`, "logged"},
		{"send message", EvolutionWebhookConfig{}, `{"event":"send.message","data":{}}`, "logged"},
		{"unknown event", EvolutionWebhookConfig{}, `{"event":"presence.update","data":{}}`, "ignored"},
		{"no sender", EvolutionWebhookConfig{},
			`{"event":"messages.upsert","data":{"key":{"id":"D"},"message":{"conversation":"oi"}}}`, "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, q := newWebhookHandler(t, tt.cfg)
			rec := postWebhook(h, tt.body)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.status)
			assert.Empty(t, q.queued())
		})
	}
}

func TestEvolutionWebhookTestingModeAllowsOwner(t *testing.T) {
	h, q := newWebhookHandler(t, EvolutionWebhookConfig{TestingMode: true, OwnerPhone: "+55 (11) 98765-4321"})

	rec := postWebhook(h, textPayload("OWN", "5511987654321", "oi", false))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, q.queued(), 1)
}

func TestEvolutionWebhookDeduplicatesByMessageID(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h, q := newWebhookHandler(t, EvolutionWebhookConfig{Deduper: events.NewRedisDeduper(client, time.Hour)})

	body := textPayload("DUP", "5511987654321", "status", false)
	first := postWebhook(h, body)
	second := postWebhook(h, body)

	assert.Contains(t, first.Body.String(), "accepted")
	assert.Contains(t, second.Body.String(), "duplicate")
	assert.Len(t, q.queued(), 1)
}

func TestEvolutionWebhookRedeliveryAfterQueueFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := &stubEnqueuer{err: errors.New("sqs down")}
	h, _ := newWebhookHandler(t, EvolutionWebhookConfig{
		Inbound: q,
		Deduper: events.NewRedisDeduper(client, time.Hour),
	})
	body := textPayload("R1", "5511987654321", "status", false)

	first := postWebhook(h, body)
	require.Equal(t, http.StatusServiceUnavailable, first.Code)
	assert.False(t, mr.Exists("processed:evolution:R1"))

	q.mu.Lock()
	q.err = nil
	q.mu.Unlock()

	retry := postWebhook(h, body)
	assert.Equal(t, http.StatusOK, retry.Code)
	assert.Contains(t, retry.Body.String(), "accepted")
	assert.Len(t, q.queued(), 1)

	third := postWebhook(h, body)
	assert.Contains(t, third.Body.String(), "duplicate")
	assert.Len(t, q.queued(), 1)
}

func TestEvolutionWebhookDeliversWhenDedupFails(t *testing.T) {
	h, q := newWebhookHandler(t, EvolutionWebhookConfig{Deduper: failingDeduper{}})

	rec := postWebhook(h, textPayload("X", "5511987654321", "oi", false))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, q.queued(), 1)
}

func TestEvolutionWebhookErrors(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		h, _ := newWebhookHandler(t, EvolutionWebhookConfig{})
		assert.Equal(t, http.StatusBadRequest, postWebhook(h, "{").Code)
	})
	t.Run("too large", func(t *testing.T) {
		h, _ := newWebhookHandler(t, EvolutionWebhookConfig{MaxBytes: 16})
		rec := postWebhook(h, textPayload("L", "5511987654321", "oi", false))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
	t.Run("queue failure", func(t *testing.T) {
		h, _ := newWebhookHandler(t, EvolutionWebhookConfig{Inbound: &stubEnqueuer{err: errors.New("sqs down")}})
		rec := postWebhook(h, textPayload("Q", "5511987654321", "oi", false))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
