package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lucasdeangeli4scale/disparaai/internal/events"
	"github.com/lucasdeangeli4scale/disparaai/internal/messaging"
	observemetrics "github.com/lucasdeangeli4scale/disparaai/internal/observability/metrics"
	"github.com/lucasdeangeli4scale/disparaai/internal/workflow"
	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
)

// DefaultMaxWebhookBytes leaves room for a base64 encoded 10MB upload.
const DefaultMaxWebhookBytes = 16 << 20

type eventEnqueuer interface {
	Enqueue(ctx context.Context, messageID string, ev workflow.Event) error
}

// EvolutionWebhookConfig wires the webhook handler.
type EvolutionWebhookConfig struct {
	Inbound  eventEnqueuer
	Deduper  events.Deduper
	Logger   *logging.Logger
	Metrics  *observemetrics.MessagingMetrics
	MaxBytes int64

	// TestingMode drops every message not sent by OwnerPhone.
	TestingMode bool
	OwnerPhone  string
}

// EvolutionWebhookHandler accepts Evolution API webhook deliveries and queues
// user messages for the workflow.
type EvolutionWebhookHandler struct {
	inbound     eventEnqueuer
	deduper     events.Deduper
	logger      *logging.Logger
	metrics     *observemetrics.MessagingMetrics
	maxBytes    int64
	testingMode bool
	ownerPhone  string
}

func NewEvolutionWebhookHandler(cfg EvolutionWebhookConfig) *EvolutionWebhookHandler {
	if cfg.Inbound == nil {
		panic("handlers: inbound enqueuer required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxWebhookBytes
	}
	return &EvolutionWebhookHandler{
		inbound:     cfg.Inbound,
		deduper:     cfg.Deduper,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		maxBytes:    cfg.MaxBytes,
		testingMode: cfg.TestingMode,
		ownerPhone:  digits(cfg.OwnerPhone),
	}
}

// Handle processes one webhook delivery. Everything except a malformed body
// or a queue failure is acknowledged with 200 so the gateway does not retry.
func (h *EvolutionWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.ObserveInbound("unknown", "too_large")
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	evt, err := messaging.ParseWebhook(body)
	if err != nil {
		h.logger.Warn("invalid evolution webhook", "error", err)
		h.metrics.ObserveInbound("unknown", "invalid")
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	var status string
	switch evt.Event {
	case messaging.EventMessagesUpsert:
		status, err = h.handleUpsert(r.Context(), evt)
	case messaging.EventConnectionUpdate:
		h.logger.Info("whatsapp connection update", "instance", evt.Instance, "state", evt.ConnectionState())
		status = "logged"
	case messaging.EventSendMessage:
		h.logger.Debug("whatsapp message sent", "instance", evt.Instance)
		status = "logged"
	default:
		status = "ignored"
	}
	h.metrics.ObserveInbound(evt.Event, status)
	h.metrics.ObserveWebhookLatency(evt.Event, time.Since(start).Seconds())

	if err != nil {
		h.logger.Error("evolution webhook handling failed", "event", evt.Event, "error", err)
		writeError(w, http.StatusServiceUnavailable, "processing error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *EvolutionWebhookHandler) handleUpsert(ctx context.Context, evt messaging.WebhookEvent) (string, error) {
	msg, err := evt.Message()
	if err != nil {
		h.logger.Warn("evolution message not parsed", "error", err)
		return "invalid", nil
	}
	if msg.FromMe {
		return "from_me", nil
	}
	if h.testingMode && digits(msg.From) != h.ownerPhone {
		h.logger.Debug("testing mode, message dropped", "user_id", msg.From)
		return "filtered", nil
	}

	ev, ok := toWorkflowEvent(msg)
	if !ok {
		return "ignored", nil
	}
	claimed := false
	if h.deduper != nil && msg.ID != "" {
		fresh, err := h.deduper.MarkProcessed(ctx, events.ProviderEvolution, msg.ID)
		if err != nil {
			h.logger.Warn("dedup check failed", "message_id", msg.ID, "error", err)
		} else if !fresh {
			h.logger.Debug("duplicate evolution message", "message_id", msg.ID)
			return "duplicate", nil
		}
		claimed = err == nil
	}
	if err := h.inbound.Enqueue(ctx, msg.ID, ev); err != nil {
		if claimed {
			// The 503 makes the gateway redeliver; the id must be claimable again.
			if relErr := h.deduper.Release(context.WithoutCancel(ctx), events.ProviderEvolution, msg.ID); relErr != nil {
				h.logger.Error("dedup release failed", "message_id", msg.ID, "error", relErr)
			}
		}
		return "error", err
	}
	h.logger.ForUser(msg.From).Info("inbound message queued",
		"message_id", msg.ID,
		"kind", msg.Kind,
		"push_name", msg.PushName,
	)
	return "accepted", nil
}

func toWorkflowEvent(msg messaging.InboundMessage) (workflow.Event, bool) {
	ev := workflow.Event{UserID: msg.From, Text: msg.Text}
	switch msg.Kind {
	case messaging.KindDocument:
		ev.Kind = workflow.EventDocument
	case messaging.KindImage:
		ev.Kind = workflow.EventImage
	default:
		ev.Kind = workflow.EventText
		return ev, strings.TrimSpace(msg.Text) != ""
	}
	if msg.Media == nil {
		return ev, false
	}
	ev.Media = &workflow.Attachment{
		Filename: msg.Media.Filename,
		MimeType: msg.Media.MimeType,
		Data:     msg.Media.Data,
	}
	return ev, true
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
