package messaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
)

var evolutionTracer = otel.Tracer("disparaai.internal.messaging.evolution")

// DefaultWebhookEvents are subscribed when no explicit list is given.
var DefaultWebhookEvents = []string{"MESSAGES_UPSERT", "MESSAGES_UPDATE", "SEND_MESSAGE", "CONNECTION_UPDATE"}

// EvolutionConfig configures an EvolutionClient.
type EvolutionConfig struct {
	BaseURL  string
	APIKey   string
	Instance string
	Timeout  time.Duration
}

// EvolutionClient talks to an Evolution API instance.
type EvolutionClient struct {
	baseURL    string
	apiKey     string
	instance   string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewEvolutionClient builds a client. All of BaseURL, APIKey and Instance are required.
func NewEvolutionClient(cfg EvolutionConfig, logger *logging.Logger) (*EvolutionClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || cfg.APIKey == "" || cfg.Instance == "" {
		return nil, errors.New("messaging: evolution url, api key and instance name are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EvolutionClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		instance:   cfg.Instance,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

var _ Gateway = (*EvolutionClient)(nil)

// SendText posts a plain text message.
func (c *EvolutionClient) SendText(ctx context.Context, to, text string) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("messaging: recipient required")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("messaging: text required")
	}
	ctx, span := evolutionTracer.Start(ctx, "messaging.evolution.send_text")
	defer span.End()
	span.SetAttributes(attribute.String("disparaai.to", to))

	payload := map[string]any{
		"number": gatewayNumber(to),
		"text":   text,
	}
	if err := c.post(ctx, "/message/sendText/"+c.instance, payload, nil); err != nil {
		span.RecordError(err)
		return err
	}
	c.logger.Debug("evolution text sent", "to", to)
	return nil
}

// SendMedia posts a base64 media message with an optional caption.
func (c *EvolutionClient) SendMedia(ctx context.Context, to string, media Media, caption string) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("messaging: recipient required")
	}
	if len(media.Data) == 0 {
		return errors.New("messaging: media payload required")
	}
	kind := media.Kind
	if kind == "" {
		kind = "image"
	}
	mimeType := media.MimeType
	if mimeType == "" {
		mimeType = DefaultMimeType(kind, media.Filename)
	}

	ctx, span := evolutionTracer.Start(ctx, "messaging.evolution.send_media")
	defer span.End()
	span.SetAttributes(
		attribute.String("disparaai.to", to),
		attribute.String("disparaai.media_type", kind),
		attribute.Int("disparaai.media_bytes", len(media.Data)),
	)

	payload := map[string]any{
		"number":    gatewayNumber(to),
		"mediatype": kind,
		"media":     base64.StdEncoding.EncodeToString(media.Data),
		"mimetype":  mimeType,
	}
	if caption != "" {
		payload["caption"] = caption
	}
	if media.Filename != "" {
		payload["fileName"] = media.Filename
	}
	if err := c.post(ctx, "/message/sendMedia/"+c.instance, payload, nil); err != nil {
		span.RecordError(err)
		return err
	}
	c.logger.Debug("evolution media sent", "to", to, "mime_type", mimeType, "bytes", len(media.Data))
	return nil
}

// InstanceStatus returns the connection state reported by the gateway.
func (c *EvolutionClient) InstanceStatus(ctx context.Context) (string, error) {
	ctx, span := evolutionTracer.Start(ctx, "messaging.evolution.instance_status")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/instance/connectionState/"+c.instance, nil)
	if err != nil {
		return "", fmt.Errorf("messaging: build status request: %w", err)
	}
	var parsed struct {
		State    string `json:"state"`
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
	}
	if err := c.do(req, &parsed); err != nil {
		span.RecordError(err)
		return "", err
	}
	if parsed.Instance.State != "" {
		return parsed.Instance.State, nil
	}
	if parsed.State != "" {
		return parsed.State, nil
	}
	return "unknown", nil
}

// SetWebhook points the instance's webhook at url.
func (c *EvolutionClient) SetWebhook(ctx context.Context, url string, events []string) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("messaging: webhook url required")
	}
	if len(events) == 0 {
		events = DefaultWebhookEvents
	}
	ctx, span := evolutionTracer.Start(ctx, "messaging.evolution.set_webhook")
	defer span.End()

	payload := map[string]any{
		"webhook": map[string]any{
			"enabled":           true,
			"url":               url,
			"webhook_by_events": false,
			"webhook_base64":    true,
			"events":            events,
		},
	}
	if err := c.post(ctx, "/webhook/set/"+c.instance, payload, nil); err != nil {
		span.RecordError(err)
		return err
	}
	c.logger.Info("evolution webhook configured", "url", url, "events", events)
	return nil
}

func (c *EvolutionClient) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("messaging: failed to marshal evolution payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("messaging: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *EvolutionClient) do(req *http.Request, out any) error {
	req.Header.Set("apikey", c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("messaging: evolution request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d: %s", ErrGatewayStatus, resp.StatusCode, truncate(string(body), 512))
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("messaging: decode evolution response: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
