package inbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lucasdeangeli4scale/disparaai/internal/workflow"
	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
)

// DefaultInlineLimit is the largest media payload sent inside a queue message.
// SQS caps bodies at 256KB and JSON base64 grows payloads by a third.
const DefaultInlineLimit = 128 * 1024

// ErrPayloadTooLarge is returned when media exceeds the inline limit and no
// BlobStore is configured.
var ErrPayloadTooLarge = errors.New("inbound: media too large for queue message")

// BlobStore stages media that does not fit in a queue message.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Publisher enqueues inbound events for the worker.
type Publisher struct {
	queue       queueClient
	blobs       BlobStore
	inlineLimit int
	logger      *logging.Logger
}

type PublisherOption func(*Publisher)

// WithBlobStore stages media larger than limit in store. A non-positive limit
// uses DefaultInlineLimit.
func WithBlobStore(store BlobStore, limit int) PublisherOption {
	return func(p *Publisher) {
		p.blobs = store
		if limit > 0 {
			p.inlineLimit = limit
		}
	}
}

// WithInlineLimit caps the inline media size. Zero or less means unlimited,
// which is only sensible for MemoryQueue.
func WithInlineLimit(limit int) PublisherOption {
	return func(p *Publisher) { p.inlineLimit = limit }
}

func NewPublisher(queue queueClient, logger *logging.Logger, opts ...PublisherOption) *Publisher {
	if queue == nil {
		panic("inbound: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &Publisher{queue: queue, inlineLimit: DefaultInlineLimit, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue publishes ev. messageID is the provider message id, kept for log correlation.
func (p *Publisher) Enqueue(ctx context.Context, messageID string, ev workflow.Event) error {
	payload := queuePayload{
		ID:        uuid.NewString(),
		MessageID: messageID,
		UserID:    ev.UserID,
		Kind:      ev.Kind,
		Text:      ev.Text,
	}
	if ev.Media != nil {
		m, err := p.stage(ctx, payload.ID, ev.Media)
		if err != nil {
			return err
		}
		payload.Media = m
	}

	payload, body, err := encodePayload(payload)
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("inbound: failed to enqueue event: %w", err)
	}
	p.logger.Debug("inbound event enqueued", "job_id", payload.ID, "message_id", messageID, "kind", ev.Kind)
	return nil
}

func (p *Publisher) stage(ctx context.Context, jobID string, a *workflow.Attachment) (*media, error) {
	m := &media{Filename: a.Filename, MimeType: a.MimeType}
	if p.inlineLimit <= 0 || len(a.Data) <= p.inlineLimit {
		m.Data = a.Data
		return m, nil
	}
	if p.blobs == nil {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(a.Data))
	}
	key := "inbound/" + jobID
	if err := p.blobs.Put(ctx, key, a.MimeType, a.Data); err != nil {
		return nil, fmt.Errorf("inbound: failed to stage media: %w", err)
	}
	m.BlobKey = key
	return m, nil
}
