// Package inbound carries WhatsApp events from the webhook to the workflow
// engine through a queue, so the webhook can acknowledge immediately.
package inbound

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/lucasdeangeli4scale/disparaai/internal/workflow"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// media travels inline, or as a staged blob key when a BlobStore is wired.
type media struct {
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`
	BlobKey  string `json:"blob_key,omitempty"`
}

type queuePayload struct {
	ID        string             `json:"id"`
	MessageID string             `json:"message_id,omitempty"`
	UserID    string             `json:"user_id"`
	Kind      workflow.EventKind `json:"kind"`
	Text      string             `json:"text,omitempty"`
	Media     *media             `json:"media,omitempty"`
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("inbound: failed to encode payload: %w", err)
	}
	return payload, string(body), nil
}

func (p queuePayload) event() workflow.Event {
	ev := workflow.Event{UserID: p.UserID, Kind: p.Kind, Text: p.Text}
	if p.Media != nil {
		ev.Media = &workflow.Attachment{Filename: p.Media.Filename, MimeType: p.Media.MimeType, Data: p.Media.Data}
	}
	return ev
}
