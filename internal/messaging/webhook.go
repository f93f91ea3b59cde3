package messaging

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Evolution webhook event names.
const (
	EventMessagesUpsert   = "messages.upsert"
	EventSendMessage      = "send.message"
	EventConnectionUpdate = "connection.update"
)

// Inbound message kinds.
const (
	KindText     = "text"
	KindImage    = "image"
	KindDocument = "document"
)

// ErrNoSender is returned when a message carries no usable remoteJid.
var ErrNoSender = errors.New("messaging: message has no sender")

// WebhookEvent is the envelope Evolution posts to the webhook.
type WebhookEvent struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

// InboundMedia is an attachment carried by an inbound message.
type InboundMedia struct {
	MimeType string
	Filename string
	Caption  string
	Data     []byte
}

// InboundMessage is a parsed WhatsApp message.
type InboundMessage struct {
	ID        string
	From      string
	PushName  string
	Kind      string
	Text      string
	Media     *InboundMedia
	FromMe    bool
	Timestamp int64
}

type messageKey struct {
	ID        string `json:"id"`
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
}

type mediaMessage struct {
	MimeType string `json:"mimetype"`
	FileName string `json:"fileName"`
	Caption  string `json:"caption"`
	Base64   string `json:"base64"`
}

type messageData struct {
	Key              messageKey `json:"key"`
	PushName         string     `json:"pushName"`
	MessageTimestamp int64      `json:"messageTimestamp"`
	Message          struct {
		Conversation        *string `json:"conversation"`
		ExtendedTextMessage *struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
		DocumentMessage *mediaMessage `json:"documentMessage"`
		ImageMessage    *mediaMessage `json:"imageMessage"`
		Base64          string        `json:"base64"`
	} `json:"message"`
}

// ParseWebhook decodes the event envelope.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var evt WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return WebhookEvent{}, fmt.Errorf("messaging: decode webhook: %w", err)
	}
	if evt.Event == "" {
		evt.Event = "unknown"
	}
	return evt, nil
}

// ConnectionState extracts data.state from a connection.update event.
func (e WebhookEvent) ConnectionState() string {
	var data struct {
		State string `json:"state"`
	}
	_ = json.Unmarshal(e.Data, &data)
	return data.State
}

// Message parses a messages.upsert payload. Both the direct form and the
// data.messages[0] form are accepted.
func (e WebhookEvent) Message() (InboundMessage, error) {
	raw := e.Data
	var wrapped struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Messages) > 0 {
		raw = wrapped.Messages[0]
	}

	var data messageData
	if err := json.Unmarshal(raw, &data); err != nil {
		return InboundMessage{}, fmt.Errorf("messaging: decode message: %w", err)
	}
	from := StripJID(data.Key.RemoteJID)
	if from == "" {
		return InboundMessage{}, fmt.Errorf("%w: remoteJid %q", ErrNoSender, data.Key.RemoteJID)
	}

	msg := InboundMessage{
		ID:        data.Key.ID,
		From:      from,
		PushName:  data.PushName,
		Kind:      KindText,
		FromMe:    data.Key.FromMe,
		Timestamp: data.MessageTimestamp,
	}
	content := data.Message
	switch {
	case content.Conversation != nil:
		msg.Text = *content.Conversation
	case content.ExtendedTextMessage != nil:
		msg.Text = content.ExtendedTextMessage.Text
	case content.DocumentMessage != nil:
		media, err := decodeMedia(content.DocumentMessage, content.Base64, "", "")
		if err != nil {
			return InboundMessage{}, err
		}
		msg.Kind = KindDocument
		msg.Media = media
		msg.Text = content.DocumentMessage.Caption
	case content.ImageMessage != nil:
		media, err := decodeMedia(content.ImageMessage, content.Base64, "image/jpeg", "image.jpg")
		if err != nil {
			return InboundMessage{}, err
		}
		msg.Kind = KindImage
		msg.Media = media
		msg.Text = content.ImageMessage.Caption
	}
	return msg, nil
}

func decodeMedia(m *mediaMessage, outer, defaultMime, defaultName string) (*InboundMedia, error) {
	encoded := outer
	if encoded == "" {
		encoded = m.Base64
	}
	media := &InboundMedia{
		MimeType: m.MimeType,
		Filename: m.FileName,
		Caption:  m.Caption,
	}
	if media.MimeType == "" {
		media.MimeType = defaultMime
	}
	if media.Filename == "" {
		media.Filename = defaultName
	}
	if encoded == "" {
		return media, nil
	}
	data, err := DecodeBase64(encoded)
	if err != nil {
		return nil, err
	}
	media.Data = data
	return media, nil
}

// DecodeBase64 accepts raw base64 or a data URL.
func DecodeBase64(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		if i := strings.Index(encoded, ","); i >= 0 {
			encoded = encoded[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, fmt.Errorf("messaging: invalid base64 media: %w", err)
		}
	}
	return data, nil
}
