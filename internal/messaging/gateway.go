package messaging

import (
	"context"
	"errors"
	"strings"
)

// ErrGatewayStatus wraps non-2xx responses from the WhatsApp gateway.
var ErrGatewayStatus = errors.New("messaging: gateway returned non-success status")

// Media is an outbound attachment.
type Media struct {
	// Kind is the gateway media type: image, video, audio or document.
	Kind     string
	MimeType string
	Filename string
	Data     []byte
}

// Gateway sends WhatsApp messages. Calls are not retried here; callers decide.
type Gateway interface {
	SendText(ctx context.Context, to, text string) error
	SendMedia(ctx context.Context, to string, media Media, caption string) error
}

// StripJID turns a WhatsApp JID into the bare phone number.
func StripJID(jid string) string {
	jid = strings.TrimSpace(jid)
	jid = strings.TrimSuffix(jid, "@s.whatsapp.net")
	jid = strings.TrimSuffix(jid, "@c.us")
	return jid
}

// gatewayNumber is the recipient format the gateway expects: digits only.
func gatewayNumber(to string) string {
	return strings.TrimPrefix(strings.TrimSpace(to), "+")
}

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".pdf":  "application/pdf",
	".csv":  "text/csv",
	".txt":  "text/plain",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
}

var defaultMimeByKind = map[string]string{
	"image":    "image/png",
	"video":    "video/mp4",
	"audio":    "audio/mp4",
	"document": "application/pdf",
}

// DefaultMimeType picks a MIME type from the filename, then from the media kind.
func DefaultMimeType(kind, filename string) string {
	lower := strings.ToLower(filename)
	if i := strings.LastIndexByte(lower, '.'); i >= 0 {
		if mt, ok := mimeByExt[lower[i:]]; ok {
			return mt
		}
	}
	if mt, ok := defaultMimeByKind[kind]; ok {
		return mt
	}
	return "application/octet-stream"
}
