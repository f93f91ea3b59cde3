package messaging

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTextMessage(t *testing.T) {
	body := `{
		"event": "messages.upsert",
		"instance": "disparaai",
		"data": {
			"key": {"id": "MSG1", "remoteJid": "5511987654321@s.whatsapp.net", "fromMe": false},
			"pushName": "Ana",
			"messageTimestamp": 1735700000,
			"message": {"conversation": "oi"}
		}
	}`
	evt, err := ParseWebhook([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, EventMessagesUpsert, evt.Event)

	msg, err := evt.Message()
	require.NoError(t, err)
	assert.Equal(t, "MSG1", msg.ID)
	assert.Equal(t, "5511987654321", msg.From)
	assert.Equal(t, "Ana", msg.PushName)
	assert.Equal(t, KindText, msg.Kind)
	assert.Equal(t, "oi", msg.Text)
	assert.Nil(t, msg.Media)
}

func TestParseWrappedExtendedText(t *testing.T) {
	body := `{"event":"messages.upsert","data":{"messages":[{"key":{"id":"M2","remoteJid":"5521998765432@c.us","fromMe":true},"message":{"extendedTextMessage":{"text":"gerar copy"}}}]}}`
	evt, err := ParseWebhook([]byte(body))
	require.NoError(t, err)
	msg, err := evt.Message()
	require.NoError(t, err)
	assert.Equal(t, "5521998765432", msg.From)
	assert.True(t, msg.FromMe)
	assert.Equal(t, "gerar copy", msg.Text)
}

func TestParseDocumentWithBase64(t *testing.T) {
	csv := "telefone\n11987654321\n"
	encoded := base64.StdEncoding.EncodeToString([]byte(csv))
	body := `{"event":"messages.upsert","data":{"key":{"id":"M3","remoteJid":"5511987654321@s.whatsapp.net"},` +
		`"message":{"documentMessage":{"fileName":"lista.csv","mimetype":"text/csv","caption":"minha lista"},"base64":"` + encoded + `"}}}`
	evt, err := ParseWebhook([]byte(body))
	require.NoError(t, err)
	msg, err := evt.Message()
	require.NoError(t, err)
	assert.Equal(t, KindDocument, msg.Kind)
	require.NotNil(t, msg.Media)
	assert.Equal(t, "lista.csv", msg.Media.Filename)
	assert.Equal(t, "text/csv", msg.Media.MimeType)
	assert.Equal(t, csv, string(msg.Media.Data))
	assert.Equal(t, "minha lista", msg.Text)
}

func TestParseImageDefaults(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff})
	body := `{"event":"messages.upsert","data":{"key":{"remoteJid":"5511987654321@s.whatsapp.net"},` +
		`"message":{"imageMessage":{"caption":"promo"},"base64":"data:image/jpeg;base64,` + encoded + `"}}}`
	evt, err := ParseWebhook([]byte(body))
	require.NoError(t, err)
	msg, err := evt.Message()
	require.NoError(t, err)
	assert.Equal(t, KindImage, msg.Kind)
	assert.Equal(t, "image/jpeg", msg.Media.MimeType)
	assert.Equal(t, "image.jpg", msg.Media.Filename)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, msg.Media.Data)
}

func TestParseRejectsMissingSender(t *testing.T) {
	evt, err := ParseWebhook([]byte(`{"event":"messages.upsert","data":{"key":{"remoteJid":"@s.whatsapp.net"},"message":{"conversation":"oi"}}}`))
	require.NoError(t, err)
	_, err = evt.Message()
	assert.True(t, errors.Is(err, ErrNoSender))
}

func TestConnectionState(t *testing.T) {
	evt, err := ParseWebhook([]byte(`{"event":"connection.update","data":{"state":"close"}}`))
	require.NoError(t, err)
	assert.Equal(t, "close", evt.ConnectionState())

	evt, err = ParseWebhook([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "unknown", evt.Event)
}

func TestParseWebhookInvalidJSON(t *testing.T) {
	_, err := ParseWebhook([]byte(`{`))
	assert.Error(t, err)
}
