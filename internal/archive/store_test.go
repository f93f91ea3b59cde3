package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
)

type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte
	getErr   error
}

type putCall struct {
	bucket      string
	key         string
	contentType string
	body        []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{
		bucket:      *input.Bucket,
		key:         *input.Key,
		contentType: *input.ContentType,
		body:        body,
	})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func newTestStore(mock *mockS3Client) *Store {
	store := NewStore(mock, "uploads", logging.Discard())
	store.now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
	return store
}

func TestStoreArchiveWritesObjectAndManifest(t *testing.T) {
	mock := newMockS3()
	store := newTestStore(mock)

	loc, err := store.Archive(context.Background(), "campaigns/c-1/lista.csv", "text/csv", []byte("telefone\n1\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3://uploads/campaigns/c-1/lista.csv", loc)

	_, err = store.Archive(context.Background(), "campaigns/c-1/promo.png", "image/png", []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)

	require.Len(t, mock.putCalls, 4)
	assert.Equal(t, "text/csv", mock.putCalls[0].contentType)

	manifest := string(mock.objects["campaigns/manifests/2026-03.jsonl"])
	lines := strings.Split(strings.TrimSpace(manifest), "\n")
	require.Len(t, lines, 2)

	var entry ManifestEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "c-1", entry.CampaignID)
	assert.Equal(t, "campaigns/c-1/promo.png", entry.Key)
	assert.Equal(t, 4, entry.Size)
}

func TestStoreDisabledIsNoop(t *testing.T) {
	store := NewStore(nil, "", nil)
	assert.False(t, store.Enabled())

	loc, err := store.Archive(context.Background(), "campaigns/x/y", "text/csv", []byte("a"))
	require.NoError(t, err)
	assert.Empty(t, loc)

	_, err = store.Get(context.Background(), "inbound/1")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestStorePutGetRoundTrip(t *testing.T) {
	mock := newMockS3()
	store := newTestStore(mock)

	require.NoError(t, store.Put(context.Background(), "inbound/job-1", "", []byte("payload")))
	assert.Equal(t, "application/octet-stream", mock.putCalls[0].contentType)

	data, err := store.Get(context.Background(), "inbound/job-1")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = store.Get(context.Background(), "inbound/missing")
	require.Error(t, err)
}

func TestStoreManifestReadFailureIsReportedButObjectKept(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("access denied")
	store := newTestStore(mock)

	loc, err := store.Archive(context.Background(), "campaigns/c-2/lista.csv", "text/csv", []byte("x"))
	require.NoError(t, err)
	assert.NotEmpty(t, loc)
	assert.Len(t, mock.putCalls, 1)
}
