package upload

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contactform/backend/internal/domain"
	"contactform/backend/internal/storage/filesystem"
)

type recordingTracker struct {
	handles []*domain.UploadHandle
}

func (t *recordingTracker) Track(h *domain.UploadHandle) {
	t.handles = append(t.handles, h)
}

type filePart struct {
	field       string
	filename    string
	contentType string
	content     []byte
}

func buildMultipart(t *testing.T, fields map[string]string, files ...filePart) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}

	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, f.field, f.filename))
		h.Set("Content-Type", f.contentType)
		pw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write(f.content)
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func setupReceiver(t *testing.T, maxBytes int64) (*Receiver, *filesystem.Store) {
	t.Helper()

	store, err := filesystem.NewStore(t.TempDir())
	require.NoError(t, err)

	cfg := Config{
		MaxBytes:         maxBytes,
		FieldNames:       []string{"audio", "audioFile", "file"},
		AllowedMimeTypes: []string{"audio/*", "video/webm"},
	}
	return NewReceiver(cfg, store, nil), store
}

func uploadedFiles(t *testing.T, store *filesystem.Store) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(store.BasePath())
	require.NoError(t, err)
	return entries
}

func TestReceive_TextFields(t *testing.T) {
	receiver, _ := setupReceiver(t, 1<<20)

	body, ct := buildMultipart(t, map[string]string{
		"clientName":  "Alice",
		"clientEmail": "alice@example.com",
		"message":     "Bonjour",
		"subject":     "ignored",
	})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)

	result, err := receiver.Receive(req, &recordingTracker{})

	require.NoError(t, err)
	assert.Equal(t, domain.Fields{Name: "Alice", Email: "alice@example.com", Message: "Bonjour"}, result.Fields)
	assert.Nil(t, result.Audio)
}

func TestReceive_AudioStoredExactly(t *testing.T) {
	receiver, store := setupReceiver(t, 1<<20)

	payload := make([]byte, 300*1024+7)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	body, ct := buildMultipart(t, map[string]string{"name": "Bob"},
		filePart{field: "audio", filename: "memo.webm", contentType: "audio/webm;codecs=opus", content: payload})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	tracker := &recordingTracker{}

	result, err := receiver.Receive(req, tracker)

	require.NoError(t, err)
	require.NotNil(t, result.Audio)
	assert.Equal(t, "memo.webm", result.Audio.OriginalName)
	assert.Equal(t, "audio/webm", result.Audio.MimeType)
	assert.Equal(t, int64(len(payload)), result.Audio.SizeBytes)
	assert.Len(t, result.Audio.Checksum, 64)
	require.Len(t, tracker.handles, 1)
	assert.Same(t, result.Audio, tracker.handles[0])

	stored, err := os.ReadFile(result.Audio.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	require.NoError(t, store.Remove(result.Audio.Path))
	assert.Empty(t, uploadedFiles(t, store))
}

func TestReceive_VideoWebmAccepted(t *testing.T) {
	receiver, _ := setupReceiver(t, 1<<20)

	body, ct := buildMultipart(t, nil,
		filePart{field: "audioFile", filename: "recording.webm", contentType: "video/webm", content: []byte("webm-bytes")})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)

	result, err := receiver.Receive(req, &recordingTracker{})

	require.NoError(t, err)
	require.NotNil(t, result.Audio)
	assert.Equal(t, "video/webm", result.Audio.MimeType)
}

func TestReceive_Rejections(t *testing.T) {
	t.Run("oversized by content length writes nothing", func(t *testing.T) {
		receiver, store := setupReceiver(t, 1024)

		body, ct := buildMultipart(t, nil,
			filePart{field: "audio", filename: "big.webm", contentType: "audio/webm", content: bytes.Repeat([]byte("a"), 4096)})
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)
		tracker := &recordingTracker{}

		_, err := receiver.Receive(req, tracker)

		assert.ErrorIs(t, err, domain.ErrFileTooLarge)
		assert.Empty(t, tracker.handles)
		assert.Empty(t, uploadedFiles(t, store))
	})

	t.Run("oversized chunked body aborts during write", func(t *testing.T) {
		receiver, _ := setupReceiver(t, 1024)

		body, ct := buildMultipart(t, nil,
			filePart{field: "audio", filename: "big.webm", contentType: "audio/webm", content: bytes.Repeat([]byte("a"), 4096)})
		req := httptest.NewRequest(http.MethodPost, "/upload", io.NopCloser(body))
		req.ContentLength = -1
		req.Header.Set("Content-Type", ct)
		tracker := &recordingTracker{}

		_, err := receiver.Receive(req, tracker)

		assert.ErrorIs(t, err, domain.ErrFileTooLarge)
		// 部分文件已登记，由清理方删除
		for _, h := range tracker.handles {
			assert.LessOrEqual(t, h.SizeBytes, int64(1024))
		}
	})

	t.Run("unsupported type writes nothing", func(t *testing.T) {
		receiver, store := setupReceiver(t, 1<<20)

		body, ct := buildMultipart(t, nil,
			filePart{field: "audio", filename: "doc.pdf", contentType: "application/pdf", content: []byte("%PDF")})
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)

		_, err := receiver.Receive(req, &recordingTracker{})

		assert.ErrorIs(t, err, domain.ErrUnsupportedType)
		assert.Empty(t, uploadedFiles(t, store))
	})

	t.Run("second audio file", func(t *testing.T) {
		receiver, _ := setupReceiver(t, 1<<20)

		body, ct := buildMultipart(t, nil,
			filePart{field: "audio", filename: "a.webm", contentType: "audio/webm", content: []byte("a")},
			filePart{field: "file", filename: "b.webm", contentType: "audio/webm", content: []byte("b")})
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)
		tracker := &recordingTracker{}

		_, err := receiver.Receive(req, tracker)

		assert.ErrorIs(t, err, domain.ErrMalformedRequest)
		assert.Len(t, tracker.handles, 1)
	})

	t.Run("file under unknown field", func(t *testing.T) {
		receiver, _ := setupReceiver(t, 1<<20)

		body, ct := buildMultipart(t, nil,
			filePart{field: "attachment", filename: "a.webm", contentType: "audio/webm", content: []byte("a")})
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)

		_, err := receiver.Receive(req, &recordingTracker{})

		assert.ErrorIs(t, err, domain.ErrMalformedRequest)
	})

	t.Run("json body", func(t *testing.T) {
		receiver, _ := setupReceiver(t, 1<<20)

		req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(`{"name":"x"}`))
		req.Header.Set("Content-Type", "application/json")

		_, err := receiver.Receive(req, &recordingTracker{})

		assert.ErrorIs(t, err, domain.ErrMalformedRequest)
	})
}

func TestReceive_EmptyFilePartIsAbsent(t *testing.T) {
	receiver, store := setupReceiver(t, 1<<20)

	body, ct := buildMultipart(t, map[string]string{"message": "Juste du texte"},
		filePart{field: "audio", filename: "", contentType: "application/octet-stream"})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)

	result, err := receiver.Receive(req, &recordingTracker{})

	require.NoError(t, err)
	assert.Nil(t, result.Audio)
	assert.Equal(t, "Juste du texte", result.Fields.Message)
	assert.Empty(t, uploadedFiles(t, store))
}

func TestReceive_ClientDisconnect(t *testing.T) {
	receiver, _ := setupReceiver(t, 1<<20)

	body, ct := buildMultipart(t, nil,
		filePart{field: "audio", filename: "a.webm", contentType: "audio/webm", content: bytes.Repeat([]byte("a"), 8192)})
	truncated := body.Bytes()[:body.Len()/2]
	req := httptest.NewRequest(http.MethodPost, "/upload", io.NopCloser(bytes.NewReader(truncated)))
	req.ContentLength = -1
	req.Header.Set("Content-Type", ct)
	tracker := &recordingTracker{}

	_, err := receiver.Receive(req, tracker)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClientGone), "got %v", err)
	require.Len(t, tracker.handles, 1)
}

func TestReceive_URLEncoded(t *testing.T) {
	receiver, _ := setupReceiver(t, 1<<20)

	form := url.Values{"name": {"Alice"}, "message": {"Salut"}}
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	result, err := receiver.Receive(req, &recordingTracker{})

	require.NoError(t, err)
	assert.Equal(t, "Alice", result.Fields.Name)
	assert.Equal(t, "Salut", result.Fields.Message)
}

func TestMimeAllowed(t *testing.T) {
	allowed := []string{"audio/*", "video/webm"}

	assert.True(t, MimeAllowed("audio/webm", allowed))
	assert.True(t, MimeAllowed("Audio/MPEG", allowed))
	assert.True(t, MimeAllowed("video/webm", allowed))
	assert.False(t, MimeAllowed("video/mp4", allowed))
	assert.False(t, MimeAllowed("audiox/webm", allowed))
	assert.False(t, MimeAllowed("application/octet-stream", allowed))
}
