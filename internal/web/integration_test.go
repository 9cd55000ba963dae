package web_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/siteoptic/internal/db"
	"github.com/vbonduro/siteoptic/internal/domain"
	"github.com/vbonduro/siteoptic/internal/service"
	"github.com/vbonduro/siteoptic/internal/store"
	"github.com/vbonduro/siteoptic/internal/vision"
	"github.com/vbonduro/siteoptic/internal/web"
	"github.com/vbonduro/siteoptic/internal/web/templates"
)

// minimalJPEG is 512 bytes with the JPEG magic bytes header followed by zeros.
// http.DetectContentType identifies JPEG from the leading 0xFF 0xD8 bytes.
var minimalJPEG = func() []byte {
	b := make([]byte, 512)
	b[0] = 0xFF
	b[1] = 0xD8
	b[2] = 0xFF
	b[3] = 0xE0
	return b
}()

// recordingVision captures every request passed to it and answers from a
// queue, or with err when set.
type recordingVision struct {
	mu       sync.Mutex
	requests []vision.Request
	answers  []string
	err      error
	models   []vision.ModelInfo
}

func (r *recordingVision) Generate(_ context.Context, req vision.Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.err != nil {
		return "", r.err
	}
	if len(r.answers) == 0 {
		return "No issues found.", nil
	}
	a := r.answers[0]
	r.answers = r.answers[1:]
	return a, nil
}

func (r *recordingVision) ListModels(context.Context) ([]vision.ModelInfo, error) {
	return r.models, nil
}

func (r *recordingVision) Requests() []vision.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]vision.Request(nil), r.requests...)
}

// plainVision has no model listing.
type plainVision struct{}

func (plainVision) Generate(context.Context, vision.Request) (string, error) {
	return "ok", nil
}

// memPhotoStore is a simple in-memory implementation of photostore.PhotoStore.
type memPhotoStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	mimes   map[string]string
	counter int
}

func newMemPhotoStore() *memPhotoStore {
	return &memPhotoStore{
		data:  make(map[string][]byte),
		mimes: make(map[string]string),
	}
}

func (m *memPhotoStore) Save(_ context.Context, prefix, mimeType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	key := fmt.Sprintf("%s_%d", prefix, m.counter)
	m.data[key] = data
	m.mimes[key] = mimeType
	return key, nil
}

func (m *memPhotoStore) Get(_ context.Context, key string) (io.ReadCloser, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, "", fmt.Errorf("key not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), m.mimes[key], nil
}

func (m *memPhotoStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.mimes, key)
	return nil
}

// newTestServer sets up a real web.Server backed by in-memory SQLite and the
// provided vision stub.
func newTestServer(t *testing.T, vis vision.Analyzer) *httptest.Server {
	t.Helper()
	database, err := db.OpenForTesting()
	require.NoError(t, err)

	svc := service.NewDiagnosticService(
		store.NewSessionStore(database),
		store.NewTurnStore(database),
		vis,
		newMemPhotoStore(),
		domain.LanguageEnglish,
		time.Hour,
		slog.Default(),
	)
	srv := httptest.NewServer(web.NewServer(svc, templates.FS, slog.Default()))
	t.Cleanup(func() {
		srv.Close()
		_ = database.Close()
	})
	return srv
}

// newClient returns a client that keeps the session cookie between requests.
func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

// buildMultipartBody creates a multipart/form-data body with an "image" field
// and the given extra fields.
func buildMultipartBody(t *testing.T, imageData []byte, fields map[string]string) (body *bytes.Buffer, contentType string) {
	t.Helper()
	body = &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile("image", "photo.jpg")
	require.NoError(t, err)
	_, err = fw.Write(imageData)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func analyze(t *testing.T, client *http.Client, srv *httptest.Server, fields map[string]string) *http.Response {
	t.Helper()
	body, contentType := buildMultipartBody(t, minimalJPEG, fields)
	resp, err := client.Post(srv.URL+"/analyze", contentType, body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func sessionCookieOf(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == "siteoptic_session" {
			return c
		}
	}
	return nil
}

func TestIntegration_IndexDoesNotStartSession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t, &recordingVision{})

	for _, path := range []string{"/", "/photo", "/report.pdf"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		assert.Nil(t, sessionCookieOf(resp), path)
	}

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Contains(t, readBody(t, resp), "Analyze photo")
}

func TestIntegration_AnalyzeSetsSessionCookie(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t, &recordingVision{})

	body, contentType := buildMultipartBody(t, minimalJPEG, nil)
	resp, err := http.Post(srv.URL+"/analyze", contentType, body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	cookie := sessionCookieOf(resp)
	require.NotNil(t, cookie, "session cookie not set")
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
}

func TestIntegration_AnalyzeAndChat(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	vis := &recordingVision{answers: []string{
		"## Findings\n- Unguarded slab edge",
		"Install edge protection.",
	}}
	srv := newTestServer(t, vis)
	client := newClient(t)

	resp := analyze(t, client, srv, map[string]string{
		"focus":    "safety",
		"language": "es",
		"request":  "Check the east side",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, "<h2>Findings</h2>")
	assert.Contains(t, body, "Unguarded slab edge")

	reqs := vis.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, minimalJPEG, reqs[0].Image)
	assert.Equal(t, "image/jpeg", reqs[0].MimeType)
	assert.Contains(t, reqs[0].Prompt, "Check the east side")
	assert.Contains(t, reqs[0].Prompt, "Español")

	resp, err := client.PostForm(srv.URL+"/chat", url.Values{"message": {"What should we install?"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = readBody(t, resp)
	assert.Contains(t, body, "What should we install?")
	assert.Contains(t, body, "Install edge protection.")

	reqs = vis.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[1].Turns, 2)
	assert.Equal(t, domain.RoleUser, reqs[1].Turns[1].Role)
}

func TestIntegration_ChatHTMXReturnsPartial(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	vis := &recordingVision{answers: []string{"analysis", "partial answer"}}
	srv := newTestServer(t, vis)
	client := newClient(t)
	analyze(t, client, srv, nil)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/chat", strings.NewReader("message=more+detail"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("HX-Request", "true")
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, `id="conversation"`)
	assert.Contains(t, body, "partial answer")
	assert.NotContains(t, body, "<html")
}

func TestIntegration_AnalyzeAPIErrorShownVerbatim(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	vis := &recordingVision{err: errors.New("googleapi: Error 429: Resource has been exhausted")}
	srv := newTestServer(t, vis)
	client := newClient(t)

	resp := analyze(t, client, srv, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "googleapi: Error 429: Resource has been exhausted")
}

func TestIntegration_AnalyzeRejectsBadInput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	vis := &recordingVision{}
	srv := newTestServer(t, vis)
	client := newClient(t)

	body, contentType := buildMultipartBody(t, []byte("GIF89a not allowed"), nil)
	resp, err := client.Post(srv.URL+"/analyze", contentType, body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "unsupported image format")

	resp, err = client.PostForm(srv.URL+"/analyze", url.Values{"focus": {"safety"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Empty(t, vis.Requests())
}

func TestIntegration_ChatBeforeAnalysis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t, &recordingVision{})
	client := newClient(t)

	resp, err := client.PostForm(srv.URL+"/chat", url.Values{"message": {"hello"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestIntegration_ReportAndPhoto(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t, &recordingVision{})
	client := newClient(t)

	resp, err := client.Get(srv.URL + "/report.pdf")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/photo")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	analyze(t, client, srv, nil)

	resp, err = client.Get(srv.URL + "/photo")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, string(minimalJPEG), readBody(t, resp))
}

func TestIntegration_ResetClearsSession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t, &recordingVision{answers: []string{"first analysis text"}})
	client := newClient(t)
	analyze(t, client, srv, nil)

	resp, err := client.Post(srv.URL+"/reset", "application/x-www-form-urlencoded", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.NotContains(t, body, "first analysis text")
	assert.Contains(t, body, "Upload a site photo")
}

func TestIntegration_Models(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	vis := &recordingVision{models: []vision.ModelInfo{
		{Name: "models/gemini-1.5-flash", DisplayName: "Gemini 1.5 Flash", Methods: []string{"generateContent"}},
		{Name: "models/text-embedding-004", Methods: []string{"embedContent"}},
	}}
	srv := newTestServer(t, vis)

	resp, err := http.Get(srv.URL + "/models")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, "models/gemini-1.5-flash")
	assert.NotContains(t, body, "text-embedding-004")

	srv = newTestServer(t, plainVision{})
	resp, err = http.Get(srv.URL + "/models")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestIntegration_Healthz(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	srv := newTestServer(t, &recordingVision{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", readBody(t, resp))
}
