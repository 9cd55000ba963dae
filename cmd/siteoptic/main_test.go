package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllamaServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setOllamaEnv(t *testing.T, host string) string {
	t.Helper()
	logFile := filepath.Join(t.TempDir(), "siteoptic.log")
	t.Setenv("VISION_BACKEND", "ollama")
	t.Setenv("OLLAMA_HOST", host)
	t.Setenv("LOG_FILE", logFile)
	return logFile
}

func TestRunListModels(t *testing.T) {
	srv := newOllamaServer(t, http.StatusOK, `{"models":[{"name":"llava:latest"},{"name":"bakllava:latest"}]}`)
	setOllamaEnv(t, srv.URL)

	var out bytes.Buffer
	code := run([]string{"-list-models"}, &out)

	assert.Equal(t, 0, code)
	assert.Equal(t, "llava:latest\nbakllava:latest\n", out.String())
}

func TestRunListModelsFailureReturnsExitCode(t *testing.T) {
	srv := newOllamaServer(t, http.StatusInternalServerError, "ollama is loading")
	logFile := setOllamaEnv(t, srv.URL)

	var out bytes.Buffer
	code := run([]string{"-list-models"}, &out)

	assert.Equal(t, 1, code)
	assert.Empty(t, out.String())

	// The log file is flushed and closed by the deferred cleanup.
	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "failed to list models")
}

func TestRunUnknownVisionBackend(t *testing.T) {
	t.Setenv("VISION_BACKEND", "carrier-pigeon")
	t.Setenv("LOG_FILE", filepath.Join(t.TempDir(), "siteoptic.log"))

	assert.Equal(t, 1, run(nil, &bytes.Buffer{}))
}

func TestRunBadFlag(t *testing.T) {
	assert.Equal(t, 2, run([]string{"-no-such-flag"}, &bytes.Buffer{}))
}
