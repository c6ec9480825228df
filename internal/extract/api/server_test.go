package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	result string
	err    error
	calls  []string
}

func (f *fakeService) Extract(_ context.Context, source string) (string, error) {
	f.calls = append(f.calls, source)
	return f.result, f.err
}

func postJSON(t *testing.T, router *gin.Engine, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPDFExtractHappyPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 content"), 0o644))

	svc := &fakeService{result: "# Converted"}
	router := NewServer(svc).Router()

	w := postJSON(t, router, "/pdf-extractor", `{"file_path":`+mustJSON(t, path)+`}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Document struct {
			MDContent string `json:"md_content"`
		} `json:"document"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "# Converted", resp.Document.MDContent)
	assert.Equal(t, []string{path}, svc.calls)

	// The uploaded file is removed after handling.
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPDFExtractMissingFile(t *testing.T) {
	svc := &fakeService{result: "unused"}
	router := NewServer(svc).Router()

	w := postJSON(t, router, "/pdf-extractor", `{"file_path":"/nonexistent/nope.pdf"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "File not found")
	assert.Empty(t, svc.calls)
}

func TestPDFExtractEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pdf")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	router := NewServer(&fakeService{}).Router()
	w := postJSON(t, router, "/pdf-extractor", `{"file_path":`+mustJSON(t, path)+`}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Empty file")
}

func TestPDFExtractServiceError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	svc := &fakeService{err: errors.New("conversion blew up")}
	router := NewServer(svc).Router()

	w := postJSON(t, router, "/pdf-extractor", `{"file_path":`+mustJSON(t, path)+`}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "conversion blew up")
}

func TestURLExtractCollectsDocuments(t *testing.T) {
	svc := &fakeService{result: "page body"}
	router := NewServer(svc).Router()

	w := postJSON(t, router, "/url-extractor", `{"urls":["https://a.example","https://b.example"]}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Documents []struct {
			Source    string `json:"source"`
			MDContent string `json:"md_content"`
		} `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Documents, 2)
	assert.Equal(t, "https://a.example", resp.Documents[0].Source)
	assert.Equal(t, "page body", resp.Documents[0].MDContent)
}

func TestURLExtractSkipsFailures(t *testing.T) {
	svc := &fakeService{err: errors.New("crawl failed")}
	router := NewServer(svc).Router()

	w := postJSON(t, router, "/url-extractor", `{"urls":["https://a.example"]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"documents":[]}`, w.Body.String())
}

func TestURLExtractRejectsMissingBody(t *testing.T) {
	router := NewServer(&fakeService{}).Router()
	w := postJSON(t, router, "/url-extractor", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func mustJSON(t *testing.T, s string) string {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return string(b)
}
