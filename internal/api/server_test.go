package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/logsift/internal/embedder"
	"github.com/dshills/logsift/internal/filelock"
	"github.com/dshills/logsift/internal/logging"
	"github.com/dshills/logsift/internal/miner"
	"github.com/dshills/logsift/internal/pipeline"
	"github.com/dshills/logsift/internal/scheduler"
	"github.com/dshills/logsift/pkg/types"
)

func setupTestServer(t *testing.T, autoIndex bool) (*Server, *pipeline.Pipeline) {
	t.Helper()
	emb, err := embedder.NewLocalProvider(64, nil)
	require.NoError(t, err)

	p, err := pipeline.New(pipeline.Options{
		DataDir:   filepath.Join(t.TempDir(), "data"),
		AutoIndex: autoIndex,
		Scheduler: scheduler.Config{Workers: 2},
		Miner:     miner.DefaultConfig(),
		Lock:      filelock.Options{StaleAfter: time.Minute, RetryInterval: time.Millisecond, Attempts: 5000},
	}, emb, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	return NewServer("127.0.0.1:0", p, logging.Nop()), p
}

func writeUpload(t *testing.T, name, content string) types.UploadedFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return types.UploadedFile{InternalName: name, Path: path, OriginalName: name, Size: int64(len(content))}
}

func do(t *testing.T, s *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	s, _ := setupTestServer(t, false)
	rr := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestScheduleStatusSearch(t *testing.T) {
	s, p := setupTestServer(t, true)
	f := writeUpload(t, "auth.log",
		"2024-03-01T10:00:00 User 1 logged in\n2024-03-01T10:00:01 User 2 logged in\n")

	rr := do(t, s, http.MethodPost, "/api/v1/projects/acme/files", []types.UploadedFile{f})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var scheduled struct {
		Outcomes map[string]string `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &scheduled))
	assert.Equal(t, "scheduled", scheduled.Outcomes["auth.log"])

	p.Wait()

	rr = do(t, s, http.MethodGet, "/api/v1/projects/acme/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var status pipeline.ProjectStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, types.StateIndexed, status.Files["auth.log"].State)
	assert.Equal(t, 1, status.Templates)

	rr = do(t, s, http.MethodGet, "/api/v1/projects/acme/search?q=user+logged+in&top_k=3", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var search struct {
		Results []types.SearchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &search))
	require.Len(t, search.Results, 1)
	assert.Equal(t, "User <NUM> logged in", search.Results[0].Template)
	assert.Equal(t, 2, search.Results[0].Frequency)

	rr = do(t, s, http.MethodGet, "/api/v1/projects/acme/templates?limit=10", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page struct {
		Data    []types.TemplateRecord `json:"data"`
		Total   int                    `json:"total"`
		HasMore bool                   `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	assert.False(t, page.HasMore)
	assert.Equal(t, "auth.log", page.Data[0].Filename)

	rr = do(t, s, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats scheduler.Statistics
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, int32(1), stats.Parsed)
}

func TestIndexEndpoint(t *testing.T) {
	s, p := setupTestServer(t, false)
	f := writeUpload(t, "auth.log", "2024-03-01T10:00:00 User 1 logged in\n")
	other := writeUpload(t, "other.log", "2024-03-01T10:00:00 Cache warmed\n2024-03-01T10:00:01 Link down\n")

	// Not parsed yet
	rr := do(t, s, http.MethodPost, "/api/v1/projects/acme/files/auth.log/index", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, s, http.MethodPost, "/api/v1/projects/acme/files", []types.UploadedFile{f, other})
	require.Equal(t, http.StatusAccepted, rr.Code)
	p.Wait()

	// A client-supplied path is ignored; the recorded upload is used
	rr = do(t, s, http.MethodPost, "/api/v1/projects/acme/files/auth.log/index", map[string]string{"path": other.Path})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"added":1}`, rr.Body.String())

	templates, err := p.Templates(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "User <NUM> logged in", templates[0].Template)

	rr = do(t, s, http.MethodPost, "/api/v1/projects/acme/files/auth.log/index", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"added":0}`, rr.Body.String())
}

func TestBadRequests(t *testing.T) {
	s, _ := setupTestServer(t, false)

	tests := []struct {
		name   string
		method string
		target string
		body   interface{}
		want   int
	}{
		{"empty query", http.MethodGet, "/api/v1/projects/acme/search?q=", nil, http.StatusBadRequest},
		{"bad top_k", http.MethodGet, "/api/v1/projects/acme/search?q=x&top_k=abc", nil, http.StatusBadRequest},
		{"negative top_k", http.MethodGet, "/api/v1/projects/acme/search?q=x&top_k=-1", nil, http.StatusBadRequest},
		{"bad body", http.MethodPost, "/api/v1/projects/acme/files", map[string]string{"x": "y"}, http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/v1/nothing", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestEmptyProjectSearch(t *testing.T) {
	s, _ := setupTestServer(t, false)
	rr := do(t, s, http.MethodGet, "/api/v1/projects/acme/search?q=disk", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"results":[]}`, rr.Body.String())
}

func TestPaginateSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	page, resp := paginateSlice(items, PaginationParams{Limit: 2, Offset: 1})
	assert.Equal(t, []int{2, 3}, page)
	assert.True(t, resp.HasMore)
	assert.Equal(t, 5, resp.Total)

	page, resp = paginateSlice(items, PaginationParams{Limit: 10, Offset: 3})
	assert.Equal(t, []int{4, 5}, page)
	assert.False(t, resp.HasMore)

	page, _ = paginateSlice(items, PaginationParams{Limit: 2, Offset: 9})
	assert.Empty(t, page)
}
