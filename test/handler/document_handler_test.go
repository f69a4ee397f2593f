package handler_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragkb/internal/pkg/errcode"
)

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"message"`
	Data json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	var out envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return resp, out
}

func doUpload(t *testing.T, router http.Handler, path, filename string, data []byte, fields map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	var out envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return resp, out
}

func TestDocumentLifecycle(t *testing.T) {
	env := setupRouter(t)

	resp, out := doJSON(t, env.router, http.MethodPost, "/api/v1/documents", map[string]interface{}{
		"content":        "If a fire starts, leave by the stairs.",
		"title":          "Fire exits",
		"category":       "Fire",
		"emergency_type": "fire",
		"tags":           []string{"building"},
	})
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, 0, out.Code)
	var created struct {
		IDs []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &created))
	require.Len(t, created.IDs, 1)
	id := created.IDs[0]

	resp, out = doJSON(t, env.router, http.MethodGet, "/api/v1/documents?limit=10&category=Fire", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var listed struct {
		Items []struct {
			ID    string   `json:"id"`
			Title string   `json:"title"`
			Tags  []string `json:"tags"`
		} `json:"items"`
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &listed))
	require.EqualValues(t, 1, listed.Total)
	require.Equal(t, "Fire exits", listed.Items[0].Title)

	resp, out = doJSON(t, env.router, http.MethodPut, "/api/v1/documents/"+id, map[string]interface{}{"title": "Fire exits v2"})
	require.Equal(t, http.StatusOK, resp.Code)
	var updated struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &updated))
	require.Equal(t, "Fire exits v2", updated.Title)
	require.Equal(t, "If a fire starts, leave by the stairs.", updated.Content)

	resp, out = doJSON(t, env.router, http.MethodDelete, "/api/v1/documents/"+id, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"deleted":true}`, string(out.Data))

	resp, out = doJSON(t, env.router, http.MethodDelete, "/api/v1/documents/"+id, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"deleted":false,"reason":"not_found"}`, string(out.Data))

	resp, out = doJSON(t, env.router, http.MethodGet, "/api/v1/documents/"+id, nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
	require.Equal(t, errcode.ErrNotFound, out.Code)
}

func TestDocumentCreateRejectsEmpty(t *testing.T) {
	env := setupRouter(t)
	resp, out := doJSON(t, env.router, http.MethodPost, "/api/v1/documents", map[string]string{"content": "  \n "})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, errcode.ErrInvalid, out.Code)
	require.NotEmpty(t, out.Msg)
}

func TestDocumentListRejectsBadPaging(t *testing.T) {
	env := setupRouter(t)
	resp, out := doJSON(t, env.router, http.MethodGet, "/api/v1/documents?limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, errcode.ErrInvalid, out.Code)
}

func TestDocumentUploadAndValidate(t *testing.T) {
	env := setupRouter(t)

	resp, out := doUpload(t, env.router, "/api/v1/documents/validate", "virus.exe", []byte("MZ"), nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var check struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &check))
	require.False(t, check.Valid)
	require.NotEmpty(t, check.Error)

	resp, out = doUpload(t, env.router, "/api/v1/documents/upload", "flood-plan.md",
		[]byte("# Flood plan\n\nMove valuables upstairs before the flood arrives."),
		map[string]string{"category": "Flood", "tags": "plan, home", "metadata": `{"region":"north"}`})
	require.Equal(t, http.StatusOK, resp.Code, out.Msg)
	var created struct {
		IDs []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &created))
	require.Len(t, created.IDs, 1)

	doc, err := env.store.Get(t.Context(), created.IDs[0])
	require.NoError(t, err)
	require.Equal(t, "flood-plan", doc.Title)
	require.Equal(t, "Flood", doc.Category)
	require.Equal(t, []string{"plan", "home"}, doc.Tags)
	require.Equal(t, "north", doc.Metadata["region"])
	require.Equal(t, "flood-plan.md", doc.Metadata["source_name"])
	require.Equal(t, "keyword-v1", doc.EmbeddingModel)

	entries, err := os.ReadDir(env.filesDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	resp, out = doUpload(t, env.router, "/api/v1/documents/upload", "", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, errcode.ErrInvalidFile, out.Code)

	resp, out = doUpload(t, env.router, "/api/v1/documents/upload", "setup.exe", []byte("MZ"), nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, errcode.ErrUnsupportedFileType, out.Code)
}

func TestHealth(t *testing.T) {
	env := setupRouter(t)
	resp, out := doJSON(t, env.router, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"status":"ok","store":"memory","retrieval":"vector"}`, string(out.Data))
	require.NotEmpty(t, resp.Header().Get("X-Request-Id"))
}
