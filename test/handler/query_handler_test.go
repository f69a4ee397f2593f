package handler_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragkb/internal/pkg/errcode"
)

type answerPayload struct {
	Answer  string `json:"answer"`
	Sources []struct {
		ID         string   `json:"id"`
		Title      string   `json:"title"`
		Similarity *float32 `json:"similarity"`
	} `json:"sources"`
}

func TestQueryAnswersFromContext(t *testing.T) {
	env := setupRouter(t)
	for _, doc := range []map[string]string{
		{"content": "If a fire starts, leave by the stairs.", "title": "Fire exits"},
		{"content": "After a quake, check gas lines.", "title": "Quake checks"},
	} {
		resp, _ := doJSON(t, env.router, http.MethodPost, "/api/v1/documents", doc)
		require.Equal(t, http.StatusOK, resp.Code)
	}

	resp, out := doJSON(t, env.router, http.MethodPost, "/api/v1/query", map[string]interface{}{"query": "What do I do in a fire?"})
	require.Equal(t, http.StatusOK, resp.Code, out.Msg)
	var ans answerPayload
	require.NoError(t, json.Unmarshal(out.Data, &ans))
	require.Equal(t, "Use the stairs, not the elevator.", ans.Answer)
	require.Len(t, ans.Sources, 1)
	require.Equal(t, "Fire exits", ans.Sources[0].Title)
	require.NotNil(t, ans.Sources[0].Similarity)
	require.Contains(t, env.generator.lastPrompt(), "leave by the stairs")
}

func TestQueryWithoutContext(t *testing.T) {
	env := setupRouter(t)
	resp, out := doJSON(t, env.router, http.MethodPost, "/api/v1/query", map[string]interface{}{
		"query":   "Where is the flood shelter?",
		"filters": map[string]string{"category": "Shelter"},
	})
	require.Equal(t, http.StatusOK, resp.Code)
	var ans answerPayload
	require.NoError(t, json.Unmarshal(out.Data, &ans))
	require.NotEmpty(t, ans.Answer)
	require.NotNil(t, ans.Sources)
	require.Empty(t, ans.Sources)
	require.NotContains(t, env.generator.lastPrompt(), "CONTEXT")
}

func TestQueryRejectsBlank(t *testing.T) {
	env := setupRouter(t)
	resp, out := doJSON(t, env.router, http.MethodPost, "/api/v1/query", map[string]string{"query": "   "})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, errcode.ErrInvalid, out.Code)

	resp, out = doJSON(t, env.router, http.MethodPost, "/api/v1/query", map[string]interface{}{"query": "fire", "threshold": 2})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, errcode.ErrInvalid, out.Code)
}
