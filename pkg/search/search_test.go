package search

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evagent/evagent/pkg/config"
	"github.com/evagent/evagent/pkg/environment"
)

func TestClient_Search(t *testing.T) {
	t.Parallel()

	var got searchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"answer": "Tesla uses an 800V platform.",
			"results": [
				{"title": "Cybertruck", "url": "https://www.tesla.com/cybertruck", "content": "<p>The <b>800V</b>   architecture</p>", "score": 0.9}
			]
		}`))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", "tvly-1", "", 0, server.Client())
	resp, err := c.Search(t.Context(), Query{Text: "Tesla 800V platform", IncludeDomains: []string{"tesla.com"}})
	require.NoError(t, err)

	assert.Equal(t, "tvly-1", got.APIKey)
	assert.Equal(t, DepthAdvanced, got.SearchDepth)
	assert.Equal(t, 5, got.MaxResults)
	assert.True(t, got.IncludeAnswer)
	assert.Equal(t, []string{"tesla.com"}, got.IncludeDomains)

	assert.Equal(t, "Tesla uses an 800V platform.", resp.Answer)
	require.Len(t, resp.Results, 1)
	assert.NotContains(t, resp.Results[0].Content, "<")
	assert.Contains(t, resp.Results[0].Content, "800V")
}

func TestClient_SearchStatusError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewClient(server.URL, "k", DepthBasic, 3, server.Client())
	_, err := c.Search(t.Context(), Query{Text: "x"})

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.Code)
	assert.Contains(t, statusErr.Body, "quota")
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()

	_, err := New(t.Context(), config.SearchConfig{}, environment.NewMapProvider(nil))
	require.ErrorIs(t, err, ErrNoAPIKey)

	c, err := New(t.Context(), config.SearchConfig{APIKeyEnv: "MY_KEY"}, environment.NewMapProvider(map[string]string{"MY_KEY": "v"}))
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
}

func TestCleanText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "plain text here", CleanText("plain\n text   here"))
	assert.Empty(t, CleanText("   "))
}
