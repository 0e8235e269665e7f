package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metricgate/internal/catalog"
	"metricgate/internal/domain"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]domain.CatalogEntry{
		{Name: "complaints", Kind: domain.KindMetric},
		{Name: "ward", Kind: domain.KindDimension},
	})
	require.NoError(t, err)
	return cat
}

func chatServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGeneratePlan(t *testing.T) {
	cat := testCatalog(t)

	var gotReq chatRequest
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		content := `{"metrics":["complaints"],"dimensions":["ward"],"limit":200}`
		_ = json.NewEncoder(w).Encode(chatResponse{
			Message: chatMessage{Role: "assistant", Content: content},
		})
	})

	c := NewClient(Config{BaseURL: srv.URL, Model: "test-model"}, nil)
	plan, err := c.GeneratePlan(context.Background(), "complaints by ward", cat, 200)
	require.NoError(t, err)

	assert.Equal(t, []string{"complaints"}, plan.Metrics)
	assert.Equal(t, []string{"ward"}, plan.Dimensions)
	require.NotNil(t, plan.Limit)
	assert.Equal(t, 200, *plan.Limit)

	// Request shape: JSON mode, no streaming, catalog inlined in the prompt.
	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, "json", gotReq.Format)
	assert.False(t, gotReq.Stream)
	require.Len(t, gotReq.Messages, 2)
	assert.Contains(t, gotReq.Messages[0].Content, "complaints")
	assert.Contains(t, gotReq.Messages[0].Content, "ward")
	assert.Contains(t, gotReq.Messages[0].Content, "Do NOT output SQL")
	assert.Equal(t, "complaints by ward", gotReq.Messages[1].Content)
}

func TestGeneratePlan_FilterValueShapes(t *testing.T) {
	cat := testCatalog(t)

	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		content := `{"metrics":["complaints"],"filters":[
			{"dimension":"ward","op":"=","value":"A"},
			{"dimension":"ward","op":"IN","value":["A","B"]}
		]}`
		_ = json.NewEncoder(w).Encode(chatResponse{Message: chatMessage{Content: content}})
	})

	c := NewClient(Config{BaseURL: srv.URL, Model: "m"}, nil)
	plan, err := c.GeneratePlan(context.Background(), "q", cat, 200)
	require.NoError(t, err)

	require.Len(t, plan.Filters, 2)
	assert.False(t, plan.Filters[0].Value.IsList)
	assert.Equal(t, "A", plan.Filters[0].Value.Scalar)
	assert.True(t, plan.Filters[1].Value.IsList)
	assert.Equal(t, []string{"A", "B"}, plan.Filters[1].Value.List)
}

func TestGeneratePlan_Errors(t *testing.T) {
	cat := testCatalog(t)

	t.Run("non_json_content", func(t *testing.T) {
		srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(chatResponse{
				Message: chatMessage{Content: "SELECT * FROM complaints"},
			})
		})
		c := NewClient(Config{BaseURL: srv.URL, Model: "m"}, nil)

		_, err := c.GeneratePlan(context.Background(), "q", cat, 200)
		var pErr *domain.PlanGenerationError
		require.ErrorAs(t, err, &pErr)
		assert.Contains(t, pErr.Message, "not a valid plan")
	})

	t.Run("model_error_field", func(t *testing.T) {
		srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(chatResponse{Error: "model not found"})
		})
		c := NewClient(Config{BaseURL: srv.URL, Model: "m"}, nil)

		_, err := c.GeneratePlan(context.Background(), "q", cat, 200)
		var pErr *domain.PlanGenerationError
		require.ErrorAs(t, err, &pErr)
		assert.Contains(t, pErr.Message, "model not found")
	})

	t.Run("http_error_status", func(t *testing.T) {
		srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		})
		c := NewClient(Config{BaseURL: srv.URL, Model: "m"}, nil)

		_, err := c.GeneratePlan(context.Background(), "q", cat, 200)
		var pErr *domain.PlanGenerationError
		require.ErrorAs(t, err, &pErr)
		assert.Contains(t, pErr.Message, "status 503")
	})

	t.Run("unreachable", func(t *testing.T) {
		c := NewClient(Config{BaseURL: "http://127.0.0.1:1", Model: "m"}, nil)
		_, err := c.GeneratePlan(context.Background(), "q", cat, 200)
		var pErr *domain.PlanGenerationError
		require.ErrorAs(t, err, &pErr)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(500 * time.Millisecond)
		})
		c := NewClient(Config{BaseURL: srv.URL, Model: "m", Timeout: 50 * time.Millisecond}, nil)

		_, err := c.GeneratePlan(context.Background(), "q", cat, 200)
		var pErr *domain.PlanGenerationError
		require.ErrorAs(t, err, &pErr)
		assert.Contains(t, pErr.Message, "timed out")
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcde...", truncate("abcdefgh", 5))
}
