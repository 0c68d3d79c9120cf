package vespa

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eltociear/marqo/internal/errors"
)

func newTestClient(server *httptest.Server) *Client {
	return NewClient(server.URL, server.URL, server.URL, 10)
}

func TestQuery_FormEncoding(t *testing.T) {
	var captured map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		captured = map[string]string{}
		for key := range r.Form {
			captured[key] = r.Form.Get(key)
		}
		_ = json.NewEncoder(w).Encode(QueryResult{})
	}))
	defer server.Close()

	client := newTestClient(server)
	defer client.Close()

	_, err := client.Query(context.Background(),
		"select * from films_1 where true", 15, "bm25", "films_1", "all-non-vector-summary",
		map[string]any{"marqo__query_embedding": []float32{1, 2}},
		map[string]string{"marqo__lexical_or": "space alien"})
	require.NoError(t, err)

	assert.Equal(t, "select * from films_1 where true", captured["yql"])
	assert.Equal(t, "15", captured["hits"])
	assert.Equal(t, "bm25", captured["ranking"])
	assert.Equal(t, "films_1", captured["model.restrict"])
	assert.Equal(t, "all-non-vector-summary", captured["presentation.summary"])
	assert.Equal(t, "[1,2]", captured["input.query(marqo__query_embedding)"])
	assert.Equal(t, "space alien", captured["marqo__lexical_or"])
}

func TestFeedBatch_ResponsesInInputOrder(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := inFlight.Add(1)
		for {
			observed := maxInFlight.Load()
			if current <= observed || maxInFlight.CompareAndSwap(observed, current) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": r.URL.Path})
	}))
	defer server.Close()

	client := newTestClient(server)
	defer client.Close()

	batch := make([]Document, 20)
	for i := range batch {
		batch[i] = Document{ID: fmt.Sprintf("doc%02d", i), Fields: map[string]any{"n": i}}
	}

	resp := client.FeedBatch(context.Background(), batch, "films_1", 5, time.Second)
	require.Len(t, resp.Responses, 20)
	assert.False(t, resp.Errors)
	for i, r := range resp.Responses {
		assert.Contains(t, r.ID, fmt.Sprintf("doc%02d", i), "responses must be in input order")
	}
	assert.LessOrEqual(t, maxInFlight.Load(), int32(5), "feed concurrency must be bounded")
}

func TestFeedBatch_ErrorsDoNotAbortBatch(t *testing.T) {
	var count atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if count.Add(1)%2 == 0 {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "boom"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "ok"})
	}))
	defer server.Close()

	client := newTestClient(server)
	defer client.Close()

	batch := []Document{
		{ID: "a", Fields: map[string]any{}},
		{ID: "b", Fields: map[string]any{}},
		{ID: "c", Fields: map[string]any{}},
		{ID: "d", Fields: map[string]any{}},
	}
	resp := client.FeedBatch(context.Background(), batch, "s", 2, time.Second)
	require.Len(t, resp.Responses, 4)
	assert.True(t, resp.Errors)
}

func TestFeedBatch_Empty(t *testing.T) {
	client := NewClient("http://unused", "http://unused", "http://unused", 1)
	defer client.Close()

	resp := client.FeedBatch(context.Background(), nil, "s", 10, time.Second)
	assert.Empty(t, resp.Responses)
	assert.False(t, resp.Errors)
}

func TestDeploy_InvalidApplicationMapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error-code": "INVALID_APPLICATION_PACKAGE",
			"message":    "schema broke",
		})
	}))
	defer server.Close()

	client := newTestClient(server)
	defer client.Close()

	err := client.DeployApplication(context.Background(), t.TempDir(), time.Second)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidApplication, errors.CodeOf(err))
}

func TestRaiseForStatus_NonJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer server.Close()

	client := newTestClient(server)
	defer client.Close()

	_, err := client.Query(context.Background(), "select", 1, "", "", "", nil, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBackendStatus, errors.CodeOf(err))

	marqoErr, ok := err.(*errors.MarqoError)
	require.True(t, ok)
	assert.Equal(t, "502", marqoErr.Details["status"])
}

func TestGetDocument_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server)
	defer client.Close()

	_, err := client.GetDocument(context.Background(), "missing", "films_1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDocumentNotFound, errors.CodeOf(err))
}

func TestGetAllDocuments_Continuation(t *testing.T) {
	var mu sync.Mutex
	var seenContinuations []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seenContinuations = append(seenContinuations, r.URL.Query().Get("continuation"))
		mu.Unlock()

		response := BatchGetDocumentResponse{
			Documents:     []VisitedDocument{{ID: "id:films_1:films_1::doc1"}},
			DocumentCount: 1,
		}
		if r.URL.Query().Get("continuation") == "" {
			response.Continuation = "token1"
		}
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := newTestClient(server)
	defer client.Close()

	first, err := client.GetAllDocuments(context.Background(), "films_1", true, "")
	require.NoError(t, err)
	assert.Equal(t, "token1", first.Continuation)

	second, err := client.GetAllDocuments(context.Background(), "films_1", true, first.Continuation)
	require.NoError(t, err)
	assert.Empty(t, second.Continuation)

	assert.Equal(t, []string{"", "token1"}, seenContinuations)
}
