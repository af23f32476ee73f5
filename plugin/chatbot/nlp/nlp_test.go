package nlp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]any
		want    *Reply
		wantErr bool
	}{
		{
			name: "full",
			raw:  map[string]any{"status": "success", "message": "hi", "intent": "greeting", "confidence": 0.9, "data": map[string]any{"a": 1.0}},
			want: &Reply{Status: "success", Message: "hi", Intent: "greeting", Confidence: 0.9, Data: map[string]any{"a": 1.0}, UserID: "7"},
		},
		{
			name: "bare message",
			raw:  map[string]any{"message": "hello"},
			want: &Reply{Status: "success", Message: "hello", Intent: DefaultIntent, UserID: "7"},
		},
		{
			name: "error payload",
			raw:  map[string]any{"error": "boom", "message": "x"},
			wantErr: true,
		},
		{
			name:    "no status no message",
			raw:     map[string]any{"data": 1},
			wantErr: true,
		},
		{
			name:    "nil",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw, "7")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrRejected)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPClient(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case messagePath:
			_, _ = w.Write([]byte(`{"message":"We stock cement","intent":"product_search","confidence":0.8}`))
		case clearPath:
			_, _ = w.Write([]byte(`{"success":true}`))
		case healthPath:
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
		case intentsPath:
			_, _ = w.Write([]byte(`{"status":"success"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	client := NewHTTPClient(srv.URL+"/", time.Second)

	reply, err := client.SendMessage(ctx, Request{OwnerID: "7", Text: "cement?"})
	require.NoError(t, err)
	assert.Equal(t, "We stock cement", reply.Message)
	assert.Equal(t, "product_search", reply.Intent)
	assert.Equal(t, "success", reply.Status)
	assert.Equal(t, map[string]any{"message": "cement?", "user_id": "7"}, gotBody)

	ok, err := client.ClearContext(ctx, "7")
	require.NoError(t, err)
	assert.True(t, ok)

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health["status"])

	ok, err = client.UpdateProductIntents(ctx, map[string]any{"id": 3.0, "name": "Cement"}, "update")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "update", gotBody["action"])
}

func TestHTTPClientFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case messagePath:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"down"}`))
		case clearPath:
			_, _ = w.Write([]byte(`not json`))
		case intentsPath:
			_, _ = w.Write([]byte(`{"status":"error"}`))
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	client := NewHTTPClient(srv.URL, time.Second)

	_, err := client.SendMessage(ctx, Request{OwnerID: "7", Text: "hi"})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "503")

	ok, err := client.ClearContext(ctx, "7")
	assert.Error(t, err)
	assert.False(t, ok)

	ok, err = client.UpdateProductIntents(ctx, map[string]any{"id": 1}, "create")
	require.NoError(t, err)
	assert.False(t, ok)

	t.Run("Unreachable", func(t *testing.T) {
		dead := NewHTTPClient("http://127.0.0.1:1", 200*time.Millisecond)
		_, err := dead.SendMessage(ctx, Request{OwnerID: "7", Text: "hi"})
		assert.Error(t, err)
	})
}

func completionServer(t *testing.T, content string, seen *[]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Messages []map[string]any `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if seen != nil {
			*seen = body.Messages
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient(t *testing.T) {
	ctx := context.Background()

	t.Run("JSONReply", func(t *testing.T) {
		var seen []map[string]any
		srv := completionServer(t, "```json\n{\"message\":\"Try Portland cement\",\"intent\":\"product_search\",\"confidence\":0.75}\n```", &seen)
		client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", MaxHistory: 2})

		reply, err := client.SendMessage(ctx, Request{
			OwnerID: "7",
			Text:    "cement",
			History: []Turn{{Text: "old", IsUser: true}, {Text: "hello", IsUser: true}, {Text: "hi!", IsUser: false}},
		})
		require.NoError(t, err)
		assert.Equal(t, "Try Portland cement", reply.Message)
		assert.Equal(t, "product_search", reply.Intent)
		assert.InDelta(t, 0.75, reply.Confidence, 1e-9)

		// system + two most recent turns + the message
		require.Len(t, seen, 4)
		assert.Equal(t, "system", seen[0]["role"])
		assert.Equal(t, "hello", seen[1]["content"])
		assert.Equal(t, "assistant", seen[2]["role"])
		assert.Equal(t, "cement", seen[3]["content"])
	})

	t.Run("ProseReply", func(t *testing.T) {
		srv := completionServer(t, "Sure, we have bricks.", nil)
		client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"})

		reply, err := client.SendMessage(ctx, Request{OwnerID: "7", Text: "bricks"})
		require.NoError(t, err)
		assert.Equal(t, "Sure, we have bricks.", reply.Message)
		assert.Equal(t, DefaultIntent, reply.Intent)
	})

	t.Run("ProductIntents", func(t *testing.T) {
		var seen []map[string]any
		srv := completionServer(t, `{"message":"ok"}`, &seen)
		client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"})

		ok, err := client.UpdateProductIntents(ctx, map[string]any{"id": 1.0, "name": "Rebar"}, "create")
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = client.SendMessage(ctx, Request{OwnerID: "7", Text: "steel"})
		require.NoError(t, err)
		assert.Contains(t, seen[0]["content"], "Rebar")

		_, err = client.UpdateProductIntents(ctx, map[string]any{"id": 1.0}, "delete")
		require.NoError(t, err)
		health, err := client.Health(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, health["known_products"])

		_, err = client.UpdateProductIntents(ctx, map[string]any{}, "create")
		assert.Error(t, err)
	})

	t.Run("ClearContext", func(t *testing.T) {
		client := NewOpenAIClient(OpenAIConfig{APIKey: "k"})
		ok, err := client.ClearContext(ctx, "7")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
