package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/gen"
)

func completionServer(t *testing.T, reply string, capture *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		resp := chatResponse{}
		resp.Choices = append(resp.Choices, struct {
			Message Message `json:"message"`
		}{Message: Message{Role: "assistant", Content: reply}})
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestComplete(t *testing.T) {
	var gotReq chatRequest
	srv := completionServer(t, "an enhanced prompt", &gotReq)
	defer srv.Close()

	c := NewClient(srv.URL+"/v1", "key", "gpt-4o-mini")
	reply, err := c.Complete(context.Background(), []Message{
		{Role: "system", Content: "you are a critic"},
		{Role: "user", Content: "prompt"},
	})
	require.NoError(t, err)

	assert.Equal(t, "an enhanced prompt", reply)
	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
}

func TestCompleteTrailingSlashBaseURL(t *testing.T) {
	srv := completionServer(t, "ok", nil)
	defer srv.Close()

	c := NewClient(srv.URL+"/v1/", "key", "m")
	reply, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
}

func TestCompleteNoMessages(t *testing.T) {
	c := NewClient("http://unused", "", "m")
	_, err := c.Complete(context.Background(), nil)
	assert.True(t, gen.IsPermanent(err))
}

func TestCompleteErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := NewClient(srv.URL, "", "m")
		_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "x"}})
		srv.Close()

		require.Error(t, err, "status %d", tt.status)
		assert.Equal(t, tt.transient, gen.IsTransient(err), "status %d", tt.status)
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "m")
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "x"}})
	assert.True(t, gen.IsTransient(err))
	assert.ErrorContains(t, err, "no choices")
}
