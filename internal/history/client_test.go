package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/mmchat/realtime/internal/protocol"
)

type staticToken string

func (s staticToken) Token(context.Context, string) (string, error) { return string(s), nil }

func TestFetchBuildsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations/c1/messages", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "m10", r.URL.Query().Get("before"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(Page{Messages: []protocol.WireMessage{{ID: "m8"}, {ID: "m9"}}})
	}))
	defer srv.Close()

	c := New(srv.URL+"/api/conversations", WithTokenSource(staticToken("tok")))
	msgs, err := c.Fetch(context.Background(), Query{UserID: "u1", ConversationID: "c1", Before: "m10", Limit: 50})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m8", msgs[0].ID)
}

func TestFetchWithoutTokenSendsUserID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u1", r.URL.Query().Get("userId"))
		_, _ = w.Write([]byte(`{"messages":[]}`))
	}))
	defer srv.Close()

	msgs, err := New(srv.URL).Fetch(context.Background(), Query{UserID: "u1", ConversationID: "c1"})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"messages":[{"id":"m1"}]}`))
	}))
	defer srv.Close()

	msgs, err := New(srv.URL).Fetch(context.Background(), Query{ConversationID: "c1"})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Fetch(context.Background(), Query{ConversationID: "c1"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Fetch(context.Background(), Query{ConversationID: "c1"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(5), calls.Load())

	_, err = c.Fetch(context.Background(), Query{ConversationID: "c1"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(5), calls.Load())
}
