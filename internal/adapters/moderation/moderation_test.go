package moderation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllowAllAlwaysAllows(t *testing.T) {
	v, err := AllowAll{}.Check(context.Background(), "anything")
	require.NoError(t, err)
	require.True(t, v.Allowed)
}

func TestHTTPFilterParsesAllowVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "is this safe?", req.Text)
		_ = json.NewEncoder(w).Encode(classifyResponse{Allow: true})
	}))
	defer srv.Close()

	f := NewHTTPFilter(srv.URL)
	v, err := f.Check(context.Background(), "is this safe?")
	require.NoError(t, err)
	require.True(t, v.Allowed)
}

func TestHTTPFilterParsesBlockVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(classifyResponse{Allow: false, Reason: "unsafe content"})
	}))
	defer srv.Close()

	f := NewHTTPFilter(srv.URL)
	v, err := f.Check(context.Background(), "bad query")
	require.NoError(t, err)
	require.False(t, v.Allowed)
	require.Equal(t, "unsafe content", v.Reason)
}

func TestHTTPFilterNonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewHTTPFilter(srv.URL)
	_, err := f.Check(context.Background(), "query")
	require.Error(t, err)
}
