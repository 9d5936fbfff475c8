package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRequest_DecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"id": 7}`))
	}))
	defer srv.Close()

	var out struct {
		ID int `json:"id"`
	}
	err := SendRequest(context.Background(), srv.Client(), Request{
		Method:  http.MethodPost,
		URL:     srv.URL,
		Headers: map[string]string{"X-Api-Key": "secret"},
		Body:    map[string]string{"name": "x"},
	}, &out)

	require.NoError(t, err)
	assert.Equal(t, 7, out.ID)
}

func TestSendRequest_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var out map[string]any
	err := SendRequest(context.Background(), srv.Client(), Request{Method: http.MethodDelete, URL: srv.URL}, &out)
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestSendRequest_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":"VALIDATION","message":"bad name"}`))
	}))
	defer srv.Close()

	err := SendRequest(context.Background(), srv.Client(), Request{Method: http.MethodGet, URL: srv.URL}, nil)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusUnprocessableEntity, upstream.StatusCode)
	assert.Contains(t, string(upstream.Body), "bad name")
	assert.Equal(t, http.StatusUnprocessableEntity, StatusCode(err))
	assert.Equal(t, 0, StatusCode(assert.AnError))
}
