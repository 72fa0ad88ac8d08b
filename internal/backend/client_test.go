package backend

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturedRequest struct {
	method      string
	contentType string
	body        string
}

type recordingBackend struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	body     string
}

func (b *recordingBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	b.requests = append(b.requests, capturedRequest{
		method:      r.Method,
		contentType: r.Header.Get("Content-Type"),
		body:        string(payload),
	})
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.status)
	_, _ = io.WriteString(w, b.body)
}

func (b *recordingBackend) Requests() []capturedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]capturedRequest(nil), b.requests...)
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.district.in"
	}
	c, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestClientFetchPostsBaseURL(t *testing.T) {
	t.Parallel()

	backend := &recordingBackend{status: http.StatusOK, body: `[{"title":"A"}]`}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	client := newTestClient(t, Config{ConnectTimeout: time.Second, ReadTimeout: 5 * time.Second})
	body, err := client.Fetch(context.Background(), srv.URL+"/scrape")
	require.NoError(t, err)
	require.JSONEq(t, `[{"title":"A"}]`, string(body))

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, http.MethodPost, reqs[0].method)
	require.Equal(t, "application/json", reqs[0].contentType)
	require.JSONEq(t, `{"baseUrl":"https://www.district.in"}`, reqs[0].body)
}

func TestClientFetchAllowsRepeatCalls(t *testing.T) {
	t.Parallel()

	backend := &recordingBackend{status: http.StatusOK, body: `[]`}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	client := newTestClient(t, Config{ReadTimeout: 5 * time.Second})
	for range 3 {
		_, err := client.Fetch(context.Background(), srv.URL+"/scrape")
		require.NoError(t, err)
	}
	require.Len(t, backend.Requests(), 3)
}

func TestClientFetchNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&recordingBackend{status: http.StatusBadGateway, body: `upstream down`})
	defer srv.Close()

	client := newTestClient(t, Config{ReadTimeout: 5 * time.Second})
	body, err := client.Fetch(context.Background(), srv.URL+"/scrape")
	require.Nil(t, body)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestClientFetchEmptyBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&recordingBackend{status: http.StatusOK})
	defer srv.Close()

	client := newTestClient(t, Config{ReadTimeout: 5 * time.Second})
	_, err := client.Fetch(context.Background(), srv.URL+"/scrape")
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestClientFetchReadTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	client := newTestClient(t, Config{ConnectTimeout: time.Second, ReadTimeout: 150 * time.Millisecond})
	start := time.Now()
	body, err := client.Fetch(context.Background(), srv.URL+"/scrape")
	require.Error(t, err)
	require.Nil(t, body)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestClientFetchConnectionRefused(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client := newTestClient(t, Config{ConnectTimeout: 500 * time.Millisecond, ReadTimeout: time.Second})
	_, err = client.Fetch(context.Background(), "http://"+addr+"/scrape")
	require.Error(t, err)
}

func TestClientFetchContextCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	client := newTestClient(t, Config{ReadTimeout: 2 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Fetch(ctx, srv.URL+"/scrape")
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestStatusErrorMessage(t *testing.T) {
	t.Parallel()

	err := &StatusError{URL: "http://localhost:3000/scrape", StatusCode: http.StatusServiceUnavailable}
	require.Equal(t, "backend http://localhost:3000/scrape responded 503 Service Unavailable", err.Error())
}
