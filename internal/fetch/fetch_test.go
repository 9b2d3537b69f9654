package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient() *Client {
	return New(WithBackoffBase(10*time.Millisecond), WithTimeout(5*time.Second))
}

func TestFetchSuccess(t *testing.T) {
	var gotUA atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		w.Write([]byte("<html>ok</html>"))
	}))
	defer server.Close()

	result, err := testClient().Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Body != "<html>ok</html>" {
		t.Errorf("unexpected body: %q", result.Body)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("unexpected status: %d", result.StatusCode)
	}
	if ua := gotUA.Load(); ua != DefaultUserAgent {
		t.Errorf("unexpected User-Agent: %v", ua)
	}
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer server.Close()

	start := time.Now()
	result, err := testClient().Fetch(context.Background(), server.URL)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Body != "recovered" {
		t.Errorf("unexpected body: %q", result.Body)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	// Two failed attempts with base 10ms: waits of 10ms + 20ms minimum.
	if elapsed < 30*time.Millisecond {
		t.Errorf("expected backoff of at least 30ms, elapsed %v", elapsed)
	}
}

func TestBackoffWaitsGrowAsBaseToThePower(t *testing.T) {
	tests := []struct {
		name  string
		base  time.Duration
		waits []time.Duration
	}{
		{
			name:  "2s base",
			base:  2 * time.Second,
			waits: []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
		},
		{
			name:  "3s base",
			base:  3 * time.Second,
			waits: []time.Duration{3 * time.Second, 9 * time.Second, 27 * time.Second},
		},
		{
			name:  "sub-second base stays flat",
			base:  10 * time.Millisecond,
			waits: []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bo := New(WithBackoffBase(tt.base)).newBackOff()
			// backoff.Retry resets before the first attempt.
			bo.Reset()
			for i, want := range tt.waits {
				if got := bo.NextBackOff(); got != want {
					t.Errorf("wait %d: expected %v, got %v", i+1, want, got)
				}
			}
		})
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := testClient().Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var terminal *TerminalError
	if !errors.As(err, &terminal) {
		t.Fatalf("expected TerminalError, got %T", err)
	}
	if terminal.StatusCode != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", terminal.StatusCode)
	}
	// Initial attempt plus DefaultMaxRetries retries.
	if got := calls.Load(); got != int32(DefaultMaxRetries)+1 {
		t.Errorf("expected %d attempts, got %d", DefaultMaxRetries+1, got)
	}
}

func TestFetch404FailsFast(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := testClient().Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := StatusCode(err); got != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", got)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("404 must not be retried, got %d attempts", got)
	}
}

func TestFetchFollowsRedirectsAndReportsFinalURL(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/landing", http.StatusFound)
	})
	mux.HandleFunc("/landing", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("landing page content"))
	})

	result, err := testClient().Fetch(context.Background(), server.URL+"/start")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FinalURL != server.URL+"/landing" {
		t.Errorf("expected final URL %s/landing, got %s", server.URL, result.FinalURL)
	}
}

func TestFetchOpenCloseLifecycle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pooled"))
	}))
	defer server.Close()

	client := testClient()
	client.Open()
	defer client.Close()

	for i := 0; i < 3; i++ {
		result, err := client.Fetch(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("fetch %d failed: %v", i, err)
		}
		if result.Body != "pooled" {
			t.Errorf("fetch %d unexpected body: %q", i, result.Body)
		}
	}

	client.Close()
	// Lifecycle-less fetch after Close still works.
	if _, err := client.Fetch(context.Background(), server.URL); err != nil {
		t.Fatalf("fetch after Close failed: %v", err)
	}
}
