package blacklist

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts.ClientOptions = append(opts.ClientOptions,
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 1000
	}
	client, err := New(context.Background(), opts)
	require.NoError(t, err)
	return client
}

func TestCheck_Listed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "threatMatches:find")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		info := body["threatInfo"].(map[string]any)
		assert.ElementsMatch(t, []any{"MALWARE", "SOCIAL_ENGINEERING"}, info["threatTypes"])
		entries := info["threatEntries"].([]any)
		assert.Equal(t, "http://testsafebrowsing.appspot.com/s/malware.html", entries[0].(map[string]any)["url"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"matches":[{"threatType":"MALWARE","platformType":"ANY_PLATFORM"}]}`))
	}, Options{})

	verdict, err := client.Check(context.Background(), "http://testsafebrowsing.appspot.com/s/malware.html")
	require.NoError(t, err)
	assert.True(t, verdict.Listed)
	assert.Equal(t, []string{"MALWARE"}, verdict.ThreatTypes)
}

func TestCheck_Clean(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}, Options{})

	verdict, err := client.Check(context.Background(), "https://www.google.com")
	require.NoError(t, err)
	assert.False(t, verdict.Listed)
}

func TestCheck_ServerErrorIsAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, Options{})

	_, err := client.Check(context.Background(), "https://www.google.com")
	require.Error(t, err)
	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
}

func TestCheck_QuotaRetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}, Options{MaxRetries: 2, InitialBackoff: 10 * time.Millisecond})

	verdict, err := client.Check(context.Background(), "https://www.google.com")
	require.NoError(t, err)
	assert.False(t, verdict.Listed)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCheck_QuotaExhausted(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, Options{MaxRetries: 1, InitialBackoff: 5 * time.Millisecond})

	_, err := client.Check(context.Background(), "https://www.google.com")
	require.Error(t, err)
	var quotaErr *QuotaError
	require.True(t, errors.As(err, &quotaErr))
	assert.Equal(t, 2, quotaErr.Attempts)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCheck_RateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}, Options{RequestsPerSecond: 20, Burst: 1})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.Check(context.Background(), "https://www.google.com")
		require.NoError(t, err)
	}
	// Three calls at 20/s with burst 1 need at least two refill intervals.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestCheck_ContextCancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Check(ctx, "https://www.google.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheck_QuotaPausesEveryLookup(t *testing.T) {
	var (
		mu         sync.Mutex
		rejectedAt time.Time
		arrivals   []time.Time
	)
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if calls.Add(1) == 1 {
			rejectedAt = time.Now()
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		arrivals = append(arrivals, time.Now())
		_, _ = w.Write([]byte(`{}`))
	}, Options{MaxRetries: 2, InitialBackoff: 10 * time.Millisecond})

	first := make(chan error, 1)
	go func() {
		_, err := client.Check(context.Background(), "http://first.example")
		first <- err
	}()
	require.Eventually(t, func() bool { return client.pauseRemaining() > 0 }, 2*time.Second, 5*time.Millisecond)

	_, err := client.Check(context.Background(), "http://second.example")
	require.NoError(t, err)
	require.NoError(t, <-first)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, arrivals, 2)
	for _, at := range arrivals {
		assert.GreaterOrEqual(t, at.Sub(rejectedAt), 950*time.Millisecond)
	}
}

func TestCheck_QuotaWaitBeyondDeadlineGivesUp(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}, Options{MaxRetries: 3, InitialBackoff: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Check(ctx, "https://www.google.com")

	var quotaErr *QuotaError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, 1, quotaErr.Attempts)
	assert.Equal(t, int32(1), calls.Load())
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Greater(t, client.pauseRemaining(), 20*time.Second)
}
