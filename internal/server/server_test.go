package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/linkrisk/internal/db"
	"github.com/jonathan/linkrisk/internal/server/ratelimit"
	"github.com/jonathan/linkrisk/internal/types"
)

// stubRules flags any URL containing "bad" with an IP and a blacklist hit.
type stubRules struct{}

func (stubRules) Evaluate(_ context.Context, raw string) []types.RuleOutcome {
	outcomes := make([]types.RuleOutcome, 0, len(types.RuleOrder))
	for _, id := range types.RuleOrder {
		o := types.RuleOutcome{RuleID: id, Status: types.StatusOK}
		if strings.Contains(raw, "bad") {
			switch id {
			case types.RuleIPAddress:
				o.Score = 2
			case types.RuleBlacklist:
				o.Score = 4
			}
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// memoryStore implements ReportStore in memory.
type memoryStore struct {
	mu      sync.Mutex
	reports map[uuid.UUID][]db.StoredReport
}

func newMemoryStore() *memoryStore {
	return &memoryStore{reports: make(map[uuid.UUID][]db.StoredReport)}
}

func (m *memoryStore) SaveReport(_ context.Context, runID uuid.UUID, r *types.ScoreReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[runID] = append(m.reports[runID], db.StoredReport{
		RunID:       runID,
		Index:       r.Index,
		URL:         r.URL,
		TotalScore:  r.TotalScore,
		Tier:        r.Tier.String(),
		Outcomes:    r.Outcomes,
		EvaluatedAt: r.EvaluatedAt,
	})
	return nil
}

func (m *memoryStore) ListReports(_ context.Context, runID uuid.UUID) ([]db.StoredReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reports[runID], nil
}

func (m *memoryStore) LatestReport(_ context.Context, url string) (*db.StoredReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, reports := range m.reports {
		for i := range reports {
			if reports[i].URL == url {
				r := reports[i]
				return &r, nil
			}
		}
	}
	return nil, nil
}

func newTestServer(t *testing.T, mutate func(*Options)) *Server {
	t.Helper()
	opts := Options{
		Rules:     stubRules{},
		Workers:   2,
		RateLimit: &ratelimit.Config{Enabled: false},
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(s.rateLimiter.Stop)
	return s
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNew_RequiresRules(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, false, resp["storage"])
}

func TestScoreEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s.Handler(), http.MethodPost, "/score", ScoreRequest{URL: " http://bad.example/login "})
	require.Equal(t, http.StatusOK, w.Code)

	var rep types.ScoreReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, "http://bad.example/login", rep.URL)
	assert.Equal(t, 6, rep.TotalScore)
	assert.Equal(t, types.TierCritical, rep.Tier)
	assert.Len(t, rep.Outcomes, len(types.RuleOrder))
}

func TestScoreEndpoint_Validation(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"empty url", ScoreRequest{URL: ""}},
		{"unsupported scheme", ScoreRequest{URL: "ftp://example.com/file"}},
		{"not json", "just a string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, s.Handler(), http.MethodPost, "/score", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestBatchEndpoint_WithoutStorage(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s.Handler(), http.MethodPost, "/batches", BatchRequest{
		URLs: []string{"http://bad.one", "http://fine.example", "example.org"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Reports, 3)
	for i, rep := range resp.Reports {
		assert.Equal(t, i, rep.Index)
	}
	assert.Equal(t, "http://bad.one", resp.Reports[0].URL)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 1, resp.Counts["Critical"])
	assert.Equal(t, 2, resp.Counts["No risk"])
	assert.False(t, resp.Stored)
	_, err := uuid.Parse(resp.RunID)
	assert.NoError(t, err)
}

func TestBatchEndpoint_Validation(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.MaxBatchSize = 2 })

	w := doJSON(t, s.Handler(), http.MethodPost, "/batches", BatchRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s.Handler(), http.MethodPost, "/batches", BatchRequest{URLs: []string{"http://a", "http://b", "http://c"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "too many URLs")
}

func TestBatchEndpoint_StoresAndServesHistory(t *testing.T) {
	store := newMemoryStore()
	s := newTestServer(t, func(o *Options) { o.Store = store })
	h := s.Handler()

	w := doJSON(t, h, http.MethodPost, "/batches", BatchRequest{URLs: []string{"http://bad.one", "http://fine.example"}})
	require.Equal(t, http.StatusOK, w.Code)

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Stored)

	w = doJSON(t, h, http.MethodGet, "/runs/"+resp.RunID+"/reports", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		RunID   string              `json:"run_id"`
		Reports []types.ScoreReport `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Equal(t, resp.RunID, history.RunID)
	assert.Len(t, history.Reports, 2)

	w = doJSON(t, h, http.MethodGet, "/reports/latest?url=http://bad.one", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_score":6`)

	w = doJSON(t, h, http.MethodGet, "/reports/latest?url=http://never.seen", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, h, http.MethodGet, "/runs/"+uuid.NewString()+"/reports", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, h, http.MethodGet, "/runs/not-a-uuid/reports", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryEndpoints_WithoutStorage(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s.Handler(), http.MethodGet, "/runs/"+uuid.NewString()+"/reports", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, s.Handler(), http.MethodGet, "/reports/latest?url=http://a", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestBatchStreamEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	body, err := json.Marshal(BatchRequest{URLs: []string{"http://bad.one", "http://fine.example"}})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/batches/stream", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	stream := string(data)
	assert.Equal(t, 2, strings.Count(stream, "event: report\n"))
	assert.Equal(t, 1, strings.Count(stream, "event: complete\n"))
	assert.Less(t, strings.LastIndex(stream, "event: report"), strings.Index(stream, "event: complete"))
	assert.Contains(t, stream, `"total":2`)
}

func TestAuth(t *testing.T) {
	tokens := setupTestJWTService(t)
	s := newTestServer(t, func(o *Options) { o.Tokens = tokens })
	h := s.Handler()

	w := doJSON(t, h, http.MethodPost, "/score", ScoreRequest{URL: "http://a.example"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := tokens.GenerateToken("ops")
	require.NoError(t, err)
	w = doJSON(t, h, http.MethodPost, "/score", ScoreRequest{URL: "http://a.example"}, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(o *Options) {
		o.RateLimit = &ratelimit.Config{
			Enabled:       true,
			DefaultLimit:  1000,
			DefaultWindow: time.Minute,
			EndpointConfigs: []ratelimit.EndpointConfig{
				{Path: "/score", Method: "POST", Limit: 1, Window: time.Hour, Burst: 1},
			},
		}
	})
	h := s.Handler()

	w := doJSON(t, h, http.MethodPost, "/score", ScoreRequest{URL: "http://a.example"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = doJSON(t, h, http.MethodPost, "/score", ScoreRequest{URL: "http://a.example"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s.Handler(), http.MethodOptions, "/score", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.Addr = "127.0.0.1:0" })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(&ErrValidation{Field: "url", Message: "empty"}))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(&ErrNotFound{What: "run"}))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(ErrStorageDisabled))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(io.ErrUnexpectedEOF))
}

func TestSSEWriter_NumbersEvents(t *testing.T) {
	w := httptest.NewRecorder()
	sse, err := NewSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, sse.WriteEvent("report", map[string]int{"completed": 1}))
	sse.WriteComplete(BatchSummary{RunID: "r", Total: 1})

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t,
		"id: 1\nevent: report\ndata: {\"completed\":1}\n\n"+
			"id: 2\nevent: complete\ndata: {\"run_id\":\"r\",\"total\":1,\"counts\":null,\"stored\":false}\n\n",
		w.Body.String())
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"http://example.com", false},
		{"example.com", false},
		{"example.com/login?next=http://evil.test", false},
		{"ftp://example.com/file", true},
		{"   ", true},
		{"http://", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			err := validateURL("url", tt.raw)
			if tt.wantErr {
				var validationErr *ErrValidation
				assert.ErrorAs(t, err, &validationErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}
