package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/linkrisk/internal/fetch"
	"github.com/jonathan/linkrisk/internal/report"
	"github.com/jonathan/linkrisk/internal/scoring"
	"github.com/jonathan/linkrisk/internal/types"
)

// ScoreRequest represents the request body for /score
type ScoreRequest struct {
	URL string `json:"url"`
}

// BatchRequest represents the request body for /batches
type BatchRequest struct {
	URLs []string `json:"urls"`
}

// BatchSummary describes a finished batch.
type BatchSummary struct {
	RunID  string         `json:"run_id"`
	Total  int            `json:"total"`
	Counts map[string]int `json:"counts"`
	Stored bool           `json:"stored"`
	// Warnings carries non-fatal storage errors.
	Warnings []string `json:"warnings,omitempty"`
}

// BatchResponse represents the response for /batches
type BatchResponse struct {
	BatchSummary
	Reports []types.ScoreReport `json:"reports"`
}

// ReportEvent is streamed once per scored URL by /batches/stream
type ReportEvent struct {
	Completed int               `json:"completed"`
	Total     int               `json:"total"`
	Report    types.ScoreReport `json:"report"`
}

// handleScore scores one URL and returns its report. Nothing is stored.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := validateURL("url", req.URL); err != nil {
		s.errorFrom(w, err)
		return
	}

	engine, err := s.newEngine(nil, nil)
	if err != nil {
		s.errorFrom(w, err)
		return
	}
	rep := engine.EvaluateOne(r.Context(), strings.TrimSpace(req.URL))
	s.jsonResponse(w, http.StatusOK, rep)
}

// handleBatch scores a list of URLs and returns every report.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	urls, err := s.decodeBatch(r)
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	engine, err := s.newEngine(s.batchSink(), nil)
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	result, err := engine.EvaluateBatch(r.Context(), urls)
	if result == nil {
		s.errorFrom(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, BatchResponse{
		BatchSummary: s.summarize(result, err),
		Reports:      result.Reports,
	})
}

// handleBatchStream scores a list of URLs and streams each report via SSE
func (s *Server) handleBatchStream(w http.ResponseWriter, r *http.Request) {
	urls, err := s.decodeBatch(r)
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	engine, err := s.newEngine(s.batchSink(), func(event scoring.ProgressEvent) {
		if event.Report == nil {
			return
		}
		if err := sse.WriteEvent("report", ReportEvent{
			Completed: event.Completed,
			Total:     event.Total,
			Report:    *event.Report,
		}); err != nil {
			s.log.Debug().Err(err).Msg("failed to write SSE event")
		}
	})
	if err != nil {
		sse.WriteError(err.Error())
		return
	}

	result, err := engine.EvaluateBatch(r.Context(), urls)
	if result == nil {
		sse.WriteError(err.Error())
		return
	}
	sse.WriteComplete(s.summarize(result, err))
}

// handleRunReports returns the stored reports of one batch run
func (s *Server) handleRunReports(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorFrom(w, ErrStorageDisabled)
		return
	}

	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorFrom(w, &ErrValidation{Field: "id", Message: "invalid run ID format"})
		return
	}

	stored, err := s.store.ListReports(r.Context(), runID)
	if err != nil {
		s.errorFrom(w, err)
		return
	}
	if len(stored) == 0 {
		s.errorFrom(w, &ErrNotFound{What: "run " + runID.String()})
		return
	}

	reports := make([]types.ScoreReport, 0, len(stored))
	for i := range stored {
		rep, err := stored[i].Report()
		if err != nil {
			s.errorFrom(w, err)
			return
		}
		reports = append(reports, *rep)
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"run_id":  runID.String(),
		"reports": reports,
	})
}

// handleLatestReport returns the most recent stored report for ?url=
func (s *Server) handleLatestReport(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorFrom(w, ErrStorageDisabled)
		return
	}

	target := r.URL.Query().Get("url")
	if target == "" {
		s.errorFrom(w, &ErrValidation{Field: "url", Message: "query parameter is required"})
		return
	}

	stored, err := s.store.LatestReport(r.Context(), target)
	if err != nil {
		s.errorFrom(w, err)
		return
	}
	if stored == nil {
		s.errorFrom(w, &ErrNotFound{What: "report for " + target})
		return
	}

	rep, err := stored.Report()
	if err != nil {
		s.errorFrom(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"run_id": stored.RunID.String(),
		"report": rep,
	})
}

// newEngine builds a per-request engine over the shared rule set. Engines are
// cheap; the per-request sink keeps concurrent batches under separate run IDs.
func (s *Server) newEngine(sink report.Sink, onProgress scoring.ProgressCallback) (*scoring.Engine, error) {
	logger := s.log
	return scoring.NewEngine(s.rules, scoring.Options{
		Thresholds: s.thresholds,
		Workers:    s.workers,
		Sink:       sink,
		Logger:     &logger,
		OnProgress: onProgress,
	})
}

// batchSink returns a fresh Postgres sink, or nil without storage.
func (s *Server) batchSink() report.Sink {
	if s.store == nil {
		return nil
	}
	return report.NewPostgresSink(s.store)
}

func (s *Server) decodeBatch(r *http.Request) ([]string, error) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, &ErrValidation{Field: "body", Message: err.Error()}
	}
	if len(req.URLs) == 0 {
		return nil, &ErrValidation{Field: "urls", Message: "at least one URL is required"}
	}
	if len(req.URLs) > s.maxBatchSize {
		return nil, &ErrValidation{Field: "urls", Message: "too many URLs in one batch"}
	}
	urls := make([]string, len(req.URLs))
	for i, u := range req.URLs {
		if err := validateURL("urls", u); err != nil {
			return nil, err
		}
		urls[i] = strings.TrimSpace(u)
	}
	return urls, nil
}

func (s *Server) summarize(result *scoring.BatchResult, err error) BatchSummary {
	counts := make(map[string]int, len(result.Counts))
	for tier, n := range result.Counts {
		counts[tier.String()] = n
	}
	summary := BatchSummary{
		RunID:  result.RunID.String(),
		Total:  len(result.Reports),
		Counts: counts,
		Stored: s.store != nil && err == nil,
	}
	if err != nil {
		summary.Warnings = []string{err.Error()}
	}
	return summary
}

// validateURL accepts absolute http(s) URLs and scheme-less host names.
func validateURL(field, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &ErrValidation{Field: field, Message: "URL is empty"}
	}
	u, err := url.Parse(fetch.WithScheme(raw))
	if err != nil || u.Host == "" {
		return &ErrValidation{Field: field, Message: "invalid URL " + raw}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ErrValidation{Field: field, Message: "unsupported scheme " + u.Scheme}
	}
	return nil
}
