package scoring

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/linkrisk/internal/blacklist"
	"github.com/jonathan/linkrisk/internal/fetch"
	"github.com/jonathan/linkrisk/internal/ledger"
	"github.com/jonathan/linkrisk/internal/report"
	"github.com/jonathan/linkrisk/internal/rules"
	"github.com/jonathan/linkrisk/internal/search"
	"github.com/jonathan/linkrisk/internal/types"
)

// countingGetter counts page fetches. Without a body every fetch fails.
type countingGetter struct {
	calls atomic.Int32
	delay time.Duration
	body  string
}

func (g *countingGetter) Fetch(ctx context.Context, urlStr string) *fetch.Result {
	g.calls.Add(1)
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return &fetch.Result{RequestURL: urlStr, Err: ctx.Err()}
		}
	}
	if g.body == "" {
		return &fetch.Result{RequestURL: urlStr, Err: errors.New("network unreachable")}
	}
	return &fetch.Result{RequestURL: urlStr, FinalURL: urlStr, StatusCode: http.StatusOK, Body: []byte(g.body)}
}

type countingChecker struct {
	calls atomic.Int32
	err   error
}

func (c *countingChecker) Check(context.Context, string) (blacklist.Verdict, error) {
	c.calls.Add(1)
	return blacklist.Verdict{}, c.err
}

func newRuleSet(t *testing.T, getter fetch.Getter, checker *countingChecker, timeout time.Duration) *rules.RuleSet {
	t.Helper()
	rs, err := rules.Default(rules.Deps{
		Fetcher:     getter,
		Engines:     []search.Engine{},
		Blacklist:   checker,
		Weights:     rules.DefaultWeights(),
		RuleTimeout: timeout,
	})
	require.NoError(t, err)
	return rs
}

func assertWellFormed(t *testing.T, th Thresholds, r types.ScoreReport) {
	t.Helper()
	require.Len(t, r.Outcomes, len(types.RuleOrder))
	for i, o := range r.Outcomes {
		assert.Equal(t, types.RuleOrder[i], o.RuleID)
		assert.NotEmpty(t, o.Status)
	}
	assert.Equal(t, types.SumScores(r.Outcomes), r.TotalScore)
	assert.Equal(t, th.Classify(r.TotalScore), r.Tier)
}

func TestEvaluateOne_TotalOutage(t *testing.T) {
	getter := &countingGetter{}
	checker := &countingChecker{err: errors.New("dns failure")}
	engine, err := NewEngine(newRuleSet(t, getter, checker, time.Second), Options{})
	require.NoError(t, err)

	rep := engine.EvaluateOne(context.Background(), "http://192.168.1.1/login")
	assertWellFormed(t, engine.Thresholds(), rep)

	// reachability 1, domain 1, keyword 1, ip 2, special 1, blacklist 0, password 0, meta refresh 2
	assert.Equal(t, 8, rep.TotalScore)
	assert.Equal(t, types.TierCritical, rep.Tier)
	assert.Equal(t, int32(1), getter.calls.Load())
}

func TestEvaluateBatch_SkipsLedgerURLsWithoutNetwork(t *testing.T) {
	getter := &countingGetter{}
	checker := &countingChecker{}
	store := ledger.NewMemory("http://done.com")
	collector := &report.Collector{}

	engine, err := NewEngine(newRuleSet(t, getter, checker, time.Second), Options{
		Ledger: store,
		Sink:   collector,
	})
	require.NoError(t, err)

	res, err := engine.EvaluateBatch(context.Background(), []string{"http://done.com"})
	require.NoError(t, err)
	assert.Empty(t, res.Reports)
	assert.Equal(t, []string{"http://done.com"}, res.Skipped)
	assert.Zero(t, getter.calls.Load())
	assert.Zero(t, checker.calls.Load())
	assert.Empty(t, collector.Reports)
}

func TestEvaluateBatch_RecordsLedgerAndIsIdempotent(t *testing.T) {
	getter := &countingGetter{}
	checker := &countingChecker{}
	store := ledger.NewMemory()

	engine, err := NewEngine(newRuleSet(t, getter, checker, time.Second), Options{Ledger: store})
	require.NoError(t, err)

	urls := []string{"http://a.com", "http://b.com"}
	first, err := engine.EvaluateBatch(context.Background(), urls)
	require.NoError(t, err)
	assert.Len(t, first.Reports, 2)
	assert.Equal(t, 2, store.Len())

	fetches := getter.calls.Load()
	second, err := engine.EvaluateBatch(context.Background(), urls)
	require.NoError(t, err)
	assert.Empty(t, second.Reports)
	assert.Equal(t, urls, second.Skipped)
	assert.Equal(t, fetches, getter.calls.Load())
	assert.NotEqual(t, first.RunID, second.RunID)
}

// stubEvaluator counts evaluations.
type stubEvaluator struct {
	inner Evaluator
	calls atomic.Int32
}

func (s *stubEvaluator) Evaluate(ctx context.Context, raw string) []types.RuleOutcome {
	s.calls.Add(1)
	return s.inner.Evaluate(ctx, raw)
}

// hangingRule outlives its deadline for URLs containing "hang".
type hangingRule struct{}

func (hangingRule) ID() types.RuleID { return types.RuleBlacklist }
func (hangingRule) Kind() rules.Kind { return rules.KindRemote }
func (hangingRule) Evaluate(ctx context.Context, t rules.Target) types.RuleOutcome {
	if strings.Contains(t.Raw, "hang") {
		<-ctx.Done()
		time.Sleep(100 * time.Millisecond)
	}
	return types.RuleOutcome{RuleID: types.RuleBlacklist, Score: 0, Status: types.StatusOK}
}
func (hangingRule) Failure(err error) types.RuleOutcome {
	return types.RuleOutcome{RuleID: types.RuleBlacklist, Score: 0, Status: types.StatusFailed, Detail: err.Error()}
}

// explodingRule panics for one URL.
type explodingRule struct{}

func (explodingRule) ID() types.RuleID { return types.RuleIPAddress }
func (explodingRule) Kind() rules.Kind { return rules.KindPure }
func (explodingRule) Evaluate(_ context.Context, t rules.Target) types.RuleOutcome {
	if strings.Contains(t.Raw, "boom") {
		panic("unexpected input")
	}
	return types.RuleOutcome{RuleID: types.RuleIPAddress, Score: 1, Status: types.StatusOK}
}
func (explodingRule) Failure(err error) types.RuleOutcome {
	return types.RuleOutcome{RuleID: types.RuleIPAddress, Score: 0, Status: types.StatusInconclusive, Detail: err.Error()}
}

func TestEvaluateBatch_FailingURLStillYieldsAllReports(t *testing.T) {
	rs, err := rules.New(&countingGetter{}, 30*time.Millisecond, hangingRule{}, explodingRule{})
	require.NoError(t, err)
	evaluator := &stubEvaluator{inner: rs}

	var mu sync.Mutex
	var events []ProgressEvent
	engine, err := NewEngine(evaluator, Options{
		Workers: 2,
		OnProgress: func(ev ProgressEvent) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	urls := []string{"http://a.com", "http://hang.com", "http://boom.com", "http://d.com"}
	res, err := engine.EvaluateBatch(context.Background(), urls)
	require.NoError(t, err)
	require.Len(t, res.Reports, len(urls))

	for i, rep := range res.Reports {
		assert.Equal(t, i, rep.Index)
		assert.Equal(t, urls[i], rep.URL)
		assert.Len(t, rep.Outcomes, 2)
		assert.Equal(t, types.SumScores(rep.Outcomes), rep.TotalScore)
	}
	assert.Equal(t, types.StatusFailed, res.Reports[1].Outcomes[0].Status)
	assert.Equal(t, types.StatusInconclusive, res.Reports[2].Outcomes[1].Status)
	assert.Equal(t, int32(len(urls)), evaluator.calls.Load())

	require.Len(t, events, len(urls))
	assert.Equal(t, len(urls), events[len(events)-1].Completed)
	assert.Equal(t, res.RunID, events[0].RunID)
}

func TestEvaluateBatch_CancelledContext(t *testing.T) {
	getter := &countingGetter{delay: time.Minute}
	checker := &countingChecker{}
	store := ledger.NewMemory()
	collector := &report.Collector{}

	engine, err := NewEngine(newRuleSet(t, getter, checker, time.Minute), Options{
		Ledger:  store,
		Sink:    collector,
		Workers: 2,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	urls := []string{"http://a.com", "http://b.com", "http://c.com"}
	res, err := engine.EvaluateBatch(ctx, urls)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	require.Len(t, res.Reports, len(urls))
	for _, rep := range res.Reports {
		assertWellFormed(t, engine.Thresholds(), rep)
	}
	assert.Len(t, collector.Reports, len(urls))
	assert.Zero(t, store.Len())
}

func TestEvaluateBatch_CountsAndOrder(t *testing.T) {
	rs, err := rules.New(&countingGetter{}, time.Second, &rules.IPLiteralRule{Weight: 2}, rules.NewKeywordRule(nil, 1))
	require.NoError(t, err)

	engine, err := NewEngine(rs, Options{Workers: 3})
	require.NoError(t, err)

	urls := []string{"http://example.com", "http://10.0.0.1", "http://10.0.0.1/login", "http://site.com/login"}
	res, err := engine.EvaluateBatch(context.Background(), urls)
	require.NoError(t, err)

	totals := []int{0, 2, 3, 1}
	for i, rep := range res.Reports {
		assert.Equal(t, totals[i], rep.TotalScore, rep.URL)
	}
	assert.Equal(t, map[types.RiskTier]int{
		types.TierNoRisk:   1,
		types.TierLow:      1,
		types.TierMedium:   2,
		types.TierCritical: 0,
	}, res.Counts)
	assert.NotEqual(t, uuid.Nil, res.RunID)
}

type failingSink struct{ report.Collector }

func (f *failingSink) Write(context.Context, types.ScoreReport) error {
	return errors.New("disk full")
}

func TestEvaluateBatch_SinkErrorsAreReturnedNotFatal(t *testing.T) {
	rs, err := rules.New(&countingGetter{}, time.Second, &rules.IPLiteralRule{Weight: 2})
	require.NoError(t, err)

	store := ledger.NewMemory()
	engine, err := NewEngine(rs, Options{Sink: &failingSink{}, Ledger: store})
	require.NoError(t, err)

	res, err := engine.EvaluateBatch(context.Background(), []string{"http://a.com", "http://b.com"})
	assert.ErrorContains(t, err, "disk full")
	require.NotNil(t, res)
	assert.Len(t, res.Reports, 2)
	assert.Equal(t, 2, store.Len())
}

func TestNewEngine_RejectsBadThresholds(t *testing.T) {
	rs, err := rules.New(&countingGetter{}, time.Second)
	require.NoError(t, err)

	_, err = NewEngine(rs, Options{Thresholds: Thresholds{NoRiskMax: 2, LowMax: 1, MediumMax: 3}})
	assert.ErrorContains(t, err, "invalid thresholds")

	_, err = NewEngine(nil, Options{})
	assert.Error(t, err)
}
