package scoring

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/linkrisk/internal/ledger"
	"github.com/jonathan/linkrisk/internal/report"
	"github.com/jonathan/linkrisk/internal/types"
)

// DefaultWorkers is the batch concurrency when none is configured. Each worker
// may hold several connections to one target site, so keep it modest.
const DefaultWorkers = 8

// Evaluator produces one outcome per rule for a URL. *rules.RuleSet implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, raw string) []types.RuleOutcome
}

// ProgressEvent is emitted after each URL of a batch completes or is skipped.
type ProgressEvent struct {
	RunID     uuid.UUID
	Index     int
	URL       string
	Skipped   bool
	Report    *types.ScoreReport
	Completed int
	Total     int
}

// ProgressCallback is called when batch progress occurs. Calls are serialised.
type ProgressCallback func(event ProgressEvent)

// Options configure an Engine. Zero values select defaults; Ledger and Sink are optional.
type Options struct {
	Thresholds Thresholds
	Workers    int
	Ledger     ledger.Store
	Sink       report.Sink
	Logger     *zerolog.Logger
	OnProgress ProgressCallback
	// Now stamps reports; tests replace it.
	Now func() time.Time
}

// Engine scores URLs with a rule set and classifies the totals.
type Engine struct {
	rules      Evaluator
	thresholds Thresholds
	workers    int
	ledger     ledger.Store
	sink       report.Sink
	log        zerolog.Logger
	onProgress ProgressCallback
	now        func() time.Time
}

// NewEngine validates the thresholds and returns an engine.
func NewEngine(rules Evaluator, opts Options) (*Engine, error) {
	if rules == nil {
		return nil, errors.New("scoring engine requires a rule set")
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	if opts.Workers <= 0 {
		opts.Workers = min(DefaultWorkers, runtime.GOMAXPROCS(0)*2)
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		rules:      rules,
		thresholds: opts.Thresholds,
		workers:    opts.Workers,
		ledger:     opts.Ledger,
		sink:       opts.Sink,
		log:        logger.With().Str("component", "scoring").Logger(),
		onProgress: opts.OnProgress,
		now:        opts.Now,
	}, nil
}

// Thresholds returns the classification bands in use.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// EvaluateOne scores a single URL. It bypasses the ledger and the sink.
func (e *Engine) EvaluateOne(ctx context.Context, raw string) types.ScoreReport {
	return e.evaluate(ctx, 0, raw)
}

func (e *Engine) evaluate(ctx context.Context, index int, raw string) types.ScoreReport {
	outcomes := e.rules.Evaluate(ctx, raw)
	total := types.SumScores(outcomes)
	return types.ScoreReport{
		Index:       index,
		URL:         raw,
		Outcomes:    outcomes,
		TotalScore:  total,
		Tier:        e.thresholds.Classify(total),
		EvaluatedAt: e.now(),
	}
}

// BatchResult summarises one EvaluateBatch call.
type BatchResult struct {
	RunID uuid.UUID
	// Reports are sorted by input index.
	Reports []types.ScoreReport
	// Skipped lists URLs already present in the ledger, in input order.
	Skipped []string
	Counts  map[types.RiskTier]int
}

// EvaluateBatch scores urls with bounded concurrency. URLs already in the ledger
// are skipped without any network activity. Every other URL gets exactly one
// report, even when ctx is cancelled mid-batch; cancelled evaluations carry the
// rules' failure outcomes and are not recorded in the ledger.
//
// The returned error joins sink and ledger write failures; it is non-nil only
// alongside a complete result, except when the ledger cannot be loaded.
func (e *Engine) EvaluateBatch(ctx context.Context, urls []string) (*BatchResult, error) {
	runID := uuid.New()
	log := e.log.With().Str("run_id", runID.String()).Logger()

	done := map[string]struct{}{}
	if e.ledger != nil {
		var err error
		if done, err = e.ledger.Load(ctx); err != nil {
			return nil, fmt.Errorf("failed to load ledger: %w", err)
		}
	}

	var errs []error
	if rs, ok := e.sink.(report.RunStarter); ok {
		if err := rs.StartRun(ctx, runID); err != nil {
			errs = append(errs, fmt.Errorf("failed to start run: %w", err))
		}
	}

	result := &BatchResult{
		RunID:  runID,
		Counts: make(map[types.RiskTier]int, len(types.Tiers)),
	}
	for _, tier := range types.Tiers {
		result.Counts[tier] = 0
	}

	var mu sync.Mutex
	completed := 0
	emit := func(ev ProgressEvent) {
		completed++
		ev.RunID = runID
		ev.Completed = completed
		ev.Total = len(urls)
		if e.onProgress != nil {
			e.onProgress(ev)
		}
	}

	// Reports of a cancelled batch are still delivered.
	writeCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, raw := range urls {
		if _, seen := done[raw]; seen {
			mu.Lock()
			result.Skipped = append(result.Skipped, raw)
			emit(ProgressEvent{Index: i, URL: raw, Skipped: true})
			mu.Unlock()
			log.Debug().Int("index", i).Str("url", raw).Msg("already processed, skipping")
			continue
		}

		g.Go(func() error {
			rep := e.evaluate(ctx, i, raw)
			cancelled := ctx.Err() != nil

			mu.Lock()
			defer mu.Unlock()

			result.Reports = append(result.Reports, rep)
			result.Counts[rep.Tier]++
			if e.sink != nil {
				if err := e.sink.Write(writeCtx, rep); err != nil {
					log.Error().Err(err).Str("url", raw).Msg("failed to write report")
					errs = append(errs, fmt.Errorf("sink %s: %w", raw, err))
				}
			}
			if e.ledger != nil && !cancelled {
				if err := e.ledger.Append(ctx, raw); err != nil {
					log.Error().Err(err).Str("url", raw).Msg("failed to update ledger")
					errs = append(errs, fmt.Errorf("ledger %s: %w", raw, err))
				}
			}
			emit(ProgressEvent{Index: i, URL: raw, Report: &rep})

			log.Debug().
				Int("index", i).
				Str("url", raw).
				Int("score", rep.TotalScore).
				Stringer("tier", rep.Tier).
				Bool("cancelled", cancelled).
				Msg("url scored")
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Reports, func(a, b int) bool {
		return result.Reports[a].Index < result.Reports[b].Index
	})

	log.Info().
		Int("urls", len(urls)).
		Int("scored", len(result.Reports)).
		Int("skipped", len(result.Skipped)).
		Msg("batch complete")

	return result, errors.Join(errs...)
}
