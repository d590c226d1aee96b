package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/linkrisk/internal/blacklist"
	"github.com/jonathan/linkrisk/internal/fetch"
	"github.com/jonathan/linkrisk/internal/search"
	"github.com/jonathan/linkrisk/internal/types"
)

// Version identifies the rule set composition and score ranges, and is shown by
// `linkrisk --version`. Bump it whenever a rule is added, removed or re-weighted.
const Version = "1"

// DefaultRuleTimeout bounds one rule. It covers a page fetch plus the search probes.
const DefaultRuleTimeout = 15 * time.Second

// RuleSet is an ordered collection of independent rules sharing one page fetch per URL.
type RuleSet struct {
	rules       []Rule
	fetcher     fetch.Getter
	ruleTimeout time.Duration
}

// New builds a rule set from rules in evaluation order. Rule IDs must be unique.
func New(fetcher fetch.Getter, ruleTimeout time.Duration, rules ...Rule) (*RuleSet, error) {
	if fetcher == nil {
		return nil, errors.New("rule set requires a fetcher")
	}
	if ruleTimeout <= 0 {
		ruleTimeout = DefaultRuleTimeout
	}
	seen := make(map[types.RuleID]bool, len(rules))
	for _, r := range rules {
		if seen[r.ID()] {
			return nil, fmt.Errorf("duplicate rule %s", r.ID())
		}
		seen[r.ID()] = true
	}
	return &RuleSet{rules: rules, fetcher: fetcher, ruleTimeout: ruleTimeout}, nil
}

// Deps are the collaborators of the stock rule set.
type Deps struct {
	Fetcher     fetch.Getter
	Engines     []search.Engine
	Blacklist   blacklist.Checker
	Weights     Weights
	Keywords    []string
	RuleTimeout time.Duration
}

// Default builds the eight stock rules in report column order.
func Default(deps Deps) (*RuleSet, error) {
	w := deps.Weights
	return New(deps.Fetcher, deps.RuleTimeout,
		&ReachabilityRule{Engines: deps.Engines, Weight: w.Reachability},
		&DomainRule{Weight: w.DomainValidation},
		NewKeywordRule(deps.Keywords, w.Keyword),
		&IPLiteralRule{Weight: w.IPLiteral},
		&SpecialCharRule{Weight: w.SpecialCharacters},
		&BlacklistRule{Checker: deps.Blacklist, Weight: w.Blacklist, ErrorScore: w.BlacklistError},
		&PasswordRule{Weight: w.PasswordLinkRatio},
		&MetaRefreshRule{Weight: w.MetaRefresh, ErrorWeight: w.MetaRefreshError},
	)
}

// Rules returns the rules in evaluation order.
func (rs *RuleSet) Rules() []Rule {
	return append([]Rule(nil), rs.rules...)
}

// Evaluate runs every rule against raw concurrently and returns one outcome per
// rule in rule order. The page is fetched at most once and only if a rule asks for it.
func (rs *RuleSet) Evaluate(ctx context.Context, raw string) []types.RuleOutcome {
	// The page lives as long as this evaluation; cancel releases an in-flight fetch.
	evalCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	target := Target{Raw: raw, URL: fetch.WithScheme(raw)}
	target.Page = fetch.NewPage(evalCtx, rs.fetcher, target.URL)

	outcomes := make([]types.RuleOutcome, len(rs.rules))
	var g errgroup.Group
	for i, rule := range rs.rules {
		g.Go(func() error {
			outcomes[i] = rs.run(evalCtx, rule, target)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// run evaluates one rule under its own deadline. A rule that panics, misses its
// deadline or starts under a finished context yields its failure outcome.
func (rs *RuleSet) run(ctx context.Context, rule Rule, target Target) types.RuleOutcome {
	if rule.Kind() == KindPure {
		return stamp(rule, evaluateSafely(ctx, rule, target))
	}
	if err := ctx.Err(); err != nil {
		return stamp(rule, rule.Failure(err))
	}

	ruleCtx, cancel := context.WithTimeout(ctx, rs.ruleTimeout)
	defer cancel()

	done := make(chan types.RuleOutcome, 1)
	go func() {
		done <- evaluateSafely(ruleCtx, rule, target)
	}()

	select {
	case o := <-done:
		return stamp(rule, o)
	case <-ruleCtx.Done():
		err := ctx.Err()
		if err == nil {
			err = ErrRuleTimeout
		}
		return stamp(rule, rule.Failure(err))
	}
}

func evaluateSafely(ctx context.Context, rule Rule, target Target) (o types.RuleOutcome) {
	defer func() {
		if r := recover(); r != nil {
			o = rule.Failure(fmt.Errorf("rule panicked: %v", r))
		}
	}()
	return rule.Evaluate(ctx, target)
}

func stamp(rule Rule, o types.RuleOutcome) types.RuleOutcome {
	o.RuleID = rule.ID()
	return o
}
