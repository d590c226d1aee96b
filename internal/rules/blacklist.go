package rules

import (
	"context"
	"strings"

	"github.com/jonathan/linkrisk/internal/blacklist"
	"github.com/jonathan/linkrisk/internal/types"
)

// BlacklistRule flags URLs listed by the threat-intelligence API.
// Lookup failures score ErrorScore with a failed status.
type BlacklistRule struct {
	Checker    blacklist.Checker
	Weight     int
	ErrorScore int
}

func (r *BlacklistRule) ID() types.RuleID { return types.RuleBlacklist }

func (r *BlacklistRule) Kind() Kind { return KindRemote }

func (r *BlacklistRule) Evaluate(ctx context.Context, t Target) types.RuleOutcome {
	if r.Checker == nil {
		return r.Failure(ErrNotConfigured)
	}
	verdict, err := r.Checker.Check(ctx, t.URL)
	if err != nil {
		return r.Failure(err)
	}
	if verdict.Listed {
		return outcome(r.ID(), r.Weight, types.StatusOK, "listed: %s", strings.Join(verdict.ThreatTypes, ", "))
	}
	return outcome(r.ID(), 0, types.StatusOK, "not listed")
}

func (r *BlacklistRule) Failure(err error) types.RuleOutcome {
	return outcome(r.ID(), r.ErrorScore, types.StatusFailed, "lookup failed: %v", err)
}
