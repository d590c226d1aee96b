// Package rules implements the independent heuristic detectors that score a candidate URL.
//
// Every detector implements Rule. A rule never returns an error: when it cannot finish,
// its Failure method maps the cause to the rule's documented failure score and status.
package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonathan/linkrisk/internal/fetch"
	"github.com/jonathan/linkrisk/internal/types"
)

// Kind tells the rule set what a rule needs in order to run.
type Kind int

const (
	// KindPure rules analyse the URL string only and never block.
	KindPure Kind = iota
	// KindPage rules read the shared page fetch.
	KindPage
	// KindRemote rules call an external service.
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindPure:
		return "pure"
	case KindPage:
		return "page"
	case KindRemote:
		return "remote"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ErrRuleTimeout is the failure cause for a rule that missed its deadline.
var ErrRuleTimeout = errors.New("rule timed out")

// ErrNotConfigured is the failure cause for a rule whose backing service is missing.
var ErrNotConfigured = errors.New("rule backend not configured")

// Target is the candidate handed to every rule of one evaluation.
type Target struct {
	// Raw is the candidate exactly as extracted.
	Raw string
	// URL is Raw with a default http:// scheme.
	URL string
	// Page is the shared fetch-once page for URL.
	Page *fetch.Page
}

// Rule is one heuristic detector.
type Rule interface {
	ID() types.RuleID
	Kind() Kind
	Evaluate(ctx context.Context, target Target) types.RuleOutcome
	Failure(err error) types.RuleOutcome
}

// Weights are the scores a rule emits when it flags a URL, plus the
// scores of the rules whose failure is itself scored.
type Weights struct {
	Reachability      int `json:"reachability" validate:"gte=0"`
	DomainValidation  int `json:"domain_validation" validate:"gte=0"`
	Keyword           int `json:"keyword" validate:"gte=0"`
	IPLiteral         int `json:"ip_literal" validate:"gte=0"`
	SpecialCharacters int `json:"special_characters" validate:"gte=0"`
	Blacklist         int `json:"blacklist" validate:"gte=0"`
	BlacklistError    int `json:"blacklist_error" validate:"gte=-1,lte=0"`
	MetaRefresh       int `json:"meta_refresh" validate:"gte=0"`
	MetaRefreshError  int `json:"meta_refresh_error" validate:"gte=0"`
	PasswordLinkRatio int `json:"password_link_ratio" validate:"gte=0"`
}

// DefaultWeights returns the stock scores. A failed blacklist lookup contributes
// zero; set BlacklistError to -1 to reproduce the legacy negative sentinel.
func DefaultWeights() Weights {
	return Weights{
		Reachability:      1,
		DomainValidation:  1,
		Keyword:           1,
		IPLiteral:         2,
		SpecialCharacters: 1,
		Blacklist:         4,
		BlacklistError:    0,
		MetaRefresh:       1,
		MetaRefreshError:  2,
		PasswordLinkRatio: 3,
	}
}

func outcome(id types.RuleID, score int, status types.Status, format string, args ...any) types.RuleOutcome {
	return types.RuleOutcome{
		RuleID: id,
		Score:  score,
		Status: status,
		Detail: fmt.Sprintf(format, args...),
	}
}
