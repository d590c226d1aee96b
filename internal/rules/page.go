package rules

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jonathan/linkrisk/internal/fetch"
	"github.com/jonathan/linkrisk/internal/search"
	"github.com/jonathan/linkrisk/internal/types"
)

// ReachabilityRule flags URLs that cannot be reached, and reachable URLs whose
// domain is missing from any of the configured search engines.
type ReachabilityRule struct {
	Engines []search.Engine
	Weight  int
}

func (r *ReachabilityRule) ID() types.RuleID { return types.RuleRedirectRegistration }

func (r *ReachabilityRule) Kind() Kind { return KindPage }

func (r *ReachabilityRule) Evaluate(ctx context.Context, t Target) types.RuleOutcome {
	res := t.Page.Get(ctx)
	if !res.OK() {
		return r.Failure(res.Err)
	}
	if !acceptedStatus(res.StatusCode) {
		return outcome(r.ID(), r.Weight, types.StatusOK, "unreachable: HTTP status %d", res.StatusCode)
	}

	domain := fetch.Host(t.URL)
	indexed, probes := search.IndexedInAll(ctx, r.Engines, domain)
	if indexed {
		return outcome(r.ID(), 0, types.StatusOK, "reachable after %d redirects and indexed by %s",
			len(res.Redirects), engineNames(probes, true))
	}
	return outcome(r.ID(), r.Weight, types.StatusOK, "not indexed by %s", engineNames(probes, false))
}

// Failure treats an unreachable URL as suspicious; the rule still completed.
func (r *ReachabilityRule) Failure(err error) types.RuleOutcome {
	return outcome(r.ID(), r.Weight, types.StatusOK, "unreachable: %v", err)
}

func acceptedStatus(code int) bool {
	return code == http.StatusOK || code == http.StatusMovedPermanently || code == http.StatusFound
}

func engineNames(probes []search.Probe, found bool) string {
	names := make([]string, 0, len(probes))
	for _, p := range probes {
		if p.Found == found {
			names = append(names, p.Engine)
		}
	}
	if len(names) == 0 {
		return "no engine"
	}
	return strings.Join(names, ", ")
}

// DomainRule flags URLs whose page cannot be retrieved successfully.
type DomainRule struct {
	Weight int
}

func (r *DomainRule) ID() types.RuleID { return types.RuleDomainValidation }

func (r *DomainRule) Kind() Kind { return KindPage }

func (r *DomainRule) Evaluate(ctx context.Context, t Target) types.RuleOutcome {
	res := t.Page.Get(ctx)
	if !res.OK() {
		return r.Failure(res.Err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return outcome(r.ID(), r.Weight, types.StatusOK, "HTTP status %d", res.StatusCode)
	}
	return outcome(r.ID(), 0, types.StatusOK, "page retrieved with status %d", res.StatusCode)
}

// Failure scores a failed fetch as the signal itself.
func (r *DomainRule) Failure(err error) types.RuleOutcome {
	return outcome(r.ID(), r.Weight, types.StatusOK, "page not retrievable: %v", err)
}

// MetaRefreshRule flags pages carrying a meta refresh tag. A page that cannot
// be fetched scores ErrorWeight, a stronger signal than a plain hit.
type MetaRefreshRule struct {
	Weight      int
	ErrorWeight int
}

func (r *MetaRefreshRule) ID() types.RuleID { return types.RuleMetaRefresh }

func (r *MetaRefreshRule) Kind() Kind { return KindPage }

func (r *MetaRefreshRule) Evaluate(ctx context.Context, t Target) types.RuleOutcome {
	res := t.Page.Get(ctx)
	if !res.OK() {
		return r.Failure(res.Err)
	}
	doc, err := fetch.ParseHTML(res.Body)
	if err != nil {
		return outcome(r.ID(), 0, types.StatusInconclusive, "%v", err)
	}
	if found, content := fetch.HasMetaRefresh(doc); found {
		return outcome(r.ID(), r.Weight, types.StatusOK, "meta refresh to %q", content)
	}
	return outcome(r.ID(), 0, types.StatusOK, "no meta refresh")
}

func (r *MetaRefreshRule) Failure(err error) types.RuleOutcome {
	return outcome(r.ID(), r.ErrorWeight, types.StatusFailed, "page not retrievable: %v", err)
}

// PasswordRule flags pages that ask for a password while linking out more
// than they link in. Any processing error scores as safe.
type PasswordRule struct {
	Weight int
}

func (r *PasswordRule) ID() types.RuleID { return types.RulePasswordLinkRatio }

func (r *PasswordRule) Kind() Kind { return KindPage }

func (r *PasswordRule) Evaluate(ctx context.Context, t Target) types.RuleOutcome {
	res := t.Page.Get(ctx)
	if !res.OK() {
		return r.Failure(res.Err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return r.Failure(fmt.Errorf("HTTP status %d", res.StatusCode))
	}
	doc, err := fetch.ParseHTML(res.Body)
	if err != nil {
		return r.Failure(err)
	}
	base, err := siteRoot(t.URL)
	if err != nil {
		return r.Failure(err)
	}

	passwords := fetch.CountPasswordFields(doc)
	internal, external, err := fetch.CountLinks(doc, base)
	if err != nil {
		return r.Failure(err)
	}
	if passwords > 0 && external > internal {
		return outcome(r.ID(), r.Weight, types.StatusOK,
			"password field with %d external vs %d internal links", external, internal)
	}
	return outcome(r.ID(), 0, types.StatusOK,
		"%d password fields, %d external vs %d internal links", passwords, external, internal)
}

func (r *PasswordRule) Failure(err error) types.RuleOutcome {
	return outcome(r.ID(), 0, types.StatusInconclusive, "%v", err)
}

func siteRoot(urlStr string) (string, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + u.Host, nil
}
