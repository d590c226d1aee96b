// Package types provides type definitions for structured data used throughout the linkrisk system.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// RuleID identifies one heuristic detector.
type RuleID string

// Rule identifiers in fixed evaluation order.
const (
	RuleRedirectRegistration RuleID = "redirect_registration"
	RuleDomainValidation     RuleID = "domain_validation"
	RuleSuspiciousKeyword    RuleID = "suspicious_keyword"
	RuleIPAddress            RuleID = "ip_address_validation"
	RuleSpecialCharacters    RuleID = "unwanted_special_characters"
	RuleBlacklist            RuleID = "google_api_validation"
	RulePasswordLinkRatio    RuleID = "external_password_validation"
	RuleMetaRefresh          RuleID = "meta_refresh"
)

// Flat record columns that are not rule scores.
const (
	ColumnURL           = "URL"
	ColumnTotalScore    = "total_score"
	ColumnVulnerability = "Vulnerability"
)

// RuleOrder is the fixed order in which rule outcomes appear in reports.
var RuleOrder = []RuleID{
	RuleRedirectRegistration,
	RuleDomainValidation,
	RuleSuspiciousKeyword,
	RuleIPAddress,
	RuleSpecialCharacters,
	RuleBlacklist,
	RulePasswordLinkRatio,
	RuleMetaRefresh,
}

var columnNames = map[RuleID]string{
	RuleRedirectRegistration: "Redirect-Registration",
	RuleDomainValidation:     "Domain_validation",
	RuleSuspiciousKeyword:    "Suspicious_keyword",
	RuleIPAddress:            "ip-address_validation",
	RuleSpecialCharacters:    "unwanted_special_characters",
	RuleBlacklist:            "google_api_validation",
	RulePasswordLinkRatio:    "external_password_validation",
	RuleMetaRefresh:          "meta_refresh",
}

// Column returns the external report column name for the rule.
func (id RuleID) Column() string {
	if name, ok := columnNames[id]; ok {
		return name
	}
	return string(id)
}

// Status describes how a rule evaluation finished.
type Status string

const (
	StatusOK           Status = "ok"
	StatusInconclusive Status = "inconclusive"
	StatusFailed       Status = "failed"
)

// RuleOutcome is the result of one rule for one URL.
type RuleOutcome struct {
	RuleID RuleID `json:"rule_id"`
	Score  int    `json:"score"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ScoreReport aggregates all rule outcomes for a single candidate URL.
type ScoreReport struct {
	Index       int           `json:"index"`
	URL         string        `json:"url"`
	Outcomes    []RuleOutcome `json:"outcomes"`
	TotalScore  int           `json:"total_score"`
	Tier        RiskTier      `json:"tier"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
}

// Outcome looks up the outcome for a rule.
func (r *ScoreReport) Outcome(id RuleID) (RuleOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.RuleID == id {
			return o, true
		}
	}
	return RuleOutcome{}, false
}

// SumScores returns the sum of all outcome scores.
func SumScores(outcomes []RuleOutcome) int {
	total := 0
	for _, o := range outcomes {
		total += o.Score
	}
	return total
}

// RecordHeader returns the flat report column names in order.
func RecordHeader() []string {
	header := make([]string, 0, len(RuleOrder)+3)
	header = append(header, ColumnURL)
	for _, id := range RuleOrder {
		header = append(header, id.Column())
	}
	return append(header, ColumnTotalScore, ColumnVulnerability)
}

// Record flattens the report into the column order given by RecordHeader.
// Rules missing from the report produce an empty cell.
func (r *ScoreReport) Record() []string {
	row := make([]string, 0, len(RuleOrder)+3)
	row = append(row, r.URL)
	for _, id := range RuleOrder {
		if o, ok := r.Outcome(id); ok {
			row = append(row, strconv.Itoa(o.Score))
		} else {
			row = append(row, "")
		}
	}
	return append(row, strconv.Itoa(r.TotalScore), r.Tier.String())
}

// RiskTier is the ordered classification of a total score.
type RiskTier int

const (
	TierNoRisk RiskTier = iota
	TierLow
	TierMedium
	TierCritical
)

// Tiers lists every tier from lowest to highest.
var Tiers = []RiskTier{TierNoRisk, TierLow, TierMedium, TierCritical}

func (t RiskTier) String() string {
	switch t {
	case TierNoRisk:
		return "No risk"
	case TierLow:
		return "Low"
	case TierMedium:
		return "Medium"
	case TierCritical:
		return "Critical"
	default:
		return fmt.Sprintf("RiskTier(%d)", int(t))
	}
}

// ParseRiskTier converts a tier name back to a RiskTier.
func ParseRiskTier(s string) (RiskTier, error) {
	for _, t := range Tiers {
		if t.String() == s {
			return t, nil
		}
	}
	return TierNoRisk, fmt.Errorf("unknown risk tier %q", s)
}

// MarshalJSON encodes the tier by name.
func (t RiskTier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a tier name.
func (t *RiskTier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRiskTier(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
