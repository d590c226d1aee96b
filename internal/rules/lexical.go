package rules

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/jonathan/linkrisk/internal/types"
)

// PhishingKeywords is the stock keyword list, grouped by account management,
// urgency and offers, action words, financial terms and miscellaneous lures.
var PhishingKeywords = []string{
	"login", "secure", "account", "signin", "credentials", "password", "reset", "update",
	"confirm", "verification", "safety", "suspicious",

	"free", "gift", "prize", "urgent", "immediate", "act now", "limited time", "exclusive",

	"click", "here", "download", "access", "install", "open", "submit", "request", "claim", "verify",

	"banking", "payment", "invoice", "shipping", "transaction", "refund", "transfer", "credit", "debit",

	"support", "customer service", "update your info", "account activity", "security alert",
	"breach", "suspicious activity", "unauthorized", "reset your password", "new message",
	"terms and conditions", "click to win", "winner",
}

// KeywordRule flags URLs containing a phishing keyword. Matching is a case-sensitive
// substring test and stops at the first hit.
type KeywordRule struct {
	Keywords []string
	Weight   int
}

// NewKeywordRule uses PhishingKeywords when keywords is empty.
func NewKeywordRule(keywords []string, weight int) *KeywordRule {
	if len(keywords) == 0 {
		keywords = PhishingKeywords
	}
	return &KeywordRule{Keywords: keywords, Weight: weight}
}

func (r *KeywordRule) ID() types.RuleID { return types.RuleSuspiciousKeyword }

func (r *KeywordRule) Kind() Kind { return KindPure }

func (r *KeywordRule) Evaluate(_ context.Context, t Target) types.RuleOutcome {
	for _, keyword := range r.Keywords {
		if strings.Contains(t.Raw, keyword) {
			return outcome(r.ID(), r.Weight, types.StatusOK, "matched keyword %q", keyword)
		}
	}
	return outcome(r.ID(), 0, types.StatusOK, "no keyword matched")
}

func (r *KeywordRule) Failure(err error) types.RuleOutcome {
	return outcome(r.ID(), 0, types.StatusInconclusive, "%v", err)
}

var (
	decimalIPPattern = regexp.MustCompile(`^((25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)$`)
	hexIPPattern     = regexp.MustCompile(`^0x[0-9A-Fa-f]{8}$`)
	octalIPPattern   = regexp.MustCompile(`^(0[0-7]{3}\.){3}0[0-7]{3}$`)
)

// IPLiteralRule flags URLs whose host is a decimal, hexadecimal or octal IP literal.
type IPLiteralRule struct {
	Weight int
}

func (r *IPLiteralRule) ID() types.RuleID { return types.RuleIPAddress }

func (r *IPLiteralRule) Kind() Kind { return KindPure }

func (r *IPLiteralRule) Evaluate(_ context.Context, t Target) types.RuleOutcome {
	host := hostLiteral(t.Raw)
	switch {
	case decimalIPPattern.MatchString(host):
		return outcome(r.ID(), r.Weight, types.StatusOK, "decimal IP host %s", host)
	case hexIPPattern.MatchString(host):
		return outcome(r.ID(), r.Weight, types.StatusOK, "hexadecimal IP host %s", host)
	case octalIPPattern.MatchString(host):
		return outcome(r.ID(), r.Weight, types.StatusOK, "octal IP host %s", host)
	}
	return outcome(r.ID(), 0, types.StatusOK, "host %q is not an IP literal", host)
}

func (r *IPLiteralRule) Failure(err error) types.RuleOutcome {
	return outcome(r.ID(), 0, types.StatusInconclusive, "%v", err)
}

// hostLiteral keeps what follows the last "//" up to the first "/".
func hostLiteral(raw string) string {
	rest := raw
	if i := strings.LastIndex(rest, "//"); i >= 0 {
		rest = rest[i+2:]
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}

var (
	specialCharPattern = regexp.MustCompile(`[_0-9@“,”;!+%]`)
	ipWithPortPattern  = regexp.MustCompile(`^http://\d{1,3}(?:\.\d{1,3}){3}(:\d+)?`)
)

// SpecialCharRule flags URLs containing unusual characters, an explicit
// non-standard port, or a bare http://IP[:port] prefix.
type SpecialCharRule struct {
	Weight int
}

func (r *SpecialCharRule) ID() types.RuleID { return types.RuleSpecialCharacters }

func (r *SpecialCharRule) Kind() Kind { return KindPure }

func (r *SpecialCharRule) Evaluate(_ context.Context, t Target) types.RuleOutcome {
	if ipWithPortPattern.MatchString(t.Raw) {
		return outcome(r.ID(), r.Weight, types.StatusOK, "bare IP address URL")
	}
	if port := explicitPort(t.URL); port != "" && port != "80" && port != "443" {
		return outcome(r.ID(), r.Weight, types.StatusOK, "non-standard port %s", port)
	}
	if ch := specialCharPattern.FindString(t.Raw); ch != "" {
		return outcome(r.ID(), r.Weight, types.StatusOK, "contains special character %q", ch)
	}
	return outcome(r.ID(), 0, types.StatusOK, "no special characters or ports")
}

func (r *SpecialCharRule) Failure(err error) types.RuleOutcome {
	return outcome(r.ID(), 0, types.StatusInconclusive, "%v", err)
}

func explicitPort(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return u.Port()
}
