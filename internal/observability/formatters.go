// Package observability provides logging setup and formatted output for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/linkrisk/internal/scoring"
	"github.com/jonathan/linkrisk/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the terminal
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintReport outputs the per-rule breakdown of one score report.
func (p *Printer) PrintReport(report *types.ScoreReport) {
	if report == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("URL:    %s\n", report.URL))
	sb.WriteString(fmt.Sprintf("Score:  %d (%s)\n", report.TotalScore, report.Tier))
	sb.WriteString("\n")

	for _, o := range report.Outcomes {
		marker := " "
		if o.Score != 0 {
			marker = "•"
		}
		sb.WriteString(fmt.Sprintf("%s %-28s %2d  %s\n", marker, o.RuleID.Column(), o.Score, o.Status))
		if o.Detail != "" && o.Score != 0 {
			sb.WriteString(fmt.Sprintf("    %s\n", o.Detail))
		}
	}

	p.printBox("URL RISK REPORT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintBatchSummary outputs tier counts and the riskiest URLs of a batch.
func (p *Printer) PrintBatchSummary(result *scoring.BatchResult) {
	if result == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:      %s\n", result.RunID))
	sb.WriteString(fmt.Sprintf("Scored:   %d\n", len(result.Reports)))
	sb.WriteString(fmt.Sprintf("Skipped:  %d (already processed)\n", len(result.Skipped)))
	sb.WriteString("\n")

	for _, tier := range types.Tiers {
		sb.WriteString(fmt.Sprintf("  %-10s %d\n", tier, result.Counts[tier]))
	}

	risky := riskiest(result.Reports)
	if len(risky) > 0 {
		sb.WriteString("\nHighest risk:\n")
		count := min(len(risky), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  %2d  %s\n", risky[i].TotalScore, risky[i].URL))
		}
		if len(risky) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(risky)-maxItemsToShow))
		}
	}

	p.printBox("BATCH SUMMARY", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintURLs outputs extracted candidate URLs.
func (p *Printer) PrintURLs(urls []string) {
	if len(urls) == 0 {
		p.printBox("EXTRACTED URLS", "No URLs found")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Total: %d\n\n", len(urls)))
	for i, u := range urls {
		sb.WriteString(fmt.Sprintf("%3d. %s\n", i+1, u))
	}
	p.printBox("EXTRACTED URLS", strings.TrimSuffix(sb.String(), "\n"))
}

// riskiest returns the medium and critical reports, highest score first.
func riskiest(reports []types.ScoreReport) []types.ScoreReport {
	var out []types.ScoreReport
	for _, r := range reports {
		if r.Tier >= types.TierMedium {
			out = append(out, r)
		}
	}
	// insertion sort keeps input order among equal scores
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].TotalScore > out[j-1].TotalScore; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
