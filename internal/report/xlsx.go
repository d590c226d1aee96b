package report

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/jonathan/linkrisk/internal/types"
)

// SheetName is the worksheet the XLSX sink writes to.
const SheetName = "Sheet1"

// tierFills are the Vulnerability cell colours. No risk stays unfilled.
var tierFills = map[types.RiskTier]string{
	types.TierLow:      "00FF00",
	types.TierMedium:   "FFFF00",
	types.TierCritical: "FF0000",
}

// XLSXSink buffers reports and writes a workbook in input order on Close,
// colouring the Vulnerability column by tier.
type XLSXSink struct {
	path    string
	reports []types.ScoreReport
}

// NewXLSXSink writes the workbook to path when closed.
func NewXLSXSink(path string) *XLSXSink {
	return &XLSXSink{path: path}
}

func (s *XLSXSink) Write(_ context.Context, report types.ScoreReport) error {
	s.reports = append(s.reports, report)
	return nil
}

func (s *XLSXSink) Close() error {
	f := excelize.NewFile()
	err := s.render(f)
	if err == nil {
		err = f.SaveAs(s.path)
	}
	return errors.Join(err, f.Close())
}

func (s *XLSXSink) render(f *excelize.File) error {
	sort.SliceStable(s.reports, func(i, j int) bool {
		return s.reports[i].Index < s.reports[j].Index
	})

	header := types.RecordHeader()
	headerRow := make([]any, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &headerRow); err != nil {
		return fmt.Errorf("failed to write xlsx header: %w", err)
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze xlsx header: %w", err)
	}

	styles, err := tierStyles(f)
	if err != nil {
		return err
	}

	tierCol := len(header)
	for i, r := range s.reports {
		rowNum := i + 2
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		row := recordValues(r)
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write xlsx row for %s: %w", r.URL, err)
		}

		style, ok := styles[r.Tier]
		if !ok {
			continue
		}
		tierCell, err := excelize.CoordinatesToCellName(tierCol, rowNum)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(SheetName, tierCell, tierCell, style); err != nil {
			return fmt.Errorf("failed to style %s: %w", tierCell, err)
		}
	}
	return nil
}

func tierStyles(f *excelize.File) (map[types.RiskTier]int, error) {
	styles := make(map[types.RiskTier]int, len(tierFills))
	for tier, color := range tierFills {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s style: %w", tier, err)
		}
		styles[tier] = id
	}
	return styles, nil
}

// recordValues mirrors ScoreReport.Record with numeric cells kept numeric.
func recordValues(r types.ScoreReport) []any {
	row := make([]any, 0, len(types.RuleOrder)+3)
	row = append(row, r.URL)
	for _, id := range types.RuleOrder {
		if o, ok := r.Outcome(id); ok {
			row = append(row, o.Score)
		} else {
			row = append(row, nil)
		}
	}
	return append(row, r.TotalScore, r.Tier.String())
}
