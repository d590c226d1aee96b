package report

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/jonathan/linkrisk/internal/types"
)

func sampleReport(index int, url string, tier types.RiskTier, total int) types.ScoreReport {
	outcomes := make([]types.RuleOutcome, len(types.RuleOrder))
	for i, id := range types.RuleOrder {
		outcomes[i] = types.RuleOutcome{RuleID: id, Status: types.StatusOK}
	}
	outcomes[0].Score = total
	return types.ScoreReport{
		Index:       index,
		URL:         url,
		Outcomes:    outcomes,
		TotalScore:  total,
		Tier:        tier,
		EvaluatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCSVSink(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewCSVSink(&buf)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, sampleReport(1, "http://b.com", types.TierLow, 1)))
	require.NoError(t, sink.Write(ctx, sampleReport(0, "http://a.com/x,y", types.TierCritical, 5)))
	require.NoError(t, sink.Close())

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, types.RecordHeader(), rows[0])
	assert.Equal(t, "http://b.com", rows[1][0])
	assert.Equal(t, "Low", rows[1][len(rows[1])-1])
	assert.Equal(t, "http://a.com/x,y", rows[2][0])
	assert.Equal(t, "5", rows[2][len(rows[2])-2])
}

func TestCSVSink_EmptyBatchStillHasHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	sink, err := CreateCSV(path)
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(types.RecordHeader(), ",")+"\n", string(data))
}

func TestJSONLSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONLSink(&buf)

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, sampleReport(0, "http://a.com", types.TierNoRisk, 0)))
	require.NoError(t, sink.Write(ctx, sampleReport(1, "http://b.com", types.TierMedium, 2)))
	require.NoError(t, sink.Close())

	scanner := bufio.NewScanner(&buf)
	var got []types.ScoreReport
	for scanner.Scan() {
		var r types.ScoreReport
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		got = append(got, r)
	}
	require.Len(t, got, 2)
	assert.Equal(t, types.TierMedium, got[1].Tier)
	assert.Len(t, got[1].Outcomes, len(types.RuleOrder))
}

func TestXLSXSink_SortsByIndexAndColoursTier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	sink := NewXLSXSink(path)

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, sampleReport(2, "http://c.com", types.TierCritical, 4)))
	require.NoError(t, sink.Write(ctx, sampleReport(0, "http://a.com", types.TierNoRisk, 0)))
	require.NoError(t, sink.Write(ctx, sampleReport(1, "http://b.com", types.TierMedium, 2)))
	require.NoError(t, sink.Close())

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, types.RecordHeader(), rows[0])
	assert.Equal(t, "http://a.com", rows[1][0])
	assert.Equal(t, "http://b.com", rows[2][0])
	assert.Equal(t, "http://c.com", rows[3][0])
	assert.Equal(t, "Critical", rows[3][len(rows[3])-1])

	tierCol := len(types.RecordHeader())
	noRiskCell, _ := excelize.CoordinatesToCellName(tierCol, 2)
	criticalCell, _ := excelize.CoordinatesToCellName(tierCol, 4)

	noRiskStyle, err := f.GetCellStyle(SheetName, noRiskCell)
	require.NoError(t, err)
	criticalStyle, err := f.GetCellStyle(SheetName, criticalCell)
	require.NoError(t, err)
	assert.Zero(t, noRiskStyle)
	assert.NotZero(t, criticalStyle)

	mediumCell, _ := excelize.CoordinatesToCellName(tierCol, 3)
	mediumStyle, err := f.GetCellStyle(SheetName, mediumCell)
	require.NoError(t, err)
	assert.NotZero(t, mediumStyle)
	assert.NotEqual(t, mediumStyle, criticalStyle)
}

type fakeSaver struct {
	runs    []uuid.UUID
	reports []types.ScoreReport
	err     error
}

func (f *fakeSaver) SaveReport(_ context.Context, runID uuid.UUID, report *types.ScoreReport) error {
	if f.err != nil {
		return f.err
	}
	f.runs = append(f.runs, runID)
	f.reports = append(f.reports, *report)
	return nil
}

func TestPostgresSink_GroupsByRun(t *testing.T) {
	saver := &fakeSaver{}
	sink := NewPostgresSink(saver)
	runID := uuid.New()

	ctx := context.Background()
	require.NoError(t, sink.StartRun(ctx, runID))
	require.NoError(t, sink.Write(ctx, sampleReport(0, "http://a.com", types.TierLow, 1)))
	require.NoError(t, sink.Close())

	assert.Equal(t, []uuid.UUID{runID}, saver.runs)
	assert.Equal(t, runID, sink.RunID())
	assert.Error(t, sink.StartRun(ctx, uuid.Nil))
}

func TestMulti_ContinuesPastFailingSink(t *testing.T) {
	failing := &fakeSaver{err: errors.New("db down")}
	collector := &Collector{}
	multi := Multi{NewPostgresSink(failing), collector}

	runID := uuid.New()
	ctx := context.Background()
	require.NoError(t, multi.StartRun(ctx, runID))

	err := multi.Write(ctx, sampleReport(0, "http://a.com", types.TierLow, 1))
	assert.ErrorContains(t, err, "db down")
	assert.Len(t, collector.Reports, 1)
	assert.NoError(t, multi.Close())
}

func TestOpen_ByExtension(t *testing.T) {
	dir := t.TempDir()

	sink, err := Open(filepath.Join(dir, "r.csv"))
	require.NoError(t, err)
	assert.IsType(t, &CSVSink{}, sink)
	require.NoError(t, sink.Close())

	sink, err = Open(filepath.Join(dir, "r.JSONL"))
	require.NoError(t, err)
	assert.IsType(t, &JSONLSink{}, sink)
	require.NoError(t, sink.Close())

	sink, err = Open(filepath.Join(dir, "r.xlsx"))
	require.NoError(t, err)
	assert.IsType(t, &XLSXSink{}, sink)

	_, err = Open(filepath.Join(dir, "r.pdf"))
	assert.ErrorContains(t, err, "unsupported report format")
}
