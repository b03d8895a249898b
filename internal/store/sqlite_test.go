package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-reconciliation-service/internal/models"
	"commerce-reconciliation-service/internal/reconciler"
	"commerce-reconciliation-service/pkg/errors"
	"commerce-reconciliation-service/pkg/logger"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:", logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	fixed := time.Date(2025, 7, 30, 6, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	return s
}

func record(t *testing.T, name models.PerspectiveName, start, end string, status models.ReconciliationStatus) *models.ReconciliationRecord {
	t.Helper()
	r, err := models.ParseDateRange(start, end, time.UTC)
	require.NoError(t, err)
	return &models.ReconciliationRecord{
		ID:              reconciler.RecordID(name, r),
		PerspectiveName: name,
		DateRange:       r,
		ExpectedAmount:  decimal.RequireFromString("674.45"),
		ActualAmount:    decimal.RequireFromString("609.50"),
		Variance:        decimal.RequireFromString("64.95"),
		VariancePct:     decimal.RequireFromString("0.0963"),
		Status:          status,
		OrderIDs:        []string{"A"},
		TransactionIDs:  []string{"t1", "t2"},
		Duplicates:      []models.DuplicateCandidate{},
		Anomalies: []models.AnomalyFlag{
			{TransactionID: "t2", Severity: models.SeverityHigh, Reasons: []models.ReasonCode{models.ReasonHighValue}},
		},
		Issues: []errors.DataQualityIssue{},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := record(t, models.PerspectiveCreation, "2025-07-29", "2025-07-29", models.StatusDiscrepancy)

	n, err := s.SaveRecords(ctx, "run-1", []*models.ReconciliationRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, models.StatusDiscrepancy, got.Status)
	assert.Equal(t, "64.95", got.Record.Variance.String())
	assert.Equal(t, "2025-07-29", got.Record.DateRange.String())
	require.Len(t, got.Record.Anomalies, 1)
	assert.Equal(t, models.SeverityHigh, got.Record.Anomalies[0].Severity)
	assert.Nil(t, got.ResolvedAt)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRecordsUpsertKeepsManualStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := record(t, models.PerspectiveCreation, "2025-07-29", "2025-07-29", models.StatusDiscrepancy)

	_, err := s.SaveRecords(ctx, "run-1", []*models.ReconciliationRecord{rec})
	require.NoError(t, err)
	_, err = s.MarkInvestigating(ctx, rec.ID)
	require.NoError(t, err)

	rerun := record(t, models.PerspectiveCreation, "2025-07-29", "2025-07-29", models.StatusDiscrepancy)
	rerun.Variance = decimal.RequireFromString("10.00")
	_, err = s.SaveRecords(ctx, "run-2", []*models.ReconciliationRecord{rerun})
	require.NoError(t, err)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.RunID)
	assert.Equal(t, "10", got.Record.Variance.String())
	assert.Equal(t, models.StatusInvestigating, got.Status)

	all, err := s.ListByDate(ctx, "2025-07-29")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestListByDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records := []*models.ReconciliationRecord{
		record(t, models.PerspectiveProcessing, "2025-07-29", "2025-07-29", models.StatusMatched),
		record(t, models.PerspectiveCreation, "2025-07-29", "2025-07-29", models.StatusDiscrepancy),
		record(t, models.PerspectiveCreation, "2025-07-28", "2025-07-30", models.StatusMatched),
		record(t, models.PerspectiveCreation, "2025-08-01", "2025-08-01", models.StatusMatched),
	}
	_, err := s.SaveRecords(ctx, "run-1", records)
	require.NoError(t, err)

	got, err := s.ListByDate(ctx, "2025-07-29")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "2025-07-28..2025-07-30", got[0].Record.DateRange.String())
	assert.Equal(t, models.PerspectiveCreation, got[1].Record.PerspectiveName)
	assert.Equal(t, models.PerspectiveProcessing, got[2].Record.PerspectiveName)

	got, err = s.ListByDate(ctx, "2025-07-31")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.ListByDate(ctx, "29/07/2025")
	assert.Error(t, err)
}

func TestStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	open := record(t, models.PerspectiveCreation, "2025-07-29", "2025-07-29", models.StatusDiscrepancy)
	clean := record(t, models.PerspectiveProcessing, "2025-07-29", "2025-07-29", models.StatusMatched)
	_, err := s.SaveRecords(ctx, "run-1", []*models.ReconciliationRecord{open, clean})
	require.NoError(t, err)

	pending, err := s.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, open.ID, pending[0].Record.ID)

	_, err = s.MarkResolved(ctx, clean.ID, "nothing to do")
	assert.Error(t, err, "matched records cannot be resolved")

	resolved, err := s.MarkResolved(ctx, open.ID, "pending payment settled on 2025-07-30")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, resolved.Status)
	assert.Equal(t, "pending payment settled on 2025-07-30", resolved.ResolutionNote)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, "2025-07-30T06:00:00Z", resolved.ResolvedAt.Format(time.RFC3339))

	_, err = s.MarkInvestigating(ctx, open.ID)
	assert.Error(t, err, "resolved is terminal")

	pending, err = s.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPublishStoresReport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	report := &reconciler.Report{
		RunID: "run-7",
		Records: []*models.ReconciliationRecord{
			record(t, models.PerspectiveCreation, "2025-07-29", "2025-07-29", models.StatusMatched),
			record(t, models.PerspectiveHybrid, "2025-07-29", "2025-07-29", models.StatusMatched),
		},
	}

	require.NoError(t, s.Publish(ctx, report))

	got, err := s.ListByDate(ctx, "2025-07-29")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "run-7", got[0].RunID)

	assert.Error(t, s.Publish(ctx, nil))
}

func TestOpenFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	ctx := context.Background()
	rec := record(t, models.PerspectiveCreation, "2025-07-29", "2025-07-29", models.StatusDiscrepancy)

	s, err := Open(path, logger.Discard())
	require.NoError(t, err)
	_, err = s.SaveRecords(ctx, "run-1", []*models.ReconciliationRecord{rec})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path, logger.Discard())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDiscrepancy, got.Status)
}
