package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

var anyArg = ArgumentMatcherFunc(func(v interface{}) bool {
	return true
})

func sampleReport() map[string]any {
	return map[string]any{
		"metadata": map[string]any{
			"analysis_id":     "pg-test-1",
			"target":          "package.json",
			"ecosystem":       "npm",
			"analysis_status": "partial",
			"confidence":      0.75,
		},
		"summary": map[string]any{
			"total_findings": 3,
			"severity_counts": map[string]int{
				"critical": 1,
				"high":     0,
				"medium":   2,
				"low":      0,
			},
		},
	}
}

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	// Ping monitoring is off by default; New pings on construction, so the
	// mock must watch for it.
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func TestNewPingFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing().WillReturnError(errors.New("connection refused"))

	_, err = New(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping database")
}

func TestSaveReport(t *testing.T) {
	s, mockPool := newTestStore(t)

	mockPool.ExpectExec(flexibleSQLMatcher(insertReportSQL)).
		WithArgs(
			"pg-test-1", anyArg, "package.json", "npm", "partial", 0.75,
			1, 0, 2, 0,
			ArgumentMatcherFunc(func(v interface{}) bool {
				raw, ok := v.([]byte)
				return ok && strings.Contains(string(raw), `"analysis_id":"pg-test-1"`)
			}),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveReport(context.Background(), sampleReport())
	require.NoError(t, err)
	require.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveReportExecError(t *testing.T) {
	s, mockPool := newTestStore(t)

	mockPool.ExpectExec(flexibleSQLMatcher(insertReportSQL)).
		WithArgs(anyArg, anyArg, anyArg, anyArg, anyArg, anyArg, anyArg, anyArg, anyArg, anyArg, anyArg).
		WillReturnError(errors.New("relation does not exist"))

	err := s.SaveReport(context.Background(), sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert scan report")
}

func TestRecentScans(t *testing.T) {
	s, mockPool := newTestStore(t)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"analysis_id", "created_at", "target", "ecosystem", "degradation_level", "confidence",
		"critical_count", "high_count", "medium_count", "low_count",
	}).
		AddRow("run-2", now, "package.json", "npm", "full", 0.95, 0, 0, 0, 0).
		AddRow("run-1", now.Add(-time.Hour), "package.json", "npm", "basic", 0.55, 2, 1, 0, 0)

	mockPool.ExpectQuery("SELECT analysis_id, created_at").
		WithArgs("package.json", 10).
		WillReturnRows(rows)

	records, err := s.RecentScans(context.Background(), "package.json", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "run-2", records[0].AnalysisID)
	assert.Equal(t, "full", records[0].DegradationLevel)
	assert.Equal(t, 2, records[1].CriticalCount)
	require.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecentScansQueryError(t *testing.T) {
	s, mockPool := newTestStore(t)

	mockPool.ExpectQuery("SELECT analysis_id").
		WithArgs("package.json", 5).
		WillReturnError(errors.New("timeout"))

	_, err := s.RecentScans(context.Background(), "package.json", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query scan history")
}

func TestRecordFromReportTolerantShapes(t *testing.T) {
	// JSON round-tripped reports carry float64 counts and no status.
	report := map[string]any{
		"metadata": map[string]any{
			"analysis_id": "loose",
			"target":      "requirements.txt",
		},
		"summary": map[string]any{
			"severity_counts": map[string]any{
				"critical": float64(1),
				"high":     float64(4),
			},
		},
	}

	record := recordFromReport(report)
	want := ScanRecord{
		AnalysisID:    "loose",
		Target:        "requirements.txt",
		CriticalCount: 1,
		HighCount:     4,
	}
	if diff := cmp.Diff(want, record, cmpopts.IgnoreFields(ScanRecord{}, "CreatedAt")); diff != "" {
		t.Errorf("recordFromReport mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, record.CreatedAt.IsZero())
}
