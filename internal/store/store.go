package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Store persists finished analysis reports to PostgreSQL so past scans of a
// target can be compared.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// ScanRecord is one row of scan history.
type ScanRecord struct {
	AnalysisID       string
	CreatedAt        time.Time
	Target           string
	Ecosystem        string
	DegradationLevel string
	Confidence       float64
	CriticalCount    int
	HighCount        int
	MediumCount      int
	LowCount         int
}

const insertReportSQL = `
    INSERT INTO scan_reports
        (analysis_id, created_at, target, ecosystem, degradation_level, confidence,
         critical_count, high_count, medium_count, low_count, report)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
`

// SaveReport extracts the history row fields from the finished report and
// inserts it together with the full JSON document.
func (s *Store) SaveReport(ctx context.Context, report map[string]any) error {
	record := recordFromReport(report)

	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	_, err = s.pool.Exec(ctx, insertReportSQL,
		record.AnalysisID, record.CreatedAt.UTC(), record.Target, record.Ecosystem,
		record.DegradationLevel, record.Confidence,
		record.CriticalCount, record.HighCount, record.MediumCount, record.LowCount,
		raw,
	)
	if err != nil {
		return fmt.Errorf("failed to insert scan report: %w", err)
	}

	s.log.Info("Report persisted",
		zap.String("analysis_id", record.AnalysisID),
		zap.String("target", record.Target),
	)
	return nil
}

// RecentScans returns the most recent history rows for a target, newest
// first.
func (s *Store) RecentScans(ctx context.Context, target string, limit int) ([]ScanRecord, error) {
	query := `
        SELECT analysis_id, created_at, target, ecosystem, degradation_level, confidence,
               critical_count, high_count, medium_count, low_count
        FROM scan_reports
        WHERE target = $1
        ORDER BY created_at DESC
        LIMIT $2;
    `
	rows, err := s.pool.Query(ctx, query, target, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan history: %w", err)
	}
	defer rows.Close()

	var records []ScanRecord
	for rows.Next() {
		var r ScanRecord
		err := rows.Scan(
			&r.AnalysisID, &r.CreatedAt, &r.Target, &r.Ecosystem,
			&r.DegradationLevel, &r.Confidence,
			&r.CriticalCount, &r.HighCount, &r.MediumCount, &r.LowCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

// recordFromReport pulls the indexed columns out of the report document.
// Missing fields produce zero values rather than errors; the full document is
// stored alongside either way.
func recordFromReport(report map[string]any) ScanRecord {
	record := ScanRecord{CreatedAt: time.Now()}

	if md, ok := report["metadata"].(map[string]any); ok {
		record.AnalysisID, _ = md["analysis_id"].(string)
		record.Target, _ = md["target"].(string)
		record.Ecosystem, _ = md["ecosystem"].(string)
		record.Confidence, _ = md["confidence"].(float64)
		if status, ok := md["analysis_status"].(string); ok {
			record.DegradationLevel = status
		}
	}

	if summary, ok := report["summary"].(map[string]any); ok {
		counts := severityCounts(summary["severity_counts"])
		record.CriticalCount = counts["critical"]
		record.HighCount = counts["high"]
		record.MediumCount = counts["medium"]
		record.LowCount = counts["low"]
	}
	return record
}

// severityCounts tolerates both native map[string]int and JSON-round-tripped
// map[string]any shapes.
func severityCounts(v any) map[string]int {
	switch counts := v.(type) {
	case map[string]int:
		return counts
	case map[string]any:
		out := make(map[string]int, len(counts))
		for k, raw := range counts {
			switch n := raw.(type) {
			case int:
				out[k] = n
			case float64:
				out[k] = int(n)
			}
		}
		return out
	default:
		return map[string]int{}
	}
}
