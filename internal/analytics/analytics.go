// Package analytics records one audit row per completed sync run. The sink
// is strictly best-effort: a failed insert is logged by the caller and never
// affects sync status.
package analytics

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
)

// SyncRun is one completed sync attempt, success or failure.
type SyncRun struct {
	RunID      string    `bigquery:"run_id"`
	AccountID  string    `bigquery:"account_id"`
	Status     string    `bigquery:"status"`
	Added      int       `bigquery:"added"`
	Modified   int       `bigquery:"modified"`
	Removed    int       `bigquery:"removed"`
	Skipped    int       `bigquery:"skipped"`
	Error      string    `bigquery:"error_message"`
	StartedAt  time.Time `bigquery:"started_ts"`
	FinishedAt time.Time `bigquery:"finished_ts"`
}

// Sink receives sync run records.
type Sink interface {
	RecordSyncRun(ctx context.Context, run SyncRun) error
}

// NopSink discards runs; the default when no analytics project is configured.
type NopSink struct{}

// RecordSyncRun implements the Sink interface.
func (NopSink) RecordSyncRun(ctx context.Context, run SyncRun) error {
	return nil
}

// BigQuerySink streams runs into a BigQuery audit table.
type BigQuerySink struct {
	client  *bigquery.Client
	dataset string
	table   string
}

// NewBigQuerySink creates a sink writing to dataset.table in projectID.
func NewBigQuerySink(ctx context.Context, projectID, dataset, table string) (*BigQuerySink, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQuerySink: creating client: %w", err)
	}
	return &BigQuerySink{client: client, dataset: dataset, table: table}, nil
}

// RecordSyncRun implements the Sink interface.
func (s *BigQuerySink) RecordSyncRun(ctx context.Context, run SyncRun) error {
	inserter := s.client.Dataset(s.dataset).Table(s.table).Inserter()
	if err := inserter.Put(ctx, &run); err != nil {
		return fmt.Errorf("BigQuerySink: inserting run %s: %w", run.RunID, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *BigQuerySink) Close() error {
	return s.client.Close()
}
