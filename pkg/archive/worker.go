// Package archive moves expired fraud-detection rows out of the hot store:
// rows past the 30-day retention are gzipped to a blob store as JSON Lines
// before being deleted.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexora-systems/registry-central/pkg/blob"
	"github.com/nexora-systems/registry-central/pkg/store"
)

// DefaultRetention is how long fraud-detection rows stay queryable.
const DefaultRetention = 30 * 24 * time.Hour

// Config holds configuration for the Worker.
type Config struct {
	Retention     time.Duration `json:"retention"`
	CheckInterval time.Duration `json:"check_interval"`
}

// Store is the subset of store.Store the worker depends on.
type Store interface {
	ListFraudDetections(ctx context.Context, filter store.FraudLogFilter) ([]*store.FraudDetection, error)
	DeleteFraudDetectionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Worker archives and prunes expired fraud-detection rows.
type Worker struct {
	store     Store
	blobStore blob.BlobStore
	config    Config
	isLeader  func() bool
}

// NewWorker creates an archive Worker. blobStore may be nil, in which case
// expired rows are pruned without an archival copy. isLeader gates each
// sweep so replicated deployments don't race on the same delete window;
// pass nil to always sweep.
func NewWorker(st Store, blobStore blob.BlobStore, config Config, isLeader func() bool) *Worker {
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Hour
	}
	return &Worker{store: st, blobStore: blobStore, config: config, isLeader: isLeader}
}

// Run starts the archive loop, returning when ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.isLeader != nil && !w.isLeader() {
				continue
			}
			if _, err := w.Sweep(ctx); err != nil {
				fmt.Printf(`{"level":"error","msg":"fraud_archive_failed","error":"%v"}`+"\n", err)
			}
		}
	}
}

// Sweep archives and deletes every fraud row past retention, returning how
// many were removed.
func (w *Worker) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-w.config.Retention)

	expired, err := w.store.ListFraudDetections(ctx, store.FraudLogFilter{To: cutoff})
	if err != nil {
		return 0, fmt.Errorf("failed to read expired fraud rows: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	if w.blobStore != nil {
		if err := w.upload(ctx, expired); err != nil {
			return 0, err
		}
	}

	deleted, err := w.store.DeleteFraudDetectionsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired fraud rows: %w", err)
	}
	fmt.Printf(`{"level":"info","msg":"fraud_log_archived","rows":%d}`+"\n", deleted)
	return deleted, nil
}

// upload writes the rows as gzipped JSON Lines under a date-partitioned key.
func (w *Worker) upload(ctx context.Context, rows []*store.FraudDetection) error {
	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)
	encoder := json.NewEncoder(gzWriter)

	for _, row := range rows {
		if err := encoder.Encode(row); err != nil {
			gzWriter.Close()
			return fmt.Errorf("failed to encode fraud row %d: %w", row.ID, err)
		}
	}
	if err := gzWriter.Close(); err != nil {
		return fmt.Errorf("failed to close gzip writer: %w", err)
	}

	oldest := rows[len(rows)-1].DetectedAt
	newest := rows[0].DetectedAt
	year, month, day := oldest.Date()
	key := fmt.Sprintf("fraud/%04d/%02d/%02d/%d_%d_%s.jsonl.gz",
		year, month, day,
		oldest.Unix(),
		newest.Unix(),
		uuid.New().String(),
	)

	if err := w.blobStore.Put(ctx, key, &buf); err != nil {
		return fmt.Errorf("failed to upload fraud archive: %w", err)
	}
	return nil
}
