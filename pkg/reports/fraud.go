package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/nexora-systems/registry-central/pkg/store"
)

// FraudReport exports the fraud-detection log as CSV.
type FraudReport struct {
	store Store
}

// Generate renders the fraud rows in params' window, newest first. The
// opaque details document is passed through as raw JSON in the last column.
func (r *FraudReport) Generate(ctx context.Context, params Params) (io.Reader, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	headers := []string{"id", "agent_id", "consumer_id", "fraud_type", "severity", "detected_at", "details"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}

	rows, err := r.store.ListFraudDetections(ctx, store.FraudLogFilter{
		AgentID: params.AgentID,
		From:    params.From,
		To:      params.To,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query fraud detections: %w", err)
	}

	for _, f := range rows {
		record := []string{
			strconv.FormatInt(f.ID, 10),
			f.AgentID,
			f.ConsumerID,
			string(f.FraudType),
			string(f.Severity),
			f.DetectedAt.Format("2006-01-02T15:04:05Z07:00"),
			string(f.Details),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush writer: %w", err)
	}
	return buf, nil
}
