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

// FeedbackReport exports the immutable feedback log as CSV.
type FeedbackReport struct {
	store Store
}

// Generate renders the feedback rows in params' window, newest first.
func (r *FeedbackReport) Generate(ctx context.Context, params Params) (io.Reader, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	headers := []string{"id", "agent_id", "consumer_id", "success", "latency_ms", "rating", "created_at"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}

	rows, err := r.store.ListFeedback(ctx, store.FeedbackLogFilter{
		AgentID: params.AgentID,
		From:    params.From,
		To:      params.To,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}

	for _, f := range rows {
		record := []string{
			strconv.FormatInt(f.ID, 10),
			f.AgentID,
			f.ConsumerID,
			strconv.FormatBool(f.Success),
			strconv.FormatInt(f.LatencyMs, 10),
			strconv.FormatFloat(f.Rating, 'f', 2, 64),
			f.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
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
