// Package reports generates CSV exports of the feedback and fraud-detection
// logs, streamed by the /reports endpoint.
package reports

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nexora-systems/registry-central/pkg/store"
)

type ReportType string

const (
	ReportTypeFeedback ReportType = "feedback"
	ReportTypeFraud    ReportType = "fraud"
)

// Params bounds a report: a time window and an optional agent filter.
type Params struct {
	From    time.Time
	To      time.Time
	AgentID string
}

// Store defines the data access reports require.
type Store interface {
	ListFeedback(ctx context.Context, filter store.FeedbackLogFilter) ([]*store.Feedback, error)
	ListFraudDetections(ctx context.Context, filter store.FraudLogFilter) ([]*store.FraudDetection, error)
}

type Generator interface {
	Generate(ctx context.Context, params Params) (io.Reader, error)
}

// NewGenerator creates a report generator for reportType.
func NewGenerator(reportType ReportType, s Store) (Generator, error) {
	switch reportType {
	case ReportTypeFeedback:
		return &FeedbackReport{store: s}, nil
	case ReportTypeFraud:
		return &FraudReport{store: s}, nil
	default:
		return nil, fmt.Errorf("unknown report type: %s", reportType)
	}
}
