// Package store keeps the state of highlight requests in DynamoDB so the
// status of a long-running request can be read while it runs and after it
// finishes.
//
// Single-table design: every request is one item with partition key
// REQUEST#{requestId} and sort key META. A TTL attribute (expiresAt)
// removes records after 24 hours, matching the output bucket lifecycle.
package store

import (
	"context"
	"time"
)

// RequestTTL is how long request records live.
const RequestTTL = 24 * time.Hour

// Request statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
)

// RequestStore persists request records. Get returns (nil, nil) when the
// record does not exist.
type RequestStore interface {
	PutRequest(ctx context.Context, rec *RequestRecord) error
	GetRequest(ctx context.Context, requestID string) (*RequestRecord, error)

	// UpdatePhase records the phase a running request entered without
	// touching its other fields.
	UpdatePhase(ctx context.Context, requestID, phase string) error

	CompleteRequest(ctx context.Context, requestID string, highlights []HighlightRecord, failedSegments []int) error
	FailRequest(ctx context.Context, requestID, phase, reason string) error
}

// RequestParams are the parameters a request was run with.
type RequestParams struct {
	SegmentLengthMinutes int    `dynamodbav:"segmentLengthMinutes" json:"segmentLengthMinutes"`
	ImagesPerSegment     int    `dynamodbav:"imagesPerSegment" json:"imagesPerSegment"`
	SummaryImageCount    int    `dynamodbav:"summaryImageCount" json:"summaryImageCount"`
	SamplingStrategy     string `dynamodbav:"samplingStrategy" json:"samplingStrategy"`
	ImageFormat          string `dynamodbav:"imageFormat" json:"imageFormat"`
}

// HighlightRecord is one published highlight.
type HighlightRecord struct {
	ImageRef    string  `dynamodbav:"imageRef" json:"imageRef"`
	Key         string  `dynamodbav:"key" json:"key"`
	Score       float64 `dynamodbav:"score" json:"score"`
	TimestampMs int64   `dynamodbav:"timestampMs" json:"timestampMs"`
}

// RequestRecord is the stored state of one request.
type RequestRecord struct {
	ID             string            `dynamodbav:"-" json:"requestId"`
	Status         string            `dynamodbav:"status" json:"status"`
	Phase          string            `dynamodbav:"phase" json:"phase"`
	Bucket         string            `dynamodbav:"bucket" json:"bucket"`
	VideoKey       string            `dynamodbav:"videoKey" json:"videoKey"`
	Params         RequestParams     `dynamodbav:"params" json:"params"`
	Highlights     []HighlightRecord `dynamodbav:"highlights,omitempty" json:"highlights,omitempty"`
	FailedSegments []int             `dynamodbav:"failedSegments,omitempty" json:"failedSegments,omitempty"`
	Error          string            `dynamodbav:"error,omitempty" json:"error,omitempty"`
	CreatedAt      int64             `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt      int64             `dynamodbav:"updatedAt" json:"updatedAt"`
}
