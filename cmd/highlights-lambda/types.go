package main

// HighlightEvent is the invocation payload. Zero numeric fields and empty
// strings fall back to the function's configured defaults.
type HighlightEvent struct {
	RequestID string `json:"requestId,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	Key       string `json:"key"`

	SegmentLengthMinutes int    `json:"segmentLengthMinutes,omitempty"`
	ImagesPerSegment     int    `json:"imagesPerSegment,omitempty"`
	SummaryImageCount    int    `json:"summaryImageCount,omitempty"`
	SamplingStrategy     string `json:"samplingStrategy,omitempty"`
	ImageFormat          string `json:"imageFormat,omitempty"`
}

// HighlightItem is one uploaded highlight.
type HighlightItem struct {
	ImageRef    string  `json:"imageRef"`
	Key         string  `json:"key"`
	URL         string  `json:"url,omitempty"`
	Score       float64 `json:"score"`
	TimestampMs int64   `json:"timestampMs"`
}

// HighlightResponse is returned to the caller.
type HighlightResponse struct {
	RequestID      string          `json:"requestId"`
	Status         string          `json:"status"`
	Strategy       string          `json:"strategy,omitempty"`
	Highlights     []HighlightItem `json:"highlights"`
	FailedSegments []int           `json:"failedSegments,omitempty"`
	Dropped        int             `json:"dropped,omitempty"`
	BundleKey      string          `json:"bundleKey,omitempty"`
	BundleURL      string          `json:"bundleUrl,omitempty"`
	Error          string          `json:"error,omitempty"`
}
