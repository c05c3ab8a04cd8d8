package metrics

import (
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"
)

func TestNew_AutoDimension(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "HighlightsFunction")
	initOnce.Do(func() {})
	functionName = "HighlightsFunction"
	defer func() { functionName = "" }()

	r := New(Namespace)
	if r.namespace != Namespace {
		t.Errorf("expected namespace %s, got %s", Namespace, r.namespace)
	}
	if r.dimensions["FunctionName"] != "HighlightsFunction" {
		t.Errorf("expected FunctionName dimension, got %s", r.dimensions["FunctionName"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	functionName = ""

	var buf bytes.Buffer
	rec := New(Namespace).WithOutput(&buf)
	rec.Dimension("Strategy", "uniform")
	rec.Duration("RequestLatencyMs", 1234*time.Millisecond)
	rec.Metric("Highlights", 4, UnitCount)
	rec.Property("requestId", "abc-123")
	rec.Flush()

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse EMF output as JSON: %v\nOutput: %s", err, buf.String())
	}

	awsMap, ok := doc["_aws"].(map[string]interface{})
	if !ok {
		t.Fatal("missing _aws directive in EMF output")
	}
	if _, ok := awsMap["Timestamp"]; !ok {
		t.Error("missing Timestamp in _aws directive")
	}
	cwArr, ok := awsMap["CloudWatchMetrics"].([]interface{})
	if !ok || len(cwArr) == 0 {
		t.Fatal("CloudWatchMetrics should be a non-empty array")
	}
	cw := cwArr[0].(map[string]interface{})
	if cw["Namespace"] != Namespace {
		t.Errorf("expected namespace %s, got %v", Namespace, cw["Namespace"])
	}

	if doc["Strategy"] != "uniform" {
		t.Errorf("expected Strategy=uniform, got %v", doc["Strategy"])
	}
	if doc["RequestLatencyMs"] != float64(1234) {
		t.Errorf("expected RequestLatencyMs=1234, got %v", doc["RequestLatencyMs"])
	}
	if doc["Highlights"] != float64(4) {
		t.Errorf("expected Highlights=4, got %v", doc["Highlights"])
	}
	if doc["requestId"] != "abc-123" {
		t.Errorf("expected requestId=abc-123, got %v", doc["requestId"])
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	var buf bytes.Buffer
	New("Test").WithOutput(&buf).Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output for empty recorder, got: %s", buf.String())
	}
}

func TestRecorder_FlushDefaultsToStdout(t *testing.T) {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	functionName = ""
	rec := New("Test")
	rec.Count("Calls")
	rec.Flush()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	buf.ReadFrom(r)
	if buf.Len() == 0 {
		t.Error("expected a line on stdout")
	}
}

func TestRecorder_ConcurrentAdd(t *testing.T) {
	functionName = ""
	rec := New("Test")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Add("CandidatesSampled", 2, UnitCount)
			rec.Count("SegmentsProcessed")
		}()
	}
	wg.Wait()

	if v, _ := rec.Value("CandidatesSampled"); v != 100 {
		t.Errorf("CandidatesSampled = %v, want 100", v)
	}
	if v, _ := rec.Value("SegmentsProcessed"); v != 50 {
		t.Errorf("SegmentsProcessed = %v, want 50", v)
	}
	if m := rec.metrics["SegmentsProcessed"]; m.Unit != UnitCount {
		t.Errorf("expected unit Count, got %v", m.Unit)
	}
}

func TestRecorder_ConcurrentMax(t *testing.T) {
	functionName = ""
	rec := New("Test")

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Max("SlowestCallMs", float64(i*10), UnitMilliseconds)
		}()
	}
	wg.Wait()

	if v, _ := rec.Value("SlowestCallMs"); v != 500 {
		t.Errorf("SlowestCallMs = %v, want 500", v)
	}

	rec.Max("SlowestCallMs", 20, UnitMilliseconds)
	if v, _ := rec.Value("SlowestCallMs"); v != 500 {
		t.Errorf("smaller value lowered the max to %v", v)
	}
}
