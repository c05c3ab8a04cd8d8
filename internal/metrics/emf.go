// Package metrics emits AWS CloudWatch Embedded Metrics Format (EMF)
// documents. Each document is one JSON line on stdout that CloudWatch Logs
// turns into metrics; outside Lambda the line is harmless log output.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// Namespace is the CloudWatch namespace for all highlight metrics.
const Namespace = "VideoHighlights"

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
	UnitNone         = "None"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Recorder accumulates dimensions, metrics, and properties for one EMF
// document. It is safe for concurrent use so segment workers can add to a
// shared request recorder.
type Recorder struct {
	mu         sync.Mutex
	out        io.Writer
	namespace  string
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]float64
	properties map[string]interface{}
}

var (
	functionName string
	initOnce     sync.Once
)

func initFunctionName() {
	functionName = os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
}

// New creates a Recorder for namespace writing to stdout. Inside Lambda the
// FunctionName dimension is added automatically.
func New(namespace string) *Recorder {
	initOnce.Do(initFunctionName)
	r := &Recorder{
		out:        os.Stdout,
		namespace:  namespace,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		values:     make(map[string]float64),
		properties: make(map[string]interface{}),
	}
	if functionName != "" {
		r.dimensions["FunctionName"] = functionName
	}
	return r
}

// WithOutput redirects the flushed document, mainly for tests.
func (r *Recorder) WithOutput(w io.Writer) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = w
	return r
}

// Dimension adds a dimension key-value pair.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dimensions[key] = value
	return r
}

// Metric sets a named metric value, replacing any earlier value.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Add increments a named metric by delta.
func (r *Recorder) Add(name string, delta float64, unit string) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] += delta
	return r
}

// Max raises a named metric to value if value is larger or the metric is
// not yet set.
func (r *Recorder) Max(name string, value float64, unit string) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.values[name]; ok && cur >= value {
		return r
	}
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Count adds one to a count metric.
func (r *Recorder) Count(name string) *Recorder {
	return r.Add(name, 1, UnitCount)
}

// Duration records d as a millisecond metric.
func (r *Recorder) Duration(name string, d time.Duration) *Recorder {
	return r.Metric(name, float64(d.Milliseconds()), UnitMilliseconds)
}

// Property adds a searchable non-metric field.
func (r *Recorder) Property(key string, value interface{}) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.properties[key] = value
	return r
}

// Value returns the current value of a metric.
func (r *Recorder) Value(name string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[name]
	return v, ok
}

// Flush writes the document as a single JSON line. Nothing is written when
// no metric was recorded.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.metrics) == 0 {
		return
	}

	doc := make(map[string]interface{})

	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	metricDefs := make([]metricDef, 0, len(names))
	for _, name := range names {
		metricDefs = append(metricDefs, r.metrics[name])
	}

	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}
	sort.Strings(dimKeys)

	doc["_aws"] = emfDirective{
		Timestamp: time.Now().UnixMilli(),
		CloudWatchMetrics: []cwMetric{{
			Namespace:  r.namespace,
			Dimensions: [][]string{dimKeys},
			Metrics:    metricDefs,
		}},
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}
	for k, v := range r.properties {
		doc[k] = v
	}

	data, err := json.Marshal(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emf: failed to marshal metrics: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, string(data))
}
