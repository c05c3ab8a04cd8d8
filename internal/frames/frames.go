// Package frames holds the candidate still types shared by the sampling,
// staging and selection stages, and the on-disk image helpers they use.
package frames

import (
	"fmt"
	"sort"
)

// Candidate is a decoded frame materialized as a still image on disk.
// TimestampMs is unique within a request and doubles as the candidate id.
type Candidate struct {
	TimestampMs int64
	Path        string
}

// Scored is a Candidate with the quality value assigned by a scorer.
type Scored struct {
	Candidate
	Score float64
}

// FileName returns the on-disk name used for a still taken at ts.
func FileName(ts int64, format string) string {
	return fmt.Sprintf("frame_%d.%s", ts, format)
}

// Better reports whether a ranks ahead of b: higher score first, earlier
// timestamp on equal scores.
func Better(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.TimestampMs < b.TimestampMs
}

// SortByScore orders scored candidates best first.
func SortByScore(s []Scored) {
	sort.SliceStable(s, func(i, j int) bool { return Better(s[i], s[j]) })
}

// Timestamps returns the timestamps of cands in order. Handy for logging.
func Timestamps(cands []Candidate) []int64 {
	out := make([]int64, len(cands))
	for i, c := range cands {
		out[i] = c.TimestampMs
	}
	return out
}
