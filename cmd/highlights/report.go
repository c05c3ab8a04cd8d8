package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fpang/highlight-generator/internal/cli"
	"github.com/fpang/highlight-generator/internal/highlights"
)

// jsonResult is the --json output.
type jsonResult struct {
	*highlights.Result
	FailedSegments []int `json:"failedSegments"`
}

func printJSON(w io.Writer, res *highlights.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonResult{Result: res, FailedSegments: res.FailedIndexes()})
}

func printReport(w io.Writer, videoName string, res *highlights.Result, elapsed time.Duration) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "============================================")
	fmt.Fprintln(w, "Video Highlights")
	fmt.Fprintln(w, "============================================")
	fmt.Fprintf(w, "Video: %s\n", videoName)
	fmt.Fprintf(w, "Request: %s\n", res.RequestID)
	fmt.Fprintf(w, "Strategy: %s\n", res.Strategy)
	fmt.Fprintf(w, "Segments: %d", res.Segments)
	if n := len(res.FailedSegments); n > 0 {
		fmt.Fprintf(w, " (%d failed: %v)", n, res.FailedIndexes())
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Candidates: %d\n", res.Sampled)
	fmt.Fprintf(w, "Elapsed: %s\n", cli.FormatDurationShort(elapsed))
	fmt.Fprintln(w, "--------------------------------------------")

	if len(res.Highlights) == 0 {
		fmt.Fprintln(w, "No highlights were produced.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTIME\tSCORE\tFILE")
	for i, h := range res.Highlights {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%s\n", i+1, cli.FormatTimestamp(h.TimestampMs), h.Score, h.File)
	}
	tw.Flush()

	fmt.Fprintln(w, "--------------------------------------------")
	fmt.Fprintf(w, "Saved %d highlight(s) to %s\n", len(res.Highlights), res.OutputDir)
	if res.Dropped > 0 {
		fmt.Fprintf(w, "%d highlight(s) dropped: frame could not be re-read\n", res.Dropped)
	}
}
