// Package cli provides CLI output utilities for Mitsuke.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/mitsuke/internal/models"
	"github.com/hyperjump/mitsuke/internal/scan"
)

// OutputFormat is the format for result output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch s {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

// WriteSearchResults writes frame search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	}
	fmt.Fprintf(w, "\nFound %d frames for %q in %.2fs (min score %.2f)\n\n",
		response.Total, response.Query, response.QueryTime, response.MinScore)
	for i, r := range response.Results {
		fmt.Fprintf(w, "%2d. %.4f  %s\n", i+1, r.Score, r.FramePath)
		fmt.Fprintf(w, "    camera: %s  time: %s\n", r.CameraID, r.Timestamp)
		if r.SourceVideo != "" {
			fmt.Fprintf(w, "    video:  %s\n", r.SourceVideo)
		}
	}
	return nil
}

// WriteScanResult writes a terminal scan result to w in the given format.
func WriteScanResult(w io.Writer, result *scan.Result, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintf(w, "\n%s\n", result.Summary)
	for i, m := range result.Matches {
		fmt.Fprintf(w, "%2d. %.4f  %s\n", i+1, m.Score, m.ID)
	}
	return nil
}

// WriteProgress writes a one-line progress update, overwriting the current
// terminal line.
func WriteProgress(w io.Writer, p scan.Progress) {
	fmt.Fprintf(w, "\rprocessed %d/%d, %d matches so far", p.Processed, p.Total, p.Matches)
}
