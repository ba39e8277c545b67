package client

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

const maxColumnWidth = 30

// catalogTime is how the director renders timestamps.
const catalogTime = "2006-01-02 15:04:05"

var timeColumns = map[string]bool{
	"starttime":   true,
	"endtime":     true,
	"schedtime":   true,
	"realendtime": true,
	"lastwritten": true,
	"time":        true,
}

// PrintTable writes list items as fixed-width columns. Items that are not
// objects are printed one per line.
func PrintTable(w io.Writer, columns []string, items []any) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No results")
		return
	}

	rows := make([][]string, 0, len(items))
	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = utf8.RuneCountInString(c)
	}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			fmt.Fprintln(w, cell("", item))
			continue
		}
		row := make([]string, len(columns))
		for i, c := range columns {
			v := truncate(cell(c, obj[c]), maxColumnWidth)
			row[i] = v
			widths[i] = max(widths[i], utf8.RuneCountInString(v))
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return
	}

	line := func(values []string) {
		for i, v := range values {
			if i == len(values)-1 {
				fmt.Fprintln(w, v)
				break
			}
			fmt.Fprintf(w, "%-*s ", widths[i], v)
		}
	}
	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = strings.ToUpper(c)
	}
	line(header)
	for _, row := range rows {
		line(row)
	}
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

// PrintJSON writes v indented.
func PrintJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func cell(column string, v any) string {
	switch v := v.(type) {
	case nil:
		return "-"
	case string:
		if timeColumns[column] {
			return formatRelativeTime(v)
		}
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}

// formatRelativeTime converts a catalog timestamp to a human-readable
// relative time string such as "5m ago".
func formatRelativeTime(ts string) string {
	t, err := time.ParseInLocation(catalogTime, ts, time.Local)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, ts); err != nil {
			return ts // fall back to the raw string
		}
	}
	d := time.Since(t)

	switch {
	case d < 0:
		return ts
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
