package logtail

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"opsbot/internal/domain"
)

const (
	// DefaultLimit is the per-message ceiling used when none is configured.
	DefaultLimit = 4000
	// TruncationMarker ends every message whose content was clipped.
	TruncationMarker = "\n... (truncated)"
	// NoLogsMessage is the single message sent when no record was produced.
	NoLogsMessage = "⚠️ No logs found in the monitored directories."

	safetyMargin = 20
	separator    = "───────────────────────────────"
)

// Format turns tail records into independent message bodies, one per
// record, each at most limit characters long.
func Format(records []domain.LogRecord, limit int) []string {
	if len(records) == 0 {
		return []string{NoLogsMessage}
	}
	messages := make([]string, 0, len(records))
	for _, rec := range records {
		messages = append(messages, FormatRecord(rec, limit))
	}
	return messages
}

// FormatRecord renders one record. The output depends only on rec and
// limit.
func FormatRecord(rec domain.LogRecord, limit int) string {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var msg string
	switch rec.Status {
	case domain.LogOK:
		header := fmt.Sprintf("📄 %s - %s\n\n📅 Modified: %s\n📊 Size: %s\n📝 Lines shown: %d\n\n%s\n",
			rec.Directory, rec.FileName,
			rec.Modified.Format(TimeLayout),
			FormatSize(rec.SizeBytes),
			rec.LineCount(),
			separator,
		)
		available := limit - utf8.RuneCountInString(header) - safetyMargin
		msg = header + truncate(Sanitize(rec.Tail), available)

	case domain.LogDirMissing:
		msg = fmt.Sprintf("⚠️ %s\n\n❌ Directory not found: %s", rec.Directory, rec.Path)
	case domain.LogSubdirMissing:
		msg = fmt.Sprintf("⚠️ %s\n\n⚠️ Logs subdirectory not found: %s", rec.Directory, rec.Path)
	case domain.LogEmpty:
		msg = fmt.Sprintf("⚠️ %s\n\n⚠️ No log files found in: %s", rec.Directory, rec.Path)

	case domain.LogReadError:
		title := "❌ " + rec.Directory
		what := rec.Path
		if rec.FileName != "" {
			title += " - " + rec.FileName
			what = rec.FileName
		}
		msg = fmt.Sprintf("%s\n\n❌ Error reading %s: %s", title, what, rec.ErrorDetail)

	default:
		msg = fmt.Sprintf("❓ %s: unknown status %q", rec.Directory, rec.Status)
	}

	return clip(msg, limit)
}

// Sanitize replaces backticks so tail content cannot open or close a
// code block in the chat client.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "```", "---")
	return strings.ReplaceAll(s, "`", "'")
}

// FormatSize renders a byte count as B, KB, MB or GB with one decimal.
func FormatSize(n int64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case n < kb:
		return fmt.Sprintf("%d B", n)
	case n < mb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	case n < gb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	default:
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	}
}

// truncate keeps the first max characters of s, appending the marker when
// anything was cut.
func truncate(s string, max int) string {
	if max < 0 {
		max = 0
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + TruncationMarker
}

// clip enforces the hard ceiling on a whole message.
func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	keep := limit - utf8.RuneCountInString(TruncationMarker)
	return truncate(s, keep)
}

// Head returns the first n characters of s.
func Head(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
