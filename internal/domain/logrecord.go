package domain

import "time"

// LogStatus classifies one entry produced by the log tailer.
type LogStatus string

const (
	LogOK            LogStatus = "ok"
	LogDirMissing    LogStatus = "dir_missing"
	LogSubdirMissing LogStatus = "subdir_missing"
	LogEmpty         LogStatus = "empty"
	LogReadError     LogStatus = "read_error"
)

// LogRecord is produced per discovered log file, or per directory when the
// directory could not be inspected. Immutable once produced.
type LogRecord struct {
	Directory string
	Path      string // directory or file path the status refers to
	Status    LogStatus

	FileName  string
	Modified  time.Time
	SizeBytes int64
	Tail      string

	ErrorDetail string
}

// LineCount returns the number of lines in Tail.
func (r LogRecord) LineCount() int {
	if r.Tail == "" {
		return 0
	}
	n := 1
	for i := 0; i < len(r.Tail); i++ {
		if r.Tail[i] == '\n' && i != len(r.Tail)-1 {
			n++
		}
	}
	return n
}
