package logtail

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"opsbot/internal/domain"
)

// TimeLayout formats modification times in summaries and log headers.
const TimeLayout = "2006-01-02 15:04:05"

// Source discovers log files under a fixed set of project directories:
// <BaseDir>/<dir>/<Subdir>/<Pattern>.
type Source struct {
	baseDir     string
	directories []string
	subdir      string
	pattern     string
	logger      *slog.Logger
}

type SourceConfig struct {
	BaseDir     string
	Directories []string
	Subdir      string
	Pattern     string
	Logger      *slog.Logger
}

func NewSource(cfg SourceConfig) *Source {
	if cfg.Pattern == "" {
		cfg.Pattern = "*.log"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Source{
		baseDir:     cfg.BaseDir,
		directories: cfg.Directories,
		subdir:      cfg.Subdir,
		pattern:     cfg.Pattern,
		logger:      cfg.Logger,
	}
}

type logFile struct {
	path    string
	name    string
	modTime time.Time
	size    int64
}

// dirState is the result of inspecting one monitored directory.
type dirState struct {
	name   string
	path   string // directory, logs subdirectory or glob root
	status domain.LogStatus
	files  []logFile // newest first
	err    error
}

func (s *Source) inspect(name string) dirState {
	dirPath := filepath.Join(s.baseDir, name)
	st := dirState{name: name, path: dirPath}

	if !isDir(dirPath) {
		st.status = domain.LogDirMissing
		return st
	}

	logsDir := dirPath
	if s.subdir != "" {
		logsDir = filepath.Join(dirPath, s.subdir)
		st.path = logsDir
		if !isDir(logsDir) {
			st.status = domain.LogSubdirMissing
			return st
		}
	}

	matches, err := filepath.Glob(filepath.Join(logsDir, s.pattern))
	if err != nil {
		st.status = domain.LogReadError
		st.err = err
		return st
	}
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		st.files = append(st.files, logFile{
			path:    m,
			name:    filepath.Base(m),
			modTime: info.ModTime(),
			size:    info.Size(),
		})
	}
	if len(st.files) == 0 {
		st.status = domain.LogEmpty
		return st
	}

	sort.SliceStable(st.files, func(i, j int) bool {
		return st.files[i].modTime.After(st.files[j].modTime)
	})
	st.status = domain.LogOK
	return st
}

// Tails returns one record per log file (newest first within each
// directory) or one record per directory that could not be inspected.
// An empty result means nothing was found and is not an error.
func (s *Source) Tails(ctx context.Context, n int) ([]domain.LogRecord, error) {
	var records []domain.LogRecord
	for _, name := range s.directories {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		st := s.inspect(name)
		if st.status != domain.LogOK {
			rec := domain.LogRecord{Directory: name, Path: st.path, Status: st.status}
			if st.err != nil {
				rec.ErrorDetail = st.err.Error()
			}
			records = append(records, rec)
			continue
		}

		for _, f := range st.files {
			tail, err := ReadTail(f.path, n)
			if err != nil {
				s.logger.Warn("cannot read log file", "path", f.path, "err", err)
				records = append(records, domain.LogRecord{
					Directory:   name,
					Path:        f.path,
					Status:      domain.LogReadError,
					FileName:    f.name,
					ErrorDetail: err.Error(),
				})
				continue
			}
			records = append(records, domain.LogRecord{
				Directory: name,
				Path:      f.path,
				Status:    domain.LogOK,
				FileName:  f.name,
				Modified:  f.modTime,
				SizeBytes: f.size,
				Tail:      tail,
			})
		}
	}
	return records, nil
}

// Summary renders one block per monitored directory: missing directory,
// missing subdirectory, no files, or the file count with the newest file.
func (s *Source) Summary(ctx context.Context) (string, error) {
	var b strings.Builder
	b.WriteString("📋 Log directories summary\n\n")

	for _, name := range s.directories {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		st := s.inspect(name)
		switch st.status {
		case domain.LogDirMissing:
			fmt.Fprintf(&b, "❌ %s: directory not found\n", name)
		case domain.LogSubdirMissing:
			fmt.Fprintf(&b, "⚠️ %s: %s/ subdirectory not found\n", name, s.subdir)
		case domain.LogEmpty:
			fmt.Fprintf(&b, "⚠️ %s: no %s files in %s/\n", name, s.pattern, s.subdir)
		case domain.LogReadError:
			fmt.Fprintf(&b, "❌ %s: %v\n", name, st.err)
		default:
			latest := st.files[0]
			fmt.Fprintf(&b, "✅ %s: %d file(s)\n", name, len(st.files))
			fmt.Fprintf(&b, "   📄 Latest: %s\n", latest.name)
			fmt.Fprintf(&b, "   📅 Modified: %s\n\n", latest.modTime.Format(TimeLayout))
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
