package logtail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// Files smaller than this are read whole.
	smallFileSize = 10_000
	blockSize     = 4096
)

// ReadTail returns the last n lines of the file at path, joined with "\n"
// and without a trailing newline. Invalid UTF-8 is dropped.
func ReadTail(path string, n int) (string, error) {
	if n <= 0 {
		return "", nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	var data []byte
	if info.Size() < smallFileSize {
		data, err = io.ReadAll(f)
	} else {
		data, err = readBackwards(f, info.Size(), n)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return lastLines(string(data), n), nil
}

// readBackwards reads whole blocks from the end of f until the buffer holds
// at least n complete lines.
func readBackwards(r io.ReaderAt, size int64, n int) ([]byte, error) {
	var buf []byte
	offset := size
	for offset > 0 {
		chunk := int64(blockSize)
		if offset < chunk {
			chunk = offset
		}
		offset -= chunk

		block := make([]byte, chunk)
		if _, err := r.ReadAt(block, offset); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		buf = append(block, buf...)

		if bytes.Count(bytes.TrimRight(buf, "\r\n"), []byte{'\n'}) >= n {
			break
		}
	}
	return buf, nil
}

func lastLines(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
