// Package tailjson reads the most recent records of an append-only JSONL
// file without scanning the whole file.
package tailjson

import (
	"encoding/json"
	"io"
	"os"
	"strings"
)

// DefaultMaxBytes is enough for several dozen typical event records.
const DefaultMaxBytes = 8192

// ReadLast returns up to maxRecords valid JSON objects from the tail of the
// file, most recent first. The read is bounded to the last maxBytes bytes;
// a line truncated by the byte window is skipped, as is any line that does
// not parse. A missing or empty file yields (nil, nil).
func ReadLast(path string, maxBytes int64, maxRecords int) ([]map[string]any, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	readSize := size
	if readSize > maxBytes {
		readSize = maxBytes
	}

	if _, err := f.Seek(size-readSize, io.SeekStart); err != nil {
		return nil, err
	}

	buf := make([]byte, readSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}

	lines := strings.Split(string(buf), "\n")

	// Parse from the end, stopping once enough valid records are found.
	var records []map[string]any
	for i := len(lines) - 1; i >= 0 && len(records) < maxRecords; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}
