package tailjson

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestReadLastNewestFirst(t *testing.T) {
	path := writeLines(t,
		`{"type":"session.start"}`,
		`{"type":"user.message"}`,
		`{"type":"assistant.turn_end"}`,
	)

	records, err := ReadLast(path, DefaultMaxBytes, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "assistant.turn_end", records[0]["type"])
	assert.Equal(t, "user.message", records[1]["type"])
	assert.Equal(t, "session.start", records[2]["type"])
}

func TestReadLastLimitsRecords(t *testing.T) {
	path := writeLines(t,
		`{"n":1}`,
		`{"n":2}`,
		`{"n":3}`,
	)

	records, err := ReadLast(path, DefaultMaxBytes, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, float64(3), records[0]["n"])
	assert.Equal(t, float64(2), records[1]["n"])
}

func TestReadLastSkipsInvalidLines(t *testing.T) {
	path := writeLines(t,
		`{"ok":true}`,
		`not json at all`,
		`{"also":"ok"}`,
	)

	records, err := ReadLast(path, DefaultMaxBytes, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "ok", records[0]["also"])
}

func TestReadLastByteWindow(t *testing.T) {
	// The first record falls outside the byte window; its truncated remains
	// must not produce a record.
	first := `{"pad":"` + strings.Repeat("x", 100) + `"}`
	path := writeLines(t, first, `{"kept":1}`, `{"kept":2}`)

	records, err := ReadLast(path, 32, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, float64(2), records[0]["kept"])
	assert.Equal(t, float64(1), records[1]["kept"])
}

func TestReadLastMissingFile(t *testing.T) {
	records, err := ReadLast(filepath.Join(t.TempDir(), "absent.jsonl"), DefaultMaxBytes, 10)
	require.NoError(t, err)
	assert.Nil(t, records)
}

func TestReadLastEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	records, err := ReadLast(path, DefaultMaxBytes, 10)
	require.NoError(t, err)
	assert.Nil(t, records)
}
