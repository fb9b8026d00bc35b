package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/inloop/internal/core/item"
)

func TestParseURLSlackThread(t *testing.T) {
	parsed, err := ParseURL("https://acme.slack.com/archives/C0123ABCD/p1717171717123456")
	require.NoError(t, err)

	assert.Equal(t, item.TypeSlackThread, parsed.Type)
	assert.Equal(t, "C0123ABCD", parsed.Metadata["channel_id"])
	assert.Equal(t, "1717171717.123456", parsed.Metadata["thread_ts"])
	assert.Equal(t, "Slack thread in C0123ABCD", parsed.Title)
}

func TestParseURLGithubRun(t *testing.T) {
	parsed, err := ParseURL("https://github.com/acme/widgets/actions/runs/9876543210")
	require.NoError(t, err)

	assert.Equal(t, item.TypeGithubAction, parsed.Type)
	assert.Equal(t, "acme", parsed.Metadata["owner"])
	assert.Equal(t, "widgets", parsed.Metadata["repo"])
	assert.Equal(t, "9876543210", parsed.Metadata["run_id"])
	assert.Equal(t, "GitHub Action: acme/widgets #9876543210", parsed.Title)
}

func TestParseURLGithubPull(t *testing.T) {
	parsed, err := ParseURL("https://github.com/acme/widgets/pull/42")
	require.NoError(t, err)

	assert.Equal(t, item.TypeGithubPR, parsed.Type)
	assert.Equal(t, "42", parsed.Metadata["pr_number"])
	assert.Equal(t, "PR: acme/widgets #42", parsed.Title)
}

func TestParseURLTrailingSegmentsTolerated(t *testing.T) {
	parsed, err := ParseURL("https://github.com/acme/widgets/pull/42/files#diff-abc")
	require.NoError(t, err)
	assert.Equal(t, item.TypeGithubPR, parsed.Type)
	assert.Equal(t, "42", parsed.Metadata["pr_number"])
}

func TestParseURLUnknown(t *testing.T) {
	cases := []string{
		"https://example.com/foo",
		"https://github.com/acme/widgets/issues/42",
		"https://github.com/acme/widgets",
		"not a url",
		"",
	}

	for _, url := range cases {
		_, err := ParseURL(url)
		assert.Error(t, err, "url: %s", url)
	}
}

func TestSlackTimestamp(t *testing.T) {
	assert.Equal(t, "1717171717.123456", slackTimestamp("1717171717123456"))
	// Too short to split: passed through untouched.
	assert.Equal(t, "12345", slackTimestamp("12345"))
}
