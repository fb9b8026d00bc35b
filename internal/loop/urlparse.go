package loop

import (
	"fmt"
	"regexp"

	"github.com/colonyops/inloop/internal/core/item"
)

// ParsedURL is the result of recognizing a trackable URL.
type ParsedURL struct {
	Type     item.Type
	Metadata map[string]any
	Title    string
}

var (
	slackThreadRe = regexp.MustCompile(`https?://[^/]+\.slack\.com/archives/([^/]+)/p(\d+)`)
	githubRunRe   = regexp.MustCompile(`https?://github\.com/([^/]+)/([^/]+)/actions/runs/(\d+)`)
	githubPullRe  = regexp.MustCompile(`https?://github\.com/([^/]+)/([^/]+)/pull/(\d+)`)

	errUnknownURL = fmt.Errorf("unsupported URL, expected a Slack thread, GitHub Actions run, or GitHub PR")
)

// ParseURL classifies a URL into an item type with identifying metadata and
// a suggested title. Recognized shapes:
//
//	https://<workspace>.slack.com/archives/<channel>/p<ts>
//	https://github.com/<owner>/<repo>/actions/runs/<id>
//	https://github.com/<owner>/<repo>/pull/<number>
func ParseURL(url string) (ParsedURL, error) {
	if m := slackThreadRe.FindStringSubmatch(url); m != nil {
		return ParsedURL{
			Type: item.TypeSlackThread,
			Metadata: map[string]any{
				"channel_id": m[1],
				"thread_ts":  slackTimestamp(m[2]),
			},
			Title: fmt.Sprintf("Slack thread in %s", m[1]),
		}, nil
	}

	if m := githubRunRe.FindStringSubmatch(url); m != nil {
		return ParsedURL{
			Type: item.TypeGithubAction,
			Metadata: map[string]any{
				"owner":  m[1],
				"repo":   m[2],
				"run_id": m[3],
			},
			Title: fmt.Sprintf("GitHub Action: %s/%s #%s", m[1], m[2], m[3]),
		}, nil
	}

	if m := githubPullRe.FindStringSubmatch(url); m != nil {
		return ParsedURL{
			Type: item.TypeGithubPR,
			Metadata: map[string]any{
				"owner":     m[1],
				"repo":      m[2],
				"pr_number": m[3],
			},
			Title: fmt.Sprintf("PR: %s/%s #%s", m[1], m[2], m[3]),
		}, nil
	}

	return ParsedURL{}, errUnknownURL
}

// slackTimestamp converts the p-prefixed digit run from a Slack permalink
// into the dotted seconds.micros form the API expects.
func slackTimestamp(digits string) string {
	if len(digits) < 10 {
		return digits
	}
	return digits[:10] + "." + digits[10:]
}
