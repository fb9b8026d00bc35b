package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/colonyops/inloop/internal/core/item"
	"github.com/colonyops/inloop/internal/core/kv"
)

const defaultSlackBaseURL = "https://slack.com/api"

// SlackAdapter polls a Slack thread for new replies via conversations.replies.
type SlackAdapter struct {
	creds   kv.KV
	client  *http.Client
	baseURL string
}

var _ Adapter = (*SlackAdapter)(nil)

// NewSlackAdapter returns a Slack thread adapter reading its bearer token
// from the credential store.
func NewSlackAdapter(creds kv.KV) *SlackAdapter {
	return &SlackAdapter{
		creds:   creds,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: defaultSlackBaseURL,
	}
}

// Type implements Adapter.
func (a *SlackAdapter) Type() item.Type { return item.TypeSlackThread }

type slackMessage struct {
	Type string `json:"type"`
	User string `json:"user"`
	Text string `json:"text"`
	TS   string `json:"ts"`
}

type slackRepliesResponse struct {
	OK       bool           `json:"ok"`
	Messages []slackMessage `json:"messages"`
	Error    string         `json:"error"`
}

// Poll fetches the thread's replies. The item flips to updated only when the
// message count strictly increased since the last recorded count.
func (a *SlackAdapter) Poll(ctx context.Context, it item.Item) (Result, error) {
	token, ok, err := a.creds.Get(ctx, kv.KeySlackToken)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read slack token: %w", err)
	}
	if !ok || token == "" {
		return Result{}, fmt.Errorf("slack token not configured")
	}

	channel := it.MetaString("channel_id")
	threadTS := it.MetaString("thread_ts")

	backfilled := false
	if channel == "" || threadTS == "" {
		parsed, perr := ParseURL(it.URL)
		if perr != nil || parsed.Type != item.TypeSlackThread {
			return Result{}, fmt.Errorf("missing channel_id or thread_ts")
		}
		channel, _ = parsed.Metadata["channel_id"].(string)
		threadTS, _ = parsed.Metadata["thread_ts"].(string)
		backfilled = true
	}

	resp, err := a.fetchReplies(ctx, token, channel, threadTS)
	if err != nil {
		return Result{}, err
	}

	count := int64(len(resp.Messages))
	latestTS := threadTS
	if count > 0 {
		latestTS = resp.Messages[count-1].TS
	}

	meta := map[string]any{
		"message_count": count,
		"latest_ts":     latestTS,
	}
	if backfilled {
		meta["channel_id"] = channel
		meta["thread_ts"] = threadTS
	}

	status := it.Status
	grew := count > it.MetaInt("message_count")
	if grew {
		status = item.StatusUpdated
	}

	// A grown count must persist even when the item already sits in updated,
	// otherwise the stored count goes stale and every later poll re-triggers.
	return Result{Status: status, Metadata: meta, Backfilled: backfilled || grew}, nil
}

func (a *SlackAdapter) fetchReplies(ctx context.Context, token, channel, threadTS string) (*slackRepliesResponse, error) {
	q := url.Values{}
	q.Set("channel", channel)
	q.Set("ts", threadTS)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/conversations.replies?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	var resp slackRepliesResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode slack response: %w", err)
	}

	if !resp.OK {
		msg := resp.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("slack API error: %s", msg)
	}

	return &resp, nil
}
