package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/colonyops/inloop/internal/core/item"
	"github.com/colonyops/inloop/internal/core/kv"
	"github.com/colonyops/inloop/pkg/executil"
)

const defaultGithubBaseURL = "https://api.github.com"

// githubClient fetches GitHub REST resources, trying an authenticated HTTP
// call first and falling back to the gh CLI (stored token, then ambient
// login). Every failed attempt is kept and aggregated into the final error
// so the user sees why each path was rejected.
type githubClient struct {
	creds   kv.KV
	http    *http.Client
	exec    executil.Executor
	baseURL string
}

func newGithubClient(creds kv.KV, exec executil.Executor) *githubClient {
	return &githubClient{
		creds:   creds,
		http:    &http.Client{Timeout: 30 * time.Second},
		exec:    exec,
		baseURL: defaultGithubBaseURL,
	}
}

// fetch retrieves an API path like "repos/o/r/pulls/1" and returns the raw
// response body.
func (c *githubClient) fetch(ctx context.Context, path string) ([]byte, error) {
	token, _, err := c.creds.Get(ctx, kv.KeyGithubToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read github token: %w", err)
	}

	var attempts []string

	if token != "" {
		body, err := c.fetchHTTP(ctx, token, path)
		if err == nil {
			return body, nil
		}
		attempts = append(attempts, fmt.Sprintf("https: %v", err))
	} else {
		attempts = append(attempts, "https: no stored token")
	}

	if !c.exec.LookPath("gh") {
		attempts = append(attempts, "gh: not installed")
	} else {
		if token != "" {
			out, err := c.exec.RunEnv(ctx, []string{"GH_TOKEN=" + token}, "gh", "api", path)
			if err == nil {
				return out, nil
			}
			attempts = append(attempts, fmt.Sprintf("gh api (stored token): %v", err))
		}

		out, err := c.exec.Run(ctx, "gh", "api", path)
		if err == nil {
			return out, nil
		}
		attempts = append(attempts, fmt.Sprintf("gh api: %v", err))
	}

	return nil, fmt.Errorf("all fetch strategies failed: %s", strings.Join(attempts, "; "))
}

func (c *githubClient) fetchHTTP(ctx context.Context, token, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", "inloop")
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GitHub API error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	return io.ReadAll(resp.Body)
}

// githubIdentity resolves owner/repo plus the run or PR id from metadata,
// re-deriving them from the item URL when absent.
func githubIdentity(it item.Item, want item.Type, idKey string) (owner, repo, id string, backfilled bool, err error) {
	owner = it.MetaString("owner")
	repo = it.MetaString("repo")
	id = it.MetaString(idKey)
	if id == "" {
		if n := it.MetaInt(idKey); n > 0 {
			id = strconv.FormatInt(n, 10)
		}
	}

	if owner != "" && repo != "" && id != "" {
		return owner, repo, id, false, nil
	}

	parsed, perr := ParseURL(it.URL)
	if perr != nil || parsed.Type != want {
		return "", "", "", false, fmt.Errorf("missing %s/owner/repo metadata", idKey)
	}

	owner, _ = parsed.Metadata["owner"].(string)
	repo, _ = parsed.Metadata["repo"].(string)
	id, _ = parsed.Metadata[idKey].(string)
	return owner, repo, id, true, nil
}

// GithubActionsAdapter polls a workflow run and maps its status/conclusion
// pair onto item statuses.
type GithubActionsAdapter struct {
	client *githubClient
}

var _ Adapter = (*GithubActionsAdapter)(nil)

// NewGithubActionsAdapter returns an adapter for GitHub Actions run items.
func NewGithubActionsAdapter(creds kv.KV, exec executil.Executor) *GithubActionsAdapter {
	return &GithubActionsAdapter{client: newGithubClient(creds, exec)}
}

// Type implements Adapter.
func (a *GithubActionsAdapter) Type() item.Type { return item.TypeGithubAction }

type workflowRun struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	UpdatedAt  string `json:"updated_at"`
}

// Poll implements Adapter.
func (a *GithubActionsAdapter) Poll(ctx context.Context, it item.Item) (Result, error) {
	owner, repo, runID, backfilled, err := githubIdentity(it, item.TypeGithubAction, "run_id")
	if err != nil {
		return Result{}, err
	}

	body, err := a.client.fetch(ctx, fmt.Sprintf("repos/%s/%s/actions/runs/%s", owner, repo, runID))
	if err != nil {
		return Result{}, err
	}

	var run workflowRun
	if err := json.Unmarshal(body, &run); err != nil {
		return Result{}, fmt.Errorf("failed to decode workflow run: %w", err)
	}

	meta := map[string]any{
		"status":     run.Status,
		"conclusion": run.Conclusion,
		"name":       run.Name,
		"updated_at": run.UpdatedAt,
	}
	if backfilled {
		meta["owner"] = owner
		meta["repo"] = repo
		meta["run_id"] = runID
	}

	return Result{
		Status:     actionStatus(run.Status, run.Conclusion),
		Metadata:   meta,
		Backfilled: backfilled,
	}, nil
}

func actionStatus(status, conclusion string) item.Status {
	switch status {
	case "queued", "waiting":
		return item.StatusWaiting
	case "in_progress":
		return item.StatusInProgress
	case "completed":
		switch conclusion {
		case "failure", "cancelled":
			return item.StatusFailed
		default:
			return item.StatusCompleted
		}
	default:
		return item.StatusWaiting
	}
}

// GithubPRAdapter polls a pull request and its reviews.
type GithubPRAdapter struct {
	client *githubClient
}

var _ Adapter = (*GithubPRAdapter)(nil)

// NewGithubPRAdapter returns an adapter for pull request items.
func NewGithubPRAdapter(creds kv.KV, exec executil.Executor) *GithubPRAdapter {
	return &GithubPRAdapter{client: newGithubClient(creds, exec)}
}

// Type implements Adapter.
func (a *GithubPRAdapter) Type() item.Type { return item.TypeGithubPR }

type pullRequest struct {
	Title     string `json:"title"`
	State     string `json:"state"`
	Merged    bool   `json:"merged"`
	Draft     bool   `json:"draft"`
	UpdatedAt string `json:"updated_at"`
}

type prReview struct {
	State string `json:"state"`
}

// Poll implements Adapter.
func (a *GithubPRAdapter) Poll(ctx context.Context, it item.Item) (Result, error) {
	owner, repo, number, backfilled, err := githubIdentity(it, item.TypeGithubPR, "pr_number")
	if err != nil {
		return Result{}, err
	}

	prPath := fmt.Sprintf("repos/%s/%s/pulls/%s", owner, repo, number)
	body, err := a.client.fetch(ctx, prPath)
	if err != nil {
		return Result{}, err
	}

	var pr pullRequest
	if err := json.Unmarshal(body, &pr); err != nil {
		return Result{}, fmt.Errorf("failed to decode pull request: %w", err)
	}

	// A review fetch failure is tolerated with an empty list; the PR body
	// alone is enough to make progress.
	var reviews []prReview
	if rbody, rerr := a.client.fetch(ctx, prPath+"/reviews"); rerr == nil {
		_ = json.Unmarshal(rbody, &reviews)
	}

	reviewCount := int64(len(reviews))
	hasApproval := false
	hasChangesRequested := false
	for _, r := range reviews {
		switch r.State {
		case "APPROVED":
			hasApproval = true
		case "CHANGES_REQUESTED":
			hasChangesRequested = true
		}
	}

	meta := map[string]any{
		"state":                 pr.State,
		"merged":                pr.Merged,
		"draft":                 pr.Draft,
		"updated_at":            pr.UpdatedAt,
		"review_count":          reviewCount,
		"has_approval":          hasApproval,
		"has_changes_requested": hasChangesRequested,
	}
	if backfilled {
		meta["owner"] = owner
		meta["repo"] = repo
		meta["pr_number"] = number
	}

	countIncreased := reviewCount > it.MetaInt("review_count")

	var status item.Status
	switch {
	case pr.Merged || pr.State == "closed":
		status = item.StatusCompleted
	case countIncreased || hasApproval || hasChangesRequested:
		status = item.StatusUpdated
	default:
		status = item.StatusInProgress
	}

	// A grown review count must reach the store even when the status is
	// already updated, otherwise the next tick compares against a stale
	// count.
	return Result{
		Status:     status,
		Metadata:   meta,
		Title:      pr.Title,
		Backfilled: backfilled || countIncreased,
	}, nil
}
