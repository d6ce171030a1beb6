// Package github is the code-host client: pull-request lookup, comment
// management, and organization-membership checks against the GitHub
// REST API.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sumire/buildd/internal/domain"
)

const defaultBaseURL = "https://api.github.com"

// Client talks to one owner/repo on the GitHub REST API.
type Client struct {
	baseURL string
	owner   string
	repo    string
	org     string
	tokens  TokenSource
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, used in tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a Client for owner/repo. Membership checks run
// against the owner organization.
func NewClient(owner, repo string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		owner:   owner,
		repo:    repo,
		org:     strings.ToLower(owner),
		tokens:  tokens,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PullRequest is the subset of the pull-request resource we consume.
type PullRequest struct {
	Number   int64      `json:"number"`
	Title    string     `json:"title"`
	Body     *string    `json:"body"`
	MergedAt *time.Time `json:"merged_at"`
	Head     struct {
		Ref string `json:"ref"`
	} `json:"head"`
	User struct {
		Login string `json:"login"`
	} `json:"user"`
	HTMLURL string `json:"html_url"`
}

// IssueComment is a review-thread comment.
type IssueComment struct {
	ID   int64   `json:"id"`
	Body *string `json:"body"`
	User struct {
		Login string `json:"login"`
	} `json:"user"`
	CreatedAt time.Time `json:"created_at"`
}

// GetPullRequest fetches one pull request by number.
func (c *Client) GetPullRequest(ctx context.Context, number int64) (*PullRequest, error) {
	var pr PullRequest
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", c.owner, c.repo, number)
	if err := c.do(ctx, http.MethodGet, path, nil, &pr); err != nil {
		return nil, fmt.Errorf("get pull request %d: %w", number, err)
	}
	return &pr, nil
}

// ListComments returns all comments on the pull request's review
// thread, oldest first, following pagination.
func (c *Client) ListComments(ctx context.Context, number int64) ([]IssueComment, error) {
	var all []IssueComment
	for page := 1; ; page++ {
		var batch []IssueComment
		path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments?per_page=100&page=%d", c.owner, c.repo, number, page)
		if err := c.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, fmt.Errorf("list comments on %d: %w", number, err)
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			return all, nil
		}
	}
}

// CreateComment posts a new comment on the pull request.
func (c *Client) CreateComment(ctx context.Context, number int64, body string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", c.owner, c.repo, number)
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"body": body}, nil); err != nil {
		return fmt.Errorf("create comment on %d: %w", number, err)
	}
	return nil
}

// UpdateComment replaces the body of an existing comment.
func (c *Client) UpdateComment(ctx context.Context, commentID int64, body string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/comments/%d", c.owner, c.repo, commentID)
	if err := c.do(ctx, http.MethodPatch, path, map[string]string{"body": body}, nil); err != nil {
		return fmt.Errorf("update comment %d: %w", commentID, err)
	}
	return nil
}

// IsOrgMember reports whether login is a public member of the owning
// organization. A 404 is a definitive "not a member", not an error.
func (c *Client) IsOrgMember(ctx context.Context, login string) (bool, error) {
	path := fmt.Sprintf("/orgs/%s/public_members/%s", c.org, login)
	err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err == nil {
		return true, nil
	}
	if isStatus(err, http.StatusNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("check org membership of %s: %w", login, err)
}

// statusError carries a non-2xx API response.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("github api returned status %d: %s", e.status, e.body)
}

func isStatus(err error, status int) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == status
	}
	return false
}

// do performs one API request. On a 401 it invalidates the token source
// and retries exactly once with a fresh token; a second 401 surfaces as
// domain.ErrUnauthorized.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	status, err := c.attempt(ctx, method, path, payload, out)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		c.tokens.Invalidate()
		status, err = c.attempt(ctx, method, path, payload, out)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return domain.ErrUnauthorized
		}
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, method, path string, payload, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

// PackagesFromPR extracts the package list from a pull-request body:
// the tokens after "#buildit" on the first line that starts with it.
func PackagesFromPR(pr *PullRequest) []string {
	if pr.Body == nil {
		return nil
	}
	for _, line := range strings.Split(*pr.Body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#buildit") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) > 1 {
			return fields[1:]
		}
		return nil
	}
	return nil
}
