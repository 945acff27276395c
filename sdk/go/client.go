package bountylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Bountyline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Repo is a registered repository.
type Repo struct {
	ID        string `json:"id"`
	Position  int    `json:"position"`
	CreatedAt string `json:"created_at"`
}

// Issue is the bounty record for one issue.
type Issue struct {
	RepoID      string `json:"repo_id"`
	IssueNumber int64  `json:"issue_number"`
	HasBounty   bool   `json:"has_bounty"`
	ExternalID  int64  `json:"external_id"`
	Fulfilled   bool   `json:"fulfilled"`
	BountySize  uint64 `json:"bounty_size"`
	Assignee    string `json:"assignee"`
	Assignable  bool   `json:"assignable"`
	TokenType   int    `json:"token_type"`
	TokenAddr   string `json:"token_addr,omitempty"`
	Deadline    int64  `json:"deadline"`
	Data        string `json:"data,omitempty"`
	Description string `json:"description,omitempty"`
	Removed     bool   `json:"removed"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// Application is one assignment request on an issue.
type Application struct {
	RepoID        string `json:"repo_id"`
	IssueNumber   int64  `json:"issue_number"`
	Applicant     string `json:"applicant"`
	Metadata      string `json:"metadata,omitempty"`
	Status        int    `json:"status"`
	ReviewComment string `json:"review_comment,omitempty"`
	CreatedAt     string `json:"created_at"`
	ReviewedAt    string `json:"reviewed_at,omitempty"`
}

// FundedBounty reports one funded entry, in request order.
type FundedBounty struct {
	RepoID      string `json:"repo_id"`
	IssueNumber int64  `json:"issue_number"`
	BountySize  uint64 `json:"bounty_size"`
	ExternalID  int64  `json:"external_id"`
}

// Settings is the bounty settings singleton.
type Settings struct {
	XPMultipliers    []uint64 `json:"xp_multipliers"`
	ExperienceLevels []string `json:"experience_levels"`
	BaseRate         uint64   `json:"base_rate"`
	BountyDeadline   int64    `json:"bounty_deadline"`
	BountyCurrency   string   `json:"bounty_currency"`
	BountyAllocator  string   `json:"bounty_allocator"`
}

// Event is a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	RepoID     string         `json:"repo_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// FundBountiesRequest funds a batch of bounties; all arrays are parallel.
type FundBountiesRequest struct {
	RepoIDs      []string `json:"repo_ids"`
	IssueNumbers []int64  `json:"issue_numbers"`
	Sizes        []uint64 `json:"sizes"`
	Deadlines    []int64  `json:"deadlines,omitempty"`
	TokenTypes   []int    `json:"token_types"`
	TokenAddrs   []string `json:"token_addrs"`
	Attached     uint64   `json:"attached,omitempty"`
	Data         string   `json:"data,omitempty"`
	Description  string   `json:"description,omitempty"`
	Open         bool     `json:"open,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// AddRepo registers a repository.
func (c *Client) AddRepo(ctx context.Context, id string) (Repo, error) {
	var resp Repo
	err := c.do(ctx, http.MethodPost, "repos", map[string]any{"id": id}, &resp)
	return resp, err
}

// RemoveRepo removes a repository from the registry.
func (c *Client) RemoveRepo(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "repos/"+url.PathEscape(id), nil, nil)
}

// Repos lists registered repositories.
func (c *Client) Repos(ctx context.Context) ([]Repo, error) {
	var resp struct {
		Items []Repo `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "repos", nil, &resp)
	return resp.Items, err
}

// FundBounties funds a batch of bounties atomically.
func (c *Client) FundBounties(ctx context.Context, req FundBountiesRequest) ([]FundedBounty, error) {
	var resp struct {
		Items []FundedBounty `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, "bounties", req, &resp)
	return resp.Items, err
}

// KillBounties kills a batch of bounties, refunding escrowed funds.
func (c *Client) KillBounties(ctx context.Context, repoIDs []string, issueNumbers []int64, reason string) error {
	body := map[string]any{
		"repo_ids":      repoIDs,
		"issue_numbers": issueNumbers,
		"reason":        reason,
	}
	return c.do(ctx, http.MethodPost, "bounties/kill", body, nil)
}

// Issue fetches the bounty record for one issue.
func (c *Client) Issue(ctx context.Context, repoID string, issueNumber int64) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodGet, c.issuePath(repoID, issueNumber, ""), nil, &resp)
	return resp, err
}

// Apply requests assignment to a bounty as the authenticated actor.
func (c *Client) Apply(ctx context.Context, repoID string, issueNumber int64, metadata string) error {
	body := map[string]any{"metadata": metadata}
	return c.do(ctx, http.MethodPost, c.issuePath(repoID, issueNumber, "applications"), body, nil)
}

// Applicants lists applications for a bounty.
func (c *Client) Applicants(ctx context.Context, repoID string, issueNumber int64) ([]Application, error) {
	var resp struct {
		Items []Application `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.issuePath(repoID, issueNumber, "applications"), nil, &resp)
	return resp.Items, err
}

// ReviewApplication accepts or rejects an applicant.
func (c *Client) ReviewApplication(ctx context.Context, repoID string, issueNumber int64, applicant string, accept bool, comment string) error {
	body := map[string]any{
		"applicant": applicant,
		"accept":    accept,
		"comment":   comment,
	}
	return c.do(ctx, http.MethodPost, c.issuePath(repoID, issueNumber, "applications/review"), body, nil)
}

// SubmitWork submits work against a bounty and returns the submission index.
func (c *Client) SubmitWork(ctx context.Context, repoID string, issueNumber int64, fulfillers []string, evidence string) (int, error) {
	body := map[string]any{
		"fulfillers": fulfillers,
		"evidence":   evidence,
	}
	var resp struct {
		SubmissionIndex int `json:"submission_index"`
	}
	err := c.do(ctx, http.MethodPost, c.issuePath(repoID, issueNumber, "submissions"), body, &resp)
	return resp.SubmissionIndex, err
}

// ReviewSubmission accepts or rejects a submission. An accepted submission
// pays out the bounty.
func (c *Client) ReviewSubmission(ctx context.Context, repoID string, issueNumber int64, index int, accept bool, comment string, split []uint64) error {
	body := map[string]any{
		"submission_index": index,
		"accept":           accept,
		"comment":          comment,
		"split":            split,
	}
	return c.do(ctx, http.MethodPost, c.issuePath(repoID, issueNumber, "submissions/review"), body, nil)
}

// Settings fetches the bounty settings.
func (c *Client) Settings(ctx context.Context) (Settings, error) {
	var resp Settings
	err := c.do(ctx, http.MethodGet, "settings", nil, &resp)
	return resp, err
}

// ChangeSettings replaces the bounty settings.
func (c *Client) ChangeSettings(ctx context.Context, s Settings) (Settings, error) {
	var resp Settings
	err := c.do(ctx, http.MethodPut, "settings", s, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, repoID string, limit int) ([]Event, error) {
	endpoint := "events"
	q := url.Values{}
	if repoID != "" {
		q.Set("repo_id", repoID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) issuePath(repoID string, issueNumber int64, suffix string) string {
	p := fmt.Sprintf("repos/%s/issues/%d", url.PathEscape(repoID), issueNumber)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
