package server

import (
	"encoding/json"

	"bountyline/internal/domain"
	"bountyline/internal/engine"
)

// Request payloads

type AddRepoRequest struct {
	ID string `json:"id"`
}

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

type UpdateBountyRequest struct {
	Data        string `json:"data,omitempty"`
	Deadline    int64  `json:"deadline"`
	Description string `json:"description,omitempty"`
}

type KillBountiesRequest struct {
	RepoIDs      []string `json:"repo_ids"`
	IssueNumbers []int64  `json:"issue_numbers"`
	Reason       string   `json:"reason,omitempty"`
}

type ApplyRequest struct {
	Metadata string `json:"metadata,omitempty"`
}

type ReviewApplicationRequest struct {
	Applicant string `json:"applicant"`
	Accept    bool   `json:"accept"`
	Comment   string `json:"comment,omitempty"`
}

type SubmitWorkRequest struct {
	Fulfillers []string `json:"fulfillers"`
	Evidence   string   `json:"evidence,omitempty"`
}

type ReviewSubmissionRequest struct {
	SubmissionIndex int      `json:"submission_index"`
	Accept          bool     `json:"accept"`
	Comment         string   `json:"comment,omitempty"`
	Split           []uint64 `json:"split,omitempty"`
}

type ChangeSettingsRequest struct {
	XPMultipliers    []uint64 `json:"xp_multipliers"`
	ExperienceLevels []string `json:"experience_levels"`
	BaseRate         uint64   `json:"base_rate"`
	BountyDeadline   int64    `json:"bounty_deadline"`
	BountyCurrency   string   `json:"bounty_currency,omitempty"`
	BountyAllocator  string   `json:"bounty_allocator"`
}

type CurateIssuesRequest struct {
	CurationID         string   `json:"curation_id,omitempty"`
	Description        string   `json:"description,omitempty"`
	Priorities         []int    `json:"priorities"`
	DescriptionIndices []int    `json:"description_indices"`
	RepoIDs            []string `json:"repo_ids"`
	IssueNumbers       []int64  `json:"issue_numbers"`
}

// Response payloads

type RepoResponse struct {
	ID        string `json:"id"`
	Position  int    `json:"position"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type IssueResponse struct {
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
	UpdatedAt   string `json:"updated_at,omitempty" format:"date-time"`
}

type ApplicationResponse struct {
	RepoID        string `json:"repo_id"`
	IssueNumber   int64  `json:"issue_number"`
	Applicant     string `json:"applicant"`
	Metadata      string `json:"metadata,omitempty"`
	Status        int    `json:"status" enum:"0,1,2"`
	ReviewComment string `json:"review_comment,omitempty"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	ReviewedAt    string `json:"reviewed_at,omitempty" format:"date-time"`
}

type SettingsResponse struct {
	XPMultipliers    []uint64 `json:"xp_multipliers"`
	ExperienceLevels []string `json:"experience_levels"`
	BaseRate         uint64   `json:"base_rate"`
	BountyDeadline   int64    `json:"bounty_deadline"`
	BountyCurrency   string   `json:"bounty_currency"`
	BountyAllocator  string   `json:"bounty_allocator"`
}

type CurationResponse struct {
	ID          string                  `json:"id"`
	Description string                  `json:"description,omitempty"`
	ActorID     string                  `json:"actor_id"`
	CreatedAt   string                  `json:"created_at" format:"date-time"`
	Entries     []CurationEntryResponse `json:"entries"`
}

type CurationEntryResponse struct {
	RepoID           string `json:"repo_id"`
	IssueNumber      int64  `json:"issue_number"`
	Priority         int    `json:"priority"`
	DescriptionIndex int    `json:"description_index"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	RepoID     string         `json:"repo_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type fundedBounties struct {
	Items []engine.FundedBounty `json:"items"`
}

type repoList struct {
	Items []RepoResponse `json:"items"`
	Count int            `json:"count"`
}

type issueList struct {
	Items []IssueResponse `json:"items"`
}

type applicantList struct {
	Items []ApplicationResponse `json:"items"`
	Count int                   `json:"count"`
}

type eventList struct {
	Items []EventResponse `json:"items"`
}

// Conversion helpers

func repoResponse(r domain.Repo) RepoResponse {
	return RepoResponse{ID: r.ID, Position: r.Position, CreatedAt: r.CreatedAt}
}

func issueResponse(is domain.Issue) IssueResponse {
	return IssueResponse{
		RepoID:      is.RepoID,
		IssueNumber: is.IssueNumber,
		HasBounty:   is.HasBounty,
		ExternalID:  is.ExternalID,
		Fulfilled:   is.Fulfilled,
		BountySize:  is.BountySize,
		Assignee:    is.Assignee,
		Assignable:  is.Assignable,
		TokenType:   is.TokenType,
		TokenAddr:   is.TokenAddr,
		Deadline:    is.Deadline,
		Data:        is.Data,
		Description: is.Description,
		Removed:     is.Removed,
		UpdatedAt:   is.UpdatedAt,
	}
}

func applicationResponse(a domain.Application) ApplicationResponse {
	return ApplicationResponse{
		RepoID:        a.RepoID,
		IssueNumber:   a.IssueNumber,
		Applicant:     a.Applicant,
		Metadata:      a.Metadata,
		Status:        a.Status,
		ReviewComment: a.ReviewComment,
		CreatedAt:     a.CreatedAt,
		ReviewedAt:    a.ReviewedAt,
	}
}

func settingsResponse(s domain.BountySettings) SettingsResponse {
	return SettingsResponse{
		XPMultipliers:    s.XPMultipliers,
		ExperienceLevels: s.ExperienceLevels,
		BaseRate:         s.BaseRate,
		BountyDeadline:   s.BountyDeadline,
		BountyCurrency:   s.BountyCurrency,
		BountyAllocator:  s.BountyAllocator,
	}
}

func curationResponse(c domain.Curation) CurationResponse {
	entries := make([]CurationEntryResponse, 0, len(c.Entries))
	for _, e := range c.Entries {
		entries = append(entries, CurationEntryResponse{
			RepoID:           e.RepoID,
			IssueNumber:      e.IssueNumber,
			Priority:         e.Priority,
			DescriptionIndex: e.DescriptionIndex,
		})
	}
	return CurationResponse{
		ID:          c.ID,
		Description: c.Description,
		ActorID:     c.ActorID,
		CreatedAt:   c.CreatedAt,
		Entries:     entries,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		RepoID:     e.RepoID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}
