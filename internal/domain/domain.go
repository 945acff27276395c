package domain

// ZeroAddress is the canonical empty identity and the reference for the
// native settlement currency.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Token types accepted by the funding path. Anything else (721 and friends)
// is rejected: bounties carry fungible value only.
const (
	TokenNative      = 0  // funded from attached value
	TokenNativeVault = 1  // funded from the vault's native balance
	TokenFungible    = 20 // funded from the vault's token balance
)

// Application review states.
const (
	ApplicationUnreviewed = 0
	ApplicationAccepted   = 1
	ApplicationRejected   = 2
)

type Repo struct {
	ID        string `json:"id"`
	Position  int    `json:"position"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Issue is the per (repo, issue-number) bounty record. Generation counts
// funding instances: a fresh funding after a kill or settlement starts a
// new generation rather than reusing the old external id.
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
	TokenAddr   string `json:"token_addr"`
	Allocator   string `json:"allocator"`
	Deadline    int64  `json:"deadline"`
	Data        string `json:"data,omitempty"`
	Description string `json:"description,omitempty"`
	Generation  int    `json:"generation"`
	Removed     bool   `json:"removed"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Application struct {
	RepoID        string `json:"repo_id"`
	IssueNumber   int64  `json:"issue_number"`
	Applicant     string `json:"applicant"`
	Metadata      string `json:"metadata"`
	Status        int    `json:"status" enum:"0,1,2"`
	ReviewComment string `json:"review_comment,omitempty"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	ReviewedAt    string `json:"reviewed_at,omitempty" format:"date-time"`
}

type BountySettings struct {
	XPMultipliers    []uint64 `json:"xp_multipliers"`
	ExperienceLevels []string `json:"experience_levels"`
	BaseRate         uint64   `json:"base_rate"`
	BountyDeadline   int64    `json:"bounty_deadline"`
	BountyCurrency   string   `json:"bounty_currency"`
	BountyAllocator  string   `json:"bounty_allocator"`
}

// Curation is a display/triage annotation batch over issues; it never moves
// funds.
type Curation struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	ActorID     string          `json:"actor_id"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
	Entries     []CurationEntry `json:"entries,omitempty"`
}

type CurationEntry struct {
	CurationID       string `json:"curation_id"`
	RepoID           string `json:"repo_id"`
	IssueNumber      int64  `json:"issue_number"`
	Priority         int    `json:"priority"`
	DescriptionIndex int    `json:"description_index"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	RepoID     string `json:"repo_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
