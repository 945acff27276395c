package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"bountyline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- repo registry ---

// InsertRepo registers a repository id at the next free position. The caller
// is expected to have checked for duplicates; the primary key enforces it
// regardless.
func (r Repo) InsertRepo(ctx context.Context, tx *sql.Tx, id string, now time.Time) (domain.Repo, error) {
	var next int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position)+1, 0) FROM repos`).Scan(&next)
	if err != nil {
		return domain.Repo{}, err
	}
	rec := domain.Repo{ID: id, Position: next, CreatedAt: now.UTC().Format(time.RFC3339)}
	_, err = tx.ExecContext(ctx, `INSERT INTO repos(id, position, created_at) VALUES (?,?,?)`,
		rec.ID, rec.Position, rec.CreatedAt)
	return rec, err
}

// DeleteRepo removes a repo by swapping the highest-position entry into the
// removed slot and truncating. Enumeration order is not stable across
// removals; existence and position lookup stay O(1).
func (r Repo) DeleteRepo(ctx context.Context, tx *sql.Tx, id string) error {
	var pos int
	err := tx.QueryRowContext(ctx, `SELECT position FROM repos WHERE id=?`, id).Scan(&pos)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var lastID string
	var lastPos int
	if err := tx.QueryRowContext(ctx, `SELECT id, position FROM repos ORDER BY position DESC LIMIT 1`).Scan(&lastID, &lastPos); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM repos WHERE id=?`, id); err != nil {
		return err
	}
	if lastID != id {
		if _, err := tx.ExecContext(ctx, `UPDATE repos SET position=? WHERE id=?`, pos, lastID); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetRepo(ctx context.Context, id string) (domain.Repo, error) {
	var rec domain.Repo
	err := r.DB.QueryRowContext(ctx, `SELECT id, position, created_at FROM repos WHERE id=?`, id).
		Scan(&rec.ID, &rec.Position, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	return rec, err
}

func (r Repo) RepoExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM repos WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r Repo) CountRepos(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM repos`).Scan(&n)
	return n, err
}

func (r Repo) ListRepos(ctx context.Context) ([]domain.Repo, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, position, created_at FROM repos ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Repo
	for rows.Next() {
		var rec domain.Repo
		if err := rows.Scan(&rec.ID, &rec.Position, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// --- issue / bounty records ---

const issueCols = `repo_id, issue_number, has_bounty, external_id, fulfilled, bounty_size,
	assignee, assignable, token_type, token_addr, allocator, deadline, COALESCE(data,''),
	COALESCE(description,''), generation, removed, updated_at`

func scanIssue(row *sql.Row) (domain.Issue, error) {
	var is domain.Issue
	err := row.Scan(&is.RepoID, &is.IssueNumber, &is.HasBounty, &is.ExternalID, &is.Fulfilled,
		&is.BountySize, &is.Assignee, &is.Assignable, &is.TokenType, &is.TokenAddr, &is.Allocator,
		&is.Deadline, &is.Data, &is.Description, &is.Generation, &is.Removed, &is.UpdatedAt)
	if err == sql.ErrNoRows {
		return is, ErrNotFound
	}
	return is, err
}

func (r Repo) GetIssue(ctx context.Context, repoID string, issueNumber int64) (domain.Issue, error) {
	return scanIssue(r.DB.QueryRowContext(ctx,
		`SELECT `+issueCols+` FROM issues WHERE repo_id=? AND issue_number=?`, repoID, issueNumber))
}

// UpsertIssue writes the full record. AddBounties overwrites any prior
// (killed or settled) record for the same key, starting a new funding
// generation.
func (r Repo) UpsertIssue(ctx context.Context, tx *sql.Tx, is domain.Issue) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO issues(repo_id, issue_number, has_bounty, external_id,
		fulfilled, bounty_size, assignee, assignable, token_type, token_addr, allocator, deadline,
		data, description, generation, removed, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(repo_id, issue_number) DO UPDATE SET
		has_bounty=excluded.has_bounty, external_id=excluded.external_id,
		fulfilled=excluded.fulfilled, bounty_size=excluded.bounty_size,
		assignee=excluded.assignee, assignable=excluded.assignable,
		token_type=excluded.token_type, token_addr=excluded.token_addr,
		allocator=excluded.allocator, deadline=excluded.deadline, data=excluded.data,
		description=excluded.description, generation=excluded.generation,
		removed=excluded.removed, updated_at=excluded.updated_at`,
		is.RepoID, is.IssueNumber, is.HasBounty, is.ExternalID, is.Fulfilled, is.BountySize,
		is.Assignee, is.Assignable, is.TokenType, is.TokenAddr, is.Allocator, is.Deadline,
		nullable(is.Data), nullable(is.Description), is.Generation, is.Removed, is.UpdatedAt)
	return err
}

func (r Repo) UpdateIssueMetadata(ctx context.Context, tx *sql.Tx, repoID string, issueNumber int64, data string, deadline int64, description, updatedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE issues SET data=?, deadline=?, description=?, updated_at=? WHERE repo_id=? AND issue_number=? AND has_bounty=1`,
		nullable(data), deadline, nullable(description), updatedAt, repoID, issueNumber)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearBounty zeroes the funding fields of a killed bounty and marks the
// record removed for the rest of its generation.
func (r Repo) ClearBounty(ctx context.Context, tx *sql.Tx, repoID string, issueNumber int64, updatedAt string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE issues SET has_bounty=0, external_id=0, bounty_size=0, removed=1, updated_at=?
		 WHERE repo_id=? AND issue_number=?`, updatedAt, repoID, issueNumber)
	return err
}

func (r Repo) MarkFulfilled(ctx context.Context, tx *sql.Tx, repoID string, issueNumber int64, updatedAt string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE issues SET fulfilled=1, updated_at=? WHERE repo_id=? AND issue_number=?`,
		updatedAt, repoID, issueNumber)
	return err
}

func (r Repo) SetAssignee(ctx context.Context, tx *sql.Tx, repoID string, issueNumber int64, assignee, updatedAt string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE issues SET assignee=?, updated_at=? WHERE repo_id=? AND issue_number=?`,
		assignee, updatedAt, repoID, issueNumber)
	return err
}

func (r Repo) ListIssues(ctx context.Context, repoID string) ([]domain.Issue, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+issueCols+` FROM issues WHERE repo_id=? ORDER BY issue_number`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		var is domain.Issue
		if err := rows.Scan(&is.RepoID, &is.IssueNumber, &is.HasBounty, &is.ExternalID,
			&is.Fulfilled, &is.BountySize, &is.Assignee, &is.Assignable, &is.TokenType,
			&is.TokenAddr, &is.Allocator, &is.Deadline, &is.Data, &is.Description,
			&is.Generation, &is.Removed, &is.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, is)
	}
	return res, rows.Err()
}

// --- applications ---

func (r Repo) InsertApplication(ctx context.Context, tx *sql.Tx, app domain.Application) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO applications(repo_id, issue_number, applicant, metadata, status, created_at)
		 VALUES (?,?,?,?,?,?)`,
		app.RepoID, app.IssueNumber, app.Applicant, app.Metadata, app.Status, app.CreatedAt)
	return err
}

// HasUnreviewedApplication reports whether the applicant already has a
// pending application for the issue.
func (r Repo) HasUnreviewedApplication(ctx context.Context, repoID string, issueNumber int64, applicant string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx,
		`SELECT 1 FROM applications WHERE repo_id=? AND issue_number=? AND applicant=? AND status=? LIMIT 1`,
		repoID, issueNumber, applicant, domain.ApplicationUnreviewed).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetApplicant returns the index-th application for the issue in insertion
// order.
func (r Repo) GetApplicant(ctx context.Context, repoID string, issueNumber int64, index int) (domain.Application, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT repo_id, issue_number, applicant, metadata, status, COALESCE(review_comment,''),
		 created_at, COALESCE(reviewed_at,'')
		 FROM applications WHERE repo_id=? AND issue_number=? ORDER BY seq LIMIT 1 OFFSET ?`,
		repoID, issueNumber, index)
	var app domain.Application
	err := row.Scan(&app.RepoID, &app.IssueNumber, &app.Applicant, &app.Metadata, &app.Status,
		&app.ReviewComment, &app.CreatedAt, &app.ReviewedAt)
	if err == sql.ErrNoRows {
		return app, ErrNotFound
	}
	return app, err
}

func (r Repo) CountApplicants(ctx context.Context, repoID string, issueNumber int64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM applications WHERE repo_id=? AND issue_number=?`,
		repoID, issueNumber).Scan(&n)
	return n, err
}

func (r Repo) ListApplicants(ctx context.Context, repoID string, issueNumber int64) ([]domain.Application, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT repo_id, issue_number, applicant, metadata, status, COALESCE(review_comment,''),
		 created_at, COALESCE(reviewed_at,'')
		 FROM applications WHERE repo_id=? AND issue_number=? ORDER BY seq`, repoID, issueNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Application
	for rows.Next() {
		var app domain.Application
		if err := rows.Scan(&app.RepoID, &app.IssueNumber, &app.Applicant, &app.Metadata,
			&app.Status, &app.ReviewComment, &app.CreatedAt, &app.ReviewedAt); err != nil {
			return nil, err
		}
		res = append(res, app)
	}
	return res, rows.Err()
}

// ReviewApplication transitions the applicant's Unreviewed application to the
// given status. Only Unreviewed entries match, so a second review of the same
// application reports ErrNotFound.
func (r Repo) ReviewApplication(ctx context.Context, tx *sql.Tx, repoID string, issueNumber int64, applicant string, status int, comment, reviewedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE applications SET status=?, review_comment=?, reviewed_at=?
		 WHERE seq = (SELECT seq FROM applications
			WHERE repo_id=? AND issue_number=? AND applicant=? AND status=? ORDER BY seq LIMIT 1)`,
		status, nullable(comment), reviewedAt,
		repoID, issueNumber, applicant, domain.ApplicationUnreviewed)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- settings ---

func (r Repo) GetSettings(ctx context.Context) (domain.BountySettings, error) {
	var s domain.BountySettings
	var multipliers, levels string
	err := r.DB.QueryRowContext(ctx,
		`SELECT xp_multipliers, experience_levels, base_rate, bounty_deadline, bounty_currency, bounty_allocator
		 FROM settings WHERE id=1`).
		Scan(&multipliers, &levels, &s.BaseRate, &s.BountyDeadline, &s.BountyCurrency, &s.BountyAllocator)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(multipliers), &s.XPMultipliers); err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(levels), &s.ExperienceLevels); err != nil {
		return s, err
	}
	return s, nil
}

func (r Repo) PutSettings(ctx context.Context, tx *sql.Tx, s domain.BountySettings) error {
	multipliers, err := json.Marshal(s.XPMultipliers)
	if err != nil {
		return err
	}
	levels, err := json.Marshal(s.ExperienceLevels)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO settings(id, xp_multipliers, experience_levels,
		base_rate, bounty_deadline, bounty_currency, bounty_allocator)
		VALUES (1,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET xp_multipliers=excluded.xp_multipliers,
		experience_levels=excluded.experience_levels, base_rate=excluded.base_rate,
		bounty_deadline=excluded.bounty_deadline, bounty_currency=excluded.bounty_currency,
		bounty_allocator=excluded.bounty_allocator`,
		string(multipliers), string(levels), s.BaseRate, s.BountyDeadline, s.BountyCurrency, s.BountyAllocator)
	return err
}

// --- curations ---

func (r Repo) InsertCuration(ctx context.Context, tx *sql.Tx, c domain.Curation) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO curations(id, description, actor_id, created_at) VALUES (?,?,?,?)`,
		c.ID, c.Description, c.ActorID, c.CreatedAt); err != nil {
		return err
	}
	for _, e := range c.Entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO curation_entries(curation_id, repo_id, issue_number, priority, description_index)
			 VALUES (?,?,?,?,?)`,
			c.ID, e.RepoID, e.IssueNumber, e.Priority, e.DescriptionIndex); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetCuration(ctx context.Context, id string) (domain.Curation, error) {
	var c domain.Curation
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, description, actor_id, created_at FROM curations WHERE id=?`, id).
		Scan(&c.ID, &c.Description, &c.ActorID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT curation_id, repo_id, issue_number, priority, description_index
		 FROM curation_entries WHERE curation_id=? ORDER BY rowid`, id)
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var e domain.CurationEntry
		if err := rows.Scan(&e.CurationID, &e.RepoID, &e.IssueNumber, &e.Priority, &e.DescriptionIndex); err != nil {
			return c, err
		}
		c.Entries = append(c.Entries, e)
	}
	return c, rows.Err()
}

// --- events ---

func (r Repo) ListEvents(ctx context.Context, repoID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, ts, type, COALESCE(repo_id,''), entity_kind, COALESCE(entity_id,''), actor_id, payload_json FROM events`
	var args []any
	if repoID != "" {
		query += ` WHERE repo_id=?`
		args = append(args, repoID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var ev domain.Event
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &ev.RepoID, &ev.EntityKind, &ev.EntityID, &ev.ActorID, &ev.Payload); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
