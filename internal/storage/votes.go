package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"nuclight.org/gatekeeper/internal/vote"
)

const activeColumns = `vote_id, requester_id, chat_id, handle, display_name, message_id,
	created_at, expires_at, status, claim_token, claimed_at, results`

const closedColumns = `vote_id, requester_id, chat_id, handle, display_name, message_id,
	created_at, expires_at, closed_at, results`

// VoteRepository stores vote records in SQLite. Times are kept as unix
// milliseconds so range comparisons are plain integer comparisons.
type VoteRepository struct {
	db *DB
}

func NewVoteRepository(db *DB) *VoteRepository {
	return &VoteRepository{db: db}
}

func storeErr(op string, err error) error {
	return &vote.StoreError{Op: op, Err: err}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func (r *VoteRepository) FindActive(ctx context.Context, requesterID, chatID int64) (*vote.Record, error) {
	row := r.db.db.QueryRowContext(ctx, `
		SELECT `+activeColumns+`
		FROM active_votes
		WHERE requester_id = ? AND chat_id = ?
	`, requesterID, chatID)

	rec, err := scanActive(row)
	if err != nil {
		return nil, storeErr("find active vote", err)
	}
	return rec, nil
}

func (r *VoteRepository) GetActive(ctx context.Context, voteID string) (*vote.Record, error) {
	row := r.db.db.QueryRowContext(ctx, `
		SELECT `+activeColumns+`
		FROM active_votes
		WHERE vote_id = ?
	`, voteID)

	rec, err := scanActive(row)
	if err != nil {
		return nil, storeErr("get active vote", err)
	}
	return rec, nil
}

func (r *VoteRepository) InsertOpen(ctx context.Context, rec *vote.Record) error {
	_, err := r.db.db.ExecContext(ctx, `
		INSERT INTO active_votes (vote_id, requester_id, chat_id, handle, display_name, message_id, created_at, expires_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.VoteID, rec.RequesterID, rec.ChatID, rec.Handle, rec.DisplayName, rec.MessageID,
		toMillis(rec.CreatedAt), toMillis(rec.ExpiresAt), string(vote.StatusOpen))
	if isUniqueViolation(err) {
		return vote.ErrDuplicateVote
	}
	if err != nil {
		return storeErr("insert open vote", err)
	}
	return nil
}

func (r *VoteRepository) Claim(ctx context.Context, voteID, token string, at time.Time) (bool, error) {
	result, err := r.db.db.ExecContext(ctx, `
		UPDATE active_votes
		SET status = ?, claim_token = ?, claimed_at = ?
		WHERE vote_id = ? AND status = ?
	`, string(vote.StatusClaimed), token, toMillis(at), voteID, string(vote.StatusOpen))
	if err != nil {
		return false, storeErr("claim vote", err)
	}
	return affectedOne(result, "claim vote")
}

func (r *VoteRepository) SaveResults(ctx context.Context, voteID, token string, results *vote.Results) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	result, err := r.db.db.ExecContext(ctx, `
		UPDATE active_votes
		SET results = ?
		WHERE vote_id = ? AND status = ? AND claim_token = ?
	`, string(data), voteID, string(vote.StatusClaimed), token)
	if err != nil {
		return storeErr("save results", err)
	}
	ok, err := affectedOne(result, "save results")
	if err != nil {
		return err
	}
	if !ok {
		return vote.ErrClaimLost
	}
	return nil
}

func (r *VoteRepository) Release(ctx context.Context, voteID, token string) (bool, error) {
	result, err := r.db.db.ExecContext(ctx, `
		UPDATE active_votes
		SET status = ?, claim_token = NULL, claimed_at = NULL
		WHERE vote_id = ? AND status = ? AND claim_token = ? AND results IS NULL
	`, string(vote.StatusOpen), voteID, string(vote.StatusClaimed), token)
	if err != nil {
		return false, storeErr("release claim", err)
	}
	return affectedOne(result, "release claim")
}

// Archive copies the record into closed_votes and removes it from
// active_votes in one transaction. Archiving an already archived vote only
// removes any leftover active row; the result reports whether a row was
// removed.
func (r *VoteRepository) Archive(ctx context.Context, rec *vote.Record) (bool, error) {
	results := rec.Results
	if results == nil {
		results = &vote.Results{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return false, fmt.Errorf("marshal results: %w", err)
	}

	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeErr("begin archive", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO closed_votes (`+closedColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.VoteID, rec.RequesterID, rec.ChatID, rec.Handle, rec.DisplayName, rec.MessageID,
		toMillis(rec.CreatedAt), toMillis(rec.ExpiresAt), toMillis(rec.ClosedAt), string(data)); err != nil {
		return false, storeErr("insert closed vote", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM active_votes WHERE vote_id = ?`, rec.VoteID)
	if err != nil {
		return false, storeErr("delete active vote", err)
	}
	removed, err := affectedOne(result, "delete active vote")
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, storeErr("commit archive", err)
	}
	return removed, nil
}

func (r *VoteRepository) ScanOpenExpired(ctx context.Context, chatID int64, now time.Time) ([]*vote.Record, error) {
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT `+activeColumns+`
		FROM active_votes
		WHERE status = ? AND expires_at <= ? AND (? = 0 OR chat_id = ?)
		ORDER BY expires_at
	`, string(vote.StatusOpen), toMillis(now), chatID, chatID)
	if err != nil {
		return nil, storeErr("scan expired votes", err)
	}
	return collectActive(rows, "scan expired votes")
}

func (r *VoteRepository) ScanClaimed(ctx context.Context, chatID int64) ([]*vote.Record, error) {
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT `+activeColumns+`
		FROM active_votes
		WHERE status = ? AND (? = 0 OR chat_id = ?)
		ORDER BY claimed_at
	`, string(vote.StatusClaimed), chatID, chatID)
	if err != nil {
		return nil, storeErr("scan claimed votes", err)
	}
	return collectActive(rows, "scan claimed votes")
}

func (r *VoteRepository) ListActive(ctx context.Context, chatID int64) ([]*vote.Record, error) {
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT `+activeColumns+`
		FROM active_votes
		WHERE (? = 0 OR chat_id = ?)
		ORDER BY expires_at
	`, chatID, chatID)
	if err != nil {
		return nil, storeErr("list active votes", err)
	}
	return collectActive(rows, "list active votes")
}

func (r *VoteRepository) ListClosed(ctx context.Context, chatID int64, limit int) ([]*vote.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT `+closedColumns+`
		FROM closed_votes
		WHERE (? = 0 OR chat_id = ?)
		ORDER BY closed_at DESC
		LIMIT ?
	`, chatID, chatID, limit)
	if err != nil {
		return nil, storeErr("list closed votes", err)
	}
	defer rows.Close()

	var records []*vote.Record
	for rows.Next() {
		var rec vote.Record
		var createdAt, expiresAt, closedAt int64
		var results string
		if err := rows.Scan(
			&rec.VoteID, &rec.RequesterID, &rec.ChatID, &rec.Handle, &rec.DisplayName, &rec.MessageID,
			&createdAt, &expiresAt, &closedAt, &results,
		); err != nil {
			return nil, storeErr("list closed votes", err)
		}
		rec.CreatedAt = fromMillis(createdAt)
		rec.ExpiresAt = fromMillis(expiresAt)
		rec.ClosedAt = fromMillis(closedAt)
		rec.Status = vote.StatusClosed
		rec.Results = &vote.Results{}
		if err := json.Unmarshal([]byte(results), rec.Results); err != nil {
			return nil, fmt.Errorf("decode results for %s: %w", rec.VoteID, err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list closed votes", err)
	}
	return records, nil
}

func affectedOne(result sql.Result, op string) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, storeErr(op, err)
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanActive returns nil, nil when the row does not exist.
func scanActive(row rowScanner) (*vote.Record, error) {
	var rec vote.Record
	var createdAt, expiresAt int64
	var status string
	var claimToken, results sql.NullString
	var claimedAt sql.NullInt64

	err := row.Scan(
		&rec.VoteID, &rec.RequesterID, &rec.ChatID, &rec.Handle, &rec.DisplayName, &rec.MessageID,
		&createdAt, &expiresAt, &status, &claimToken, &claimedAt, &results,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.CreatedAt = fromMillis(createdAt)
	rec.ExpiresAt = fromMillis(expiresAt)
	rec.Status = vote.Status(status)
	rec.ClaimToken = claimToken.String
	if claimedAt.Valid {
		rec.ClaimedAt = fromMillis(claimedAt.Int64)
	}
	if results.Valid {
		rec.Results = &vote.Results{}
		if err := json.Unmarshal([]byte(results.String), rec.Results); err != nil {
			return nil, fmt.Errorf("decode results for %s: %w", rec.VoteID, err)
		}
	}
	return &rec, nil
}

func collectActive(rows *sql.Rows, op string) ([]*vote.Record, error) {
	defer rows.Close()

	var records []*vote.Record
	for rows.Next() {
		rec, err := scanActive(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return records, nil
}
