package vote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const sweepLockName = "gatekeeper:sweep"

// SweepResult summarizes one sweep. Found lists every expired vote the sweep
// saw, whether or not its finalization succeeded.
type SweepResult struct {
	RunID      string
	Found      []string
	Closed     []string
	Failed     map[string]error
	Reconciled []string
	// Skipped is set when another process held the sweep lease.
	Skipped bool
}

func newSweepResult() *SweepResult {
	return &SweepResult{
		RunID:  uuid.NewString(),
		Failed: make(map[string]error),
	}
}

// FailedIDs returns the ids of votes that could not be finalized, sorted.
func (r *SweepResult) FailedIDs() []string {
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SweepExpired finalizes every open vote whose deadline has passed, in the
// given chat or in every chat when chatID is 0. Each vote is handled
// independently: one failure never stops the others. Safe to call
// concurrently and repeatedly.
func (m *Manager) SweepExpired(ctx context.Context, chatID int64) (*SweepResult, error) {
	res := newSweepResult()
	logger := m.logger.With("sweep_id", res.RunID)

	var lease *sweepLease
	if m.locker != nil {
		held, err := m.locker.TryLock(ctx, sweepLockName, m.claimLease)
		if errors.Is(err, ErrSweepInProgress) {
			logger.Debug("sweep lease held elsewhere, skipping")
			res.Skipped = true
			return res, nil
		}
		if err != nil {
			return nil, fmt.Errorf("acquire sweep lease: %w", err)
		}
		defer held.Release()
		lease = &sweepLease{lease: held, every: m.claimLease / 3, renewed: m.clock.Now()}
	}

	now := m.clock.Now()
	if err := m.reconcile(ctx, chatID, res, logger); err != nil {
		return nil, err
	}

	expired, err := m.store.ScanOpenExpired(ctx, chatID, now)
	if err != nil {
		return nil, fmt.Errorf("scan expired votes: %w", err)
	}
	logger.Info("sweep started", "chat_id", chatID, "expired", len(expired), "now", now)

	for _, rec := range expired {
		res.Found = append(res.Found, rec.VoteID)
		m.renewLease(ctx, lease, logger)

		logger.Info("finalizing expired vote", "vote_id", rec.VoteID, "expired_at", rec.ExpiresAt)
		if _, err := m.Finalize(ctx, rec); err != nil {
			if errors.Is(err, ErrAlreadyClaimed) || errors.Is(err, ErrNotOpen) {
				logger.Debug("vote finalized concurrently", "vote_id", rec.VoteID)
				continue
			}
			logger.Error("failed to finalize vote", "vote_id", rec.VoteID, "error", err)
			res.Failed[rec.VoteID] = err
			continue
		}
		res.Closed = append(res.Closed, rec.VoteID)
	}

	if len(expired) > 0 || len(res.Reconciled) > 0 {
		attrs := []any{
			"found", len(res.Found),
			"closed", len(res.Closed),
			"reconciled", len(res.Reconciled),
		}
		if len(res.Failed) > 0 {
			attrs = append(attrs, "failed", len(res.Failed), "failed_ids", strings.Join(res.FailedIDs(), ","))
		}
		logger.Info("sweep finished", attrs...)
	}

	m.observer.SweepCompleted(ctx, res)
	return res, nil
}

// sweepLease is the held sweep lease and when it was last extended.
type sweepLease struct {
	lease   Lease
	every   time.Duration
	renewed time.Time
}

// renewLease extends the sweep lease once a third of its TTL has passed, so
// a sweep over many votes keeps it. A failed extension is only logged: claims
// still keep finalization single-winner.
func (m *Manager) renewLease(ctx context.Context, l *sweepLease, logger *slog.Logger) {
	if l == nil {
		return
	}
	now := m.clock.Now()
	if now.Sub(l.renewed) < l.every {
		return
	}
	if err := l.lease.Extend(ctx); err != nil {
		logger.Warn("failed to extend sweep lease", "error", err)
	}
	l.renewed = now
}

// reconcile repairs claims whose lease has run out. A claim that already
// carries a tally only needs archiving; one without a tally is released so
// the normal path retries the stop call.
func (m *Manager) reconcile(ctx context.Context, chatID int64, res *SweepResult, logger *slog.Logger) error {
	claimed, err := m.store.ScanClaimed(ctx, chatID)
	if err != nil {
		return fmt.Errorf("scan claimed votes: %w", err)
	}

	now := m.clock.Now()
	for _, rec := range claimed {
		if rec.ClaimedAt.Add(m.claimLease).After(now) {
			continue
		}

		if rec.Results != nil {
			closed := rec.Closed(rec.Results, now)
			archived, err := m.store.Archive(ctx, closed)
			if err != nil {
				logger.Error("failed to archive stopped vote", "vote_id", rec.VoteID, "error", err)
				res.Failed[rec.VoteID] = err
				continue
			}
			if !archived {
				logger.Debug("stopped vote archived concurrently", "vote_id", rec.VoteID)
				continue
			}
			logger.Warn("archived vote left behind by an earlier finalize", "vote_id", rec.VoteID)
			res.Reconciled = append(res.Reconciled, rec.VoteID)
			m.observer.VoteClosed(ctx, closed)
			continue
		}

		released, err := m.store.Release(ctx, rec.VoteID, rec.ClaimToken)
		if err != nil {
			logger.Error("failed to release stale claim", "vote_id", rec.VoteID, "error", err)
			res.Failed[rec.VoteID] = err
			continue
		}
		if released {
			logger.Warn("released stale claim", "vote_id", rec.VoteID, "claimed_at", rec.ClaimedAt)
			res.Reconciled = append(res.Reconciled, rec.VoteID)
		}
	}
	return nil
}

// Finalize stops an expired vote, records its tally and archives it.
//
// The record moves open -> claimed -> closed. Claiming is a conditional
// store update, so of several concurrent callers only one ever reaches the
// stop call. If stopping fails the claim is released and the next sweep
// retries; if archiving fails after the tally was saved, the next sweep
// archives it without stopping again.
func (m *Manager) Finalize(ctx context.Context, rec *Record) (*Record, error) {
	current, err := m.store.GetActive(ctx, rec.VoteID)
	if err != nil {
		return nil, fmt.Errorf("re-read vote %s: %w", rec.VoteID, err)
	}
	if current == nil || current.Status != StatusOpen {
		return nil, ErrNotOpen
	}

	now := m.clock.Now()
	if !current.Expired(now) {
		return nil, fmt.Errorf("finalize %s: %w", current.VoteID, ErrNotExpired)
	}

	token := uuid.NewString()
	claimed, err := m.store.Claim(ctx, current.VoteID, token, now)
	if err != nil {
		return nil, fmt.Errorf("claim vote %s: %w", current.VoteID, err)
	}
	if !claimed {
		return nil, ErrAlreadyClaimed
	}
	current.Status = StatusClaimed
	current.ClaimToken = token
	current.ClaimedAt = now

	results, err := m.stop(ctx, current)
	if err != nil {
		m.release(ctx, current)
		return nil, fmt.Errorf("stop vote %s: %w", current.VoteID, err)
	}

	return m.complete(ctx, current, results)
}

func (m *Manager) stop(ctx context.Context, rec *Record) (*Results, error) {
	stopCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
	defer cancel()

	results, err := m.transport.StopVote(stopCtx, rec.ChatID, rec.MessageID)
	if errors.Is(err, ErrVoteAlreadyStopped) {
		m.logger.Warn("vote was already stopped, tally unavailable", "vote_id", rec.VoteID)
		return &Results{Unavailable: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = &Results{}
	}
	return results, nil
}

func (m *Manager) release(ctx context.Context, rec *Record) {
	released, err := m.store.Release(context.WithoutCancel(ctx), rec.VoteID, rec.ClaimToken)
	if err != nil {
		m.logger.Error("failed to release claim, left for reconciliation", "vote_id", rec.VoteID, "error", err)
		return
	}
	if !released {
		m.logger.Warn("claim was already gone on release", "vote_id", rec.VoteID)
	}
}

// complete persists the tally and archives the vote. It runs to completion
// even if ctx is cancelled: the vote is already stopped on the platform.
func (m *Manager) complete(ctx context.Context, rec *Record, results *Results) (*Record, error) {
	ctx = context.WithoutCancel(ctx)

	if err := m.store.SaveResults(ctx, rec.VoteID, rec.ClaimToken, results); err != nil {
		m.logger.Error("failed to save tally",
			"vote_id", rec.VoteID,
			"total_voters", results.TotalVoters,
			"options", results.Options,
			"error", err,
		)
		return nil, fmt.Errorf("save tally for %s: %w", rec.VoteID, err)
	}
	rec.Results = results

	closed := rec.Closed(results, m.clock.Now())
	archived, err := m.store.Archive(ctx, closed)
	if err != nil {
		return nil, fmt.Errorf("archive vote %s: %w", rec.VoteID, err)
	}
	if !archived {
		// Reconciliation archived it and notified while this call was stalled.
		m.logger.Info("vote already archived", "vote_id", closed.VoteID)
		return closed, nil
	}

	m.logger.Info("vote closed",
		"vote_id", closed.VoteID,
		"chat_id", closed.ChatID,
		"requester_id", closed.RequesterID,
		"total_voters", results.TotalVoters,
	)
	m.observer.VoteClosed(ctx, closed)
	return closed, nil
}
