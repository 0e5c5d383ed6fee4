// Package events announces vote lifecycle changes on a message broker.
package events

import (
	"context"
	"log/slog"
	"time"

	"nuclight.org/gatekeeper/internal/vote"
)

const (
	KeyVoteOpened = "vote.opened"
	KeyVoteClosed = "vote.closed"
)

type VoteOpened struct {
	VoteID      string    `json:"vote_id"`
	RequesterID int64     `json:"requester_id"`
	ChatID      int64     `json:"chat_id"`
	Handle      string    `json:"handle,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type VoteClosed struct {
	VoteID      string        `json:"vote_id"`
	RequesterID int64         `json:"requester_id"`
	ChatID      int64         `json:"chat_id"`
	Handle      string        `json:"handle,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	ClosedAt    time.Time     `json:"closed_at"`
	Results     *vote.Results `json:"results"`
}

// Observer turns manager notifications into broker events. Publish
// failures are logged; the vote itself is already persisted.
type Observer struct {
	vote.NopObserver

	pub    Publisher
	logger *slog.Logger
}

func NewObserver(pub Publisher, logger *slog.Logger) *Observer {
	return &Observer{pub: pub, logger: logger}
}

func (o *Observer) VoteCreated(ctx context.Context, r *vote.Record) {
	o.publish(ctx, KeyVoteOpened, r.VoteID, VoteOpened{
		VoteID:      r.VoteID,
		RequesterID: r.RequesterID,
		ChatID:      r.ChatID,
		Handle:      r.Handle,
		ExpiresAt:   r.ExpiresAt,
	})
}

func (o *Observer) VoteClosed(ctx context.Context, r *vote.Record) {
	o.publish(ctx, KeyVoteClosed, r.VoteID, VoteClosed{
		VoteID:      r.VoteID,
		RequesterID: r.RequesterID,
		ChatID:      r.ChatID,
		Handle:      r.Handle,
		CreatedAt:   r.CreatedAt,
		ClosedAt:    r.ClosedAt,
		Results:     r.Results,
	})
}

func (o *Observer) publish(ctx context.Context, key, voteID string, event any) {
	if err := o.pub.Publish(ctx, key, event); err != nil {
		o.logger.Error("failed to publish event", "key", key, "vote_id", voteID, "error", err)
	}
}
