package vote

import (
	"strconv"
	"strings"
	"time"
)

type Status string

const (
	StatusOpen    Status = "open"
	StatusClaimed Status = "claimed"
	StatusClosed  Status = "closed"
)

// Record tracks one join-approval vote from creation to archive.
type Record struct {
	VoteID      string
	RequesterID int64
	ChatID      int64
	Handle      string
	DisplayName string
	MessageID   int
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Status      Status

	// Set while claimed for finalization.
	ClaimToken string
	ClaimedAt  time.Time

	Results  *Results
	ClosedAt time.Time
}

type OptionResult struct {
	Label string `json:"label" bson:"label"`
	Count int    `json:"count" bson:"count"`
}

// Results is the tally read when a vote is stopped.
type Results struct {
	TotalVoters int            `json:"total_voters" bson:"total_voters"`
	Options     []OptionResult `json:"options" bson:"options"`
	// Unavailable marks a vote that the platform had already stopped, so its
	// tally could not be read back.
	Unavailable bool `json:"unavailable,omitempty" bson:"unavailable,omitempty"`
}

// JoinRequest is the inbound event that opens a vote.
type JoinRequest struct {
	RequesterID int64
	ChatID      int64
	Handle      string
	DisplayName string
}

// Expired reports whether the vote's deadline has passed at now.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Closed returns the archived form of r: the same fields plus the tally and
// closure time. r itself is left untouched.
func (r *Record) Closed(results *Results, at time.Time) *Record {
	c := *r
	c.Status = StatusClosed
	c.Results = results
	c.ClosedAt = at
	c.ClaimToken = ""
	return &c
}

// ProfileLink returns the requester's t.me link, preferring the handle.
func (r JoinRequest) ProfileLink() string {
	if r.Handle != "" {
		return "https://t.me/" + strings.TrimPrefix(r.Handle, "@")
	}
	return "https://t.me/" + strconv.FormatInt(r.RequesterID, 10)
}

// Name returns the best available display name for the requester.
func (r JoinRequest) Name() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	if r.Handle != "" {
		return "@" + strings.TrimPrefix(r.Handle, "@")
	}
	return "User " + strconv.FormatInt(r.RequesterID, 10)
}
