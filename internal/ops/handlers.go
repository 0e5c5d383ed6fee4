package ops

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"nuclight.org/gatekeeper/internal/vote"
)

// Votes is the part of vote.Manager exposed over HTTP.
type Votes interface {
	ReportStatus(ctx context.Context, chatID int64) (*vote.Report, error)
	SweepExpired(ctx context.Context, chatID int64) (*vote.SweepResult, error)
	ListClosed(ctx context.Context, chatID int64, limit int) ([]*vote.Record, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	votes  Votes
	store  Pinger
	logger *slog.Logger
}

func NewHandler(votes Votes, store Pinger, logger *slog.Logger) *Handler {
	return &Handler{votes: votes, store: store, logger: logger}
}

type entryResponse struct {
	VoteID      string    `json:"vote_id"`
	RequesterID int64     `json:"requester_id"`
	ChatID      int64     `json:"chat_id"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expires_at"`
	MinutesLeft int       `json:"minutes_left"`
}

type sweepResponse struct {
	RunID      string            `json:"run_id"`
	Skipped    bool              `json:"skipped"`
	Found      []string          `json:"found"`
	Closed     []string          `json:"closed"`
	Reconciled []string          `json:"reconciled"`
	Failed     map[string]string `json:"failed"`
}

type closedResponse struct {
	VoteID      string        `json:"vote_id"`
	RequesterID int64         `json:"requester_id"`
	ChatID      int64         `json:"chat_id"`
	Handle      string        `json:"handle,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	ClosedAt    time.Time     `json:"closed_at"`
	Results     *vote.Results `json:"results"`
}

func newSweepResponse(res *vote.SweepResult) sweepResponse {
	failed := make(map[string]string, len(res.Failed))
	for id, err := range res.Failed {
		failed[id] = err.Error()
	}
	return sweepResponse{
		RunID:      res.RunID,
		Skipped:    res.Skipped,
		Found:      nonNil(res.Found),
		Closed:     nonNil(res.Closed),
		Reconciled: nonNil(res.Reconciled),
		Failed:     failed,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// chatParam reads the optional chat_id query parameter; 0 means every chat.
func chatParam(c *gin.Context) (int64, bool) {
	raw := c.Query("chat_id")
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id must be an integer"})
		return 0, false
	}
	return id, true
}

func (h *Handler) Health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// OpenVotes sweeps the scope, then returns what is still open, both as
// structured entries and as the rendered chat report.
func (h *Handler) OpenVotes(c *gin.Context) {
	chatID, ok := chatParam(c)
	if !ok {
		return
	}

	report, err := h.votes.ReportStatus(c.Request.Context(), chatID)
	if err != nil {
		h.logger.Error("status report failed", "chat_id", chatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status report failed"})
		return
	}
	text, err := report.Render()
	if err != nil {
		h.logger.Error("render status failed", "chat_id", chatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status report failed"})
		return
	}

	entries := make([]entryResponse, 0, len(report.Entries))
	for _, e := range report.Entries {
		entries = append(entries, entryResponse{
			VoteID:      e.VoteID,
			RequesterID: e.RequesterID,
			ChatID:      e.ChatID,
			Name:        e.Name,
			Status:      string(e.Status),
			ExpiresAt:   e.ExpiresAt,
			MinutesLeft: e.MinutesLeft,
		})
	}

	resp := gin.H{
		"entries":   entries,
		"processed": report.Processed(),
		"failed":    report.Failed(),
		"text":      text,
	}
	if report.SweepErr != nil {
		resp["sweep_error"] = report.SweepErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ClosedVotes(c *gin.Context) {
	chatID, ok := chatParam(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}

	records, err := h.votes.ListClosed(c.Request.Context(), chatID, limit)
	if err != nil {
		h.logger.Error("list closed votes failed", "chat_id", chatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list closed votes failed"})
		return
	}

	out := make([]closedResponse, 0, len(records))
	for _, r := range records {
		out = append(out, closedResponse{
			VoteID:      r.VoteID,
			RequesterID: r.RequesterID,
			ChatID:      r.ChatID,
			Handle:      r.Handle,
			CreatedAt:   r.CreatedAt,
			ClosedAt:    r.ClosedAt,
			Results:     r.Results,
		})
	}
	c.JSON(http.StatusOK, gin.H{"votes": out})
}

func (h *Handler) Sweep(c *gin.Context) {
	chatID, ok := chatParam(c)
	if !ok {
		return
	}

	res, err := h.votes.SweepExpired(c.Request.Context(), chatID)
	if err != nil {
		h.logger.Error("manual sweep failed", "chat_id", chatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if res.Skipped {
		status = http.StatusConflict
	}
	c.JSON(status, newSweepResponse(res))
}
