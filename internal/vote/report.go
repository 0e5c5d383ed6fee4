package vote

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"golang.org/x/sync/errgroup"
)

//go:embed templates/status.tmpl
var templates embed.FS

var statusTmpl = template.Must(template.New("status.tmpl").Funcs(template.FuncMap{
	"plural": func(n int, one, many string) string {
		if n == 1 {
			return one
		}
		return many
	},
}).ParseFS(templates, "templates/status.tmpl"))

type ReportEntry struct {
	VoteID      string
	RequesterID int64
	ChatID      int64
	Name        string
	ExpiresAt   time.Time
	MinutesLeft int
	Status      Status
}

// Countdown renders the time left on the vote, rounded up to whole minutes.
func (e ReportEntry) Countdown() string {
	switch {
	case e.Status == StatusClaimed:
		return "🔒 Closing..."
	case e.MinutesLeft == 1:
		return "⏳ 1 minute remaining"
	case e.MinutesLeft > 1:
		return fmt.Sprintf("⏳ %d minutes remaining", e.MinutesLeft)
	default:
		return "🕒 Expired (processing...)"
	}
}

// Report is the status of every active vote in a scope, taken right after a
// sweep.
type Report struct {
	ChatID      int64
	GeneratedAt time.Time
	Entries     []ReportEntry
	Sweep       *SweepResult
	SweepErr    error
}

// Processed is the number of votes the preceding sweep closed.
func (r *Report) Processed() int {
	if r.Sweep == nil {
		return 0
	}
	return len(r.Sweep.Closed) + len(r.Sweep.Reconciled)
}

// Failed is the number of votes the preceding sweep could not close.
func (r *Report) Failed() int {
	if r.Sweep == nil {
		return 0
	}
	return len(r.Sweep.Failed)
}

// Skipped reports that another process held the sweep lease, so expired
// votes listed here are closed by that sweep instead.
func (r *Report) Skipped() bool {
	return r.Sweep != nil && r.Sweep.Skipped
}

func (r *Report) Render() (string, error) {
	var buf bytes.Buffer
	if err := statusTmpl.Execute(&buf, r); err != nil {
		return "", fmt.Errorf("render status: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func minutesLeft(expiresAt, now time.Time) int {
	return int(math.Ceil(expiresAt.Sub(now).Minutes()))
}

// ReportStatus sweeps the scope first so stale votes are cleared, then lists
// every vote still active with its requester's name and countdown. A failed
// sweep is reported, not hidden; a failed name lookup falls back to the
// numeric id.
func (m *Manager) ReportStatus(ctx context.Context, chatID int64) (*Report, error) {
	report := &Report{ChatID: chatID}

	sweep, err := m.SweepExpired(ctx, chatID)
	if err != nil {
		m.logger.Error("sweep before status report failed", "chat_id", chatID, "error", err)
		report.SweepErr = err
	} else {
		report.Sweep = sweep
	}

	active, err := m.store.ListActive(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list active votes: %w", err)
	}

	now := m.clock.Now()
	report.GeneratedAt = now
	report.Entries = make([]ReportEntry, len(active))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.lookupConcurrency)
	for i, rec := range active {
		report.Entries[i] = ReportEntry{
			VoteID:      rec.VoteID,
			RequesterID: rec.RequesterID,
			ChatID:      rec.ChatID,
			Name:        fmt.Sprintf("User %d", rec.RequesterID),
			ExpiresAt:   rec.ExpiresAt,
			MinutesLeft: minutesLeft(rec.ExpiresAt, now),
			Status:      rec.Status,
		}
		g.Go(func() error {
			name, err := m.transport.MemberName(gctx, rec.ChatID, rec.RequesterID)
			if err != nil {
				m.logger.Warn("failed to look up requester name",
					"requester_id", rec.RequesterID,
					"chat_id", rec.ChatID,
					"error", err,
				)
				return nil
			}
			if name != "" {
				report.Entries[i].Name = name
			}
			return nil
		})
	}
	_ = g.Wait()

	return report, nil
}
