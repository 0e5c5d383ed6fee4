package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	tele "gopkg.in/telebot.v4"

	"nuclight.org/gatekeeper/internal/vote"
)

// AdminNotifier posts a summary of every closed vote to the admin chat.
// It only reports; it never approves or declines the request.
type AdminNotifier struct {
	vote.NopObserver

	api    tele.API
	chatID int64
	logger *slog.Logger
}

func NewAdminNotifier(api tele.API, chatID int64, logger *slog.Logger) *AdminNotifier {
	return &AdminNotifier{api: api, chatID: chatID, logger: logger}
}

func (n *AdminNotifier) VoteClosed(_ context.Context, r *vote.Record) {
	text := adminNotificationHeader + "\n\n" + closedSummary(r)
	if _, err := n.api.Send(&tele.Chat{ID: n.chatID}, text, tele.ModeHTML); err != nil {
		n.logger.Error("failed to send admin notification",
			"vote_id", r.VoteID,
			"admin_chat_id", n.chatID,
			"error", err,
		)
		n.logger.Info("admin notification content", "text", text)
	}
}

func closedSummary(r *vote.Record) string {
	req := vote.JoinRequest{
		RequesterID: r.RequesterID,
		ChatID:      r.ChatID,
		Handle:      r.Handle,
		DisplayName: r.DisplayName,
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🗳 Poll closed for <a href=\"%s\">%s</a> in chat <code>%d</code>\n",
		html.EscapeString(req.ProfileLink()), html.EscapeString(req.Name()), r.ChatID)

	switch {
	case r.Results == nil || r.Results.Unavailable:
		sb.WriteString("Results unavailable: the poll had already been stopped.")
	default:
		fmt.Fprintf(&sb, "Voters: %d\n", r.Results.TotalVoters)
		for _, o := range r.Results.Options {
			fmt.Fprintf(&sb, "%s: %d\n", html.EscapeString(o.Label), o.Count)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
