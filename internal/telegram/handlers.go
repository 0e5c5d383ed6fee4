package telegram

import (
	"errors"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"nuclight.org/gatekeeper/internal/vote"
)

func (b *Bot) RegisterHandlers() {
	b.bot.Handle(tele.OnChatJoinRequest, b.handleJoinRequest)
}

func joinRequestFrom(r *tele.ChatJoinRequest) vote.JoinRequest {
	return vote.JoinRequest{
		RequesterID: r.Sender.ID,
		ChatID:      r.Chat.ID,
		Handle:      r.Sender.Username,
		DisplayName: r.Sender.FirstName,
	}
}

// handleJoinRequest opens a vote for every new join request. Errors are
// logged and swallowed: there is nobody to reply to.
func (b *Bot) handleJoinRequest(c tele.Context) error {
	r := c.ChatJoinRequest()
	if r == nil || r.Chat == nil || r.Sender == nil {
		return nil
	}
	req := joinRequestFrom(r)

	b.logger.Info("join request",
		"requester_id", req.RequesterID,
		"username", req.Handle,
		"chat_id", req.ChatID,
	)

	ctx, cancel := b.handlerContext()
	defer cancel()

	if _, err := b.votes.CreateVote(ctx, req, b.settings.JoinVoteTTL); err != nil {
		if errors.Is(err, vote.ErrDuplicateVote) {
			return nil
		}
		b.logger.Error("failed to open join vote",
			"requester_id", req.RequesterID,
			"chat_id", req.ChatID,
			"error", err,
		)
		return nil
	}
	return nil
}

func (b *Bot) RegisterCommands() {
	public := b.bot.Group()
	public.Use(b.HandleErrors())
	public.Handle("/status", b.handleStatus)
	public.Handle("/checky", b.handleStatus)
	public.Handle("/help", b.handleHelp)

	admin := b.bot.Group()
	admin.Use(b.HandleErrors())
	admin.Use(b.AdminOnly())
	admin.Handle("/testpoll", b.handleTestPoll)
	admin.Handle("/sweep", b.handleSweep)
}

// handleStatus closes whatever has expired in this chat, then lists the
// votes still open.
func (b *Bot) handleStatus(c tele.Context) error {
	ctx, cancel := b.handlerContext()
	defer cancel()

	b.logger.Info("command /status", "user_id", c.Sender().ID, "chat_id", c.Chat().ID)

	report, err := b.votes.ReportStatus(ctx, c.Chat().ID)
	if err != nil {
		return WrapUserError(MsgFailedStatus, err)
	}
	text, err := report.Render()
	if err != nil {
		return WrapUserError(MsgFailedStatus, err)
	}
	return c.Send(text)
}

// handleTestPoll opens a short-lived vote with the sender as requester.
func (b *Bot) handleTestPoll(c tele.Context) error {
	ctx, cancel := b.handlerContext()
	defer cancel()

	sender := c.Sender()
	req := vote.JoinRequest{
		RequesterID: sender.ID,
		ChatID:      c.Chat().ID,
		Handle:      sender.Username,
		DisplayName: sender.FirstName,
	}

	b.logger.Info("command /testpoll", "user_id", sender.ID, "chat_id", req.ChatID)

	if _, err := b.votes.CreateVote(ctx, req, b.settings.TestVoteTTL); err != nil {
		if errors.Is(err, vote.ErrDuplicateVote) {
			return UserErrorf(MsgVoteAlreadyOpen)
		}
		return WrapUserError(MsgFailedCreateVote, err)
	}
	return c.Send(fmt.Sprintf(MsgTestVoteOpened, b.settings.TestVoteTTL))
}

func (b *Bot) handleSweep(c tele.Context) error {
	ctx, cancel := b.handlerContext()
	defer cancel()

	b.logger.Info("command /sweep", "user_id", c.Sender().ID, "chat_id", c.Chat().ID)

	res, err := b.votes.SweepExpired(ctx, c.Chat().ID)
	if err != nil {
		return WrapUserError(MsgFailedSweep, err)
	}
	if res.Skipped {
		return c.Send(MsgSweepSkipped)
	}
	return c.Send(fmt.Sprintf(MsgFmtSweepDone, len(res.Closed)+len(res.Reconciled), len(res.Failed)))
}

func (b *Bot) handleHelp(c tele.Context) error {
	return c.Send(MsgHelp)
}
