package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"nuclight.org/gatekeeper/internal/vote"
)

// anchorChar is invisible in the chat but still carries the link, so the
// client renders only the profile preview.
const anchorChar = "\u2060"

// Telegram allows roughly 30 requests per second per bot.
const (
	apiRate  = rate.Limit(20)
	apiBurst = 5
)

// Transport implements vote.Transport over the Bot API.
type Transport struct {
	api     tele.API
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewTransport(api tele.API, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Transport{
		api:     api,
		limiter: rate.NewLimiter(apiRate, apiBurst),
		logger:  logger,
	}
}

func (t *Transport) wait(ctx context.Context, op string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return &vote.TransportError{Op: op, Err: err}
	}
	return nil
}

func (t *Transport) CreateVote(ctx context.Context, chatID int64, ballot vote.Ballot) (vote.VoteRef, error) {
	if err := t.wait(ctx, "create vote"); err != nil {
		return vote.VoteRef{}, err
	}

	p := &tele.Poll{
		Type:      tele.PollRegular,
		Question:  ballot.Question,
		Anonymous: ballot.Anonymous,
	}
	p.AddOptions(ballot.Options...)

	msg, err := t.api.Send(&tele.Chat{ID: chatID}, p)
	if err != nil {
		return vote.VoteRef{}, &vote.TransportError{Op: "create vote", Err: err}
	}
	if msg.Poll == nil {
		return vote.VoteRef{}, &vote.TransportError{Op: "create vote", Err: errors.New("response carries no poll")}
	}

	return vote.VoteRef{VoteID: msg.Poll.ID, MessageID: msg.ID}, nil
}

func isAlreadyClosed(err error) bool {
	return strings.Contains(err.Error(), "poll has already been closed")
}

func (t *Transport) StopVote(ctx context.Context, chatID int64, messageID int) (*vote.Results, error) {
	if err := t.wait(ctx, "stop vote"); err != nil {
		return nil, err
	}

	msg := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
	p, err := t.api.StopPoll(msg)
	if err != nil {
		if isAlreadyClosed(err) {
			return nil, vote.ErrVoteAlreadyStopped
		}
		return nil, &vote.TransportError{Op: "stop vote", Err: err}
	}

	results := &vote.Results{
		TotalVoters: p.VoterCount,
		Options:     make([]vote.OptionResult, 0, len(p.Options)),
	}
	for _, o := range p.Options {
		results.Options = append(results.Options, vote.OptionResult{Label: o.Text, Count: o.VoterCount})
	}
	return results, nil
}

// MemberName returns the member's first name, falling back to the handle.
func (t *Transport) MemberName(ctx context.Context, chatID, userID int64) (string, error) {
	if err := t.wait(ctx, "get member"); err != nil {
		return "", err
	}

	member, err := t.api.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return "", &vote.TransportError{Op: "get member", Err: err}
	}
	if member.User == nil {
		return "", nil
	}
	if member.User.FirstName != "" {
		return member.User.FirstName, nil
	}
	if member.User.Username != "" {
		return "@" + member.User.Username, nil
	}
	return "", nil
}

// SendAnchor posts the requester's profile link right below the vote so
// members can see who is asking.
func (t *Transport) SendAnchor(ctx context.Context, req vote.JoinRequest) error {
	if err := t.wait(ctx, "send anchor"); err != nil {
		return err
	}

	text := fmt.Sprintf("[%s](%s)", anchorChar, req.ProfileLink())
	_, err := t.api.Send(&tele.Chat{ID: req.ChatID}, text, &tele.SendOptions{
		ParseMode: tele.ModeMarkdown,
	})
	if err != nil {
		return &vote.TransportError{Op: "send anchor", Err: err}
	}
	return nil
}
