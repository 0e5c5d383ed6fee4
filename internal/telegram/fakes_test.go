package telegram

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"nuclight.org/gatekeeper/internal/vote"
)

// fakeAPI implements the few Bot API calls the package makes. Anything else
// panics through the nil embedded interface.
type fakeAPI struct {
	tele.API

	mu      sync.Mutex
	sent    []sentMessage
	sendErr error
	nextMsg int

	stopped []tele.StoredMessage
	stopErr error
	poll    *tele.Poll

	member    *tele.ChatMember
	memberErr error
}

type sentMessage struct {
	to   tele.Recipient
	what any
	opts []any
}

func (a *fakeAPI) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	a.sent = append(a.sent, sentMessage{to: to, what: what, opts: opts})
	a.nextMsg++
	msg := &tele.Message{ID: 100 + a.nextMsg}
	if p, ok := what.(*tele.Poll); ok {
		cp := *p
		cp.ID = "tg-poll-1"
		msg.Poll = &cp
	}
	return msg, nil
}

func (a *fakeAPI) StopPoll(msg tele.Editable, opts ...interface{}) (*tele.Poll, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sm, ok := msg.(tele.StoredMessage); ok {
		a.stopped = append(a.stopped, sm)
	}
	if a.stopErr != nil {
		return nil, a.stopErr
	}
	return a.poll, nil
}

func (a *fakeAPI) ChatMemberOf(chat, user tele.Recipient) (*tele.ChatMember, error) {
	if a.memberErr != nil {
		return nil, a.memberErr
	}
	return a.member, nil
}

// fakeContext stands in for a telebot update context.
type fakeContext struct {
	tele.Context

	api     *fakeAPI
	chat    *tele.Chat
	sender  *tele.User
	text    string
	request *tele.ChatJoinRequest

	replies []string
}

func (c *fakeContext) Bot() tele.API                          { return c.api }
func (c *fakeContext) Chat() *tele.Chat                       { return c.chat }
func (c *fakeContext) Sender() *tele.User                     { return c.sender }
func (c *fakeContext) Text() string                           { return c.text }
func (c *fakeContext) ChatJoinRequest() *tele.ChatJoinRequest { return c.request }

func (c *fakeContext) Send(what interface{}, opts ...interface{}) error {
	s, ok := what.(string)
	if !ok {
		return errors.New("unexpected message type")
	}
	c.replies = append(c.replies, s)
	return nil
}

func newCommandContext(text string, role tele.MemberStatus) *fakeContext {
	return &fakeContext{
		api:    &fakeAPI{member: &tele.ChatMember{Role: role}},
		chat:   &tele.Chat{ID: -100},
		sender: &tele.User{ID: 42, FirstName: "Alice", Username: "alice"},
		text:   text,
	}
}

type createCall struct {
	req vote.JoinRequest
	ttl time.Duration
}

type fakeVotes struct {
	creates   []createCall
	createErr error

	report    *vote.Report
	reportErr error

	sweep    *vote.SweepResult
	sweepErr error
}

func (v *fakeVotes) CreateVote(_ context.Context, req vote.JoinRequest, ttl time.Duration) (*vote.Record, error) {
	v.creates = append(v.creates, createCall{req: req, ttl: ttl})
	if v.createErr != nil {
		return nil, v.createErr
	}
	return &vote.Record{VoteID: "tg-poll-1", RequesterID: req.RequesterID, ChatID: req.ChatID}, nil
}

func (v *fakeVotes) ReportStatus(context.Context, int64) (*vote.Report, error) {
	return v.report, v.reportErr
}

func (v *fakeVotes) SweepExpired(context.Context, int64) (*vote.SweepResult, error) {
	return v.sweep, v.sweepErr
}

func newTestBot(votes *fakeVotes) *Bot {
	return New(nil, votes, Settings{
		JoinVoteTTL: 24 * time.Hour,
		TestVoteTTL: 30 * time.Second,
	}, slog.New(slog.DiscardHandler))
}
