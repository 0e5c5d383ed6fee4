package telegram

import (
	"context"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	"nuclight.org/gatekeeper/internal/vote"
)

// Votes is the part of vote.Manager the bot drives.
type Votes interface {
	CreateVote(ctx context.Context, req vote.JoinRequest, ttl time.Duration) (*vote.Record, error)
	ReportStatus(ctx context.Context, chatID int64) (*vote.Report, error)
	SweepExpired(ctx context.Context, chatID int64) (*vote.SweepResult, error)
}

type Settings struct {
	JoinVoteTTL time.Duration
	TestVoteTTL time.Duration
	// HandlerTimeout bounds the work done for a single update.
	HandlerTimeout time.Duration
}

type Bot struct {
	bot      *tele.Bot
	votes    Votes
	settings Settings
	logger   *slog.Logger
}

// NewAPI connects to the Bot API. Join requests are only delivered when
// explicitly listed in the allowed updates.
func NewAPI(token string) (*tele.Bot, error) {
	pref := tele.Settings{
		Token: token,
		Poller: &tele.LongPoller{
			Timeout:        10 * time.Second,
			AllowedUpdates: []string{"message", "chat_join_request"},
		},
	}
	return tele.NewBot(pref)
}

func New(api *tele.Bot, votes Votes, settings Settings, logger *slog.Logger) *Bot {
	if settings.HandlerTimeout <= 0 {
		settings.HandlerTimeout = time.Minute
	}
	return &Bot{
		bot:      api,
		votes:    votes,
		settings: settings,
		logger:   logger,
	}
}

func (b *Bot) Start() {
	b.logger.Info("bot started")
	b.bot.Start()
}

func (b *Bot) Stop() {
	b.bot.Stop()
}

func (b *Bot) handlerContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.settings.HandlerTimeout)
}
