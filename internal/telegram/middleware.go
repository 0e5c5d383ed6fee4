package telegram

import (
	tele "gopkg.in/telebot.v4"
)

func isAdmin(c tele.Context) (bool, error) {
	member, err := c.Bot().ChatMemberOf(c.Chat(), c.Sender())
	if err != nil {
		return false, err
	}
	return member.Role == tele.Administrator || member.Role == tele.Creator, nil
}

// AdminOnly lets chat administrators through and answers everyone else.
// A failed membership lookup is treated as "not an admin".
func (b *Bot) AdminOnly() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			ok, err := isAdmin(c)
			if err != nil {
				b.logger.Warn("failed to check admin status",
					"user_id", c.Sender().ID,
					"chat_id", c.Chat().ID,
					"error", err,
				)
			}
			if !ok {
				b.logger.Warn("unauthorized command attempt",
					"user_id", c.Sender().ID,
					"username", c.Sender().Username,
					"chat_id", c.Chat().ID,
					"command", c.Text(),
				)
				return c.Send(MsgAdminOnly)
			}
			return next(c)
		}
	}
}

// HandleErrors replies with the user-facing part of a handler error and
// logs the rest.
func (b *Bot) HandleErrors() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}
			if ShouldLog(err) {
				b.logger.Error("command failed",
					"command", c.Text(),
					"chat_id", c.Chat().ID,
					"error", err,
				)
			}
			return c.Send(UserMessage(err))
		}
	}
}
