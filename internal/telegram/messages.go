package telegram

// User-facing replies.
const (
	MsgAdminOnly       = "❌ This command is only available to administrators."
	MsgVoteAlreadyOpen = "ℹ️ You already have an open poll in this chat."
	MsgTestVoteOpened  = "🧪 Test poll opened, it closes in %s."
	MsgSweepSkipped    = "⏳ Another sweep is running, try again in a moment."
	MsgFmtSweepDone    = "🧹 Sweep finished: %d closed, %d failed."
	MsgHelp            = `Available commands:
/status - list open polls and close expired ones
/checky - same as /status
/testpoll - open a short poll for yourself (admins)
/sweep - close expired polls now (admins)
/help - this message`
)

// Internal failures; details go to the log only.
const (
	MsgInternalError    = "⚠️ Something went wrong. Please try again later."
	MsgFailedStatus     = "⚠️ Could not build the poll status. Please try again."
	MsgFailedCreateVote = "⚠️ Could not open the poll. Please try again."
	MsgFailedSweep      = "⚠️ Could not close expired polls. Please try again."
)

const (
	adminNotificationHeader = "👨‍💻 Admin Notification:"
)
