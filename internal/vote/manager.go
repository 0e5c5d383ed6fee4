package vote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Store persists vote records in two logical partitions: active (open or
// claimed) and closed.
type Store interface {
	FindActive(ctx context.Context, requesterID, chatID int64) (*Record, error)
	GetActive(ctx context.Context, voteID string) (*Record, error)
	InsertOpen(ctx context.Context, r *Record) error
	Claim(ctx context.Context, voteID, token string, at time.Time) (bool, error)
	SaveResults(ctx context.Context, voteID, token string, results *Results) error
	Release(ctx context.Context, voteID, token string) (bool, error)
	// Archive moves r to the closed partition. It is idempotent and reports
	// whether this call removed the active row.
	Archive(ctx context.Context, r *Record) (bool, error)
	ScanOpenExpired(ctx context.Context, chatID int64, now time.Time) ([]*Record, error)
	ScanClaimed(ctx context.Context, chatID int64) ([]*Record, error)
	ListActive(ctx context.Context, chatID int64) ([]*Record, error)
	ListClosed(ctx context.Context, chatID int64, limit int) ([]*Record, error)
}

// Transport wraps the chat platform's vote primitives.
type Transport interface {
	CreateVote(ctx context.Context, chatID int64, ballot Ballot) (VoteRef, error)
	StopVote(ctx context.Context, chatID int64, messageID int) (*Results, error)
	MemberName(ctx context.Context, chatID, userID int64) (string, error)
	SendAnchor(ctx context.Context, req JoinRequest) error
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Locker grants a named lease shared between processes. TryLock returns
// ErrSweepInProgress when another holder owns the lease.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// Lease is a lease held through a Locker.
type Lease interface {
	// Extend resets the lease expiry to its full TTL.
	Extend(ctx context.Context) error
	Release()
}

const (
	DefaultClaimLease        = 5 * time.Minute
	DefaultStopTimeout       = 30 * time.Second
	DefaultLookupConcurrency = 4
)

type Manager struct {
	store     Store
	transport Transport
	clock     Clock
	logger    *slog.Logger
	observer  Observer
	locker    Locker

	claimLease        time.Duration
	stopTimeout       time.Duration
	lookupConcurrency int

	createLocks keyLocks
}

type Option func(*Manager)

func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithObserver registers lifecycle observers; repeated calls accumulate.
func WithObserver(o ...Observer) Option {
	return func(m *Manager) {
		if existing, ok := m.observer.(Observers); ok {
			m.observer = append(existing, o...)
			return
		}
		m.observer = Observers(o)
	}
}

// WithLocker makes sweeps take a shared lease so only one process sweeps a
// given scope at a time. Correctness does not depend on it; claims already
// guarantee a single finalizer per vote.
func WithLocker(l Locker) Option {
	return func(m *Manager) { m.locker = l }
}

// WithClaimLease sets how long a claim without a tally is trusted before the
// next sweep releases it back to open. It must exceed the stop timeout.
func WithClaimLease(d time.Duration) Option {
	return func(m *Manager) { m.claimLease = d }
}

func WithStopTimeout(d time.Duration) Option {
	return func(m *Manager) { m.stopTimeout = d }
}

func WithLookupConcurrency(n int) Option {
	return func(m *Manager) { m.lookupConcurrency = n }
}

func NewManager(store Store, transport Transport, opts ...Option) *Manager {
	m := &Manager{
		store:             store,
		transport:         transport,
		clock:             systemClock{},
		logger:            slog.New(slog.DiscardHandler),
		observer:          NopObserver{},
		claimLease:        DefaultClaimLease,
		stopTimeout:       DefaultStopTimeout,
		lookupConcurrency: DefaultLookupConcurrency,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.stopTimeout >= m.claimLease {
		m.stopTimeout = m.claimLease / 2
	}
	if m.lookupConcurrency < 1 {
		m.lookupConcurrency = 1
	}
	return m
}

// CreateVote opens a join-approval vote for the requester in the given chat.
// Returns ErrDuplicateVote if an active vote already exists for the same
// (requester, chat); callers treat that as a no-op.
func (m *Manager) CreateVote(ctx context.Context, req JoinRequest, ttl time.Duration) (*Record, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("create vote: ttl must be positive, got %s", ttl)
	}

	unlock := m.createLocks.lock(dedupKey{requesterID: req.RequesterID, chatID: req.ChatID})
	defer unlock()

	existing, err := m.store.FindActive(ctx, req.RequesterID, req.ChatID)
	if err != nil {
		return nil, fmt.Errorf("check active vote: %w", err)
	}
	if existing != nil {
		m.logger.Info("active vote exists, skipping",
			"requester_id", req.RequesterID,
			"chat_id", req.ChatID,
			"vote_id", existing.VoteID,
		)
		return nil, ErrDuplicateVote
	}

	ref, err := m.transport.CreateVote(ctx, req.ChatID, NewBallot(req))
	if err != nil {
		return nil, fmt.Errorf("post vote: %w", err)
	}

	now := m.clock.Now()
	rec := &Record{
		VoteID:      ref.VoteID,
		RequesterID: req.RequesterID,
		ChatID:      req.ChatID,
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
		MessageID:   ref.MessageID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		Status:      StatusOpen,
	}

	if err := m.store.InsertOpen(ctx, rec); err != nil {
		// The posted vote is untracked now; withdraw it so it cannot linger.
		m.withdraw(context.WithoutCancel(ctx), rec)
		if errors.Is(err, ErrDuplicateVote) {
			m.logger.Info("lost insert race for vote, withdrawn",
				"requester_id", req.RequesterID,
				"chat_id", req.ChatID,
				"vote_id", ref.VoteID,
			)
			return nil, ErrDuplicateVote
		}
		return nil, fmt.Errorf("persist vote: %w", err)
	}

	m.logger.Info("vote opened",
		"vote_id", rec.VoteID,
		"requester_id", rec.RequesterID,
		"chat_id", rec.ChatID,
		"expires_at", rec.ExpiresAt,
	)

	if err := m.transport.SendAnchor(ctx, req); err != nil {
		m.logger.Warn("failed to send profile anchor", "vote_id", rec.VoteID, "error", err)
	}

	m.observer.VoteCreated(ctx, rec)
	return rec, nil
}

// withdraw stops a posted vote that has no record. Callers pass a context
// that is not cancelled with the request; the stop timeout bounds the call.
func (m *Manager) withdraw(ctx context.Context, rec *Record) {
	ctx, cancel := context.WithTimeout(ctx, m.stopTimeout)
	defer cancel()

	if _, err := m.transport.StopVote(ctx, rec.ChatID, rec.MessageID); err != nil {
		m.logger.Warn("failed to withdraw untracked vote",
			"vote_id", rec.VoteID,
			"chat_id", rec.ChatID,
			"error", err,
		)
	}
}

// ListClosed returns archived votes for the chat (0 for every chat), newest
// first.
func (m *Manager) ListClosed(ctx context.Context, chatID int64, limit int) ([]*Record, error) {
	return m.store.ListClosed(ctx, chatID, limit)
}
