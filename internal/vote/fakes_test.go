package vote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore is an in-memory Store with the same conditional semantics as
// the real ones.
type memStore struct {
	mu     sync.Mutex
	active map[string]*Record
	closed map[string]*Record
	// failOnce maps an operation name to an error returned by its next call.
	failOnce map[string]error
	// beforeArchive runs once, outside the lock, at the start of the next
	// Archive call.
	beforeArchive func()
}

func newMemStore() *memStore {
	return &memStore{
		active:   make(map[string]*Record),
		closed:   make(map[string]*Record),
		failOnce: make(map[string]error),
	}
}

func copyRecord(r *Record) *Record {
	c := *r
	if r.Results != nil {
		res := *r.Results
		res.Options = append([]OptionResult(nil), r.Results.Options...)
		c.Results = &res
	}
	return &c
}

func (s *memStore) fail(op string) error {
	if err, ok := s.failOnce[op]; ok {
		delete(s.failOnce, op)
		return err
	}
	return nil
}

func (s *memStore) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOnce[op] = err
}

func (s *memStore) FindActive(_ context.Context, requesterID, chatID int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindActive"); err != nil {
		return nil, err
	}
	for _, r := range s.active {
		if r.RequesterID == requesterID && r.ChatID == chatID {
			return copyRecord(r), nil
		}
	}
	return nil, nil
}

func (s *memStore) GetActive(_ context.Context, voteID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetActive"); err != nil {
		return nil, err
	}
	if r, ok := s.active[voteID]; ok {
		return copyRecord(r), nil
	}
	return nil, nil
}

func (s *memStore) InsertOpen(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertOpen"); err != nil {
		return err
	}
	for _, existing := range s.active {
		if existing.RequesterID == r.RequesterID && existing.ChatID == r.ChatID {
			return ErrDuplicateVote
		}
	}
	if _, ok := s.active[r.VoteID]; ok {
		return ErrDuplicateVote
	}
	s.active[r.VoteID] = copyRecord(r)
	return nil
}

func (s *memStore) Claim(_ context.Context, voteID, token string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Claim"); err != nil {
		return false, err
	}
	r, ok := s.active[voteID]
	if !ok || r.Status != StatusOpen {
		return false, nil
	}
	r.Status = StatusClaimed
	r.ClaimToken = token
	r.ClaimedAt = at
	return true, nil
}

func (s *memStore) SaveResults(_ context.Context, voteID, token string, results *Results) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SaveResults"); err != nil {
		return err
	}
	r, ok := s.active[voteID]
	if !ok || r.Status != StatusClaimed || r.ClaimToken != token {
		return ErrClaimLost
	}
	res := *results
	r.Results = &res
	return nil
}

func (s *memStore) Release(_ context.Context, voteID, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Release"); err != nil {
		return false, err
	}
	r, ok := s.active[voteID]
	if !ok || r.Status != StatusClaimed || r.ClaimToken != token || r.Results != nil {
		return false, nil
	}
	r.Status = StatusOpen
	r.ClaimToken = ""
	r.ClaimedAt = time.Time{}
	return true, nil
}

func (s *memStore) Archive(_ context.Context, r *Record) (bool, error) {
	s.mu.Lock()
	hook := s.beforeArchive
	s.beforeArchive = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Archive"); err != nil {
		return false, err
	}
	if _, ok := s.closed[r.VoteID]; !ok {
		s.closed[r.VoteID] = copyRecord(r)
	}
	_, removed := s.active[r.VoteID]
	delete(s.active, r.VoteID)
	return removed, nil
}

func (s *memStore) filter(chatID int64, keep func(*Record) bool) []*Record {
	var out []*Record
	for _, r := range s.active {
		if chatID != 0 && r.ChatID != chatID {
			continue
		}
		if keep(r) {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

func (s *memStore) ScanOpenExpired(_ context.Context, chatID int64, now time.Time) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ScanOpenExpired"); err != nil {
		return nil, err
	}
	return s.filter(chatID, func(r *Record) bool {
		return r.Status == StatusOpen && !r.ExpiresAt.After(now)
	}), nil
}

func (s *memStore) ScanClaimed(_ context.Context, chatID int64) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ScanClaimed"); err != nil {
		return nil, err
	}
	return s.filter(chatID, func(r *Record) bool { return r.Status == StatusClaimed }), nil
}

func (s *memStore) ListActive(_ context.Context, chatID int64) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListActive"); err != nil {
		return nil, err
	}
	return s.filter(chatID, func(*Record) bool { return true }), nil
}

func (s *memStore) ListClosed(_ context.Context, chatID int64, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, r := range s.closed {
		if chatID == 0 || r.ChatID == chatID {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.After(out[j].ClosedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *memStore) closedRecord(voteID string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.closed[voteID]; ok {
		return copyRecord(r)
	}
	return nil
}

func (s *memStore) activeRecord(voteID string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.active[voteID]; ok {
		return copyRecord(r)
	}
	return nil
}

type fakeTransport struct {
	mu sync.Mutex

	nextID    int
	ballots   []Ballot
	createErr error
	anchorErr error
	anchors   int

	stopCalls map[int]int
	stopErr   map[int]error
	stopDelay time.Duration
	// onStop runs after every stop call that reaches the platform.
	onStop func()

	names   map[int64]string
	nameErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		stopCalls: make(map[int]int),
		stopErr:   make(map[int]error),
		names:     make(map[int64]string),
	}
}

func (t *fakeTransport) CreateVote(_ context.Context, _ int64, ballot Ballot) (VoteRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.createErr != nil {
		return VoteRef{}, &TransportError{Op: "create vote", Err: t.createErr}
	}
	t.nextID++
	t.ballots = append(t.ballots, ballot)
	return VoteRef{VoteID: fmt.Sprintf("poll-%d", t.nextID), MessageID: 100 + t.nextID}, nil
}

// StopVote fails without reaching the platform when ctx is already done,
// like the rate-limited Telegram transport.
func (t *fakeTransport) StopVote(ctx context.Context, _ int64, messageID int) (*Results, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "stop vote", Err: err}
	}

	t.mu.Lock()
	t.stopCalls[messageID]++
	err := t.stopErr[messageID]
	delay := t.stopDelay
	onStop := t.onStop
	t.mu.Unlock()

	if onStop != nil {
		onStop()
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		if errors.Is(err, ErrVoteAlreadyStopped) {
			return nil, err
		}
		return nil, &TransportError{Op: "stop vote", Err: err}
	}
	return &Results{
		TotalVoters: 5,
		Options: []OptionResult{
			{Label: OptionApprove.Label(), Count: 3},
			{Label: OptionReject.Label(), Count: 1},
			{Label: OptionAbstain.Label(), Count: 1},
		},
	}, nil
}

func (t *fakeTransport) MemberName(_ context.Context, _, userID int64) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.nameErr != nil {
		return "", &TransportError{Op: "get member", Err: t.nameErr}
	}
	return t.names[userID], nil
}

func (t *fakeTransport) SendAnchor(context.Context, JoinRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.anchors++
	return t.anchorErr
}

func (t *fakeTransport) setStopErr(messageID int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.stopErr, messageID)
		return
	}
	t.stopErr[messageID] = err
}

func (t *fakeTransport) stops(messageID int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopCalls[messageID]
}

func (t *fakeTransport) createdCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ballots)
}

type recordingObserver struct {
	NopObserver
	mu      sync.Mutex
	created []string
	closed  []string
	sweeps  int
}

func (o *recordingObserver) VoteCreated(_ context.Context, r *Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created = append(o.created, r.VoteID)
}

func (o *recordingObserver) VoteClosed(_ context.Context, r *Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = append(o.closed, r.VoteID)
}

func (o *recordingObserver) SweepCompleted(context.Context, *SweepResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sweeps++
}

type heldLocker struct{}

func (heldLocker) TryLock(context.Context, string, time.Duration) (Lease, error) {
	return nil, ErrSweepInProgress
}

type fakeLease struct {
	mu       sync.Mutex
	extends  int
	released bool
}

func (l *fakeLease) Extend(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extends++
	return nil
}

func (l *fakeLease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
}

// grantingLocker always grants the same lease.
type grantingLocker struct {
	lease *fakeLease
	ttl   time.Duration
}

func (g *grantingLocker) TryLock(_ context.Context, _ string, ttl time.Duration) (Lease, error) {
	g.ttl = ttl
	return g.lease, nil
}

type testEnv struct {
	store     *memStore
	transport *fakeTransport
	clock     *fakeClock
	observer  *recordingObserver
	manager   *Manager
}

func newTestEnv(opts ...Option) *testEnv {
	env := &testEnv{
		store:     newMemStore(),
		transport: newFakeTransport(),
		clock:     newFakeClock(),
		observer:  &recordingObserver{},
	}
	opts = append([]Option{
		WithClock(env.clock),
		WithObserver(env.observer),
		WithClaimLease(time.Minute),
		WithStopTimeout(5 * time.Second),
	}, opts...)
	env.manager = NewManager(env.store, env.transport, opts...)
	return env
}

func joinRequest(requesterID, chatID int64) JoinRequest {
	return JoinRequest{
		RequesterID: requesterID,
		ChatID:      chatID,
		Handle:      fmt.Sprintf("user%d", requesterID),
		DisplayName: fmt.Sprintf("User%d", requesterID),
	}
}
