package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nuclight.org/gatekeeper/internal/vote"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func openRecord(id string, requesterID, chatID int64, ttl time.Duration) *vote.Record {
	return &vote.Record{
		VoteID:      id,
		RequesterID: requesterID,
		ChatID:      chatID,
		Handle:      fmt.Sprintf("user%d", requesterID),
		DisplayName: fmt.Sprintf("User %d", requesterID),
		MessageID:   int(requesterID) + 100,
		CreatedAt:   baseTime,
		ExpiresAt:   baseTime.Add(ttl),
		Status:      vote.StatusOpen,
	}
}

func tally() *vote.Results {
	return &vote.Results{
		TotalVoters: 3,
		Options: []vote.OptionResult{
			{Label: "Oui", Count: 2},
			{Label: "Non", Count: 1},
			{Label: "Je ne sais pas", Count: 0},
		},
	}
}

func ids(records []*vote.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.VoteID)
	}
	return out
}

// runStoreSuite checks the conditional semantics every vote.Store must
// provide.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) vote.Store) {
	ctx := context.Background()

	t.Run("InsertAndFind", func(t *testing.T) {
		s := newStore(t)
		rec := openRecord("v1", 42, -100, time.Hour)
		require.NoError(t, s.InsertOpen(ctx, rec))

		got, err := s.FindActive(ctx, 42, -100)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, rec.VoteID, got.VoteID)
		assert.Equal(t, rec.Handle, got.Handle)
		assert.Equal(t, rec.DisplayName, got.DisplayName)
		assert.Equal(t, rec.MessageID, got.MessageID)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
		assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
		assert.Equal(t, vote.StatusOpen, got.Status)
		assert.Nil(t, got.Results)

		byID, err := s.GetActive(ctx, "v1")
		require.NoError(t, err)
		require.NotNil(t, byID)
		assert.Equal(t, int64(42), byID.RequesterID)
	})

	t.Run("MissingRecord", func(t *testing.T) {
		s := newStore(t)

		got, err := s.FindActive(ctx, 1, -100)
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = s.GetActive(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("DuplicateRequesterChat", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertOpen(ctx, openRecord("v1", 42, -100, time.Hour)))

		err := s.InsertOpen(ctx, openRecord("v2", 42, -100, time.Hour))
		assert.ErrorIs(t, err, vote.ErrDuplicateVote)

		require.NoError(t, s.InsertOpen(ctx, openRecord("v3", 42, -200, time.Hour)))
	})

	t.Run("ExpiryBoundary", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertOpen(ctx, openRecord("v1", 42, -100, time.Second)))

		got, err := s.ScanOpenExpired(ctx, 0, baseTime)
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = s.ScanOpenExpired(ctx, 0, baseTime.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, []string{"v1"}, ids(got))

		got, err = s.ScanOpenExpired(ctx, 0, baseTime.Add(2*time.Second))
		require.NoError(t, err)
		assert.Equal(t, []string{"v1"}, ids(got))
	})

	t.Run("ScanScopedToChatAndOrdered", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertOpen(ctx, openRecord("late", 1, -100, 3*time.Second)))
		require.NoError(t, s.InsertOpen(ctx, openRecord("early", 2, -100, time.Second)))
		require.NoError(t, s.InsertOpen(ctx, openRecord("other", 3, -200, time.Second)))

		now := baseTime.Add(time.Minute)
		got, err := s.ScanOpenExpired(ctx, -100, now)
		require.NoError(t, err)
		assert.Equal(t, []string{"early", "late"}, ids(got))

		all, err := s.ScanOpenExpired(ctx, 0, now)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		active, err := s.ListActive(ctx, -200)
		require.NoError(t, err)
		assert.Equal(t, []string{"other"}, ids(active))
	})

	t.Run("ClaimHasSingleWinner", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertOpen(ctx, openRecord("v1", 42, -100, time.Second)))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.Claim(ctx, "v1", fmt.Sprintf("token-%d", i), baseTime.Add(2*time.Second))
				if err != nil {
					t.Errorf("claim failed: %v", err)
					return
				}
				if ok {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())

		expired, err := s.ScanOpenExpired(ctx, 0, baseTime.Add(time.Minute))
		require.NoError(t, err)
		assert.Empty(t, expired, "claimed votes are not open")

		claimed, err := s.ScanClaimed(ctx, 0)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, vote.StatusClaimed, claimed[0].Status)
		assert.NotEmpty(t, claimed[0].ClaimToken)
		assert.True(t, claimed[0].ClaimedAt.Equal(baseTime.Add(2*time.Second)))

		dup, err := s.FindActive(ctx, 42, -100)
		require.NoError(t, err)
		assert.NotNil(t, dup, "claimed votes still count as active")
	})

	t.Run("SaveResultsRequiresClaim", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertOpen(ctx, openRecord("v1", 42, -100, time.Second)))

		assert.ErrorIs(t, s.SaveResults(ctx, "v1", "tok", tally()), vote.ErrClaimLost)

		ok, err := s.Claim(ctx, "v1", "tok", baseTime)
		require.NoError(t, err)
		require.True(t, ok)

		assert.ErrorIs(t, s.SaveResults(ctx, "v1", "other", tally()), vote.ErrClaimLost)
		require.NoError(t, s.SaveResults(ctx, "v1", "tok", tally()))

		got, err := s.GetActive(ctx, "v1")
		require.NoError(t, err)
		require.NotNil(t, got.Results)
		assert.Equal(t, tally(), got.Results)
	})

	t.Run("Release", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertOpen(ctx, openRecord("v1", 42, -100, time.Second)))
		ok, err := s.Claim(ctx, "v1", "tok", baseTime)
		require.NoError(t, err)
		require.True(t, ok)

		released, err := s.Release(ctx, "v1", "other")
		require.NoError(t, err)
		assert.False(t, released)

		released, err = s.Release(ctx, "v1", "tok")
		require.NoError(t, err)
		assert.True(t, released)

		got, err := s.GetActive(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, vote.StatusOpen, got.Status)
		assert.Empty(t, got.ClaimToken)
		assert.True(t, got.ClaimedAt.IsZero())

		expired, err := s.ScanOpenExpired(ctx, 0, baseTime.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, []string{"v1"}, ids(expired))
	})

	t.Run("ReleaseRefusesStoppedVote", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertOpen(ctx, openRecord("v1", 42, -100, time.Second)))
		ok, err := s.Claim(ctx, "v1", "tok", baseTime)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, s.SaveResults(ctx, "v1", "tok", tally()))

		released, err := s.Release(ctx, "v1", "tok")
		require.NoError(t, err)
		assert.False(t, released)
	})

	t.Run("ArchiveIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		rec := openRecord("v1", 42, -100, time.Second)
		require.NoError(t, s.InsertOpen(ctx, rec))

		closed := rec.Closed(tally(), baseTime.Add(2*time.Second))
		removed, err := s.Archive(ctx, closed)
		require.NoError(t, err)
		assert.True(t, removed)

		// A second archive of the same vote succeeds but removes nothing.
		removed, err = s.Archive(ctx, closed)
		require.NoError(t, err)
		assert.False(t, removed)

		active, err := s.GetActive(ctx, "v1")
		require.NoError(t, err)
		assert.Nil(t, active)

		list, err := s.ListClosed(ctx, -100, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		got := list[0]
		assert.Equal(t, vote.StatusClosed, got.Status)
		assert.Equal(t, rec.RequesterID, got.RequesterID)
		assert.Equal(t, rec.MessageID, got.MessageID)
		assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
		assert.True(t, closed.ClosedAt.Equal(got.ClosedAt))
		assert.Equal(t, tally(), got.Results)

		// A new vote for the same requester is allowed once archived.
		require.NoError(t, s.InsertOpen(ctx, openRecord("v2", 42, -100, time.Hour)))
	})

	t.Run("ArchiveUnavailableTally", func(t *testing.T) {
		s := newStore(t)
		rec := openRecord("v1", 42, -100, time.Second)
		require.NoError(t, s.InsertOpen(ctx, rec))
		_, err := s.Archive(ctx, rec.Closed(&vote.Results{Unavailable: true}, baseTime))
		require.NoError(t, err)

		list, err := s.ListClosed(ctx, 0, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.True(t, list[0].Results.Unavailable)
	})

	t.Run("ListClosedNewestFirst", func(t *testing.T) {
		s := newStore(t)
		for i, chat := range []int64{-100, -100, -200} {
			rec := openRecord(fmt.Sprintf("v%d", i), int64(i+1), chat, time.Second)
			require.NoError(t, s.InsertOpen(ctx, rec))
			_, err := s.Archive(ctx, rec.Closed(tally(), baseTime.Add(time.Duration(i)*time.Minute)))
			require.NoError(t, err)
		}

		list, err := s.ListClosed(ctx, 0, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"v2", "v1"}, ids(list))

		list, err = s.ListClosed(ctx, -100, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"v1", "v0"}, ids(list))
	})
}
