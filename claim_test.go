package spawn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	spawntest "github.com/arloliu/spawn/testing"
)

// Scenario B: a correct guess grants the entity exactly once and retires the drop.
func TestAttemptClaim_Accepted(t *testing.T) {
	f := startFixture(t)
	ctx := t.Context()

	drop, err := f.eng.ForceSpawn(ctx, testChat, "jean-grey")
	require.NoError(t, err)
	require.Equal(t, 1, f.store.Len())

	res, err := f.eng.AttemptClaim(ctx, testChat, 7, "jean grey", drop.MessageID)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, drop, *res.Drop)

	require.Equal(t, []spawntest.Grant{{ClaimantID: 7, EntityID: "jean-grey", SourceTag: "collected"}}, f.attributor.Grants())

	_, ok := f.eng.ActiveDrop(testChat)
	require.False(t, ok)
	require.Zero(t, f.store.Len())

	edits := f.transport.Edits()
	require.Len(t, edits, 1)
	require.Equal(t, drop.MessageID, edits[0].MessageID)
	require.Contains(t, edits[0].Caption, "Jean Grey")

	// The drop is gone; a late reply learns who won.
	res, err = f.eng.AttemptClaim(ctx, testChat, 8, "Jean Grey", drop.MessageID)
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Equal(t, RejectNoActiveDrop, res.Reason)
	require.NotNil(t, res.LastClaim)
	require.Equal(t, int64(7), res.LastClaim.ClaimantID)
	require.Len(t, f.attributor.Grants(), 1)
}

func TestAttemptClaim_ConcurrentClaimantsGrantOnce(t *testing.T) {
	const claimants = 50

	f := startFixture(t)
	f.attributor.SetDelay(20 * time.Millisecond)

	drop, err := f.eng.ForceSpawn(t.Context(), testChat, "storm")
	require.NoError(t, err)

	var accepted, beingClaimed, noDrop atomic.Int64
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := range claimants {
		wg.Go(func() {
			<-start
			res, err := f.eng.AttemptClaim(t.Context(), testChat, int64(100+i), "storm", drop.MessageID)
			if !assert.NoError(t, err) {
				return
			}

			switch {
			case res.Accepted:
				accepted.Add(1)
			case res.Reason == RejectAlreadyBeingClaimed:
				beingClaimed.Add(1)
			case res.Reason == RejectNoActiveDrop:
				noDrop.Add(1)
			default:
				t.Errorf("unexpected rejection %s", res.Reason)
			}
		})
	}
	close(start)
	wg.Wait()

	require.Equal(t, int64(1), accepted.Load())
	require.Equal(t, int64(claimants-1), beingClaimed.Load()+noDrop.Load())
	require.Len(t, f.attributor.Grants(), 1)
	require.Equal(t, 1, f.attributor.Calls())
	require.Zero(t, f.eng.Stats().BusyClaimants)
}

func TestAttemptClaim_Rejections(t *testing.T) {
	t.Run("no drop", func(t *testing.T) {
		f := startFixture(t)

		res, err := f.eng.AttemptClaim(t.Context(), testChat, 1, "storm", 0)
		require.NoError(t, err)
		require.Equal(t, RejectNoActiveDrop, res.Reason)
		require.Nil(t, res.Drop)
		require.Nil(t, res.LastClaim)
	})

	t.Run("reply to a superseded announcement", func(t *testing.T) {
		f := startFixture(t)

		old, err := f.eng.ForceSpawn(t.Context(), testChat, "storm")
		require.NoError(t, err)
		live, err := f.eng.ForceSpawn(t.Context(), testChat, "cyclops")
		require.NoError(t, err)

		res, err := f.eng.AttemptClaim(t.Context(), testChat, 1, "storm", old.MessageID)
		require.NoError(t, err)
		require.Equal(t, RejectNoActiveDrop, res.Reason)
		require.Equal(t, live, *res.Drop)
		require.Zero(t, f.attributor.Calls())
	})

	t.Run("wrong guess can be retried", func(t *testing.T) {
		f := startFixture(t)

		drop, err := f.eng.ForceSpawn(t.Context(), testChat, "jean-grey")
		require.NoError(t, err)

		for _, guess := range []string{"storm", "Jea", "jean@grey", "grey jean", ""} {
			res, err := f.eng.AttemptClaim(t.Context(), testChat, 1, guess, drop.MessageID)
			require.NoError(t, err)
			require.Equal(t, RejectEvidenceMismatch, res.Reason, guess)
			require.Equal(t, drop, *res.Drop)
		}
		require.Zero(t, f.attributor.Calls())

		res, err := f.eng.AttemptClaim(t.Context(), testChat, 1, "Grey", drop.MessageID)
		require.NoError(t, err)
		require.True(t, res.Accepted)
	})

	t.Run("claimant with an attempt in flight is silently rejected", func(t *testing.T) {
		f := startFixture(t)
		f.attributor.SetDelay(200 * time.Millisecond)

		_, err := f.eng.ForceSpawn(t.Context(), testChat, "storm")
		require.NoError(t, err)
		_, err = f.eng.ForceSpawn(t.Context(), testChat-1, "cyclops")
		require.NoError(t, err)

		done := make(chan ClaimResult)
		go func() {
			res, _ := f.eng.AttemptClaim(context.Background(), testChat, 5, "storm", 0)
			done <- res
		}()

		require.Eventually(t, func() bool {
			return f.eng.chats.ClaimantBusy(5)
		}, time.Second, time.Millisecond)

		res, err := f.eng.AttemptClaim(t.Context(), testChat-1, 5, "cyclops", 0)
		require.NoError(t, err)
		require.Equal(t, RejectAlreadyAttempting, res.Reason)
		require.True(t, res.Silent)

		require.True(t, (<-done).Accepted)

		// The guard is gone once the first attempt finished.
		res, err = f.eng.AttemptClaim(t.Context(), testChat-1, 5, "cyclops", 0)
		require.NoError(t, err)
		require.True(t, res.Accepted)
	})
}

func TestAttemptClaim_AttributionFailureKeepsDrop(t *testing.T) {
	var reported atomic.Int64
	f := startFixture(t, withEngineOptions(WithHooks(&Hooks{
		OnError: func(context.Context, error) error {
			reported.Add(1)
			return nil
		},
	})))

	drop, err := f.eng.ForceSpawn(t.Context(), testChat, "storm")
	require.NoError(t, err)

	f.attributor.Fail(errors.New("collection service down"))
	_, err = f.eng.AttemptClaim(t.Context(), testChat, 1, "storm", 0)
	require.ErrorIs(t, err, ErrAttributionFailed)

	live, ok := f.eng.ActiveDrop(testChat)
	require.True(t, ok)
	require.Equal(t, drop, live)
	require.Equal(t, 1, f.store.Len())
	require.Zero(t, f.eng.Stats().BusyClaimants)
	require.Eventually(t, func() bool { return reported.Load() == 1 }, time.Second, 5*time.Millisecond)

	f.attributor.Fail(nil)
	res, err := f.eng.AttemptClaim(t.Context(), testChat, 1, "storm", 0)
	require.NoError(t, err)
	require.True(t, res.Accepted)
}

func TestAttemptClaim_CaptionFailureDoesNotAffectClaim(t *testing.T) {
	f := startFixture(t)
	f.transport.FailEdit(errors.New("message deleted"))

	_, err := f.eng.ForceSpawn(t.Context(), testChat, "storm")
	require.NoError(t, err)

	res, err := f.eng.AttemptClaim(t.Context(), testChat, 1, "storm", 0)
	require.NoError(t, err)
	require.True(t, res.Accepted)
}

func TestAttemptClaim_BonusReward(t *testing.T) {
	rewarder := spawntest.NewRewarder()
	f := startFixture(t,
		withConfig(func(c *Config) {
			c.Bonus = BonusConfig{Chance: 1, Min: 5, Max: 5}
		}),
		withEngineOptions(WithRewarder(rewarder)),
	)

	_, err := f.eng.ForceSpawn(t.Context(), testChat, "storm")
	require.NoError(t, err)
	res, err := f.eng.AttemptClaim(t.Context(), testChat, 4, "storm", 0)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, []spawntest.Reward{{ClaimantID: 4, Amount: 5}}, rewarder.Rewards())

	rewarder.Fail(errors.New("ledger locked"))
	_, err = f.eng.ForceSpawn(t.Context(), testChat, "cyclops")
	require.NoError(t, err)
	res, err = f.eng.AttemptClaim(t.Context(), testChat, 4, "cyclops", 0)
	require.NoError(t, err)
	require.True(t, res.Accepted, "a failed reward never undoes the claim")
}

func TestAttemptClaim_NoRewardWithoutChance(t *testing.T) {
	rewarder := spawntest.NewRewarder()
	f := startFixture(t, withEngineOptions(WithRewarder(rewarder)))

	_, err := f.eng.ForceSpawn(t.Context(), testChat, "storm")
	require.NoError(t, err)
	_, err = f.eng.AttemptClaim(t.Context(), testChat, 4, "storm", 0)
	require.NoError(t, err)
	require.Empty(t, rewarder.Rewards())
}

func TestAttemptClaim_RunsHooks(t *testing.T) {
	claimed := make(chan int64, 1)
	f := startFixture(t, withEngineOptions(WithHooks(&Hooks{
		OnClaimed: func(_ context.Context, _ DropRecord, claimantID int64) error {
			claimed <- claimantID
			return errors.New("hook errors are only logged")
		},
	})))

	_, err := f.eng.ForceSpawn(t.Context(), testChat, "storm")
	require.NoError(t, err)
	res, err := f.eng.AttemptClaim(t.Context(), testChat, 11, "storm", 0)
	require.NoError(t, err)
	require.True(t, res.Accepted)

	select {
	case id := <-claimed:
		require.Equal(t, int64(11), id)
	case <-time.After(time.Second):
		t.Fatal("OnClaimed hook was not called")
	}
}

func TestAttemptClaim_NotStarted(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.AttemptClaim(t.Context(), testChat, 1, "storm", 0)
	require.ErrorIs(t, err, ErrNotStarted)
}
