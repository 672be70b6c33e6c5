package spawn

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario A: threshold 3, the third message spawns and the fourth does not.
func TestOnChatMessage_ThresholdCrossing(t *testing.T) {
	f := startFixture(t, withConfig(func(c *Config) { c.Threshold.Default = 3 }))
	ctx := t.Context()

	for i := range 2 {
		out, err := f.eng.OnChatMessage(ctx, groupMsg(testChat, int64(i+1)))
		require.NoError(t, err)
		require.True(t, out.Counted)
		require.Nil(t, out.Spawned)
	}

	crossing, err := f.eng.OnChatMessage(ctx, groupMsg(testChat, 3))
	require.NoError(t, err)
	require.True(t, crossing.Counted)
	require.NotNil(t, crossing.Spawned)
	require.Len(t, f.transport.PublishedIn(testChat), 1)

	out, err := f.eng.OnChatMessage(ctx, groupMsg(testChat, 4))
	require.NoError(t, err)
	require.True(t, out.Counted)
	require.Nil(t, out.Spawned)
	require.Len(t, f.transport.PublishedIn(testChat), 1)

	live, ok := f.eng.ActiveDrop(testChat)
	require.True(t, ok)
	require.Equal(t, *crossing.Spawned, live)
}

func TestOnChatMessage_ThresholdOverride(t *testing.T) {
	f := startFixture(t, withConfig(func(c *Config) { c.Threshold.Default = 100 }))
	ctx := t.Context()

	require.NoError(t, f.eng.SetThreshold(ctx, testChat, 1))

	out, err := f.eng.OnChatMessage(ctx, groupMsg(testChat, 1))
	require.NoError(t, err)
	require.NotNil(t, out.Spawned)

	// Other chats keep the default.
	out, err = f.eng.OnChatMessage(ctx, groupMsg(testChat-1, 1))
	require.NoError(t, err)
	require.Nil(t, out.Spawned)
}

func TestOnChatMessage_ConcurrentCrossingSpawnsOnce(t *testing.T) {
	const senders = 40

	f := startFixture(t, withConfig(func(c *Config) { c.Threshold.Default = senders }))
	f.transport.SetDelay(5 * time.Millisecond)

	var wg sync.WaitGroup
	for i := range senders {
		wg.Go(func() {
			_, err := f.eng.OnChatMessage(t.Context(), groupMsg(testChat, int64(i+1)))
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	require.Len(t, f.transport.PublishedIn(testChat), 1)
}

func TestOnChatMessage_CountingDoesNotWaitForPublish(t *testing.T) {
	f := startFixture(t, withConfig(func(c *Config) { c.Threshold.Default = 2 }))
	f.transport.SetDelay(500 * time.Millisecond)
	ctx := t.Context()

	_, err := f.eng.OnChatMessage(ctx, groupMsg(testChat, 1))
	require.NoError(t, err)

	spawned := make(chan MessageOutcome, 1)
	go func() {
		out, err := f.eng.OnChatMessage(ctx, groupMsg(testChat, 2))
		assert.NoError(t, err)
		spawned <- out
	}()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	out, err := f.eng.OnChatMessage(ctx, groupMsg(testChat, 3))
	require.NoError(t, err)
	require.True(t, out.Counted)
	require.Nil(t, out.Spawned)
	require.Less(t, time.Since(start), 200*time.Millisecond)

	select {
	case out := <-spawned:
		require.NotNil(t, out.Spawned)
	case <-time.After(2 * time.Second):
		t.Fatal("crossing message never finished its spawn")
	}
}

func TestOnChatMessage_Filtering(t *testing.T) {
	t.Run("banned sender is ignored", func(t *testing.T) {
		f := startFixture(t)
		f.bans.Ban(66)

		out, err := f.eng.OnChatMessage(t.Context(), groupMsg(testChat, 66))
		require.NoError(t, err)
		require.Equal(t, MessageOutcome{}, out)
		require.Empty(t, f.transport.Published())
	})

	t.Run("private message is not counted", func(t *testing.T) {
		f := startFixture(t)

		out, err := f.eng.OnChatMessage(t.Context(), ChatMessage{ChatID: 42, SenderID: 1})
		require.NoError(t, err)
		require.False(t, out.Counted)
		require.Empty(t, f.transport.Published())
	})

	t.Run("zero chat is rejected", func(t *testing.T) {
		f := startFixture(t)

		_, err := f.eng.OnChatMessage(t.Context(), groupMsg(0, 1))
		require.ErrorIs(t, err, ErrInvalidChat)
	})

	t.Run("flooding sender stops counting", func(t *testing.T) {
		f := startFixture(t, withConfig(func(c *Config) {
			c.Threshold.Default = 10
			c.Spam.MaxMessages = 2
			c.Spam.Window = time.Hour
		}))

		counted := 0
		for range 5 {
			out, err := f.eng.OnChatMessage(t.Context(), groupMsg(testChat, 9))
			require.NoError(t, err)
			if out.Counted {
				counted++
			}
		}
		require.Equal(t, 2, counted)

		out, err := f.eng.OnChatMessage(t.Context(), groupMsg(testChat, 10))
		require.NoError(t, err)
		require.True(t, out.Counted, "other senders are unaffected")
	})
}

func TestOnChatMessage_TransportFailureInstallsNothing(t *testing.T) {
	f := startFixture(t)
	f.transport.FailPublish(errors.New("chat unreachable"))

	out, err := f.eng.OnChatMessage(t.Context(), groupMsg(testChat, 1))
	require.ErrorIs(t, err, ErrTransportFailed)
	require.True(t, out.Counted)
	require.Nil(t, out.Spawned)

	_, ok := f.eng.ActiveDrop(testChat)
	require.False(t, ok)
	require.Zero(t, f.store.Len())

	f.transport.FailPublish(nil)
	out, err = f.eng.OnChatMessage(t.Context(), groupMsg(testChat, 1))
	require.NoError(t, err)
	require.NotNil(t, out.Spawned)
}

func TestOnChatMessage_ExhaustedPoolResetsCount(t *testing.T) {
	f := startFixture(t,
		withConfig(func(c *Config) { c.Threshold.Default = 2 }),
		withSettings(RaritySettings{
			Weights: testSettings().Weights,
			Locked:  []Rarity{"Common", "Rare", "Legendary"},
		}),
	)

	for i := range 2 {
		out, err := f.eng.OnChatMessage(t.Context(), groupMsg(testChat, int64(i+1)))
		require.NoError(t, err)
		require.True(t, out.Counted)
		require.Nil(t, out.Spawned)
	}

	c, ok := f.eng.chats.Peek(testChat)
	require.True(t, ok)
	require.Zero(t, c.Count())
	require.Empty(t, f.transport.Published())
}

func TestOnChatMessage_ClaimAttemptAlsoCounts(t *testing.T) {
	f := startFixture(t, withConfig(func(c *Config) { c.Threshold.Default = 5 }))

	drop, err := f.eng.ForceSpawn(t.Context(), testChat, "storm")
	require.NoError(t, err)

	out, err := f.eng.OnChatMessage(t.Context(), ChatMessage{
		ChatID: testChat, SenderID: 3, Group: true, ReplyTo: drop.MessageID, Evidence: "Storm",
	})
	require.NoError(t, err)
	require.NotNil(t, out.Claim)
	require.True(t, out.Claim.Accepted)
	require.True(t, out.Counted)
}

func TestOnChatMessage_GovernorQueuesUnderLoad(t *testing.T) {
	f := startFixture(t, withConfig(func(c *Config) {
		c.Governor.HighWater = 2
		c.Governor.LowWater = 1
		c.Governor.Workers = 1
	}))
	f.transport.SetDelay(300 * time.Millisecond)

	var wg sync.WaitGroup
	for _, chatID := range []int64{-1, -2} {
		wg.Go(func() {
			out, err := f.eng.OnChatMessage(t.Context(), groupMsg(chatID, 1))
			assert.NoError(t, err)
			assert.False(t, out.Queued)
		})
	}

	require.Eventually(t, func() bool {
		return f.eng.governor.Load() == 2
	}, time.Second, time.Millisecond)

	out, err := f.eng.OnChatMessage(t.Context(), groupMsg(-3, 1))
	require.NoError(t, err)
	require.True(t, out.Queued)
	require.False(t, out.Counted)
	require.True(t, f.eng.Stats().Overloaded)

	wg.Wait()

	require.Eventually(t, func() bool {
		return len(f.transport.PublishedIn(-3)) == 1
	}, 2*time.Second, 10*time.Millisecond, "queued message is counted by a worker")
	require.Eventually(t, func() bool {
		return !f.eng.governor.Hot()
	}, time.Second, 10*time.Millisecond)
}
