package claimer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/spawn/internal/logging"
	"github.com/arloliu/spawn/types"
)

type recorder struct {
	mu   sync.Mutex
	msgs []types.ChatMessage
}

func (r *recorder) Publish(_ context.Context, msg types.ChatMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)

	return "", nil
}

var catalog = []types.Entity{
	{ID: "storm", Name: "Storm", Rarity: "Common", MediaRef: "media/storm.png"},
	{ID: "jean-grey", Name: "Jean Grey", Rarity: "Legendary", MediaRef: "media/jean-grey.png"},
}

func TestRoom_SchedulesGuessesPerDrop(t *testing.T) {
	rec := &recorder{}
	room := NewRoom(t.Context(), Config{
		PerDrop:  5,
		Accuracy: 1,
		Senders:  3,
		Seed:     1,
		Logger:   logging.NewNop(),
	}, catalog, rec)

	id, err := room.Publish(t.Context(), -7, "media/jean-grey.png", "A wild Legendary character appeared!")
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	room.Wait()

	require.Len(t, rec.msgs, 5)
	for _, msg := range rec.msgs {
		require.Equal(t, int64(-7), msg.ChatID)
		require.Equal(t, id, msg.ReplyTo)
		require.Equal(t, "Jean Grey", msg.Evidence, "perfect accuracy always names the entity")
		require.True(t, msg.IsClaimAttempt())
	}

	require.Equal(t, Stats{Announced: 1, Guesses: 5}, room.Stats())
}

func TestRoom_CanceledContextDropsGuesses(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	room := NewRoom(ctx, Config{PerDrop: 3, Logger: logging.NewNop()}, catalog, rec)
	_, err := room.Publish(t.Context(), -1, "media/storm.png", "")
	require.NoError(t, err)
	room.Wait()

	require.Empty(t, rec.msgs)
	require.NoError(t, room.EditCaption(t.Context(), -1, 1, "claimed"))
	require.Equal(t, int64(1), room.Stats().Edits)
}
