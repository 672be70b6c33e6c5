package producer

import (
	"context"
	"sync"
	"testing"
	"time"

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

func (r *recorder) snapshot() []types.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]types.ChatMessage(nil), r.msgs...)
}

func TestWeightGenerators(t *testing.T) {
	require.Equal(t, []int64{3, 3, 3}, NewUniformWeightGenerator(3).GenerateWeights(3))
	require.Equal(t, []int64{1, 1}, NewUniformWeightGenerator(0).GenerateWeights(2))

	weights := NewExponentialWeightGenerator(0.1, 50, 2).GenerateWeights(20)
	require.Equal(t, []int64{50, 50}, weights[:2])
	for _, w := range weights[2:] {
		require.Equal(t, int64(2), w)
	}
}

func TestSenderID(t *testing.T) {
	require.Equal(t, int64(5001), SenderID(-5, 0))
	require.Equal(t, int64(5020), SenderID(5, 19))
	require.NotEqual(t, SenderID(-1, 999), SenderID(-2, 0))
}

func TestProducer_SendsToOwnChats(t *testing.T) {
	rec := &recorder{}
	p := New(Config{
		ID:      "producer-0",
		ChatIDs: []int64{-1, -2},
		Weights: []int64{1, 0},
		Rate:    500,
		Senders: 3,
		Seed:    7,
		Logger:  logging.NewNop(),
	}, rec)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.Sent() >= 20 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	for _, msg := range rec.snapshot() {
		require.Equal(t, int64(-1), msg.ChatID, "zero-weight chats get no traffic")
		require.True(t, msg.Group)
		require.GreaterOrEqual(t, msg.SenderID, SenderID(-1, 0))
		require.LessOrEqual(t, msg.SenderID, SenderID(-1, 2))
	}
	require.Zero(t, p.Failed())
}
