package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/spawn/types"
)

func drop(chatID, handle int64) types.DropRecord {
	return types.DropRecord{ChatID: chatID, EntityID: "storm", DisplayName: "Storm", MessageID: handle}
}

func TestTracker_ConsistentRun(t *testing.T) {
	tr := NewTracker(10)
	hooks := tr.Hooks()
	ctx := t.Context()

	require.NoError(t, hooks.OnSpawned(ctx, drop(-1, 1)))
	require.NoError(t, hooks.OnSpawned(ctx, drop(-1, 2)))
	require.NoError(t, hooks.OnSuperseded(ctx, drop(-1, 1), drop(-1, 2)))
	require.NoError(t, tr.Attribute(ctx, 5, "storm", "collected"))
	require.NoError(t, hooks.OnClaimed(ctx, drop(-1, 2), 5))

	stats := tr.Stats()
	require.Equal(t, Stats{Announced: 2, Claimed: 1, Superseded: 1, Attributed: 1}, stats)
	require.NoError(t, stats.Check())
}

func TestTracker_DetectsDuplicateGrant(t *testing.T) {
	tr := NewTracker(10)
	tr.RecordSpawn(drop(-1, 1))

	require.NoError(t, tr.RecordClaim(drop(-1, 1), 5))
	err := tr.RecordClaim(drop(-1, 1), 6)
	require.ErrorIs(t, err, ErrDuplicateGrant)

	var dup *DuplicateGrantError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, int64(5), dup.First)
	require.Equal(t, int64(6), dup.Second)

	require.ErrorIs(t, tr.Stats().Check(), ErrDuplicateGrant)
	require.Len(t, tr.Violations(), 1)
}

func TestTracker_DetectsUnknownDrop(t *testing.T) {
	tr := NewTracker(10)
	require.NoError(t, tr.Attribute(t.Context(), 1, "storm", "collected"))
	require.NoError(t, tr.RecordClaim(drop(-3, 9), 1))

	require.ErrorIs(t, tr.Stats().Check(), ErrUnknownDrop)
}
