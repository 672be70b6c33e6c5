package natskv

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	spawntest "github.com/arloliu/spawn/testing"
)

func newTestLease(t *testing.T, js jetstream.JetStream, owner string, ttl time.Duration) *Lease {
	t.Helper()

	l, err := NewLease(t.Context(), js, LeaseConfig{
		Bucket:  "leases",
		Name:    "drops",
		Owner:   owner,
		TTL:     ttl,
		Storage: "memory",
	}, spawntest.NewTestLogger(t))
	require.NoError(t, err)

	return l
}

func TestLease_Exclusive(t *testing.T) {
	js := spawntest.StartJetStream(t)

	first := newTestLease(t, js, "engine-a", time.Second)
	second := newTestLease(t, js, "engine-b", time.Second)

	require.NoError(t, first.Acquire(t.Context()))
	require.NoError(t, first.Acquire(t.Context()), "acquiring a held lease again is a no-op")

	err := second.Acquire(t.Context())
	require.ErrorIs(t, err, ErrLeaseHeld)
	require.Contains(t, err.Error(), "engine-a")

	require.NoError(t, first.Release(t.Context()))
	require.ErrorIs(t, first.Release(t.Context()), ErrLeaseNotHeld)

	require.NoError(t, second.Acquire(t.Context()))
	require.NoError(t, second.Release(t.Context()))
}

func TestLease_RenewalOutlivesTTL(t *testing.T) {
	js := spawntest.StartJetStream(t)

	holder := newTestLease(t, js, "engine-a", 300*time.Millisecond)
	require.NoError(t, holder.Acquire(t.Context()))
	t.Cleanup(func() { _ = holder.Release(context.Background()) })

	time.Sleep(time.Second)

	require.ErrorIs(t, newTestLease(t, js, "engine-b", 300*time.Millisecond).Acquire(t.Context()), ErrLeaseHeld)

	select {
	case <-holder.Lost():
		t.Fatal("renewed lease reported lost")
	default:
	}
}

func TestLease_LostWhenTakenOver(t *testing.T) {
	js := spawntest.StartJetStream(t)

	holder := newTestLease(t, js, "engine-a", 300*time.Millisecond)
	require.NoError(t, holder.Acquire(t.Context()))

	// Someone force-writes the key behind the holder's back.
	_, err := holder.kv.Put(t.Context(), "drops", []byte("intruder"))
	require.NoError(t, err)

	select {
	case <-holder.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("lease takeover not detected")
	}

	require.ErrorIs(t, holder.Release(t.Context()), ErrLeaseNotHeld)
}

func TestLease_ReleaseWithoutAcquire(t *testing.T) {
	js := spawntest.StartJetStream(t)

	l := newTestLease(t, js, "", time.Second)
	require.NotEmpty(t, l.Owner())
	require.Nil(t, l.Lost())
	require.ErrorIs(t, l.Release(t.Context()), ErrLeaseNotHeld)
}
