package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/spawn/store/storetest"
	"github.com/arloliu/spawn/types"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) storetest.Store { return New() }, storetest.Options{})
}

func TestStore_RejectsMalformed(t *testing.T) {
	s := New()
	d := storetest.Drop(1, "", 1)

	require.ErrorIs(t, s.Save(context.Background(), d), types.ErrDropMissingEntity)
	require.Zero(t, s.Len())
}
