package custody

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/lockberry/types"
)

func TestVaultPullPush(t *testing.T) {
	ctx := context.Background()
	v := NewVault()
	require.NoError(t, v.Mint("alice", 100))

	require.NoError(t, v.Pull(ctx, "alice", 60))
	require.Equal(t, types.Amount(40), v.BalanceOf("alice"))
	require.Equal(t, types.Amount(60), v.Held())

	require.NoError(t, v.Push(ctx, "bob", 25))
	require.Equal(t, types.Amount(25), v.BalanceOf("bob"))
	require.Equal(t, types.Amount(35), v.Held())
}

func TestVaultFailures(t *testing.T) {
	ctx := context.Background()
	v := NewVault()
	require.NoError(t, v.Mint("alice", 10))

	err := v.Pull(ctx, "alice", 11)
	require.ErrorIs(t, err, types.ErrTransferFailed)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, types.Amount(10), v.BalanceOf("alice"))

	err = v.Push(ctx, "alice", 1)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, v.Pull(cancelled, "alice", 1), context.Canceled)

	v.Close()
	require.ErrorIs(t, v.Pull(ctx, "alice", 1), ErrVaultClosed)
	require.Equal(t, types.Amount(0), v.Held())
}

func TestVaultRestore(t *testing.T) {
	ctx := context.Background()
	v := NewVault()
	require.NoError(t, v.Restore(1000))
	require.Equal(t, types.Amount(1000), v.Held())

	require.NoError(t, v.Push(ctx, "alice", 1000))
	require.Equal(t, types.Amount(1000), v.BalanceOf("alice"))

	require.NoError(t, v.Pull(ctx, "alice", 10))
	require.ErrorIs(t, v.Restore(5), ErrVaultInUse)
	require.Equal(t, types.Amount(10), v.Held())
}
