package memchain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supragya/NomadConnector/merkle"
	"github.com/supragya/NomadConnector/signer"
	"github.com/supragya/NomadConnector/types"
)

const (
	homeDomain    = 1000
	replicaDomain = 2000
)

func setup(t *testing.T) (*signer.LocalSigner, *Home, *Replica, *ManualClock) {
	updater, err := signer.GenerateLocalSigner()
	require.NoError(t, err)
	clock := NewManualClock(time.Unix(1600000000, 0))
	home := NewHome("home", homeDomain, updater.Address())
	replica := NewReplica("replica", replicaDomain, homeDomain, updater.Address(), time.Minute, clock.Now)
	return updater, home, replica, clock
}

func dispatch(t *testing.T, home *Home, n int) []types.Message {
	var out []types.Message
	for i := 0; i < n; i++ {
		msg, err := home.Dispatch(types.Keccak256([]byte("sender")), replicaDomain, types.Keccak256([]byte("recipient")), []byte{byte(i)})
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func commit(t *testing.T, s signer.Signer, prev, root types.Hash, index uint32) types.SignedCommitment {
	sc, err := signer.SignCommitment(context.Background(), s, types.Commitment{HomeDomain: homeDomain, PreviousRoot: prev, Root: root, Index: index})
	require.NoError(t, err)
	return sc
}

func TestHomeAcceptsChainedCommitments(t *testing.T) {
	ctx := context.Background()
	updater, home, _, _ := setup(t)
	msgs := dispatch(t, home, 3)
	assert.Equal(t, uint32(2), msgs[2].Index)
	assert.Equal(t, uint32(0), msgs[0].Nonce)
	assert.Equal(t, uint32(2), msgs[2].Nonce)

	tree := merkle.New()
	for _, m := range msgs {
		_, err := tree.Ingest(m.Leaf())
		require.NoError(t, err)
	}

	first := commit(t, updater, types.ZeroHash, tree.RootAt(2), 1)
	_, err := home.SubmitCommitment(ctx, first)
	require.NoError(t, err)

	_, err = home.SubmitCommitment(ctx, first)
	assert.ErrorIs(t, err, types.ErrStale)

	second := commit(t, updater, tree.RootAt(2), tree.RootAt(3), 2)
	_, err = home.SubmitCommitment(ctx, second)
	require.NoError(t, err)

	latest, err := home.LatestCommitment(ctx)
	require.NoError(t, err)
	assert.Equal(t, tree.RootAt(3), latest.Root)

	next, err := home.CommitmentByPreviousRoot(ctx, tree.RootAt(2))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, second.Root, next.Root)

	log, cursor, err := home.Commitments(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, log, 2)
	assert.Equal(t, uint64(2), cursor)
}

func TestHomeFailsOnImproperUpdate(t *testing.T) {
	ctx := context.Background()
	updater, home, _, _ := setup(t)
	dispatch(t, home, 1)

	_, err := home.SubmitCommitment(ctx, commit(t, updater, types.ZeroHash, types.Keccak256([]byte("bogus")), 0))
	_, reverted := types.IsReverted(err)
	require.True(t, reverted)
	assert.True(t, home.Failed())
}

func TestHomeRejectsForeignSigner(t *testing.T) {
	ctx := context.Background()
	_, home, _, _ := setup(t)
	dispatch(t, home, 1)
	impostor, err := signer.GenerateLocalSigner()
	require.NoError(t, err)

	_, err = home.SubmitCommitment(ctx, commit(t, impostor, types.ZeroHash, home.tree.Root(), 0))
	_, reverted := types.IsReverted(err)
	assert.True(t, reverted)
	assert.False(t, home.Failed())
}

func TestReplicaConfirmsAfterOptimisticWindow(t *testing.T) {
	ctx := context.Background()
	updater, home, replica, clock := setup(t)
	msgs := dispatch(t, home, 2)

	root := home.tree.Root()
	_, err := replica.SubmitCommitment(ctx, commit(t, updater, types.ZeroHash, root, 1))
	require.NoError(t, err)

	committed, err := replica.CommittedRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, committed)
	confirmed, err := replica.ConfirmedRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ZeroHash, confirmed)

	path, err := home.tree.Prove(1, 2)
	require.NoError(t, err)
	proof := types.Proof{Message: msgs[1], Path: path}
	_, err = replica.SubmitExecution(ctx, proof)
	_, reverted := types.IsReverted(err)
	require.True(t, reverted, "execution before confirmation must revert")

	clock.Advance(time.Minute)
	confirmed, err = replica.ConfirmedRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, confirmed)

	_, err = replica.SubmitExecution(ctx, proof)
	require.NoError(t, err)
	processed, err := replica.IsMessageProcessed(ctx, 1)
	require.NoError(t, err)
	assert.True(t, processed)

	_, err = replica.SubmitExecution(ctx, proof)
	assert.ErrorIs(t, err, types.ErrStale)
	assert.Equal(t, 1, replica.Executions(1))
}

func TestReplicaHandlerRevert(t *testing.T) {
	ctx := context.Background()
	updater, home, replica, clock := setup(t)
	msgs := dispatch(t, home, 1)
	_, err := replica.SubmitCommitment(ctx, commit(t, updater, types.ZeroHash, home.tree.Root(), 0))
	require.NoError(t, err)
	clock.Advance(time.Minute)

	replica.SetHandler(func(types.Message) error { return errors.New("recipient out of gas") })
	path, err := home.tree.Prove(0, 1)
	require.NoError(t, err)
	_, err = replica.SubmitExecution(ctx, types.Proof{Message: msgs[0], Path: path})
	reverted, ok := types.IsReverted(err)
	require.True(t, ok)
	assert.Equal(t, "recipient out of gas", reverted.Reason)

	processed, err := replica.IsMessageProcessed(ctx, 0)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestDoubleUpdateFailsChains(t *testing.T) {
	ctx := context.Background()
	updater, home, replica, _ := setup(t)
	dispatch(t, home, 1)

	du := types.DoubleUpdate{
		First:  commit(t, updater, types.ZeroHash, types.Keccak256([]byte("a")), 0),
		Second: commit(t, updater, types.ZeroHash, types.Keccak256([]byte("b")), 0),
	}
	_, err := home.SubmitDoubleUpdate(ctx, du)
	require.NoError(t, err)
	assert.True(t, home.Failed())

	_, err = replica.SubmitDoubleUpdate(ctx, types.DoubleUpdate{First: du.First, Second: du.First})
	_, reverted := types.IsReverted(err)
	assert.True(t, reverted)

	_, err = replica.SubmitDoubleUpdate(ctx, du)
	require.NoError(t, err)
	assert.True(t, replica.Failed())

	_, err = replica.SubmitCommitment(ctx, du.First)
	_, reverted = types.IsReverted(err)
	assert.True(t, reverted)
}

func TestUnenroll(t *testing.T) {
	ctx := context.Background()
	updater, _, replica, _ := setup(t)
	watcher, err := signer.GenerateLocalSigner()
	require.NoError(t, err)

	xcm := NewConnectionManager(replicaDomain)
	xcm.EnrollReplica(replica)

	sn, err := signer.SignFailureNotification(ctx, watcher, types.FailureNotification{HomeDomain: homeDomain, Updater: updater.Address()})
	require.NoError(t, err)

	_, err = xcm.Unenroll(ctx, sn)
	_, reverted := types.IsReverted(err)
	require.True(t, reverted, "watcher is not enrolled yet")

	xcm.EnrollWatcher(watcher.Address())
	_, err = xcm.Unenroll(ctx, sn)
	require.NoError(t, err)
	assert.True(t, replica.Unenrolled())

	_, err = xcm.Unenroll(ctx, sn)
	assert.ErrorIs(t, err, types.ErrStale)
}

func TestInjectedTransientFaults(t *testing.T) {
	ctx := context.Background()
	_, home, _, _ := setup(t)
	home.FailNext(2)
	for i := 0; i < 2; i++ {
		_, err := home.OutboxLength(ctx)
		assert.True(t, types.IsTransient(err))
	}
	_, err := home.OutboxLength(ctx)
	assert.NoError(t, err)
}
