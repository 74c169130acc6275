package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmlog "github.com/tendermint/tendermint/libs/log"

	"github.com/supragya/NomadConnector/chains/memchain"
	"github.com/supragya/NomadConnector/events"
	"github.com/supragya/NomadConnector/fraud"
	"github.com/supragya/NomadConnector/merkle"
	"github.com/supragya/NomadConnector/retry"
	"github.com/supragya/NomadConnector/signer"
	"github.com/supragya/NomadConnector/store"
	"github.com/supragya/NomadConnector/types"
)

const (
	homeDomain    = 1000
	replicaDomain = 2000
)

type fixture struct {
	clock     *memchain.ManualClock
	replica   *memchain.Replica
	registry  *fraud.Registry
	bus       *events.Bus
	processor *Processor
	msgs      []types.Message
	tree      *merkle.Tree
	root      types.Hash
}

func newFixture(t *testing.T, cfg Config, n int) *fixture {
	ctx := context.Background()
	updater, err := signer.GenerateLocalSigner()
	require.NoError(t, err)
	clock := memchain.NewManualClock(time.Unix(1600000000, 0))
	home := memchain.NewHome("home", homeDomain, updater.Address())
	replica := memchain.NewReplica("replica", replicaDomain, homeDomain, updater.Address(), time.Minute, clock.Now)

	f := &fixture{clock: clock, replica: replica, tree: merkle.New(), bus: events.NewBus(tmlog.NewNopLogger(), 32)}
	for i := 0; i < n; i++ {
		msg, err := home.Dispatch(types.Keccak256([]byte("sender")), replicaDomain, types.Hash{2}, []byte{byte(i)})
		require.NoError(t, err)
		f.msgs = append(f.msgs, msg)
		_, err = f.tree.Ingest(msg.Leaf())
		require.NoError(t, err)
	}
	f.root = f.tree.Root()
	sc, err := signer.SignCommitment(ctx, updater, types.Commitment{HomeDomain: homeDomain, PreviousRoot: types.ZeroHash, Root: f.root, Index: uint32(n - 1)})
	require.NoError(t, err)
	_, err = replica.SubmitCommitment(ctx, sc)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	f.registry, err = fraud.NewRegistry(nil)
	require.NoError(t, err)
	policy := retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	f.processor = New(cfg, replica, f.registry, store.NewMemStore(), f.bus, policy, nil)
	f.processor.SetClock(clock.Now)
	return f
}

func (f *fixture) proof(t *testing.T, index uint32) types.Proof {
	path, err := f.tree.Prove(index, f.tree.Count())
	require.NoError(t, err)
	return types.Proof{Message: f.msgs[index], Path: path}
}

func (f *fixture) status(t *testing.T, index uint32) types.MessageRecord {
	rec, err := f.processor.Status(index)
	require.NoError(t, err)
	return rec
}

func TestProcessExecutesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Cooldown: time.Minute}, 2)

	require.NoError(t, f.processor.Process(ctx, f.proof(t, 1), f.root))
	rec := f.status(t, 1)
	assert.Equal(t, types.StatusProcessed, rec.Status)
	require.NotNil(t, rec.TxHash)

	require.NoError(t, f.processor.Process(ctx, f.proof(t, 1), f.root))
	assert.Equal(t, 1, f.replica.Executions(1))
	assert.Equal(t, types.StatusPending, f.status(t, 0).Status)
	assert.Equal(t, 2, f.bus.Recorder().Count(events.TypeMessageStatus))
}

func TestDuplicateConcurrentProofs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, 3)
	proof := f.proof(t, 2)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.processor.Process(ctx, proof, f.root)
			if err != nil && !errors.Is(err, ErrInFlight) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, f.processor.Process(ctx, proof, f.root))

	assert.Equal(t, types.StatusProcessed, f.status(t, 2).Status)
	assert.Equal(t, 1, f.replica.Executions(2))
}

func TestTamperedRootIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, 2)

	tampered := f.root
	tampered[31] ^= 0x01
	err := f.processor.Process(ctx, f.proof(t, 0), tampered)
	assert.True(t, errors.Is(err, types.ErrProofMismatch))
	assert.Equal(t, types.StatusPending, f.status(t, 0).Status)
	assert.Zero(t, f.replica.Executions(0))
	assert.Equal(t, 1, f.bus.Recorder().Count(events.TypeProofMismatch))

	wrongRoute := f.proof(t, 0)
	wrongRoute.Message.Destination = 3000
	err = f.processor.Process(ctx, wrongRoute, f.root)
	assert.True(t, errors.Is(err, types.ErrProofMismatch))

	require.NoError(t, f.processor.Process(ctx, f.proof(t, 0), f.root))
}

func TestAlreadyProcessedOnReplica(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, 1)
	_, err := f.replica.SubmitExecution(ctx, f.proof(t, 0))
	require.NoError(t, err)

	require.NoError(t, f.processor.Process(ctx, f.proof(t, 0), f.root))
	rec := f.status(t, 0)
	assert.Equal(t, types.StatusProcessed, rec.Status)
	assert.Nil(t, rec.TxHash)
	assert.Equal(t, 1, f.replica.Executions(0))
}

func TestRevertCooldownRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Cooldown: 5 * time.Minute, MaxAttempts: 3}, 1)
	failures := 1
	f.replica.SetHandler(func(types.Message) error {
		if failures > 0 {
			failures--
			return errors.New("recipient reverted")
		}
		return nil
	})

	err := f.processor.Process(ctx, f.proof(t, 0), f.root)
	reverted, ok := types.IsReverted(err)
	require.True(t, ok)
	assert.Equal(t, "recipient reverted", reverted.Reason)
	rec := f.status(t, 0)
	assert.Equal(t, types.StatusFailed, rec.Status)
	assert.Equal(t, 1, rec.Attempts)

	// still cooling down
	require.NoError(t, f.processor.Process(ctx, f.proof(t, 0), f.root))
	assert.Equal(t, 1, f.replica.Executions(0))

	f.clock.Advance(5 * time.Minute)
	require.NoError(t, f.processor.Process(ctx, f.proof(t, 0), f.root))
	assert.Equal(t, types.StatusProcessed, f.status(t, 0).Status)
	assert.Equal(t, 2, f.replica.Executions(0))
	assert.Equal(t, 1, f.bus.Recorder().Count(events.TypeExecutionReverted))
}

func TestAbandonAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Cooldown: time.Second, MaxAttempts: 2}, 1)
	f.replica.SetHandler(func(types.Message) error { return errors.New("always") })

	for i := 0; i < 4; i++ {
		_ = f.processor.Process(ctx, f.proof(t, 0), f.root)
		f.clock.Advance(time.Second)
	}
	assert.Equal(t, 2, f.replica.Executions(0))
	assert.Equal(t, 1, f.bus.Recorder().Count(events.TypeExecutionAbandoned))
	due, err := f.processor.Due(0)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestFraudFlagRefusesExecution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, 1)
	_, err := f.registry.Set(types.FraudRecord{Pair: f.processor.Pair(), Kind: types.FraudDoubleUpdate})
	require.NoError(t, err)

	err = f.processor.Process(ctx, f.proof(t, 0), f.root)
	assert.True(t, errors.Is(err, types.ErrFraudDetected))
	assert.Zero(t, f.replica.Executions(0))
	assert.Equal(t, types.StatusPending, f.status(t, 0).Status)
}

func TestDeniedSenderStaysPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{DeniedSenders: []types.Hash{types.Keccak256([]byte("sender"))}}, 1)

	require.NoError(t, f.processor.Process(ctx, f.proof(t, 0), f.root))
	assert.Equal(t, types.StatusPending, f.status(t, 0).Status)
	assert.Zero(t, f.replica.Executions(0))
}
