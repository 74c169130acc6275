package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmlog "github.com/tendermint/tendermint/libs/log"

	"github.com/supragya/NomadConnector/chains"
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

var pair = types.Pair{Home: homeDomain, Replica: replicaDomain}

type fixture struct {
	updater  *signer.LocalSigner
	attestor *signer.LocalSigner
	home     *memchain.Home
	replica  *memchain.Replica
	manager  *memchain.ConnectionManager
	tree     *merkle.Tree
	registry *fraud.Registry
	store    *store.Store
	bus      *events.Bus
	watcher  *Watcher
}

func newFixture(t *testing.T, cfg Config, replicaUpdater *signer.LocalSigner) *fixture {
	updater, err := signer.GenerateLocalSigner()
	require.NoError(t, err)
	attestor, err := signer.GenerateLocalSigner()
	require.NoError(t, err)
	if replicaUpdater == nil {
		replicaUpdater = updater
	}
	registry, err := fraud.NewRegistry(nil)
	require.NoError(t, err)

	f := &fixture{
		updater:  updater,
		attestor: attestor,
		home:     memchain.NewHome("home", homeDomain, updater.Address()),
		replica:  memchain.NewReplica("replica", replicaDomain, homeDomain, replicaUpdater.Address(), time.Minute, nil),
		manager:  memchain.NewConnectionManager(replicaDomain),
		tree:     merkle.New(),
		registry: registry,
		store:    store.NewMemStore(),
		bus:      events.NewBus(tmlog.NewNopLogger(), 32),
	}
	f.manager.EnrollReplica(f.replica)
	f.manager.EnrollWatcher(attestor.Address())

	policy := retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	f.watcher = New(cfg, f.home, []chains.Replica{f.replica}, []chains.ConnectionManager{f.manager},
		attestor, registry, f.store, f.bus, policy, nil)
	return f
}

func (f *fixture) dispatch(t *testing.T, n int) {
	for i := 0; i < n; i++ {
		msg, err := f.home.Dispatch(types.Hash{1}, replicaDomain, types.Hash{2}, []byte{byte(i)})
		require.NoError(t, err)
		_, err = f.tree.Ingest(msg.Leaf())
		require.NoError(t, err)
	}
}

func (f *fixture) sign(t *testing.T, s signer.Signer, prev, root types.Hash, index uint32) types.SignedCommitment {
	sc, err := signer.SignCommitment(context.Background(), s, types.Commitment{HomeDomain: homeDomain, PreviousRoot: prev, Root: root, Index: index})
	require.NoError(t, err)
	return sc
}

func TestHonestCommitmentsPass(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{SubmitFraudProofs: true, Unenroll: true}, nil)
	f.dispatch(t, 3)

	first := f.sign(t, f.updater, types.ZeroHash, f.tree.RootAt(2), 1)
	second := f.sign(t, f.updater, f.tree.RootAt(2), f.tree.RootAt(3), 2)
	for _, sc := range []types.SignedCommitment{first, second} {
		_, err := f.home.SubmitCommitment(ctx, sc)
		require.NoError(t, err)
		_, err = f.replica.SubmitCommitment(ctx, sc)
		require.NoError(t, err)
	}

	require.NoError(t, f.watcher.Tick(ctx))
	require.NoError(t, f.watcher.Tick(ctx))
	assert.False(t, f.registry.IsSet(pair))
	assert.Zero(t, f.bus.Recorder().Count(events.TypeFraudDetected))
	assert.False(t, f.home.Failed())
}

func TestDoubleUpdateHaltsPairAndSubmitsEvidence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{SubmitFraudProofs: true, Unenroll: true}, nil)
	f.dispatch(t, 2)

	honest := f.sign(t, f.updater, types.ZeroHash, f.tree.RootAt(2), 1)
	forged := f.sign(t, f.updater, types.ZeroHash, types.Keccak256([]byte("forged")), 1)
	_, err := f.home.SubmitCommitment(ctx, honest)
	require.NoError(t, err)
	_, err = f.replica.SubmitCommitment(ctx, forged)
	require.NoError(t, err)

	require.NoError(t, f.watcher.Tick(ctx))

	require.True(t, f.registry.IsSet(pair))
	rec, ok := f.registry.Record(pair)
	require.True(t, ok)
	assert.Equal(t, types.FraudDoubleUpdate, rec.Kind)
	require.NotNil(t, rec.Evidence)
	assert.Equal(t, honest.Root, rec.Evidence.First.Root)
	assert.Equal(t, forged.Root, rec.Evidence.Second.Root)

	assert.True(t, f.home.Failed(), "double update submitted to home")
	assert.True(t, f.replica.Failed(), "double update submitted to replica")
	assert.True(t, f.replica.Unenrolled())
	assert.Equal(t, 1, f.bus.Recorder().Count(events.TypeFraudDetected))

	// the flag is terminal: later ticks neither clear nor re-raise it
	require.NoError(t, f.watcher.Tick(ctx))
	assert.True(t, f.registry.IsSet(pair))
	assert.Equal(t, 1, f.bus.Recorder().Count(events.TypeFraudDetected))
}

func TestImproperUpdateOnReplica(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	f.dispatch(t, 1)

	bogus := f.sign(t, f.updater, types.ZeroHash, types.Keccak256([]byte("beyond")), 9)
	_, err := f.replica.SubmitCommitment(ctx, bogus)
	require.NoError(t, err)

	require.NoError(t, f.watcher.Tick(ctx))
	rec, ok := f.registry.Record(pair)
	require.True(t, ok)
	assert.Equal(t, types.FraudImproperUpdate, rec.Kind)
	assert.False(t, f.replica.Failed(), "no evidence submission when not configured")
}

func TestRootMismatchAtKnownIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	f.dispatch(t, 3)

	wrong := f.sign(t, f.updater, types.ZeroHash, types.Keccak256([]byte("wrong")), 1)
	_, err := f.replica.SubmitCommitment(ctx, wrong)
	require.NoError(t, err)

	require.NoError(t, f.watcher.Tick(ctx))
	rec, ok := f.registry.Record(pair)
	require.True(t, ok)
	assert.Equal(t, types.FraudRootMismatch, rec.Kind)
}

func TestRootOfAnotherIndexIsMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	f.dispatch(t, 3)

	// the root after three messages, labelled as the commitment of index 1
	mislabelled := f.sign(t, f.updater, types.ZeroHash, f.tree.RootAt(3), 1)
	_, err := f.replica.SubmitCommitment(ctx, mislabelled)
	require.NoError(t, err)

	require.NoError(t, f.watcher.Tick(ctx))
	rec, ok := f.registry.Record(pair)
	require.True(t, ok)
	assert.Equal(t, types.FraudRootMismatch, rec.Kind)
	assert.Equal(t, uint32(1), rec.Observed.Index)
}

func TestSameIndexDifferentPreviousRoots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	f.dispatch(t, 3)

	earlier := f.sign(t, f.updater, types.Keccak256([]byte("elsewhere")), types.Keccak256([]byte("other")), 1)
	require.NoError(t, f.store.SaveObserved(homeDomain, earlier))

	honest := f.sign(t, f.updater, types.ZeroHash, f.tree.RootAt(2), 1)
	_, err := f.replica.SubmitCommitment(ctx, honest)
	require.NoError(t, err)

	require.NoError(t, f.watcher.Tick(ctx))
	rec, ok := f.registry.Record(pair)
	require.True(t, ok)
	assert.Equal(t, types.FraudDoubleUpdate, rec.Kind)
	assert.Contains(t, rec.Reason, "two roots for index 1")
}

func TestForeignSignerIsNotFraud(t *testing.T) {
	ctx := context.Background()
	impostor, err := signer.GenerateLocalSigner()
	require.NoError(t, err)
	f := newFixture(t, Config{}, impostor)
	f.dispatch(t, 1)

	sc := f.sign(t, impostor, types.ZeroHash, types.Keccak256([]byte("whatever")), 0)
	_, err = f.replica.SubmitCommitment(ctx, sc)
	require.NoError(t, err)

	require.NoError(t, f.watcher.Tick(ctx))
	assert.False(t, f.registry.IsSet(pair))
	assert.Equal(t, 1, f.bus.Recorder().Count(events.TypeSignerMismatch))
}

func TestTransientLogErrorsDoNotAdvance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	f.dispatch(t, 1)
	_, err := f.replica.SubmitCommitment(ctx, f.sign(t, f.updater, types.ZeroHash, types.Keccak256([]byte("bad")), 0))
	require.NoError(t, err)

	f.replica.FailNext(2)
	err = f.watcher.Tick(ctx)
	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
	assert.False(t, f.registry.IsSet(pair))

	require.NoError(t, f.watcher.Tick(ctx))
	assert.True(t, f.registry.IsSet(pair))
}
