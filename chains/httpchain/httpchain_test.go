package httpchain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supragya/NomadConnector/chains/memchain"
	"github.com/supragya/NomadConnector/merkle"
	"github.com/supragya/NomadConnector/signer"
	"github.com/supragya/NomadConnector/types"
)

const (
	homeDomain    = 1000
	replicaDomain = 2000
)

type fixture struct {
	updater *signer.LocalSigner
	clock   *memchain.ManualClock
	home    *memchain.Home
	replica *memchain.Replica
	manager *memchain.ConnectionManager
	client  *Client
	tree    *merkle.Tree
	msgs    []types.Message
}

func newFixture(t *testing.T) *fixture {
	updater, err := signer.GenerateLocalSigner()
	require.NoError(t, err)
	clock := memchain.NewManualClock(time.Unix(1600000000, 0))
	f := &fixture{
		updater: updater,
		clock:   clock,
		home:    memchain.NewHome("home", homeDomain, updater.Address()),
		replica: memchain.NewReplica("replica", replicaDomain, homeDomain, updater.Address(), time.Minute, clock.Now),
		manager: memchain.NewConnectionManager(replicaDomain),
		tree:    merkle.New(),
	}
	f.manager.EnrollReplica(f.replica)

	gw := NewGateway()
	gw.AddHome(f.home)
	gw.AddReplica(f.replica)
	gw.AddManager(f.manager)
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	f.client = NewClient(srv.URL, Options{RateLimit: 1000, Burst: 100})
	return f
}

func (f *fixture) dispatch(t *testing.T, n int) {
	for i := 0; i < n; i++ {
		msg, err := f.home.Dispatch(types.Hash{7}, replicaDomain, types.Hash{8}, []byte("hello"))
		require.NoError(t, err)
		_, err = f.tree.Ingest(msg.Leaf())
		require.NoError(t, err)
		f.msgs = append(f.msgs, msg)
	}
}

func (f *fixture) sign(t *testing.T, prev types.Hash) types.SignedCommitment {
	sc, err := signer.SignCommitment(context.Background(), f.updater, types.Commitment{
		HomeDomain:   homeDomain,
		PreviousRoot: prev,
		Root:         f.tree.Root(),
		Index:        f.tree.Count() - 1,
	})
	require.NoError(t, err)
	return sc
}

func TestHomeOverGateway(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	home := NewHome(f.client, "home", homeDomain)
	f.dispatch(t, 3)

	n, err := home.OutboxLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)

	msg, err := home.Message(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, f.msgs[1], msg)
	assert.Equal(t, f.msgs[1].Leaf(), msg.Leaf())

	_, err = home.Message(ctx, 9)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	updater, err := home.Updater(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.updater.Address(), updater)

	latest, err := home.LatestCommitment(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	sc := f.sign(t, types.ZeroHash)
	outcome, err := home.SubmitCommitment(ctx, sc)
	require.NoError(t, err)
	assert.False(t, outcome.TxHash.IsZero())

	latest, err = home.LatestCommitment(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, sc, *latest)

	next, err := home.CommitmentByPreviousRoot(ctx, types.ZeroHash)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, sc.Root, next.Root)

	list, cursor, err := home.Commitments(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, uint64(1), cursor)
	list, cursor, err = home.Commitments(ctx, cursor)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, uint64(1), cursor)

	_, err = home.SubmitCommitment(ctx, sc)
	assert.True(t, errors.Is(err, types.ErrStale))

	sent, received := f.client.Stats()
	assert.True(t, sent.Active)
	assert.True(t, received.Active)
}

func TestReplicaOverGateway(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	replica := NewReplica(f.client, "replica", replicaDomain, homeDomain)
	f.dispatch(t, 2)
	sc := f.sign(t, types.ZeroHash)

	_, err := replica.SubmitCommitment(ctx, sc)
	require.NoError(t, err)
	committed, err := replica.CommittedRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, sc.Root, committed)
	confirmed, err := replica.ConfirmedRoot(ctx)
	require.NoError(t, err)
	assert.True(t, confirmed.IsZero())

	f.clock.Advance(time.Minute)
	confirmed, err = replica.ConfirmedRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, sc.Root, confirmed)

	path, err := f.tree.Prove(0, 2)
	require.NoError(t, err)
	proof := types.Proof{Message: f.msgs[0], Path: path}

	f.replica.SetHandler(func(types.Message) error { return errors.New("recipient paused") })
	_, err = replica.SubmitExecution(ctx, proof)
	reverted, ok := types.IsReverted(err)
	require.True(t, ok)
	assert.Equal(t, "recipient paused", reverted.Reason)

	f.replica.SetHandler(nil)
	_, err = replica.SubmitExecution(ctx, proof)
	require.NoError(t, err)
	done, err := replica.IsMessageProcessed(ctx, 0)
	require.NoError(t, err)
	assert.True(t, done)
	_, err = replica.SubmitExecution(ctx, proof)
	assert.True(t, errors.Is(err, types.ErrStale))
}

func TestUnenrollOverGateway(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	watcher, err := signer.GenerateLocalSigner()
	require.NoError(t, err)
	f.manager.EnrollWatcher(watcher.Address())
	manager := NewConnectionManager(f.client, replicaDomain)

	sn, err := signer.SignFailureNotification(ctx, watcher, types.FailureNotification{HomeDomain: homeDomain, Updater: f.updater.Address()})
	require.NoError(t, err)
	_, err = manager.Unenroll(ctx, sn)
	require.NoError(t, err)
	assert.True(t, f.replica.Unenrolled())

	_, err = manager.Unenroll(ctx, sn)
	assert.True(t, errors.Is(err, types.ErrStale))
}

func TestTransientErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	home := NewHome(f.client, "home", homeDomain)

	f.home.FailNext(1)
	_, err := home.OutboxLength(ctx)
	assert.True(t, types.IsTransient(err))
	_, err = home.OutboxLength(ctx)
	assert.NoError(t, err)

	unknown := NewHome(f.client, "nowhere", 4242)
	_, err = unknown.OutboxLength(ctx)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	assert.False(t, types.IsTransient(err))
}

func TestStatusCodeMapping(t *testing.T) {
	ctx := context.Background()
	responses := map[string]struct {
		status int
		body   string
	}{
		"/v1/1/outbox/length": {http.StatusBadGateway, "<html>bad gateway</html>"},
		"/v1/2/outbox/length": {http.StatusTooManyRequests, `{"error":{"code":"rate_limited","message":"slow down"}}`},
		"/v1/3/outbox/length": {http.StatusBadRequest, `{"error":{"code":"bad_request","message":"nope"}}`},
		"/v1/4/outbox/length": {http.StatusOK, `{"result":{"length":12}}`},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := responses[r.URL.Path]
		w.WriteHeader(resp.status)
		_, _ = w.Write([]byte(resp.body))
	}))
	defer srv.Close()
	client := NewClient(srv.URL, Options{})

	_, err := NewHome(client, "a", 1).OutboxLength(ctx)
	assert.True(t, types.IsTransient(err), "5xx without JSON")

	_, err = NewHome(client, "b", 2).OutboxLength(ctx)
	assert.True(t, types.IsTransient(err), "429")

	_, err = NewHome(client, "c", 3).OutboxLength(ctx)
	require.Error(t, err)
	assert.False(t, types.IsTransient(err))
	assert.Contains(t, err.Error(), "nope")

	n, err := NewHome(client, "d", 4).OutboxLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(12), n)
}

func TestUnreachableGatewayIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	replica := NewReplica(NewClient(url, Options{Timeout: time.Second}), "replica", replicaDomain, homeDomain)
	_, err := replica.CommittedRoot(context.Background())
	assert.True(t, types.IsTransient(err))
}
