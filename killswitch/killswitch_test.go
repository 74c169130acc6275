package killswitch

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/supragya/NomadConnector/chains/memchain"
	"github.com/supragya/NomadConnector/retry"
	"github.com/supragya/NomadConnector/signer"
)

var testPolicy = retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

type fixture struct {
	home     *memchain.Home
	alpha    *memchain.Replica
	beta     *memchain.Replica
	managers map[string]*memchain.ConnectionManager
	watcher  *signer.LocalSigner
}

func newFixture(t *testing.T) *fixture {
	updater, err := signer.GenerateLocalSigner()
	require.NoError(t, err)
	watcher, err := signer.GenerateLocalSigner()
	require.NoError(t, err)

	f := &fixture{
		home:     memchain.NewHome("home", 1000, updater.Address()),
		alpha:    memchain.NewReplica("alpha", 2000, 1000, updater.Address(), time.Minute, time.Now),
		beta:     memchain.NewReplica("beta", 3000, 1000, updater.Address(), time.Minute, time.Now),
		managers: map[string]*memchain.ConnectionManager{},
		watcher:  watcher,
	}
	for _, r := range []*memchain.Replica{f.alpha, f.beta} {
		m := memchain.NewConnectionManager(r.Domain())
		m.EnrollReplica(r)
		m.EnrollWatcher(watcher.Address())
		f.managers[r.Name()] = m
	}
	return f
}

func TestRunUnenrollsEveryChannel(t *testing.T) {
	f := newFixture(t)
	out := Run(context.Background(), "killswitch", f.home, []Channel{
		{Home: "home", Replica: "alpha", Manager: f.managers["alpha"]},
		{Home: "home", Replica: "beta", Manager: f.managers["beta"]},
	}, f.watcher, testPolicy)

	assert.True(t, out.OK())
	assert.True(t, f.alpha.Unenrolled())
	assert.True(t, f.beta.Unenrolled())

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Equal(t, "killswitch", gjson.GetBytes(raw, "command").String())
	assert.Equal(t, "success", gjson.GetBytes(raw, "message.homes.home.status").String())
	assert.Equal(t, "success", gjson.GetBytes(raw, "message.homes.home.message.replicas.alpha.result.status").String())
	assert.True(t, gjson.GetBytes(raw, "message.homes.home.message.replicas.beta.result.txHash").Exists())
}

func TestRunReportsFailedChannels(t *testing.T) {
	f := newFixture(t)
	impostor, err := signer.GenerateLocalSigner()
	require.NoError(t, err)

	out := Run(context.Background(), "killswitch", f.home, []Channel{
		{Home: "home", Replica: "alpha", Manager: f.managers["alpha"]},
		{Home: "home", Replica: "beta"},
	}, impostor, testPolicy)

	assert.False(t, out.OK())
	assert.False(t, f.alpha.Unenrolled())
	home := out.Message.Homes["home"]
	require.NotNil(t, home)
	assert.Equal(t, StatusError, home.Status)
	alpha := home.Message.Replicas["alpha"].Result
	assert.Equal(t, StatusError, alpha.Status)
	assert.Nil(t, alpha.TxHash)
	require.NotEmpty(t, alpha.Message)
	assert.Contains(t, alpha.Message[0], "!watcher sig")
	assert.Equal(t, []string{"no connection manager configured"}, home.Message.Replicas["beta"].Result.Message)

	var buf bytes.Buffer
	out.Summary(&buf, false)
	assert.Equal(t, "home [error]\n"+
		"  -> alpha [error]\n"+
		"       "+alpha.Message[0]+"\n"+
		"  -> beta [error]\n"+
		"       no connection manager configured\n", buf.String())
}

func TestRunBailsWhenHomeUnreachable(t *testing.T) {
	f := newFixture(t)
	f.home.FailNext(10)
	out := Run(context.Background(), "killswitch", f.home, nil, f.watcher, testPolicy)
	require.NotNil(t, out.Message.Result)
	assert.False(t, out.OK())

	var buf bytes.Buffer
	out.Summary(&buf, false)
	assert.Contains(t, buf.String(), "error: home updater")
}
