package monitor

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmlog "github.com/tendermint/tendermint/libs/log"

	"github.com/supragya/NomadConnector/events"
	"github.com/supragya/NomadConnector/types"
)

var pair = types.Pair{Home: 1000, Replica: 2000}

func fraudEvent() events.Event {
	ev := events.New(events.TypeFraudDetected).
		Agent("watcher").
		Pair(pair).
		Index(7).
		Message("double update over %s", types.ZeroHash.Short()).
		With("kind", "double_update").
		With("evidence", "0xabc").
		Build()
	ev.ID = "id-1"
	ev.Time = time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)
	return ev
}

func TestFrameRoundTrip(t *testing.T) {
	st, err := EventStruct(fraudEvent())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, st))
	require.NoError(t, WriteFrame(&buf, st))

	for i := 0; i < 2; i++ {
		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		fields := got.GetFields()
		assert.Equal(t, events.TypeFraudDetected, fields["type"].GetStringValue())
		assert.Equal(t, "critical", fields["severity"].GetStringValue())
		assert.Equal(t, float64(1000), fields["home"].GetNumberValue())
		assert.Equal(t, float64(7), fields["index"].GetNumberValue())
		assert.Equal(t, "double_update", fields["data"].GetStructValue().GetFields()["kind"].GetStringValue())
		assert.Equal(t, "2021-03-01T12:00:00Z", fields["time"].GetStringValue())
	}
	_, err = ReadFrame(&buf)
	assert.Error(t, err)
}

func TestTCPSinkDelivers(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	sink := NewTCPSink(ln.Addr().String(), 10*time.Millisecond)
	first := fraudEvent()
	second := events.New(events.TypeSignerMismatch).Pair(pair).Message("foreign signer").Build()
	require.NoError(t, sink.Send(first))
	require.NoError(t, sink.Send(second))

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	r := bufio.NewReader(conn)

	got, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, "id-1", got.GetFields()["id"].GetStringValue())
	got, err = ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, events.TypeSignerMismatch, got.GetFields()["type"].GetStringValue())
	_, hasIndex := got.GetFields()["index"]
	assert.False(t, hasIndex)

	require.NoError(t, sink.Close())
}

func TestLogfmtSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogfmtSink(&buf)
	require.NoError(t, sink.Send(fraudEvent()))
	require.NoError(t, sink.Close())

	line := buf.String()
	assert.Equal(t,
		`ts=2021-03-01T12:00:00Z severity=critical type=fraud.detected pair=1000->2000 agent=watcher index=7 msg="double update over 0x00000000" evidence=0xabc kind=double_update`+"\n",
		line)
}

type chanSink struct {
	ch chan events.Event
}

func (s *chanSink) Send(ev events.Event) error {
	s.ch <- ev
	return nil
}

func (s *chanSink) Close() error { return nil }

func TestMonitorForwardsAlarms(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	bus := events.NewBus(tmlog.NewNopLogger(), 16)
	require.NoError(t, bus.Start())
	defer func() { require.NoError(t, bus.Stop()) }()

	sink := &chanSink{ch: make(chan events.Event, 4)}
	m := New(bus, events.AlarmQuery(), sink)
	require.NoError(t, m.Start())

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, events.New(events.TypeCommitmentSigned).Home(1000).Build()))
	require.NoError(t, bus.Publish(ctx, fraudEvent()))

	select {
	case ev := <-sink.ch:
		assert.Equal(t, events.TypeFraudDetected, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("alarm not forwarded")
	}
	require.NoError(t, m.Stop())
	assert.Empty(t, sink.ch)
}
