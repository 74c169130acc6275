package fraud

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supragya/NomadConnector/store"
	"github.com/supragya/NomadConnector/types"
)

var pair = types.Pair{Home: 1000, Replica: 2000}

func TestSetOnce(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)
	assert.False(t, r.IsSet(pair))

	first, err := r.Set(types.FraudRecord{Pair: pair, Kind: types.FraudDoubleUpdate, Reason: "first"})
	require.NoError(t, err)
	assert.True(t, first)

	again, err := r.Set(types.FraudRecord{Pair: pair, Kind: types.FraudRootMismatch, Reason: "second"})
	require.NoError(t, err)
	assert.False(t, again)

	rec, ok := r.Record(pair)
	require.True(t, ok)
	assert.Equal(t, "first", rec.Reason)
	assert.False(t, rec.SetAt.IsZero())
	assert.False(t, r.IsSet(types.Pair{Home: 1000, Replica: 3000}))
}

func TestConcurrentSetHasOneWinner(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wins := make(chan bool, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, _ := r.Set(types.FraudRecord{Pair: pair, Kind: types.FraudDoubleUpdate})
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)
	count := 0
	for won := range wins {
		if won {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.True(t, r.IsSet(pair))
}

func TestFlagsPersistUntilReset(t *testing.T) {
	s := store.NewMemStore()
	r, err := NewRegistry(s)
	require.NoError(t, err)
	_, err = r.Set(types.FraudRecord{Pair: pair, Kind: types.FraudImproperUpdate, Reason: "beyond outbox"})
	require.NoError(t, err)

	restarted, err := NewRegistry(s)
	require.NoError(t, err)
	assert.True(t, restarted.IsSet(pair))
	require.Len(t, restarted.Records(), 1)

	_, err = restarted.Reset(types.Pair{Home: 1, Replica: 2})
	assert.Error(t, err)

	rec, err := restarted.Reset(pair)
	require.NoError(t, err)
	assert.Equal(t, types.FraudImproperUpdate, rec.Kind)
	assert.False(t, restarted.IsSet(pair))

	again, err := NewRegistry(s)
	require.NoError(t, err)
	assert.False(t, again.IsSet(pair))
}
