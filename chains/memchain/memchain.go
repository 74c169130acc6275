// Package memchain is a deterministic in-memory ledger that enforces the same rules the home,
// replica and connection manager contracts do. It backs the simulate command and agent tests.
package memchain

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/supragya/NomadConnector/chains"
	tmsync "github.com/supragya/NomadConnector/libs/sync"
	"github.com/supragya/NomadConnector/types"
)

// Clock returns the chain's notion of now.
type Clock func() time.Time

// ManualClock is a Clock tests can move forward.
type ManualClock struct {
	mtx tmsync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mtx.Lock()
	c.now = c.now.Add(d)
	c.mtx.Unlock()
}

// faults injects transient errors into the next calls of a chain.
type faults struct {
	pending int
}

func (f *faults) next() error {
	if f.pending > 0 {
		f.pending--
		return types.Transient(errors.New("connection reset by peer"))
	}
	return nil
}

func txHash(name string, counter uint64) types.Hash {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, counter)
	return types.Keccak256([]byte(name), b)
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return types.Transient(err)
	}
	return nil
}

var (
	_ chains.Home              = (*Home)(nil)
	_ chains.Replica           = (*Replica)(nil)
	_ chains.ConnectionManager = (*ConnectionManager)(nil)
)
