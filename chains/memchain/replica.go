package memchain

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/supragya/NomadConnector/chains"
	tmsync "github.com/supragya/NomadConnector/libs/sync"
	"github.com/supragya/NomadConnector/merkle"
	"github.com/supragya/NomadConnector/signer"
	"github.com/supragya/NomadConnector/types"
)

// Handler plays the recipient contract. A non-nil error reverts the execution.
type Handler func(msg types.Message) error

// Replica accepts commitments for one remote home, confirms them after the optimistic
// window and executes proven messages at most once.
type Replica struct {
	mtx tmsync.RWMutex

	name       string
	domain     uint32
	remote     uint32
	updater    types.Address
	optimistic time.Duration
	clock      Clock

	committedRoot types.Hash
	confirmAt     map[types.Hash]time.Time
	order         []types.Hash
	commitments   []types.SignedCommitment
	processed     map[uint32]types.Hash
	executions    map[uint32]int
	handler       Handler
	failed        bool
	unenrolled    bool
	txCounter     uint64
	faults        faults
}

func NewReplica(name string, domain, remote uint32, updater types.Address, optimistic time.Duration, clock Clock) *Replica {
	if clock == nil {
		clock = time.Now
	}
	return &Replica{
		name:       name,
		domain:     domain,
		remote:     remote,
		updater:    updater,
		optimistic: optimistic,
		clock:      clock,
		confirmAt:  make(map[types.Hash]time.Time),
		processed:  make(map[uint32]types.Hash),
		executions: make(map[uint32]int),
	}
}

func (r *Replica) Name() string         { return r.name }
func (r *Replica) Domain() uint32       { return r.domain }
func (r *Replica) RemoteDomain() uint32 { return r.remote }

func (r *Replica) SetHandler(h Handler) {
	r.mtx.Lock()
	r.handler = h
	r.mtx.Unlock()
}

func (r *Replica) FailNext(n int) {
	r.mtx.Lock()
	r.faults.pending = n
	r.mtx.Unlock()
}

// Executions counts execution attempts that reached the recipient for index.
func (r *Replica) Executions(index uint32) int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.executions[index]
}

// SubmittedCommitments counts accepted commitments.
func (r *Replica) SubmittedCommitments() int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return len(r.commitments)
}

func (r *Replica) Failed() bool {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.failed
}

func (r *Replica) Unenrolled() bool {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.unenrolled
}

func (r *Replica) CommittedRoot(ctx context.Context) (types.Hash, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if err := r.check(ctx); err != nil {
		return types.Hash{}, err
	}
	return r.committedRoot, nil
}

func (r *Replica) ConfirmedRoot(ctx context.Context) (types.Hash, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if err := r.check(ctx); err != nil {
		return types.Hash{}, err
	}
	now := r.clock()
	for i := len(r.order) - 1; i >= 0; i-- {
		if at := r.confirmAt[r.order[i]]; !now.Before(at) {
			return r.order[i], nil
		}
	}
	return types.ZeroHash, nil
}

func (r *Replica) Commitments(ctx context.Context, cursor uint64) ([]types.SignedCommitment, uint64, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if err := r.check(ctx); err != nil {
		return nil, cursor, err
	}
	if cursor >= uint64(len(r.commitments)) {
		return nil, cursor, nil
	}
	out := append([]types.SignedCommitment(nil), r.commitments[cursor:]...)
	return out, uint64(len(r.commitments)), nil
}

func (r *Replica) SubmitCommitment(ctx context.Context, sc types.SignedCommitment) (chains.TxOutcome, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if err := r.check(ctx); err != nil {
		return chains.TxOutcome{}, err
	}
	if r.failed {
		return chains.TxOutcome{}, types.Reverted("failed state")
	}
	if sc.HomeDomain != r.remote {
		return chains.TxOutcome{}, types.Reverted("!remote domain")
	}
	if err := signer.CheckCommitment(sc, r.updater); err != nil {
		return chains.TxOutcome{}, types.Reverted("!updater sig")
	}
	if sc.PreviousRoot != r.committedRoot {
		if _, ok := r.confirmAt[sc.Root]; ok {
			return chains.TxOutcome{}, errors.Wrap(types.ErrStale, "root already committed")
		}
		return chains.TxOutcome{}, types.Reverted("not a current update")
	}
	r.confirmAt[sc.Root] = r.clock().Add(r.optimistic)
	r.order = append(r.order, sc.Root)
	r.commitments = append(r.commitments, sc)
	r.committedRoot = sc.Root
	return r.outcome(), nil
}

func (r *Replica) IsMessageProcessed(ctx context.Context, index uint32) (bool, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if err := r.check(ctx); err != nil {
		return false, err
	}
	_, ok := r.processed[index]
	return ok, nil
}

// SubmitExecution proves and processes one message in a single step.
func (r *Replica) SubmitExecution(ctx context.Context, proof types.Proof) (chains.TxOutcome, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if err := r.check(ctx); err != nil {
		return chains.TxOutcome{}, err
	}
	msg := proof.Message
	switch {
	case r.failed:
		return chains.TxOutcome{}, types.Reverted("failed state")
	case r.unenrolled:
		return chains.TxOutcome{}, types.Reverted("!replica")
	case msg.Destination != r.domain:
		return chains.TxOutcome{}, types.Reverted("!destination")
	case msg.Origin != r.remote:
		return chains.TxOutcome{}, types.Reverted("!origin")
	}
	if _, done := r.processed[msg.Index]; done {
		return chains.TxOutcome{}, errors.Wrapf(types.ErrStale, "message %d already processed", msg.Index)
	}
	root := merkle.ComputeRoot(msg.Leaf(), proof.Path)
	at, ok := r.confirmAt[root]
	if !ok || r.clock().Before(at) {
		return chains.TxOutcome{}, types.Reverted("!prove")
	}
	r.executions[msg.Index]++
	if r.handler != nil {
		if err := r.handler(msg); err != nil {
			return chains.TxOutcome{}, types.Reverted(err.Error())
		}
	}
	r.processed[msg.Index] = msg.Leaf()
	return r.outcome(), nil
}

func (r *Replica) SubmitDoubleUpdate(ctx context.Context, du types.DoubleUpdate) (chains.TxOutcome, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if err := r.check(ctx); err != nil {
		return chains.TxOutcome{}, err
	}
	if r.failed {
		return chains.TxOutcome{}, errors.Wrap(types.ErrStale, "replica already failed")
	}
	if err := checkDoubleUpdate(du, r.updater); err != nil {
		return chains.TxOutcome{}, err
	}
	r.failed = true
	return r.outcome(), nil
}

func (r *Replica) unenroll() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.unenrolled {
		return false
	}
	r.unenrolled = true
	return true
}

func (r *Replica) updaterAddress() types.Address {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.updater
}

func (r *Replica) check(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return r.faults.next()
}

func (r *Replica) outcome() chains.TxOutcome {
	r.txCounter++
	return chains.TxOutcome{TxHash: txHash(r.name, r.txCounter)}
}
