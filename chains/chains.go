// Package chains declares what the agents need from the home and replica ledgers.
// Implementations report retryable failures wrapped with types.Transient, chain
// rejections of duplicates as types.ErrStale and recipient failures as
// *types.ExecutionRevertedError.
package chains

import (
	"context"

	"github.com/supragya/NomadConnector/types"
)

// TxOutcome is the receipt of an accepted submission.
type TxOutcome struct {
	TxHash types.Hash `json:"tx_hash"`
}

// Home is the origin ledger holding the outbox and the updater's commitments.
type Home interface {
	Name() string
	Domain() uint32

	OutboxLength(ctx context.Context) (uint32, error)
	Message(ctx context.Context, index uint32) (types.Message, error)

	// LatestCommitment returns nil when nothing was committed yet.
	LatestCommitment(ctx context.Context) (*types.SignedCommitment, error)
	// CommitmentByPreviousRoot returns the accepted commitment extending root, or nil.
	CommitmentByPreviousRoot(ctx context.Context, root types.Hash) (*types.SignedCommitment, error)
	// Commitments lists commitments from the event log starting at cursor and returns the next cursor.
	Commitments(ctx context.Context, cursor uint64) ([]types.SignedCommitment, uint64, error)

	SubmitCommitment(ctx context.Context, sc types.SignedCommitment) (TxOutcome, error)
	SubmitDoubleUpdate(ctx context.Context, du types.DoubleUpdate) (TxOutcome, error)
	Updater(ctx context.Context) (types.Address, error)
}

// Replica mirrors one home on a remote ledger.
type Replica interface {
	Name() string
	Domain() uint32
	RemoteDomain() uint32

	// CommittedRoot is the latest root submitted to the replica, confirmed or not.
	CommittedRoot(ctx context.Context) (types.Hash, error)
	// ConfirmedRoot is the latest root whose optimistic window has elapsed.
	ConfirmedRoot(ctx context.Context) (types.Hash, error)
	Commitments(ctx context.Context, cursor uint64) ([]types.SignedCommitment, uint64, error)

	SubmitCommitment(ctx context.Context, sc types.SignedCommitment) (TxOutcome, error)
	IsMessageProcessed(ctx context.Context, index uint32) (bool, error)
	SubmitExecution(ctx context.Context, proof types.Proof) (TxOutcome, error)
	SubmitDoubleUpdate(ctx context.Context, du types.DoubleUpdate) (TxOutcome, error)
}

// ConnectionManager can unenroll the replicas on its domain after a watcher notification.
type ConnectionManager interface {
	Domain() uint32
	Unenroll(ctx context.Context, sn types.SignedFailureNotification) (TxOutcome, error)
}
