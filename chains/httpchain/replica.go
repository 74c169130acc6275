package httpchain

import (
	"context"
	"fmt"

	"github.com/supragya/NomadConnector/chains"
	"github.com/supragya/NomadConnector/types"
)

type Replica struct {
	client *Client
	name   string
	domain uint32
	remote uint32
}

var _ chains.Replica = (*Replica)(nil)

func NewReplica(client *Client, name string, domain, remote uint32) *Replica {
	return &Replica{client: client, name: name, domain: domain, remote: remote}
}

func (r *Replica) Name() string         { return r.name }
func (r *Replica) Domain() uint32       { return r.domain }
func (r *Replica) RemoteDomain() uint32 { return r.remote }

func (r *Replica) CommittedRoot(ctx context.Context) (types.Hash, error) {
	return r.root(ctx, "committed")
}

func (r *Replica) ConfirmedRoot(ctx context.Context) (types.Hash, error) {
	return r.root(ctx, "confirmed")
}

func (r *Replica) root(ctx context.Context, which string) (types.Hash, error) {
	res, err := r.client.get(ctx, fmt.Sprintf("/v1/%d/roots/%s", r.domain, which))
	if err != nil {
		return types.Hash{}, err
	}
	return decodeHash(res.Get("root"))
}

func (r *Replica) Commitments(ctx context.Context, cursor uint64) ([]types.SignedCommitment, uint64, error) {
	return commitments(ctx, r.client, r.domain, cursor)
}

func (r *Replica) SubmitCommitment(ctx context.Context, sc types.SignedCommitment) (chains.TxOutcome, error) {
	return submitCommitment(ctx, r.client, r.domain, sc)
}

func (r *Replica) IsMessageProcessed(ctx context.Context, index uint32) (bool, error) {
	res, err := r.client.get(ctx, fmt.Sprintf("/v1/%d/processed/%d", r.domain, index))
	if err != nil {
		return false, err
	}
	return res.Get("processed").Bool(), nil
}

func (r *Replica) SubmitExecution(ctx context.Context, proof types.Proof) (chains.TxOutcome, error) {
	res, err := r.client.post(ctx, fmt.Sprintf("/v1/%d/executions", r.domain), proof)
	if err != nil {
		return chains.TxOutcome{}, err
	}
	return decodeOutcome(res)
}

func (r *Replica) SubmitDoubleUpdate(ctx context.Context, du types.DoubleUpdate) (chains.TxOutcome, error) {
	return submitDoubleUpdate(ctx, r.client, r.domain, du)
}

type ConnectionManager struct {
	client *Client
	domain uint32
}

var _ chains.ConnectionManager = (*ConnectionManager)(nil)

func NewConnectionManager(client *Client, domain uint32) *ConnectionManager {
	return &ConnectionManager{client: client, domain: domain}
}

func (m *ConnectionManager) Domain() uint32 { return m.domain }

func (m *ConnectionManager) Unenroll(ctx context.Context, sn types.SignedFailureNotification) (chains.TxOutcome, error) {
	res, err := m.client.post(ctx, fmt.Sprintf("/v1/%d/unenroll", m.domain), sn)
	if err != nil {
		return chains.TxOutcome{}, err
	}
	return decodeOutcome(res)
}
