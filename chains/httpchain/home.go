package httpchain

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/supragya/NomadConnector/chains"
	"github.com/supragya/NomadConnector/types"
)

type Home struct {
	client *Client
	name   string
	domain uint32
}

var _ chains.Home = (*Home)(nil)

func NewHome(client *Client, name string, domain uint32) *Home {
	return &Home{client: client, name: name, domain: domain}
}

func (h *Home) Name() string   { return h.name }
func (h *Home) Domain() uint32 { return h.domain }

func (h *Home) OutboxLength(ctx context.Context) (uint32, error) {
	res, err := h.client.get(ctx, fmt.Sprintf("/v1/%d/outbox/length", h.domain))
	if err != nil {
		return 0, err
	}
	return uint32(res.Get("length").Uint()), nil
}

func (h *Home) Message(ctx context.Context, index uint32) (types.Message, error) {
	res, err := h.client.get(ctx, fmt.Sprintf("/v1/%d/outbox/%d", h.domain, index))
	if err != nil {
		return types.Message{}, err
	}
	var msg types.Message
	if err := decode(res, &msg); err != nil {
		return types.Message{}, err
	}
	if msg.Index != index {
		return types.Message{}, errors.Errorf("gateway returned message %d for index %d", msg.Index, index)
	}
	return msg, nil
}

func (h *Home) LatestCommitment(ctx context.Context) (*types.SignedCommitment, error) {
	res, err := h.client.get(ctx, fmt.Sprintf("/v1/%d/commitments/latest", h.domain))
	if err != nil {
		return nil, err
	}
	return decodeCommitment(res)
}

func (h *Home) CommitmentByPreviousRoot(ctx context.Context, root types.Hash) (*types.SignedCommitment, error) {
	res, err := h.client.get(ctx, fmt.Sprintf("/v1/%d/commitments/previous/%s", h.domain, root.Hex()))
	if err != nil {
		return nil, err
	}
	return decodeCommitment(res)
}

func (h *Home) Commitments(ctx context.Context, cursor uint64) ([]types.SignedCommitment, uint64, error) {
	return commitments(ctx, h.client, h.domain, cursor)
}

func (h *Home) SubmitCommitment(ctx context.Context, sc types.SignedCommitment) (chains.TxOutcome, error) {
	return submitCommitment(ctx, h.client, h.domain, sc)
}

func (h *Home) SubmitDoubleUpdate(ctx context.Context, du types.DoubleUpdate) (chains.TxOutcome, error) {
	return submitDoubleUpdate(ctx, h.client, h.domain, du)
}

func (h *Home) Updater(ctx context.Context) (types.Address, error) {
	res, err := h.client.get(ctx, fmt.Sprintf("/v1/%d/updater", h.domain))
	if err != nil {
		return types.Address{}, err
	}
	return types.HexToAddress(res.Get("updater").String())
}
