// Package outbox mirrors a home outbox locally so roots and proofs can be derived
// without trusting anybody else's tree.
package outbox

import (
	"context"

	"github.com/pkg/errors"

	"github.com/supragya/NomadConnector/chains"
	"github.com/supragya/NomadConnector/merkle"
	"github.com/supragya/NomadConnector/retry"
	"github.com/supragya/NomadConnector/types"
)

// History is owned by a single agent goroutine.
type History struct {
	home     chains.Home
	policy   retry.Policy
	tree     *merkle.Tree
	messages []types.Message
}

func NewHistory(home chains.Home, policy retry.Policy) *History {
	return &History{home: home, policy: policy, tree: merkle.New()}
}

// Sync fetches every message appended since the last call and returns how many were added.
// Progress made before an error is kept.
func (h *History) Sync(ctx context.Context) (int, error) {
	var length uint32
	err := retry.Do(ctx, h.policy, func(ctx context.Context) (err error) {
		length, err = h.home.OutboxLength(ctx)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "outbox length")
	}

	added := 0
	for next := h.tree.Count(); next < length; next++ {
		var msg types.Message
		err := retry.Do(ctx, h.policy, func(ctx context.Context) (err error) {
			msg, err = h.home.Message(ctx, next)
			return err
		})
		if err != nil {
			return added, errors.Wrapf(err, "fetch message %d", next)
		}
		if msg.Index != next || msg.Origin != h.home.Domain() {
			return added, errors.Errorf("home returned message %d from %d for index %d", msg.Index, msg.Origin, next)
		}
		if _, err := h.tree.Ingest(msg.Leaf()); err != nil {
			return added, err
		}
		h.messages = append(h.messages, msg)
		added++
	}
	return added, nil
}

func (h *History) Count() uint32 { return h.tree.Count() }

func (h *History) Root() types.Hash { return h.tree.Root() }

func (h *History) RootAt(count uint32) types.Hash { return h.tree.RootAt(count) }

// IndexOf returns the last index covered by root.
func (h *History) IndexOf(root types.Hash) (uint32, bool) { return h.tree.IndexOf(root) }

func (h *History) Message(index uint32) (types.Message, bool) {
	if int(index) >= len(h.messages) {
		return types.Message{}, false
	}
	return h.messages[index], true
}

// Prove builds the proof of message index against the root committed at confirmedIndex.
func (h *History) Prove(index, confirmedIndex uint32) (types.Proof, error) {
	msg, ok := h.Message(index)
	if !ok {
		return types.Proof{}, errors.Errorf("message %d not synced", index)
	}
	path, err := h.tree.Prove(index, confirmedIndex+1)
	if err != nil {
		return types.Proof{}, err
	}
	return types.Proof{Message: msg, Path: path}, nil
}
