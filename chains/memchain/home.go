package memchain

import (
	"context"

	"github.com/pkg/errors"

	"github.com/supragya/NomadConnector/chains"
	tmsync "github.com/supragya/NomadConnector/libs/sync"
	"github.com/supragya/NomadConnector/merkle"
	"github.com/supragya/NomadConnector/signer"
	"github.com/supragya/NomadConnector/types"
)

// Home holds an outbox and accepts commitments from its updater.
type Home struct {
	mtx tmsync.RWMutex

	name    string
	domain  uint32
	updater types.Address

	tree          *merkle.Tree
	messages      []types.Message
	nonces        map[uint32]uint32
	commitments   []types.SignedCommitment
	byPrevious    map[types.Hash]int
	committedRoot types.Hash
	failed        bool
	txCounter     uint64
	faults        faults
}

func NewHome(name string, domain uint32, updater types.Address) *Home {
	return &Home{
		name:       name,
		domain:     domain,
		updater:    updater,
		tree:       merkle.New(),
		nonces:     make(map[uint32]uint32),
		byPrevious: make(map[types.Hash]int),
	}
}

func (h *Home) Name() string   { return h.name }
func (h *Home) Domain() uint32 { return h.domain }

// Dispatch appends a message to the outbox.
func (h *Home) Dispatch(sender types.Hash, destination uint32, recipient types.Hash, body []byte) (types.Message, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.failed {
		return types.Message{}, errors.New("home failed")
	}
	msg := types.Message{
		Origin:      h.domain,
		Sender:      sender,
		Nonce:       h.nonces[destination],
		Destination: destination,
		Recipient:   recipient,
		Body:        append([]byte(nil), body...),
		Index:       h.tree.Count(),
	}
	if _, err := h.tree.Ingest(msg.Leaf()); err != nil {
		return types.Message{}, err
	}
	h.nonces[destination]++
	h.messages = append(h.messages, msg)
	return msg, nil
}

// SetUpdater rotates the key the home accepts commitments from.
func (h *Home) SetUpdater(addr types.Address) {
	h.mtx.Lock()
	h.updater = addr
	h.mtx.Unlock()
}

// FailNext makes the next n calls return a transient error.
func (h *Home) FailNext(n int) {
	h.mtx.Lock()
	h.faults.pending = n
	h.mtx.Unlock()
}

func (h *Home) Failed() bool {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	return h.failed
}

func (h *Home) OutboxLength(ctx context.Context) (uint32, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if err := h.check(ctx); err != nil {
		return 0, err
	}
	return h.tree.Count(), nil
}

func (h *Home) Message(ctx context.Context, index uint32) (types.Message, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if err := h.check(ctx); err != nil {
		return types.Message{}, err
	}
	if int(index) >= len(h.messages) {
		return types.Message{}, errors.Wrapf(types.ErrNotFound, "message %d", index)
	}
	return h.messages[index], nil
}

func (h *Home) LatestCommitment(ctx context.Context) (*types.SignedCommitment, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if err := h.check(ctx); err != nil {
		return nil, err
	}
	if len(h.commitments) == 0 {
		return nil, nil
	}
	sc := h.commitments[len(h.commitments)-1]
	return &sc, nil
}

func (h *Home) CommitmentByPreviousRoot(ctx context.Context, root types.Hash) (*types.SignedCommitment, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if err := h.check(ctx); err != nil {
		return nil, err
	}
	i, ok := h.byPrevious[root]
	if !ok {
		return nil, nil
	}
	sc := h.commitments[i]
	return &sc, nil
}

func (h *Home) Commitments(ctx context.Context, cursor uint64) ([]types.SignedCommitment, uint64, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if err := h.check(ctx); err != nil {
		return nil, cursor, err
	}
	if cursor >= uint64(len(h.commitments)) {
		return nil, cursor, nil
	}
	out := append([]types.SignedCommitment(nil), h.commitments[cursor:]...)
	return out, uint64(len(h.commitments)), nil
}

// SubmitCommitment follows the home contract: the update must come from the updater, extend the
// committed root and name a root the outbox actually had. An improper root fails the home.
func (h *Home) SubmitCommitment(ctx context.Context, sc types.SignedCommitment) (chains.TxOutcome, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if err := h.check(ctx); err != nil {
		return chains.TxOutcome{}, err
	}
	if h.failed {
		return chains.TxOutcome{}, types.Reverted("failed state")
	}
	if sc.HomeDomain != h.domain {
		return chains.TxOutcome{}, types.Reverted("!home domain")
	}
	if err := signer.CheckCommitment(sc, h.updater); err != nil {
		return chains.TxOutcome{}, types.Reverted("!updater sig")
	}
	if sc.PreviousRoot != h.committedRoot {
		if i, ok := h.byPrevious[sc.PreviousRoot]; ok && h.commitments[i].Root == sc.Root {
			return chains.TxOutcome{}, errors.Wrap(types.ErrStale, "commitment already accepted")
		}
		return chains.TxOutcome{}, types.Reverted("not a current update")
	}
	index, ok := h.tree.IndexOf(sc.Root)
	if !ok {
		h.failed = true
		return chains.TxOutcome{}, types.Reverted("improper update")
	}
	sc.Index = index
	h.byPrevious[sc.PreviousRoot] = len(h.commitments)
	h.commitments = append(h.commitments, sc)
	h.committedRoot = sc.Root
	return h.outcome(), nil
}

func (h *Home) SubmitDoubleUpdate(ctx context.Context, du types.DoubleUpdate) (chains.TxOutcome, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if err := h.check(ctx); err != nil {
		return chains.TxOutcome{}, err
	}
	if h.failed {
		return chains.TxOutcome{}, errors.Wrap(types.ErrStale, "home already failed")
	}
	if err := checkDoubleUpdate(du, h.updater); err != nil {
		return chains.TxOutcome{}, err
	}
	h.failed = true
	return h.outcome(), nil
}

func (h *Home) Updater(ctx context.Context) (types.Address, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if err := h.check(ctx); err != nil {
		return types.Address{}, err
	}
	return h.updater, nil
}

func (h *Home) check(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return h.faults.next()
}

func (h *Home) outcome() chains.TxOutcome {
	h.txCounter++
	return chains.TxOutcome{TxHash: txHash(h.name, h.txCounter)}
}

func checkDoubleUpdate(du types.DoubleUpdate, updater types.Address) error {
	if du.First.PreviousRoot != du.Second.PreviousRoot || du.First.Root == du.Second.Root {
		return types.Reverted("!double update")
	}
	if signer.CheckCommitment(du.First, updater) != nil || signer.CheckCommitment(du.Second, updater) != nil {
		return types.Reverted("!updater sig")
	}
	return nil
}
