package merkle

import (
	"github.com/pkg/errors"

	"github.com/supragya/NomadConnector/types"
)

// ComputeRoot folds leaf up the path.
func ComputeRoot(leaf types.Hash, path []types.PathElement) types.Hash {
	node := leaf
	for _, el := range path {
		if el.Side == types.Left {
			node = hashPair(el.Hash, node)
		} else {
			node = hashPair(node, el.Hash)
		}
	}
	return node
}

// Verify checks that the proof folds to root. Every failure wraps types.ErrProofMismatch.
func Verify(proof types.Proof, root types.Hash) error {
	if len(proof.Path) != TreeDepth {
		return errors.Wrapf(types.ErrProofMismatch, "path has %d elements, want %d", len(proof.Path), TreeDepth)
	}
	index := proof.Message.Index
	for i, el := range proof.Path {
		want := types.Right
		if (index>>uint(i))&1 == 1 {
			want = types.Left
		}
		if el.Side != want {
			return errors.Wrapf(types.ErrProofMismatch, "path element %d side %s does not match index %d", i, el.Side, index)
		}
	}
	got := ComputeRoot(proof.Message.Leaf(), proof.Path)
	if got != root {
		return errors.Wrapf(types.ErrProofMismatch, "message %d folds to %s, confirmed root is %s", index, got, root)
	}
	return nil
}
