// Package merkle implements the depth 32 incremental keccak tree that backs a home outbox.
package merkle

import (
	"github.com/pkg/errors"

	"github.com/supragya/NomadConnector/types"
)

const TreeDepth = 32

// MaxLeaves is the capacity of a depth 32 tree.
const MaxLeaves = uint64(1)<<TreeDepth - 1

// ErrTreeFull is returned when ingesting into a tree at capacity.
var ErrTreeFull = errors.New("merkle tree full")

var zeroHashes [TreeDepth + 1]types.Hash

func init() {
	for i := 0; i < TreeDepth; i++ {
		zeroHashes[i+1] = hashPair(zeroHashes[i], zeroHashes[i])
	}
}

// ZeroHash returns the root of an empty subtree of the given height.
func ZeroHash(height int) types.Hash {
	return zeroHashes[height]
}

// EmptyRoot is the root of a tree with no leaves.
func EmptyRoot() types.Hash {
	return zeroHashes[TreeDepth]
}

// Tree keeps the incremental branch for O(depth) appends together with the root of every
// complete subtree and the root after every append, so historical roots and proofs can be
// served in O(depth). A Tree is not safe for concurrent use.
type Tree struct {
	branch [TreeDepth]types.Hash
	// nodes[h] holds the roots of the complete subtrees of height h, left to right. nodes[0]
	// are the leaves.
	nodes  [TreeDepth][]types.Hash
	roots  []types.Hash
	counts map[types.Hash]uint32
}

func New() *Tree {
	return &Tree{counts: make(map[types.Hash]uint32)}
}

func (t *Tree) Count() uint32 {
	return uint32(len(t.nodes[0]))
}

// Ingest appends a leaf and returns the new root.
func (t *Tree) Ingest(leaf types.Hash) (types.Hash, error) {
	if uint64(len(t.nodes[0])) >= MaxLeaves {
		return types.Hash{}, ErrTreeFull
	}
	t.nodes[0] = append(t.nodes[0], leaf)

	size := uint64(len(t.nodes[0]))
	node := leaf
	for i := 0; i < TreeDepth; i++ {
		if size&1 == 1 {
			t.branch[i] = node
			break
		}
		node = hashPair(t.branch[i], node)
		if i+1 < TreeDepth {
			t.nodes[i+1] = append(t.nodes[i+1], node)
		}
		size >>= 1
	}

	root := t.computeRoot()
	t.roots = append(t.roots, root)
	if _, seen := t.counts[root]; !seen {
		t.counts[root] = t.Count()
	}
	return root, nil
}

func (t *Tree) computeRoot() types.Hash {
	size := uint64(t.Count())
	node := types.Hash{}
	for i := 0; i < TreeDepth; i++ {
		if (size>>uint(i))&1 == 1 {
			node = hashPair(t.branch[i], node)
		} else {
			node = hashPair(node, zeroHashes[i])
		}
	}
	return node
}

// Root is the root over every ingested leaf.
func (t *Tree) Root() types.Hash {
	return t.RootAt(t.Count())
}

// RootAt is the root the tree had when it held count leaves.
func (t *Tree) RootAt(count uint32) types.Hash {
	if count == 0 {
		return EmptyRoot()
	}
	if int(count) > len(t.roots) {
		return types.Hash{}
	}
	return t.roots[count-1]
}

// IndexOf returns the index of the last leaf covered by root, if root is in the history.
func (t *Tree) IndexOf(root types.Hash) (uint32, bool) {
	count, ok := t.counts[root]
	if !ok || count == 0 {
		return 0, false
	}
	return count - 1, true
}

func (t *Tree) Leaf(index uint32) (types.Hash, bool) {
	if index >= t.Count() {
		return types.Hash{}, false
	}
	return t.nodes[0][index], true
}

// Prove builds the path for the leaf at index against the tree as it was with count leaves.
func (t *Tree) Prove(index, count uint32) ([]types.PathElement, error) {
	if count == 0 || count > t.Count() {
		return nil, errors.Errorf("cannot prove against %d leaves, tree holds %d", count, t.Count())
	}
	if index >= count {
		return nil, errors.Errorf("leaf %d outside tree of %d leaves", index, count)
	}

	path := make([]types.PathElement, TreeDepth)
	idx := uint64(index)
	for i := 0; i < TreeDepth; i++ {
		side := types.Right
		if idx&1 == 1 {
			side = types.Left
		}
		path[i] = types.PathElement{Hash: t.subtree(i, idx^1, uint64(count)), Side: side}
		idx >>= 1
	}
	return path, nil
}

// subtree returns the root of node j at the given height in the tree of the first count
// leaves. Only the node straddling count is rehashed, one child per level.
func (t *Tree) subtree(height int, j, count uint64) types.Hash {
	start := j << uint(height)
	switch {
	case start >= count:
		return zeroHashes[height]
	case start+uint64(1)<<uint(height) <= count:
		return t.nodes[height][j]
	}
	return hashPair(t.subtree(height-1, 2*j, count), t.subtree(height-1, 2*j+1, count))
}

func hashPair(left, right types.Hash) types.Hash {
	return types.Keccak256(left[:], right[:])
}
