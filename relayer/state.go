package relayer

import (
	"time"

	"github.com/supragya/NomadConnector/types"
)

// ReplicaState is what one relayer has learned about its replica across ticks.
type ReplicaState struct {
	CommittedRoot  types.Hash
	ConfirmedRoot  types.Hash
	ConfirmedIndex uint32
	HasConfirmed   bool
	// Settled is the length of the outbox prefix that needs no further work on this replica.
	Settled uint32

	// seen holds when each root was first relayed or observed on the replica.
	seen map[types.Hash]time.Time
}

func newReplicaState() *ReplicaState {
	return &ReplicaState{seen: make(map[types.Hash]time.Time)}
}

func (s *ReplicaState) observe(root types.Hash, at time.Time) {
	if root.IsZero() {
		return
	}
	if _, ok := s.seen[root]; !ok {
		s.seen[root] = at
	}
}

// windowElapsed reports whether root has been known for at least window. A root never seen
// before starts its window now.
func (s *ReplicaState) windowElapsed(root types.Hash, now time.Time, window time.Duration) bool {
	s.observe(root, now)
	return !now.Before(s.seen[root].Add(window))
}

// confirm records root as confirmed and forgets roots seen before it. It reports whether the
// confirmed root moved.
func (s *ReplicaState) confirm(root types.Hash, index uint32) bool {
	if s.HasConfirmed && s.ConfirmedRoot == root {
		return false
	}
	at := s.seen[root]
	for r, t := range s.seen {
		if t.Before(at) {
			delete(s.seen, r)
		}
	}
	s.ConfirmedRoot = root
	s.ConfirmedIndex = index
	s.HasConfirmed = true
	return true
}

func (s *ReplicaState) snapshot() ReplicaState {
	out := *s
	out.seen = nil
	return out
}
