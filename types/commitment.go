package types

import "fmt"

var (
	homeDomainSuffix = []byte("NOMAD")
	ethSignedPrefix  = []byte("\x19Ethereum Signed Message:\n32")
)

// HomeDomainHash binds signatures to one home so they cannot be replayed on another.
func HomeDomainHash(domain uint32) Hash {
	return Keccak256(uint32Bytes(domain), homeDomainSuffix)
}

// EthSignedDigest applies the personal message prefix that signers expect.
func EthSignedDigest(digest Hash) Hash {
	return Keccak256(ethSignedPrefix, digest[:])
}

// Commitment attests that Root is the outbox root after the message at Index was appended,
// extending the commitment whose root is PreviousRoot. Index is not covered by the signature.
type Commitment struct {
	HomeDomain   uint32 `json:"home_domain"`
	PreviousRoot Hash   `json:"previous_root"`
	Root         Hash   `json:"root"`
	Index        uint32 `json:"index"`
}

// Digest is the hash the updater signs.
func (c Commitment) Digest() Hash {
	domainHash := HomeDomainHash(c.HomeDomain)
	return Keccak256(domainHash[:], c.PreviousRoot[:], c.Root[:])
}

func (c Commitment) SigningHash() Hash {
	return EthSignedDigest(c.Digest())
}

func (c Commitment) String() string {
	return fmt.Sprintf("Commitment{home:%d index:%d %s -> %s}", c.HomeDomain, c.Index, c.PreviousRoot.Short(), c.Root.Short())
}

type SignedCommitment struct {
	Commitment
	Signature Signature `json:"signature"`
}

// DoubleUpdate is evidence that one updater signed two different roots over the same previous root.
type DoubleUpdate struct {
	First  SignedCommitment `json:"first"`
	Second SignedCommitment `json:"second"`
}

// FailureNotification asks a connection manager to unenroll the replicas of a home whose updater misbehaved.
type FailureNotification struct {
	HomeDomain uint32  `json:"home_domain"`
	Updater    Address `json:"updater"`
}

func (f FailureNotification) SigningHash() Hash {
	domainHash := HomeDomainHash(f.HomeDomain)
	updater := f.Updater.Identifier()
	return EthSignedDigest(Keccak256(domainHash[:], uint32Bytes(f.HomeDomain), updater[:]))
}

type SignedFailureNotification struct {
	Notification FailureNotification `json:"notification"`
	Signature    Signature           `json:"signature"`
}
