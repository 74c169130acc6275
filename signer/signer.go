// Package signer produces and recovers the secp256k1 signatures carried by commitments
// and failure notifications.
package signer

import (
	"context"

	"github.com/btcsuite/btcd/btcec"
	"github.com/pkg/errors"

	"github.com/supragya/NomadConnector/types"
)

// Signer signs 32 byte digests. Implementations must fail loudly rather than return a bad signature.
type Signer interface {
	Address() types.Address
	Sign(ctx context.Context, digest types.Hash) (types.Signature, error)
}

// LocalSigner keeps the private key in memory.
type LocalSigner struct {
	priv    *btcec.PrivateKey
	address types.Address
}

func NewLocalSigner(priv *btcec.PrivateKey) *LocalSigner {
	return &LocalSigner{priv: priv, address: PubkeyToAddress(priv.PubKey())}
}

func GenerateLocalSigner() (*LocalSigner, error) {
	priv, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, errors.Wrap(err, "generate secp256k1 key")
	}
	return NewLocalSigner(priv), nil
}

// LocalSignerFromBytes loads a 32 byte private scalar.
func LocalSignerFromBytes(b []byte) (*LocalSigner, error) {
	if len(b) != btcec.PrivKeyBytesLen {
		return nil, errors.Errorf("private key must be %d bytes, got %d", btcec.PrivKeyBytesLen, len(b))
	}
	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), b)
	return NewLocalSigner(priv), nil
}

func (s *LocalSigner) Address() types.Address { return s.address }

func (s *LocalSigner) PrivateKeyBytes() []byte { return s.priv.Serialize() }

func (s *LocalSigner) PublicKeyBytes() []byte { return s.priv.PubKey().SerializeUncompressed() }

func (s *LocalSigner) Sign(ctx context.Context, digest types.Hash) (types.Signature, error) {
	var sig types.Signature
	if err := ctx.Err(); err != nil {
		return sig, err
	}
	compact, err := btcec.SignCompact(btcec.S256(), s.priv, digest[:], false)
	if err != nil {
		return sig, errors.Wrap(err, "sign compact")
	}
	// compact is v || r || s
	copy(sig[:64], compact[1:])
	sig[64] = compact[0]
	return sig, nil
}

// Recover returns the address that produced sig over digest. v must be 27 or 28.
func Recover(digest types.Hash, sig types.Signature) (types.Address, error) {
	v := sig[64]
	if v != 27 && v != 28 {
		return types.Address{}, errors.Errorf("invalid recovery id %d", sig[64])
	}
	compact := make([]byte, types.SignatureLength)
	compact[0] = v
	copy(compact[1:], sig[:64])
	pub, _, err := btcec.RecoverCompact(btcec.S256(), compact, digest[:])
	if err != nil {
		return types.Address{}, errors.Wrap(err, "recover public key")
	}
	return PubkeyToAddress(pub), nil
}

func PubkeyToAddress(pub *btcec.PublicKey) types.Address {
	var addr types.Address
	h := types.Keccak256(pub.SerializeUncompressed()[1:])
	copy(addr[:], h[12:])
	return addr
}

// SignCommitment signs c. Any failure is reported as types.ErrSigner.
func SignCommitment(ctx context.Context, s Signer, c types.Commitment) (types.SignedCommitment, error) {
	sig, err := s.Sign(ctx, c.SigningHash())
	if err != nil {
		return types.SignedCommitment{}, errors.Wrapf(types.ErrSigner, "sign %s: %v", c, err)
	}
	return types.SignedCommitment{Commitment: c, Signature: sig}, nil
}

func RecoverCommitment(sc types.SignedCommitment) (types.Address, error) {
	return Recover(sc.SigningHash(), sc.Signature)
}

// CheckCommitment verifies that sc was signed by expected.
func CheckCommitment(sc types.SignedCommitment, expected types.Address) error {
	actual, err := RecoverCommitment(sc)
	if err != nil {
		return err
	}
	if actual != expected {
		return &types.SignerMismatchError{Expected: expected, Actual: actual}
	}
	return nil
}

func SignFailureNotification(ctx context.Context, s Signer, n types.FailureNotification) (types.SignedFailureNotification, error) {
	sig, err := s.Sign(ctx, n.SigningHash())
	if err != nil {
		return types.SignedFailureNotification{}, errors.Wrapf(types.ErrSigner, "sign failure notification: %v", err)
	}
	return types.SignedFailureNotification{Notification: n, Signature: sig}, nil
}

func RecoverFailureNotification(sn types.SignedFailureNotification) (types.Address, error) {
	return Recover(sn.Notification.SigningHash(), sn.Signature)
}
