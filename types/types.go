package types

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

const (
	HashLength      = 32
	AddressLength   = 20
	SignatureLength = 65
)

// Hash is a 32 byte keccak digest. Roots, leaves and signing digests are all Hashes.
type Hash [HashLength]byte

// ZeroHash is the previous root of the very first commitment on a home.
var ZeroHash = Hash{}

func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

func HexToHash(s string) (Hash, error) {
	b, err := decodeHex(s)
	if err != nil {
		return Hash{}, err
	}
	if len(b) != HashLength {
		return Hash{}, errors.Errorf("invalid hash length %d", len(b))
	}
	return BytesToHash(b), nil
}

func (h Hash) Bytes() []byte { return h[:] }
func (h Hash) IsZero() bool { return h == ZeroHash }
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }
func (h Hash) String() string { return h.Hex() }
func (h Hash) Short() string { return h.Hex()[:10] }
func (h Hash) Equal(o Hash) bool { return bytes.Equal(h[:], o[:]) }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HexToHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Address is a 20 byte secp256k1 account address.
type Address [AddressLength]byte

func HexToAddress(s string) (Address, error) {
	var a Address
	b, err := decodeHex(s)
	if err != nil {
		return a, err
	}
	if len(b) != AddressLength {
		return a, errors.Errorf("invalid address length %d", len(b))
	}
	copy(a[:], b)
	return a, nil
}

func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }
func (a Address) String() string { return a.Hex() }
func (a Address) IsZero() bool { return a == Address{} }

// Identifier left pads the address into the 32 byte form used in messages and notifications.
func (a Address) Identifier() Hash { return BytesToHash(a[:]) }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := HexToAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Signature is a recoverable secp256k1 signature laid out as r || s || v with v in {27, 28}.
type Signature [SignatureLength]byte

func (s Signature) Hex() string { return "0x" + hex.EncodeToString(s[:]) }

func (s Signature) MarshalText() ([]byte, error) { return []byte(s.Hex()), nil }

func (s *Signature) UnmarshalText(text []byte) error {
	b, err := decodeHex(string(text))
	if err != nil {
		return err
	}
	if len(b) != SignatureLength {
		return errors.Errorf("invalid signature length %d", len(b))
	}
	copy(s[:], b)
	return nil
}

// Pair names one guarded home to replica channel.
type Pair struct {
	Home    uint32 `json:"home"`
	Replica uint32 `json:"replica"`
}

func (p Pair) String() string { return fmt.Sprintf("%d->%d", p.Home, p.Replica) }

// Keccak256 hashes the concatenation of data.
func Keccak256(data ...[]byte) Hash {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	var h Hash
	d.Sum(h[:0])
	return h
}

func uint32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "decode hex %q", s)
	}
	return b, nil
}
