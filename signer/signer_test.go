package signer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supragya/NomadConnector/types"
)

func TestSignAndRecover(t *testing.T) {
	s, err := GenerateLocalSigner()
	require.NoError(t, err)

	digest := types.Keccak256([]byte("digest"))
	sig, err := s.Sign(context.Background(), digest)
	require.NoError(t, err)
	assert.Contains(t, []byte{27, 28}, sig[64])

	addr, err := Recover(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	other := types.Keccak256([]byte("other"))
	addr, err = Recover(other, sig)
	if err == nil {
		assert.NotEqual(t, s.Address(), addr)
	}
}

func TestRecoverRejectsRawRecoveryID(t *testing.T) {
	s, err := GenerateLocalSigner()
	require.NoError(t, err)
	digest := types.Keccak256([]byte("digest"))
	sig, err := s.Sign(context.Background(), digest)
	require.NoError(t, err)

	for _, v := range []byte{sig[64] - 27, 29, 31} {
		raw := sig
		raw[64] = v
		_, err := Recover(digest, raw)
		assert.Error(t, err, "v %d", v)
	}
}

func TestKnownAddress(t *testing.T) {
	// private key 1 maps to the well known secp256k1 generator address
	one := make([]byte, 32)
	one[31] = 1
	s, err := LocalSignerFromBytes(one)
	require.NoError(t, err)
	assert.Equal(t, "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf", s.Address().Hex())
}

func TestCheckCommitment(t *testing.T) {
	updater, err := GenerateLocalSigner()
	require.NoError(t, err)
	impostor, err := GenerateLocalSigner()
	require.NoError(t, err)

	c := types.Commitment{HomeDomain: 1000, PreviousRoot: types.ZeroHash, Root: types.Keccak256([]byte("root")), Index: 0}
	sc, err := SignCommitment(context.Background(), updater, c)
	require.NoError(t, err)
	require.NoError(t, CheckCommitment(sc, updater.Address()))

	bad, err := SignCommitment(context.Background(), impostor, c)
	require.NoError(t, err)
	err = CheckCommitment(bad, updater.Address())
	mismatch, ok := types.IsSignerMismatch(err)
	require.True(t, ok)
	assert.Equal(t, impostor.Address(), mismatch.Actual)

	// index is not covered by the signature, the domain is
	moved := sc
	moved.Index = 7
	require.NoError(t, CheckCommitment(moved, updater.Address()))
	moved.HomeDomain = 1001
	assert.Error(t, CheckCommitment(moved, updater.Address()))
}

type brokenSigner struct{}

func (brokenSigner) Address() types.Address { return types.Address{} }

func (brokenSigner) Sign(context.Context, types.Hash) (types.Signature, error) {
	return types.Signature{}, assert.AnError
}

func TestSignCommitmentWrapsSignerError(t *testing.T) {
	_, err := SignCommitment(context.Background(), brokenSigner{}, types.Commitment{})
	assert.ErrorIs(t, err, types.ErrSigner)
}

func TestFailureNotification(t *testing.T) {
	watcher, err := GenerateLocalSigner()
	require.NoError(t, err)
	n := types.FailureNotification{HomeDomain: 1000, Updater: watcher.Address()}
	sn, err := SignFailureNotification(context.Background(), watcher, n)
	require.NoError(t, err)
	addr, err := RecoverFailureNotification(sn)
	require.NoError(t, err)
	assert.Equal(t, watcher.Address(), addr)
}

func TestKeyFile(t *testing.T) {
	loc := filepath.Join(t.TempDir(), "updater.json")
	generated, err := GenerateKeyFile(loc, RoleUpdater)
	require.NoError(t, err)

	role, err := VerifyKeyFile(loc)
	require.NoError(t, err)
	assert.Equal(t, RoleUpdater, role)

	loaded, err := LoadKeyFile(loc, RoleUpdater)
	require.NoError(t, err)
	assert.Equal(t, generated.Address(), loaded.Address())

	_, err = LoadKeyFile(loc, RoleWatcher)
	assert.Error(t, err)

	_, err = GenerateKeyFile(loc, "relayer")
	assert.Error(t, err)
}
