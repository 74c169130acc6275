package types

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrTransientRPC marks chain errors worth retrying.
	ErrTransientRPC = errors.New("transient rpc error")
	// ErrSigner is a signing backend failure. It stops the updater.
	ErrSigner = errors.New("signer error")
	// ErrFraudDetected is returned for any submission on a pair whose fraud flag is set.
	ErrFraudDetected = errors.New("fraud detected")
	// ErrProofMismatch means a proof does not fold to the confirmed root.
	ErrProofMismatch = errors.New("proof mismatch")
	// ErrStale is a chain rejection of something already submitted or processed.
	ErrStale    = errors.New("stale submission")
	ErrNotFound = errors.New("not found")
)

// SignerMismatchError is a correctly formed signature by a key other than the trusted updater.
type SignerMismatchError struct {
	Expected Address
	Actual   Address
}

func (e *SignerMismatchError) Error() string {
	return fmt.Sprintf("signer mismatch: expected %s, recovered %s", e.Expected, e.Actual)
}

// ExecutionRevertedError is a replica rejecting a message execution.
type ExecutionRevertedError struct {
	Reason string
}

func (e *ExecutionRevertedError) Error() string {
	return "execution reverted: " + e.Reason
}

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err}
}

type transientError struct{ cause error }

func (e *transientError) Error() string { return ErrTransientRPC.Error() + ": " + e.cause.Error() }
func (e *transientError) Unwrap() error { return e.cause }
func (e *transientError) Is(target error) bool { return target == ErrTransientRPC }

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientRPC)
}

func Reverted(reason string) error {
	return &ExecutionRevertedError{Reason: reason}
}

func IsReverted(err error) (*ExecutionRevertedError, bool) {
	var reverted *ExecutionRevertedError
	if errors.As(err, &reverted) {
		return reverted, true
	}
	return nil, false
}

func IsSignerMismatch(err error) (*SignerMismatchError, bool) {
	var mismatch *SignerMismatchError
	if errors.As(err, &mismatch) {
		return mismatch, true
	}
	return nil, false
}
