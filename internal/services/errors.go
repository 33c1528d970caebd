package services

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound              = errors.New("user not found")
	ErrNoPasskeys                = errors.New("no passkeys found for this user")
	ErrPasskeyNotFound           = errors.New("passkey not found")
	ErrNoRegistrationChallenge   = errors.New("no registration challenge found")
	ErrNoAuthenticationChallenge = errors.New("no authentication challenge found")
	ErrSessionRequired           = errors.New("session uuid is required")

	// ErrVerificationFailed covers attestation and assertion checks that did
	// not pass.
	ErrVerificationFailed = errors.New("passkey verification failed")

	// ErrReplayDetected is a non-increasing signature counter. It is always
	// returned wrapped in ErrAuthenticationFailed.
	ErrReplayDetected = errors.New("signature counter did not increase")

	ErrAuthenticationFailed = errors.New("authentication failed")
)

// PasskeyError records which step of a ceremony failed.
type PasskeyError struct {
	Op  string
	Err error
}

func (e *PasskeyError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *PasskeyError) Unwrap() error {
	return e.Err
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PasskeyError{Op: op, Err: err}
}

// IsNotFound reports a missing user, credential or challenge.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrNoPasskeys) ||
		errors.Is(err, ErrPasskeyNotFound) ||
		errors.Is(err, ErrNoRegistrationChallenge) ||
		errors.Is(err, ErrNoAuthenticationChallenge)
}

// IsVerificationFailed reports a failed cryptographic check, replays included.
func IsVerificationFailed(err error) bool {
	return errors.Is(err, ErrVerificationFailed) || errors.Is(err, ErrReplayDetected)
}
