// Package challenge holds short-lived WebAuthn ceremony challenges keyed by
// namespace and subject. At most one live record exists per key; a newer
// Put replaces the previous one.
package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// TTL is how long a stored challenge stays valid, for every namespace.
const TTL = 300 * time.Second

type Namespace string

const (
	NamespaceRegistration   Namespace = "registration"
	NamespaceAuthentication Namespace = "authentication"
	NamespacePasswordless   Namespace = "passwordless"
)

var (
	ErrNotFound = errors.New("challenge not found")
	ErrEmptyKey = errors.New("challenge subject key is empty")
)

// Record is one pending ceremony. Session is the serialized verifier state
// the finish step needs; Auxiliary carries caller data across the ceremony.
type Record struct {
	Challenge string          `json:"challenge"`
	Auxiliary string          `json:"auxiliary,omitempty"`
	Session   json.RawMessage `json:"session"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Store is an expiring key/value store for challenges. Get returns
// ErrNotFound for both missing and expired records.
type Store interface {
	Put(ctx context.Context, ns Namespace, subjectKey string, rec Record, ttl time.Duration) error
	Get(ctx context.Context, ns Namespace, subjectKey string) (*Record, error)
	Delete(ctx context.Context, ns Namespace, subjectKey string) error
}

func validate(ns Namespace, subjectKey string) error {
	if subjectKey == "" {
		return ErrEmptyKey
	}
	switch ns {
	case NamespaceRegistration, NamespaceAuthentication, NamespacePasswordless:
		return nil
	}
	return errors.New("unknown challenge namespace: " + string(ns))
}
