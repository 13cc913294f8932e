package admin

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/algorand/go-deadlock"

	"github.com/blockberries/lockberry/types"
)

// StaticAuthorizer admits a fixed set of caller names
type StaticAuthorizer struct {
	admins map[types.AccountName]struct{}
}

// NewStaticAuthorizer creates an authorizer admitting names
func NewStaticAuthorizer(names ...types.AccountName) *StaticAuthorizer {
	a := &StaticAuthorizer{admins: make(map[types.AccountName]struct{}, len(names))}
	for _, n := range names {
		if !n.IsEmpty() {
			a.admins[n] = struct{}{}
		}
	}
	return a
}

// IsAdmin reports whether name is in the admin set
func (a *StaticAuthorizer) IsAdmin(name types.AccountName) bool {
	_, ok := a.admins[name]
	return ok
}

// Authorize implements Authorizer
func (a *StaticAuthorizer) Authorize(req Request) error {
	if !a.IsAdmin(req.Caller) {
		return fmt.Errorf("%w: %q may not %s", types.ErrUnauthorized, req.Caller, req.Action)
	}
	return nil
}

// KeyAuthorizer admits requests signed by a registered admin key with a fresh nonce
type KeyAuthorizer struct {
	mu     deadlock.Mutex
	domain string
	keys   map[types.AccountName]ed25519.PublicKey
	nonces map[types.AccountName]uint64
}

// NewKeyAuthorizer creates an authorizer verifying signatures under domain
func NewKeyAuthorizer(domain string) *KeyAuthorizer {
	return &KeyAuthorizer{
		domain: domain,
		keys:   make(map[types.AccountName]ed25519.PublicKey),
		nonces: make(map[types.AccountName]uint64),
	}
}

// Register adds or replaces the public key of an admin
func (a *KeyAuthorizer) Register(name types.AccountName, pubKey ed25519.PublicKey) error {
	if len(pubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key size %d", len(pubKey))
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	key := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(key, pubKey)
	a.keys[name] = key
	return nil
}

// LastNonce returns the highest nonce accepted from name
func (a *KeyAuthorizer) LastNonce(name types.AccountName) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nonces[name]
}

// Authorize implements Authorizer. A successful call consumes the nonce.
func (a *KeyAuthorizer) Authorize(req Request) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key, ok := a.keys[req.Caller]
	if !ok {
		return fmt.Errorf("%w: %w %q", types.ErrUnauthorized, ErrUnknownAdmin, req.Caller)
	}
	if req.Nonce <= a.nonces[req.Caller] {
		return fmt.Errorf("%w: %w (%d <= %d)", types.ErrUnauthorized, ErrNonceRegression, req.Nonce, a.nonces[req.Caller])
	}
	if len(req.Signature) != ed25519.SignatureSize || !ed25519.Verify(key, SignBytes(a.domain, req), req.Signature) {
		return fmt.Errorf("%w: %w", types.ErrUnauthorized, ErrInvalidSignature)
	}

	a.nonces[req.Caller] = req.Nonce
	return nil
}

// Chain admits a request if any member admits it
type Chain []Authorizer

// Authorize implements Authorizer
func (c Chain) Authorize(req Request) error {
	var errs []error
	for _, a := range c {
		if a == nil {
			continue
		}
		err := a.Authorize(req)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return fmt.Errorf("%w: no authorizer configured", types.ErrUnauthorized)
	}
	return errors.Join(errs...)
}

// Ensure implementations satisfy Authorizer
var (
	_ Authorizer = (*StaticAuthorizer)(nil)
	_ Authorizer = (*KeyAuthorizer)(nil)
	_ Authorizer = Chain(nil)
)
