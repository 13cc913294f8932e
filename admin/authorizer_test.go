package admin

import (
	"errors"
	"testing"

	"github.com/blockberries/lockberry/types"
)

func TestStaticAuthorizer(t *testing.T) {
	a := NewStaticAuthorizer("root", "", "ops")

	if !a.IsAdmin("root") || !a.IsAdmin("ops") {
		t.Fatal("configured names should be admins")
	}
	if a.IsAdmin("") {
		t.Fatal("empty name must not be an admin")
	}

	if err := a.Authorize(Request{Caller: "root", Action: ActionShutdown}); err != nil {
		t.Fatalf("admin refused: %v", err)
	}
	err := a.Authorize(Request{Caller: "mallory", Action: ActionShutdown})
	if !errors.Is(err, types.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func newKeyFixture(t *testing.T) (*FileSigner, *KeyAuthorizer) {
	t.Helper()
	keyPath, statePath := signerPaths(t)
	s, err := GenerateFileSigner(keyPath, statePath)
	if err != nil {
		t.Fatalf("failed to generate signer: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	a := NewKeyAuthorizer("lockberry-test")
	if err := a.Register("ops", s.GetPubKey()); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return s, a
}

func TestKeyAuthorizerAccepts(t *testing.T) {
	s, a := newKeyFixture(t)

	req := Request{Caller: "ops", Action: ActionShutdown}
	if err := s.Sign("lockberry-test", &req); err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if err := a.Authorize(req); err != nil {
		t.Fatalf("valid request refused: %v", err)
	}
	if a.LastNonce("ops") != req.Nonce {
		t.Errorf("expected nonce %d consumed, got %d", req.Nonce, a.LastNonce("ops"))
	}
}

func TestKeyAuthorizerReplay(t *testing.T) {
	s, a := newKeyFixture(t)

	req := Request{Caller: "ops", Action: ActionShutdown}
	if err := s.Sign("lockberry-test", &req); err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if err := a.Authorize(req); err != nil {
		t.Fatalf("valid request refused: %v", err)
	}

	err := a.Authorize(req)
	if !errors.Is(err, types.ErrUnauthorized) || !errors.Is(err, ErrNonceRegression) {
		t.Fatalf("expected replay refusal, got %v", err)
	}
}

func TestKeyAuthorizerRejectsTampering(t *testing.T) {
	s, a := newKeyFixture(t)

	tests := []struct {
		name   string
		mutate func(r *Request)
		want   error
	}{
		{"other action", func(r *Request) { r.Action = Action("rotate_keys") }, ErrInvalidSignature},
		{"bumped nonce", func(r *Request) { r.Nonce++ }, ErrInvalidSignature},
		{"unknown caller", func(r *Request) { r.Caller = "mallory" }, ErrUnknownAdmin},
		{"truncated signature", func(r *Request) { r.Signature = r.Signature[:10] }, ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{Caller: "ops", Action: ActionShutdown}
			if err := s.Sign("lockberry-test", &req); err != nil {
				t.Fatalf("sign failed: %v", err)
			}
			tt.mutate(&req)
			err := a.Authorize(req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestKeyAuthorizerDomainSeparation(t *testing.T) {
	s, a := newKeyFixture(t)

	req := Request{Caller: "ops", Action: ActionShutdown}
	if err := s.Sign("other-network", &req); err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if err := a.Authorize(req); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestChain(t *testing.T) {
	s, keys := newKeyFixture(t)
	chain := Chain{NewStaticAuthorizer("root"), keys}

	if err := chain.Authorize(Request{Caller: "root", Action: ActionShutdown}); err != nil {
		t.Fatalf("static admin refused: %v", err)
	}

	req := Request{Caller: "ops", Action: ActionShutdown}
	if err := s.Sign("lockberry-test", &req); err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if err := chain.Authorize(req); err != nil {
		t.Fatalf("key admin refused: %v", err)
	}

	if err := chain.Authorize(Request{Caller: "mallory"}); !errors.Is(err, types.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := (Chain{}).Authorize(Request{Caller: "root"}); !errors.Is(err, types.ErrUnauthorized) {
		t.Fatalf("empty chain should refuse, got %v", err)
	}
}
