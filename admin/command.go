package admin

import (
	"errors"

	"github.com/blockberries/lockberry/types"
)

// Errors
var (
	ErrNonceRegression  = errors.New("nonce regression")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrUnknownAdmin     = errors.New("unknown admin")
	ErrSignerLocked     = errors.New("admin key is in use by another process")
)

// Action names a privileged operation
type Action string

const (
	ActionShutdown Action = "shutdown"
)

// Request is a privileged call as seen by an Authorizer.
// Nonce and Signature are only consulted by KeyAuthorizer.
type Request struct {
	Caller    types.AccountName `json:"caller"`
	Action    Action            `json:"action"`
	Nonce     uint64            `json:"nonce,omitempty"`
	Signature []byte            `json:"signature,omitempty"`
}

// signPayload is the canonical form that gets signed
type signPayload struct {
	Domain string `codec:"domain"`
	Caller string `codec:"caller"`
	Action string `codec:"action"`
	Nonce  uint64 `codec:"nonce"`
}

// SignBytes returns the bytes an admin signs for req under domain
func SignBytes(domain string, req Request) []byte {
	b, err := types.Encode(signPayload{
		Domain: domain,
		Caller: req.Caller.String(),
		Action: string(req.Action),
		Nonce:  req.Nonce,
	})
	if err != nil {
		// plain struct of strings and integers
		panic(err)
	}
	return b
}

// Authorizer decides whether a privileged request may proceed.
// Implementations return an error wrapping types.ErrUnauthorized on refusal.
type Authorizer interface {
	Authorize(req Request) error
}
