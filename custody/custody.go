// Package custody defines the asset-custody collaborator the ledger moves value
// through, plus an in-memory vault used by the daemon's dev mode and by tests.
//
// Pull moves value from a holder into custody when it is locked. Push moves
// value out of custody to a recipient when matured value is withdrawn. Both
// are synchronous; any failure must be reported as an error wrapping
// types.ErrTransferFailed so the caller can abort the whole operation.
package custody

//go:generate mockgen -destination=mock_custody.go -package=custody . Custody

import (
	"context"
	"errors"
	"fmt"

	"github.com/algorand/go-deadlock"

	"github.com/blockberries/lockberry/types"
)

// Errors
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrVaultClosed       = errors.New("vault closed")
	ErrVaultInUse        = errors.New("vault already holds value")
)

// Custody moves the locked asset in and out of custody
type Custody interface {
	// Pull takes amount from holder into custody
	Pull(ctx context.Context, from types.AccountName, amount types.Amount) error

	// Push releases amount from custody to recipient
	Push(ctx context.Context, to types.AccountName, amount types.Amount) error
}

// TransferError wraps a custody failure with the direction and parties
func TransferError(op string, who types.AccountName, amount types.Amount, cause error) error {
	return fmt.Errorf("%w: %s %s %s: %w", types.ErrTransferFailed, op, amount, who, cause)
}

// Vault is an in-memory custody implementation holding plain balances
type Vault struct {
	mu       deadlock.Mutex
	balances map[types.AccountName]types.Amount
	held     types.Amount
	closed   bool
}

// NewVault creates an empty vault
func NewVault() *Vault {
	return &Vault{balances: make(map[types.AccountName]types.Amount)}
}

// Mint credits holder with amount outside of custody
func (v *Vault) Mint(holder types.AccountName, amount types.Amount) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	next, err := types.SafeAdd(v.balances[holder], amount)
	if err != nil {
		return err
	}
	v.balances[holder] = next
	return nil
}

// BalanceOf returns holder's balance outside of custody
func (v *Vault) BalanceOf(holder types.AccountName) types.Amount {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[holder]
}

// Held returns the amount currently in custody
func (v *Vault) Held() types.Amount {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.held
}

// Restore sets the amount in custody for a vault rebuilt next to a
// recovered ledger. held is the ledger's locked supply.
func (v *Vault) Restore(held types.Amount) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.held != 0 {
		return fmt.Errorf("%w: %s", ErrVaultInUse, v.held)
	}
	v.held = held
	return nil
}

// Close makes every later transfer fail
func (v *Vault) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
}

// Pull implements Custody
func (v *Vault) Pull(ctx context.Context, from types.AccountName, amount types.Amount) error {
	if err := ctx.Err(); err != nil {
		return TransferError("pull", from, amount, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return TransferError("pull", from, amount, ErrVaultClosed)
	}
	if v.balances[from] < amount {
		return TransferError("pull", from, amount, ErrInsufficientFunds)
	}
	held, err := types.SafeAdd(v.held, amount)
	if err != nil {
		return TransferError("pull", from, amount, err)
	}
	v.balances[from] -= amount
	v.held = held
	return nil
}

// Push implements Custody
func (v *Vault) Push(ctx context.Context, to types.AccountName, amount types.Amount) error {
	if err := ctx.Err(); err != nil {
		return TransferError("push", to, amount, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return TransferError("push", to, amount, ErrVaultClosed)
	}
	if v.held < amount {
		return TransferError("push", to, amount, ErrInsufficientFunds)
	}
	credited, err := types.SafeAdd(v.balances[to], amount)
	if err != nil {
		return TransferError("push", to, amount, err)
	}
	v.held -= amount
	v.balances[to] = credited
	return nil
}

// Ensure Vault implements Custody
var _ Custody = (*Vault)(nil)
