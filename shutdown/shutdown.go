// Package shutdown holds the ledger's one-way shutdown flag.
//
// Raising the flag is restricted to callers admitted by an admin.Authorizer
// and can happen only once. It moves no value by itself: the ledger reads
// every bucket as matured from then on, deposits and relocks are refused, and
// the forced withdrawal path opens.
package shutdown

import (
	"fmt"
	"sync/atomic"

	"github.com/algorand/go-deadlock"

	"github.com/blockberries/lockberry/admin"
	"github.com/blockberries/lockberry/types"
)

// Controller owns the shutdown flag. It satisfies ledger.ShutdownFlag.
type Controller struct {
	mu   deadlock.Mutex
	flag atomic.Bool
	auth admin.Authorizer
}

// New creates a controller whose Shutdown is gated by auth.
// A nil auth refuses every caller.
func New(auth admin.Authorizer) *Controller {
	if auth == nil {
		auth = admin.Chain{}
	}
	return &Controller{auth: auth}
}

// IsShutdown reports whether the flag is raised
func (c *Controller) IsShutdown() bool {
	return c.flag.Load()
}

// Authorize checks req against the controller's authorizer without raising the flag
func (c *Controller) Authorize(req admin.Request) error {
	return c.auth.Authorize(req)
}

// Shutdown raises the flag on behalf of req
func (c *Controller) Shutdown(req admin.Request) error {
	return c.ShutdownWith(req, nil)
}

// ShutdownWith raises the flag after commit succeeds. commit runs with the
// controller locked, after authorization and the already-shut-down check, so
// the caller can make the transition durable first. A commit error leaves the
// flag down.
func (c *Controller) ShutdownWith(req admin.Request, commit func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.Action == "" {
		req.Action = admin.ActionShutdown
	}
	if req.Action != admin.ActionShutdown {
		return fmt.Errorf("%w: action %q is not shutdown", types.ErrUnauthorized, req.Action)
	}
	if err := c.auth.Authorize(req); err != nil {
		return err
	}
	if c.flag.Load() {
		return types.ErrAlreadyShutdown
	}
	if commit != nil {
		if err := commit(); err != nil {
			return err
		}
	}
	c.flag.Store(true)
	return nil
}

// Restore sets the flag from recovered state. It can only raise the flag.
func (c *Controller) Restore(shut bool) {
	if shut {
		c.flag.Store(true)
	}
}
