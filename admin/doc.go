// Package admin decides which callers may perform privileged ledger actions.
//
// # Authorizers
//
// StaticAuthorizer: A fixed set of admin account names. The boundary layer
// has already authenticated the caller; this only checks membership.
//
// KeyAuthorizer: Admin commands signed with an Ed25519 key. Each admin has a
// registered public key and a strictly increasing nonce, so a captured
// command cannot be replayed.
//
// Chain: Accepts a request if any member authorizer accepts it.
//
// # Signing
//
// FileSigner keeps the admin key and the last used nonce on disk, the same
// way a validator keeps its key and last-sign state. It refuses to sign a
// nonce that is not above the persisted one. The key file is locked while a
// FileSigner is open so two processes cannot sign with the same key.
//
// # Usage Example
//
//	signer, err := admin.NewFileSigner("admin_key.json", "admin_state.json")
//	if err != nil {
//	    return err
//	}
//	defer signer.Close()
//
//	req := admin.Request{Caller: "ops", Action: admin.ActionShutdown}
//	if err := signer.Sign("lockberry-mainnet", &req); err != nil {
//	    return err
//	}
//
//	auth := admin.NewKeyAuthorizer("lockberry-mainnet")
//	auth.Register("ops", signer.GetPubKey())
//	err = auth.Authorize(req)
package admin
