// Package server exposes the lock ledger over HTTP.
//
// Routes are served by a gorilla/mux router under /v1. The caller of a request
// is the opaque name in the X-Caller header; the server trusts whatever sits in
// front of it to have authenticated that name. Mutations require the caller to
// be the paying account (deposit, relock) or the account itself (settle,
// withdraw). Shutdown is admitted by the engine's admin authorizer, which
// accepts configured admin names or a request signed with a registered key
// (X-Admin-Nonce and X-Admin-Signature headers).
//
// Mutations run at the server clock. A "now" in a mutating request is refused
// unless Config.AllowClientTime is set; read queries may pass ?now= freely.
//
// Every response carries an X-Request-ID. Requests are rate limited per
// remote host and counted in Prometheus, which is served at /metrics.
package server
