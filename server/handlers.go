package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/blockberries/lockberry/admin"
	"github.com/blockberries/lockberry/ledger"
	"github.com/blockberries/lockberry/types"
)

const (
	headerAdminNonce     = "X-Admin-Nonce"
	headerAdminSignature = "X-Admin-Signature"

	maxBodySize = 1 << 16
)

type depositRequest struct {
	Payer  types.AccountName `json:"payer,omitempty"`
	Amount types.Amount      `json:"amount"`
	Now    *types.Timestamp  `json:"now,omitempty"`
}

type settleRequest struct {
	Relock    bool              `json:"relock"`
	Recipient types.AccountName `json:"recipient,omitempty"`
	Now       *types.Timestamp  `json:"now,omitempty"`
}

type withdrawRequest struct {
	Recipient types.AccountName `json:"recipient,omitempty"`
	Now       *types.Timestamp  `json:"now,omitempty"`
}

type depositResponse struct {
	Account   types.AccountName `json:"account"`
	Payer     types.AccountName `json:"payer"`
	Amount    types.Amount      `json:"amount"`
	MaturesAt types.Timestamp   `json:"matures_at"`
	Merged    bool              `json:"merged"`
}

type settleResponse struct {
	Account   types.AccountName `json:"account"`
	Amount    types.Amount      `json:"amount"`
	Relock    bool              `json:"relock"`
	Recipient types.AccountName `json:"recipient,omitempty"`
	Matured   []types.LockEntry `json:"matured"`
	MaturesAt types.Timestamp   `json:"matures_at,omitempty"`
}

type balancesResponse struct {
	Account types.AccountName `json:"account"`
	Now     types.Timestamp   `json:"now"`
	types.Balances
	Pending types.Amount `json:"pending"`
	Active  types.Amount `json:"active"`
}

type locksResponse struct {
	Account types.AccountName `json:"account"`
	Locks   []types.LockEntry `json:"locks"`
}

type supplyResponse struct {
	LockedSupply types.Amount `json:"locked_supply"`
}

type eventsResponse struct {
	Events    []types.Event `json:"events"`
	LastIndex uint64        `json:"last_index"`
}

type shutdownResponse struct {
	Shutdown bool `json:"shutdown"`
}

// caller returns the X-Caller of r
func caller(r *http.Request) (types.AccountName, error) {
	name := types.AccountName(r.Header.Get(headerCaller))
	if name.IsEmpty() {
		return "", ErrMissingCaller
	}
	if err := name.ValidateBasic(); err != nil {
		return "", fmt.Errorf("%w: caller: %w", ErrBadRequest, err)
	}
	return name, nil
}

// pathAccount returns the {account} route variable
func pathAccount(r *http.Request) (types.AccountName, error) {
	name := types.AccountName(mux.Vars(r)["account"])
	if err := name.ValidateBasic(); err != nil {
		return "", err
	}
	return name, nil
}

// callerFor checks that the caller is acting for account
func callerFor(r *http.Request, account types.AccountName) error {
	c, err := caller(r)
	if err != nil {
		return err
	}
	if c != account {
		return fmt.Errorf("%w: %q for %q", ErrForbidden, c, account)
	}
	return nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}

// opTime is the time a mutating request runs at. A client supplied time
// is only honored when the server allows it.
func (s *Server) opTime(now *types.Timestamp) (types.Timestamp, error) {
	if now == nil {
		return s.now(), nil
	}
	if !s.config.AllowClientTime {
		return 0, ErrClientTime
	}
	return *now, nil
}

func (s *Server) queryNow(r *http.Request) (types.Timestamp, error) {
	raw := r.URL.Query().Get("now")
	if raw == "" {
		return s.now(), nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: now: %w", ErrBadRequest, err)
	}
	return types.Timestamp(v), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.ledger.IsRunning() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Info())
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, supplyResponse{LockedSupply: s.ledger.TotalLockedSupply()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: since: %w", ErrBadRequest, err))
			return
		}
		since = v
	}
	limit := s.config.MaxEvents
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, r, fmt.Errorf("%w: limit %q", ErrBadRequest, raw))
			return
		}
		limit = min(v, limit)
	}

	journal := s.ledger.Events()
	writeJSON(w, http.StatusOK, eventsResponse{
		Events:    journal.Since(since, limit),
		LastIndex: journal.LastIndex(),
	})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	now, err := s.queryNow(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balancesResponse{
		Account:  account,
		Now:      now,
		Balances: s.ledger.Balances(account, now),
		Pending:  s.ledger.PendingAmount(account, now),
		Active:   s.ledger.ActiveBalance(account, now),
	})
}

func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, locksResponse{Account: account, Locks: s.ledger.Locks(account)})
}

// handleDeposit serves deposit and relock. The caller pays, so it must be
// the payer, which defaults to the account.
func (s *Server) handleDeposit(relock bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := pathAccount(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req depositRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		payer := req.Payer
		if payer.IsEmpty() {
			payer = account
		}
		if err := callerFor(r, payer); err != nil {
			writeError(w, r, err)
			return
		}

		now, err := s.opTime(req.Now)
		if err != nil {
			writeError(w, r, err)
			return
		}

		deposit := s.ledger.Deposit
		if relock {
			deposit = s.ledger.Relock
		}
		receipt, err := deposit(r.Context(), payer, account, req.Amount, now)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, depositResponse{
			Account:   account,
			Payer:     payer,
			Amount:    receipt.Amount,
			MaturesAt: receipt.MaturesAt,
			Merged:    receipt.Merged,
		})
	}
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := callerFor(r, account); err != nil {
		writeError(w, r, err)
		return
	}
	var req settleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	now, err := s.opTime(req.Now)
	if err != nil {
		writeError(w, r, err)
		return
	}

	st, err := s.ledger.Settle(r.Context(), account, req.Relock, req.Recipient, now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettleResponse(st, req.Recipient))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := callerFor(r, account); err != nil {
		writeError(w, r, err)
		return
	}
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	now, err := s.opTime(req.Now)
	if err != nil {
		writeError(w, r, err)
		return
	}

	st, err := s.ledger.ForcedWithdraw(r.Context(), account, req.Recipient, now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettleResponse(st, req.Recipient))
}

func newSettleResponse(st ledger.Settlement, recipient types.AccountName) settleResponse {
	resp := settleResponse{
		Account: st.Account,
		Amount:  st.Amount,
		Relock:  st.Relock,
		Matured: st.Matured,
	}
	if st.Relocked != nil {
		resp.MaturesAt = st.Relocked.MaturesAt
	} else if recipient.IsEmpty() {
		resp.Recipient = st.Account
	} else {
		resp.Recipient = recipient
	}
	return resp
}

// handleShutdown builds an admin request from the caller and the optional
// signature headers
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req := admin.Request{Caller: c, Action: admin.ActionShutdown}

	if raw := r.Header.Get(headerAdminNonce); raw != "" {
		nonce, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: nonce: %w", ErrBadRequest, err))
			return
		}
		req.Nonce = nonce
	}
	if raw := r.Header.Get(headerAdminSignature); raw != "" {
		sig, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: signature: %w", ErrBadRequest, err))
			return
		}
		req.Signature = sig
	}

	var at *types.Timestamp
	if r.URL.Query().Has("now") {
		v, err := s.queryNow(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		at = &v
	}
	now, err := s.opTime(at)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.Shutdown(r.Context(), req, now); err != nil {
		writeError(w, r, err)
		return
	}
	s.logger.WithFields(logrus.Fields{
		"caller":     c,
		"request_id": requestID(r.Context()),
	}).Warn("shutdown requested over HTTP")
	writeJSON(w, http.StatusOK, shutdownResponse{Shutdown: true})
}
