package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/blockberries/lockberry/admin"
	"github.com/blockberries/lockberry/custody"
	"github.com/blockberries/lockberry/store"
	"github.com/blockberries/lockberry/types"
	"github.com/blockberries/lockberry/wal"
)

const day types.Timestamp = 86400

var (
	alice    = types.AccountName("alice")
	bob      = types.AccountName("bob")
	treasury = types.AccountName("treasury")
)

// memWAL numbers and keeps records in memory
type memWAL struct {
	wal.NopWAL

	mu      sync.Mutex
	fail    bool
	records []*wal.Record
}

func (w *memWAL) Write(rec *wal.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("disk full")
	}
	if err := w.NopWAL.Write(rec); err != nil {
		return err
	}
	w.records = append(w.records, rec)
	return nil
}

func (w *memWAL) WriteSync(rec *wal.Record) error { return w.Write(rec) }

func (w *memWAL) setFail(fail bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fail = fail
}

func (w *memWAL) kinds() []wal.RecordType {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]wal.RecordType, len(w.records))
	for i, r := range w.records {
		out[i] = r.Type
	}
	return out
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.SnapshotInterval = 0
	cfg.Admins = []types.AccountName{treasury}
	return cfg
}

func newTestEngine(t *testing.T, c custody.Custody, w wal.WAL, st SnapshotStore) *Engine {
	t.Helper()
	e, err := NewEngine(testConfig(), c, w, st, nil)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	return e
}

func fundedVault(t *testing.T) *custody.Vault {
	t.Helper()
	v := custody.NewVault()
	require.NoError(t, v.Mint(alice, 10_000))
	require.NoError(t, v.Mint(bob, 10_000))
	return v
}

func TestEngineLifecycle(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(testConfig(), custody.NewVault(), nil, nil, nil)
	require.NoError(t, err)

	_, err = e.Deposit(ctx, "", alice, 1, 0)
	require.ErrorIs(t, err, ErrNotStarted)
	require.ErrorIs(t, e.Stop(ctx), ErrNotStarted)

	require.NoError(t, e.Start(ctx))
	require.True(t, e.IsRunning())
	require.ErrorIs(t, e.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, e.Stop(ctx))
	require.False(t, e.IsRunning())
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.LockDuration = cfg.EpochLength + 1
	_, err := NewEngine(cfg, custody.NewVault(), nil, nil, nil)
	require.Error(t, err)
}

// Walks the lock schedule of a single account through a full cycle:
// deposit, merge, maturity, withdraw, and a relocking settle.
func TestEngineLockScenario(t *testing.T) {
	ctx := context.Background()
	v := fundedVault(t)
	e := newTestEngine(t, v, nil, nil)

	r, err := e.Deposit(ctx, "", alice, 1000, 0)
	require.NoError(t, err)
	require.Equal(t, 119*day, r.MaturesAt)
	assert.Equal(t, types.Amount(1000), e.PendingAmount(alice, 0))
	assert.Equal(t, types.Amount(0), e.ActiveBalance(alice, 0))

	r, err = e.Deposit(ctx, "", alice, 500, 3*day)
	require.NoError(t, err)
	require.True(t, r.Merged)
	require.Equal(t, []types.LockEntry{{Amount: 1500, MaturesAt: 119 * day}}, e.Locks(alice))
	assert.Equal(t, types.Amount(1500), e.Balances(alice, 3*day).Total)

	assert.Equal(t, types.Amount(0), e.PendingAmount(alice, 7*day))
	assert.Equal(t, types.Amount(1500), e.ActiveBalance(alice, 7*day))

	bal := e.Balances(alice, 119*day)
	assert.Equal(t, types.Balances{Total: 1500, Locked: 0, Unlockable: 1500}, bal)

	s, err := e.Settle(ctx, alice, false, "", 119*day)
	require.NoError(t, err)
	require.Equal(t, types.Amount(1500), s.Amount)
	assert.Equal(t, types.Amount(10_000), v.BalanceOf(alice))
	assert.Equal(t, types.Amount(0), e.Balances(alice, 119*day).Total)
	assert.Equal(t, types.Amount(0), e.TotalLockedSupply())

	// Repeat and relock
	start := 126 * day
	_, err = e.Deposit(ctx, "", alice, 1000, start)
	require.NoError(t, err)
	_, err = e.Deposit(ctx, "", alice, 500, start)
	require.NoError(t, err)
	matured := start + 119*day
	supply := e.TotalLockedSupply()
	held := v.Held()

	s, err = e.Settle(ctx, alice, true, "", matured)
	require.NoError(t, err)
	require.NotNil(t, s.Relocked)
	assert.Equal(t, supply, e.TotalLockedSupply())
	assert.Equal(t, held, v.Held())
	assert.Equal(t, []types.LockEntry{{Amount: 1500, MaturesAt: e.Clock().MaturityFor(matured)}}, e.Locks(alice))
}

func TestEngineDepositOnBehalf(t *testing.T) {
	ctx := context.Background()
	v := fundedVault(t)
	w := &memWAL{}
	e := newTestEngine(t, v, w, nil)

	_, err := e.Relock(ctx, bob, alice, 300, 0)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(9_700), v.BalanceOf(bob))
	assert.Equal(t, types.Amount(10_000), v.BalanceOf(alice))
	assert.Equal(t, types.Amount(300), e.Balances(alice, 0).Total)

	require.Len(t, w.records, 1)
	rec := w.records[0]
	assert.Equal(t, wal.RecordDeposit, rec.Type)
	assert.Equal(t, bob, rec.Payer)
	assert.Equal(t, alice, rec.Account)
	assert.True(t, rec.External)

	evs := e.Events().Since(0, 0)
	require.Len(t, evs, 2)
	assert.Equal(t, types.EventDeposited, evs[0].Kind)
	assert.Equal(t, types.EventRelocked, evs[1].Kind)
}

func TestEngineDepositRejections(t *testing.T) {
	ctx := context.Background()
	v := fundedVault(t)
	e := newTestEngine(t, v, nil, nil)

	_, err := e.Deposit(ctx, "", alice, 0, 0)
	require.ErrorIs(t, err, types.ErrZeroAmount)

	_, err = e.Deposit(ctx, "", "", 10, 0)
	require.ErrorIs(t, err, types.ErrInvalidAccount)

	_, err = e.Deposit(ctx, "", alice, 50_000, 0)
	require.ErrorIs(t, err, types.ErrTransferFailed)
	assert.Equal(t, types.Amount(0), e.TotalLockedSupply())
	assert.Empty(t, e.Locks(alice))

	_, err = e.Deposit(ctx, "", alice, 10, 10*day)
	require.NoError(t, err)
	_, err = e.Deposit(ctx, "", alice, 10, 2*day)
	require.ErrorIs(t, err, types.ErrTimeRegression)
	assert.Equal(t, types.Amount(9_990), v.BalanceOf(alice))
}

func TestEngineDepositWALFailureRefunds(t *testing.T) {
	ctx := context.Background()
	v := fundedVault(t)
	w := &memWAL{}
	e := newTestEngine(t, v, w, nil)

	w.setFail(true)
	_, err := e.Deposit(ctx, "", alice, 100, 0)
	require.ErrorIs(t, err, ErrWALWrite)

	assert.Equal(t, types.Amount(10_000), v.BalanceOf(alice))
	assert.Equal(t, types.Amount(0), v.Held())
	assert.Equal(t, types.Amount(0), e.TotalLockedSupply())
	assert.Empty(t, e.Locks(alice))
	assert.Equal(t, uint64(0), e.Events().LastIndex())
}

func TestEngineSettlePushFailureReverts(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	c := custody.NewMockCustody(ctrl)
	w := &memWAL{}
	e := newTestEngine(t, c, w, nil)

	pushErr := custody.TransferError("push", alice, 400, custody.ErrInsufficientFunds)
	gomock.InOrder(
		c.EXPECT().Pull(gomock.Any(), alice, types.Amount(400)).Return(nil),
		c.EXPECT().Push(gomock.Any(), bob, types.Amount(400)).Return(pushErr),
	)

	_, err := e.Deposit(ctx, "", alice, 400, 0)
	require.NoError(t, err)
	before := e.Locks(alice)

	_, err = e.Settle(ctx, alice, false, bob, 200*day)
	require.ErrorIs(t, err, types.ErrTransferFailed)

	assert.Equal(t, before, e.Locks(alice))
	assert.Equal(t, types.Amount(400), e.TotalLockedSupply())
	require.Equal(t, []wal.RecordType{wal.RecordDeposit, wal.RecordSettle, wal.RecordSettleReverted}, w.kinds())
	assert.Equal(t, w.records[1].Seq, w.records[2].Ref)
}

func TestEngineSettleWALFailureUndoes(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	c := custody.NewMockCustody(ctrl)
	w := &memWAL{}
	e := newTestEngine(t, c, w, nil)

	c.EXPECT().Pull(gomock.Any(), alice, types.Amount(400)).Return(nil)
	_, err := e.Deposit(ctx, "", alice, 400, 0)
	require.NoError(t, err)

	// Push must not be called
	w.setFail(true)
	_, err = e.Settle(ctx, alice, false, "", 200*day)
	require.ErrorIs(t, err, ErrWALWrite)
	assert.Equal(t, types.Amount(400), e.TotalLockedSupply())
	assert.Len(t, e.Locks(alice), 1)
}

func TestEngineNothingToSettleIsNoop(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, fundedVault(t), nil, nil)

	_, err := e.Settle(ctx, alice, false, "", 0)
	require.ErrorIs(t, err, types.ErrNothingToSettle)

	_, err = e.Deposit(ctx, "", alice, 100, 0)
	require.NoError(t, err)
	before := e.Locks(alice)

	_, err = e.Settle(ctx, alice, true, "", 10*day)
	require.ErrorIs(t, err, types.ErrNothingToSettle)
	assert.Equal(t, before, e.Locks(alice))
	assert.Equal(t, types.Amount(100), e.TotalLockedSupply())
	assert.False(t, e.IsShutdown())
}

func TestEngineShutdown(t *testing.T) {
	ctx := context.Background()
	v := fundedVault(t)
	w := &memWAL{}
	e := newTestEngine(t, v, w, nil)

	_, err := e.Deposit(ctx, "", alice, 100, 0)
	require.NoError(t, err)
	_, err = e.Deposit(ctx, "", bob, 200, 8*day)
	require.NoError(t, err)

	_, err = e.ForcedWithdraw(ctx, alice, "", day)
	require.ErrorIs(t, err, types.ErrUnauthorized)

	err = e.Shutdown(ctx, admin.Request{Caller: alice}, day)
	require.ErrorIs(t, err, types.ErrUnauthorized)
	require.False(t, e.IsShutdown())

	require.NoError(t, e.Shutdown(ctx, admin.Request{Caller: treasury}, 9*day))
	require.True(t, e.IsShutdown())
	require.ErrorIs(t, e.Shutdown(ctx, admin.Request{Caller: treasury}, 9*day), types.ErrAlreadyShutdown)

	_, err = e.Deposit(ctx, "", alice, 1, 9*day)
	require.ErrorIs(t, err, types.ErrShutdown)
	_, err = e.Settle(ctx, bob, true, "", 9*day)
	require.ErrorIs(t, err, types.ErrShutdown)

	for _, acct := range []types.AccountName{alice, bob} {
		bal := e.Balances(acct, 9*day)
		assert.Equal(t, bal.Total, bal.Unlockable)
	}

	s, err := e.ForcedWithdraw(ctx, bob, "", 9*day)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(200), s.Amount)
	assert.Equal(t, types.Amount(10_000), v.BalanceOf(bob))
	assert.Equal(t, types.Amount(100), e.TotalLockedSupply())

	assert.Contains(t, w.kinds(), wal.RecordShutdown)
	assert.True(t, e.Info().Shutdown)
}

func TestEngineShutdownWithSignedRequest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	signer, err := admin.GenerateFileSigner(filepath.Join(dir, "key.json"), filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	defer signer.Close()

	cfg := testConfig()
	keys := admin.NewKeyAuthorizer(cfg.AdminDomain)
	require.NoError(t, keys.Register("ops", signer.GetPubKey()))

	e, err := NewEngine(cfg, fundedVault(t), nil, nil, keys)
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx))

	req := admin.Request{Caller: "ops", Action: admin.ActionShutdown}
	require.NoError(t, signer.Sign(e.AdminDomain(), &req))

	forged := req
	forged.Signature = append([]byte(nil), req.Signature...)
	forged.Signature[0] ^= 0xff
	require.ErrorIs(t, e.Shutdown(ctx, forged, 0), types.ErrUnauthorized)

	require.NoError(t, e.Shutdown(ctx, req, 0))
	require.True(t, e.IsShutdown())
}

func TestEngineConcurrentDeposits(t *testing.T) {
	ctx := context.Background()
	v := custody.NewVault()
	accounts := []types.AccountName{"a", "b", "c", "d"}
	for _, a := range accounts {
		require.NoError(t, v.Mint(a, 1_000))
	}
	e := newTestEngine(t, v, &memWAL{}, nil)

	var wg sync.WaitGroup
	for _, a := range accounts {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(a types.AccountName) {
				defer wg.Done()
				_, err := e.Deposit(ctx, "", a, 10, 0)
				assert.NoError(t, err)
			}(a)
		}
	}
	wg.Wait()

	assert.Equal(t, types.Amount(400), e.TotalLockedSupply())
	for _, a := range accounts {
		assert.Equal(t, []types.LockEntry{{Amount: 100, MaturesAt: 119 * day}}, e.Locks(a))
	}
}

func TestEngineMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	e, err := NewEngine(testConfig(), fundedVault(t), nil, nil, nil)
	require.NoError(t, err)
	e.SetMetrics(m)
	require.NoError(t, e.Start(ctx))

	_, err = e.Deposit(ctx, "", alice, 250, 0)
	require.NoError(t, err)
	_, err = e.Deposit(ctx, "", alice, 0, 0)
	require.Error(t, err)

	assert.Equal(t, 250.0, testutil.ToFloat64(m.lockedSupply))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.accounts))
	assert.Equal(t, 250.0, testutil.ToFloat64(m.deposited))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("deposit", resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("deposit", resultError)))

	_, err = e.Settle(ctx, alice, false, "", 200*day)
	require.NoError(t, err)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.lockedSupply))
	assert.Equal(t, 250.0, testutil.ToFloat64(m.settled.WithLabelValues("false")))
}

func TestEngineSnapshotInterval(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer st.Close()

	cfg := testConfig()
	cfg.SnapshotInterval = 2
	e, err := NewEngine(cfg, fundedVault(t), &memWAL{}, st, nil)
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx))

	_, err = e.Deposit(ctx, "", alice, 10, 0)
	require.NoError(t, err)
	_, found, err := st.Load(ctx)
	require.NoError(t, err)
	require.False(t, found)

	_, err = e.Deposit(ctx, "", bob, 20, 0)
	require.NoError(t, err)
	snap, found, err := st.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.Amount(30), snap.Ledger.LockedSupply)
	assert.Equal(t, uint64(2), snap.LastSeq)
}
