package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/blockberries/lockberry/admin"
	"github.com/blockberries/lockberry/engine"
	"github.com/blockberries/lockberry/events"
	"github.com/blockberries/lockberry/ledger"
	"github.com/blockberries/lockberry/logging"
	"github.com/blockberries/lockberry/types"
)

// Ledger is the engine surface served over HTTP. *engine.Engine implements it.
type Ledger interface {
	Deposit(ctx context.Context, payer, account types.AccountName, amount types.Amount, now types.Timestamp) (ledger.DepositReceipt, error)
	Relock(ctx context.Context, payer, account types.AccountName, amount types.Amount, now types.Timestamp) (ledger.DepositReceipt, error)
	Settle(ctx context.Context, account types.AccountName, relock bool, recipient types.AccountName, now types.Timestamp) (ledger.Settlement, error)
	ForcedWithdraw(ctx context.Context, account, recipient types.AccountName, now types.Timestamp) (ledger.Settlement, error)
	Shutdown(ctx context.Context, req admin.Request, now types.Timestamp) error

	Balances(account types.AccountName, now types.Timestamp) types.Balances
	PendingAmount(account types.AccountName, now types.Timestamp) types.Amount
	ActiveBalance(account types.AccountName, now types.Timestamp) types.Amount
	Locks(account types.AccountName) []types.LockEntry
	TotalLockedSupply() types.Amount
	Info() engine.Info
	Events() *events.Journal
	IsRunning() bool
}

var _ Ledger = (*engine.Engine)(nil)

// Config holds the HTTP server settings
type Config struct {
	ListenAddr string  `yaml:"listen_addr" env:"LOCKBERRY_LISTEN_ADDR"`
	RateLimit  float64 `yaml:"rate_limit" env:"LOCKBERRY_RATE_LIMIT"` // requests per second per remote host, 0 disables
	RateBurst  int     `yaml:"rate_burst" env:"LOCKBERRY_RATE_BURST"`

	ReadTimeout     time.Duration `yaml:"read_timeout" env:"LOCKBERRY_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"LOCKBERRY_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"LOCKBERRY_SHUTDOWN_TIMEOUT"`

	// Maximum events returned by one /v1/events call
	MaxEvents int `yaml:"max_events" env:"LOCKBERRY_MAX_EVENTS"`

	// AllowClientTime lets mutating requests carry their own "now".
	// Only for test networks: a caller could settle before maturity.
	AllowClientTime bool `yaml:"allow_client_time" env:"LOCKBERRY_ALLOW_CLIENT_TIME"`
}

// DefaultConfig returns a default server configuration
func DefaultConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8645",
		RateLimit:       20,
		RateBurst:       40,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		MaxEvents:       1000,
	}
}

// ValidateBasic performs basic validation of the config
func (c Config) ValidateBasic() error {
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("negative rate limit %v/%d", c.RateLimit, c.RateBurst)
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		return errors.New("rate burst must be positive when rate limiting")
	}
	if c.MaxEvents <= 0 {
		return fmt.Errorf("max events must be positive, got %d", c.MaxEvents)
	}
	return nil
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.logger = l.WithField("module", "server") }
}

// WithRegistry registers the HTTP collectors with reg and serves reg's
// metrics at /metrics
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithClock sets the time source for mutating requests and the default
// "now" of read queries
func WithClock(now func() types.Timestamp) Option {
	return func(s *Server) { s.now = now }
}

// Server serves a Ledger over HTTP
type Server struct {
	config   Config
	ledger   Ledger
	logger   logrus.FieldLogger
	registry *prometheus.Registry
	metrics  *httpMetrics
	limiter  *rateLimiter
	now      func() types.Timestamp
	router   *mux.Router

	httpServer *http.Server
}

// New creates a server for l
func New(config Config, l Ledger, opts ...Option) (*Server, error) {
	if err := config.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	s := &Server{
		config: config,
		ledger: l,
		logger: logging.Discard(),
		now:    wallClock,
	}
	for _, opt := range opts {
		opt(s)
	}

	var reg prometheus.Registerer
	if s.registry != nil {
		reg = s.registry
	}
	s.metrics = newHTTPMetrics(reg)
	if config.RateLimit > 0 {
		s.limiter = newRateLimiter(config.RateLimit, config.RateBurst)
	}
	s.router = s.routes()
	return s, nil
}

func wallClock() types.Timestamp {
	return types.Timestamp(time.Now().Unix())
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware, s.observe)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.limit)
	v1.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	v1.HandleFunc("/supply", s.handleSupply).Methods(http.MethodGet)
	v1.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	acct := v1.PathPrefix("/accounts/{account}").Subrouter()
	acct.HandleFunc("/balances", s.handleBalances).Methods(http.MethodGet)
	acct.HandleFunc("/locks", s.handleLocks).Methods(http.MethodGet)
	acct.HandleFunc("/deposit", s.handleDeposit(false)).Methods(http.MethodPost)
	acct.HandleFunc("/relock", s.handleDeposit(true)).Methods(http.MethodPost)
	acct.HandleFunc("/settle", s.handleSettle).Methods(http.MethodPost)
	acct.HandleFunc("/withdraw", s.handleWithdraw).Methods(http.MethodPost)

	v1.HandleFunc("/admin/shutdown", s.handleShutdown).Methods(http.MethodPost)
	return r
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("HTTP server stopped")
		}
	}()

	s.logger.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
	return ln.Addr(), nil
}

// Stop gracefully shuts the HTTP server down
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}
