package mockserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"
)

// Server is the mock backend. It is safe for concurrent use.
type Server struct {
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
	validate *validator.Validate

	accounts  map[string]*account
	dummyHash []byte
	failures  *failureWindow

	mu     sync.Mutex
	logins map[string]login

	sessions *sessionStore
	devices  *deviceStore

	handler   http.Handler
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source used for tokens, throttling and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a Server. Seeded account passwords are hashed with cfg.BcryptCost.
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		log:      slog.Default(),
		now:      time.Now,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		failures: newFailureWindow(cfg.LoginMaxFailures, cfg.LoginWindow),
		logins:   make(map[string]login),
		devices:  newDeviceStore(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.sessions = newSessionStore(uint64(s.now().UnixNano()))

	accounts, err := hashAccounts(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	s.accounts = accounts
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing-only"), cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	s.dummyHash = dummy

	s.handler = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Close ends open streams with 1001. It does not stop the HTTP listener.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.withRequestLogging)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	apiRoutes := r.PathPrefix("/api/v1").Subrouter()
	apiRoutes.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	apiRoutes.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	apiRoutes.HandleFunc("/auth/logout", s.authed(s.handleLogout)).Methods(http.MethodPost)
	apiRoutes.HandleFunc("/auth/refresh", s.authed(s.handleRefresh)).Methods(http.MethodPost)
	apiRoutes.HandleFunc("/auth/me", s.authed(s.handleMe)).Methods(http.MethodGet)
	apiRoutes.HandleFunc("/auth/users", s.authed(adminOnly(s.handleUsers))).Methods(http.MethodGet)
	apiRoutes.HandleFunc("/auth/sessions/active", s.authed(adminOnly(s.handleActiveSessions))).Methods(http.MethodGet)

	for _, p := range []string{"/sessions", "/sessions/"} {
		apiRoutes.HandleFunc(p, s.authed(s.handleListSessions)).Methods(http.MethodGet)
		apiRoutes.HandleFunc(p, s.authed(s.handleCreateSession)).Methods(http.MethodPost)
	}
	apiRoutes.HandleFunc("/sessions/{id}", s.authed(s.handleGetSession)).Methods(http.MethodGet)
	apiRoutes.HandleFunc("/sessions/{id}", s.authed(s.handleUpdateSession)).Methods(http.MethodPatch)
	apiRoutes.HandleFunc("/sessions/{id}", s.authed(s.handleDeleteSession)).Methods(http.MethodDelete)
	apiRoutes.HandleFunc("/sessions/{id}/roi", s.authed(s.handleAddROI)).Methods(http.MethodPost)
	apiRoutes.HandleFunc("/sessions/{id}/roi/{roi_id}", s.authed(s.handleRemoveROI)).Methods(http.MethodDelete)
	apiRoutes.HandleFunc("/sessions/{id}/start", s.authed(s.handleStartDetection)).Methods(http.MethodPost)
	apiRoutes.HandleFunc("/sessions/{id}/stop", s.authed(s.handleStopDetection)).Methods(http.MethodPost)
	apiRoutes.HandleFunc("/sessions/{id}/statistics", s.authed(s.handleStatistics)).Methods(http.MethodGet)
	apiRoutes.HandleFunc("/sessions/{id}/statistics/reset", s.authed(s.handleResetStatistics)).Methods(http.MethodPost)
	apiRoutes.HandleFunc("/sessions/{id}/results", s.authed(s.handleResults)).Methods(http.MethodGet)

	for _, p := range []string{"/devices", "/devices/"} {
		apiRoutes.HandleFunc(p, s.authed(s.handleListDevices)).Methods(http.MethodGet)
		apiRoutes.HandleFunc(p, s.authed(s.handleRegisterDevice)).Methods(http.MethodPost)
	}
	apiRoutes.HandleFunc("/devices/status/summary", s.authed(s.handleDeviceSummary)).Methods(http.MethodGet)
	apiRoutes.HandleFunc("/devices/{id}", s.authed(s.handleGetDevice)).Methods(http.MethodGet)
	apiRoutes.HandleFunc("/devices/{id}", s.authed(s.handleUpdateDevice)).Methods(http.MethodPatch)
	apiRoutes.HandleFunc("/devices/{id}", s.authed(s.handleDeleteDevice)).Methods(http.MethodDelete)
	apiRoutes.HandleFunc("/devices/{id}/stats", s.authed(s.handleDeviceStats)).Methods(http.MethodGet)
	apiRoutes.HandleFunc("/devices/{id}/heartbeat", s.authed(s.handleHeartbeat)).Methods(http.MethodPost)

	apiRoutes.HandleFunc("/ws/{session_id}", s.handleStream).Methods(http.MethodGet)

	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down within grace.
func (s *Server) ListenAndServe(ctx context.Context, grace time.Duration) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("mock.listen", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("mock listen: %w", err)
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("mock shutdown: %w", err)
	}
	return nil
}
