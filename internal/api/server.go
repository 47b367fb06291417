package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gatekeep-core/internal/audit"
	"github.com/nerrad567/gatekeep-core/internal/auth"
	"github.com/nerrad567/gatekeep-core/internal/events"
	"github.com/nerrad567/gatekeep-core/internal/infrastructure/config"
	"github.com/nerrad567/gatekeep-core/internal/infrastructure/database"
	"github.com/nerrad567/gatekeep-core/internal/infrastructure/logging"
	"github.com/nerrad567/gatekeep-core/internal/notify"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Manager     *auth.Manager
	Policy      *auth.Policy
	Accounts    auth.AccountRepository
	Orgs        auth.OrgRepository
	Memberships auth.MembershipRepository
	AuditRepo   audit.Repository
	Notifier    notify.Dispatcher
	Links       *notify.Builder
	Events      *events.Publisher
	DB          *database.DB // optional: enables database status in health checks
	Version     string
}

// Server is the HTTP API server for Gatekeep Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	manager     *auth.Manager
	policy      *auth.Policy
	accounts    auth.AccountRepository
	orgs        auth.OrgRepository
	memberships auth.MembershipRepository
	auditRepo   audit.Repository
	notifier    notify.Dispatcher
	links       *notify.Builder
	events      *events.Publisher
	db          *database.DB
	version     string

	server  *http.Server
	hub     *Hub
	tickets *ticketStore
	auditCh chan *audit.AuditLog
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called. The WebSocket hub
// exists from creation so callers can attach it to the event publisher
// before the listener comes up.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("auth manager is required")
	}
	if deps.Policy == nil {
		return nil, fmt.Errorf("policy engine is required")
	}
	if deps.Accounts == nil || deps.Orgs == nil || deps.Memberships == nil {
		return nil, fmt.Errorf("account, org, and membership repositories are required")
	}
	// Audit, notifier, and events are optional; affected features degrade
	// to no-ops with a warning at startup.

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger,
		manager:     deps.Manager,
		policy:      deps.Policy,
		accounts:    deps.Accounts,
		orgs:        deps.Orgs,
		memberships: deps.Memberships,
		auditRepo:   deps.AuditRepo,
		notifier:    deps.Notifier,
		links:       deps.Links,
		events:      deps.Events,
		db:          deps.DB,
		version:     deps.Version,
		tickets:     newTicketStore(),
	}

	s.hub = NewHub(deps.Logger)

	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	} else {
		s.logger.Warn("audit repository not configured; administration actions will not be recorded")
	}

	return s, nil
}

// Hub returns the WebSocket hub for wiring into the event publisher.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, the ticket cleanup loop, the audit drain
// goroutine, and launches the HTTP listener in a background goroutine.
// The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)

	if s.auditCh != nil {
		go s.drainAuditLog(srvCtx)
	}

	// Build router
	router := s.buildRouter()

	// Create HTTP server
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	// Start listening in background
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, ticket cleanup, audit drain)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
