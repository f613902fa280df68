// Package api provides the HTTP API and WebSocket server for LinkPulse.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/linkpulse/internal/audit"
	"github.com/nerrad567/linkpulse/internal/auth"
	"github.com/nerrad567/linkpulse/internal/billing"
	"github.com/nerrad567/linkpulse/internal/infrastructure/config"
	"github.com/nerrad567/linkpulse/internal/infrastructure/logging"
	"github.com/nerrad567/linkpulse/internal/infrastructure/mqtt"
	"github.com/nerrad567/linkpulse/internal/link"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	App       config.AppConfig
	Logger    *logging.Logger
	Auth      *auth.Service
	Tokens    *auth.TokenIssuer // cookie lifetimes follow its token TTLs
	Refresher *auth.SessionRefresher
	Links     *link.Service
	Billing   *billing.Service
	AuditRepo audit.Repository
	MQTT      *mqtt.Client // optional; without it the live feed receives nothing
	DB        *sql.DB      // optional; used for pool statistics only
	Version   string
}

// Server is the HTTP API server for LinkPulse.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	appCfg    config.AppConfig
	logger    *logging.Logger
	auth      *auth.Service
	tokens    *auth.TokenIssuer
	refresher *auth.SessionRefresher
	links     *link.Service
	billing   *billing.Service
	auditRepo audit.Repository
	auditCh   chan *audit.AuditLog
	mqtt      *mqtt.Client
	db        *sql.DB
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	upgrader  websocket.Upgrader
	tickets   *ticketStore

	trustedProxies []netip.Prefix
	cancel    context.CancelFunc // cancels background goroutines on Close()
	done      chan struct{}      // closed when the audit drainer exits
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil || deps.Tokens == nil || deps.Refresher == nil {
		return nil, fmt.Errorf("auth service, token issuer and session refresher are required")
	}
	if deps.Links == nil {
		return nil, fmt.Errorf("link service is required")
	}
	if deps.Billing == nil {
		return nil, fmt.Errorf("billing service is required")
	}

	trusted, err := config.ParseTrustedProxies(deps.Config.TrustedProxies)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		appCfg:    deps.App,
		logger:    deps.Logger.With("component", "api"),
		auth:      deps.Auth,
		tokens:    deps.Tokens,
		refresher: deps.Refresher,
		links:     deps.Links,
		billing:   deps.Billing,
		auditRepo: deps.AuditRepo,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),

		trustedProxies: trusted,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkWebSocketOrigin,
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}
	s.hub = NewHub(s.wsCfg, s.logger)

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, the audit writer and ticket cleanup,
// subscribes to MQTT click events for the live feed, and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.done = make(chan struct{})
	if s.auditCh != nil {
		go func() {
			defer close(s.done)
			s.drainAuditLog(srvCtx)
		}()
	} else {
		close(s.done)
	}

	if err := s.subscribeClickFeed(); err != nil {
		s.logger.Warn("failed to subscribe to click events for WebSocket", "error", err)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
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
// It waits up to 10 seconds for in-flight requests to complete, then
// flushes pending audit entries.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	// Stop background goroutines only after handlers finish so their
	// audit entries are still drained.
	if s.cancel != nil {
		s.cancel()
	}
	if s.mqtt != nil {
		if unsubErr := s.mqtt.Unsubscribe(mqtt.Topics{}.AllLinkClicks()); unsubErr != nil {
			s.logger.Debug("unsubscribing click feed failed", "error", unsubErr)
		}
	}
	select {
	case <-s.done:
	case <-ctx.Done():
	}

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
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
