// ABOUTME: Gateway orchestrator that wires store, pipeline, registry, and servers
// ABOUTME: Runs the HTTP API, realtime WebSocket, and gRPC health servers with graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/cors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/medibridge/internal/audio"
	"github.com/2389/medibridge/internal/capability"
	"github.com/2389/medibridge/internal/config"
	"github.com/2389/medibridge/internal/conversation"
	"github.com/2389/medibridge/internal/relay"
	"github.com/2389/medibridge/internal/store"
	"github.com/2389/medibridge/internal/telemetry"
)

// healthCheckInterval is how often the gRPC health status follows the store
const healthCheckInterval = 15 * time.Second

// Gateway orchestrates the medibridge server components.
type Gateway struct {
	config  *config.Config
	version string
	logger  *slog.Logger

	store     store.Store
	audio     *audio.Store
	registry  *conversation.Registry
	pipeline  *conversation.Pipeline
	summaries *conversation.Summaries

	// relay and natsServer are nil unless relay.enabled
	relay      *relay.Relay
	natsServer *relay.EmbeddedServer

	telemetry *telemetry.Telemetry

	httpServer   *http.Server
	grpcServer   *grpc.Server
	healthServer *health.Server
	tsnetServer  *tsnet.Server
}

// initStore creates the SQLite store for the configured path.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initRelay connects the NATS relay, starting the embedded server first when configured.
func initRelay(cfg config.RelayConfig, logger *slog.Logger) (*relay.Relay, *relay.EmbeddedServer, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	servers := cfg.Servers
	var embedded *relay.EmbeddedServer
	if cfg.Embedded {
		srv, err := relay.StartEmbedded(cfg.EmbeddedPort, logger)
		if err != nil {
			return nil, nil, err
		}
		embedded = srv
		servers = []string{srv.ClientURL()}
	}

	r, err := relay.Connect(servers, cfg.SubjectPrefix, logger)
	if err != nil {
		embedded.Shutdown()
		return nil, nil, err
	}
	return r, embedded, nil
}

// createGRPCServer creates the gRPC server that carries the standard health service.
func createGRPCServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}

// New creates a new Gateway instance with the given configuration.
// version is reported by the root endpoint and recorded on telemetry.
func New(cfg *config.Config, version string, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tel, err := telemetry.Setup(context.Background(), cfg.Telemetry, version, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	s, err := initStore(cfg)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}

	audioStore, err := audio.NewStore(cfg.Storage.AudioDir, logger)
	if err != nil {
		_ = s.Close()
		_ = tel.Shutdown(context.Background())
		return nil, err
	}

	caps, err := capability.NewSet(cfg.Capabilities, logger)
	if err != nil {
		_ = s.Close()
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("initializing capabilities: %w", err)
	}

	rl, natsServer, err := initRelay(cfg.Relay, logger)
	if err != nil {
		_ = s.Close()
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("initializing relay: %w", err)
	}

	registry := conversation.NewRegistry(logger)

	// The registry always comes first; the relay only mirrors
	publishers := []conversation.Publisher{registry}
	if rl != nil {
		publishers = append(publishers, rl)
	}

	pipeline := conversation.NewPipeline(s, audioStore, caps, conversation.PipelineConfig{
		PersistTimeout:        cfg.Pipeline.PersistTimeout,
		MaxSpeechChars:        cfg.Capabilities.MaxSpeechChars,
		IdempotencyTTL:        cfg.Pipeline.IdempotencyTTL,
		IdempotencyMaxEntries: cfg.Pipeline.IdempotencyMaxEntries,
	}, logger, publishers...)

	gw := &Gateway{
		config:     cfg,
		version:    version,
		logger:     logger.With("component", "gateway"),
		store:      s,
		audio:      audioStore,
		registry:   registry,
		pipeline:   pipeline,
		summaries:  conversation.NewSummaries(s, caps.Summarizer, logger),
		relay:      rl,
		natsServer: natsServer,
		telemetry:  tel,
	}

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer, gw.healthServer = createGRPCServer()
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	gw.logger.Info("gateway initialized",
		"provider", cfg.Capabilities.Provider,
		"database", cfg.Database.Path,
		"audio_dir", audioStore.Dir(),
		"relay", rl != nil,
		"grpc_health", gw.grpcServer != nil,
	)

	return gw, nil
}

// Handler returns the HTTP handler with every route and CORS applied.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", g.handleRoot)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	mux.HandleFunc("POST /api/messages", g.handleSubmitMessage)
	mux.HandleFunc("GET /api/conversations", g.handleListConversations)
	mux.HandleFunc("POST /api/conversations", g.handleCreateConversation)
	mux.HandleFunc("GET /api/conversations/search", g.handleSearch)
	mux.HandleFunc("GET /api/conversations/{id}", g.handleGetConversation)
	mux.HandleFunc("PATCH /api/conversations/{id}", g.handleRenameConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", g.handleDeleteConversation)
	mux.HandleFunc("GET /api/conversations/{id}/messages", g.handleListMessages)
	mux.HandleFunc("POST /api/conversations/{id}/summary", g.handleSummary)
	mux.HandleFunc("POST /api/audio/upload", g.handleAudioUpload)
	mux.HandleFunc("GET /api/audio/{filename}", g.handleAudio)
	mux.HandleFunc("GET /api/ws/{id}", g.handleRealtime)

	if h := g.telemetry.MetricsHandler(); h != nil {
		mux.Handle("GET "+g.config.Telemetry.MetricsPath, h)
	}

	if len(g.config.CORS.AllowedOrigins) == 0 {
		return mux
	}
	return newCORS(g.config.CORS.AllowedOrigins).Handler(mux)
}

// newCORS builds the cross-origin middleware. Origins may contain one "*"
// wildcard each, e.g. "https://*.example.com".
func newCORS(origins []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Idempotency-Key", "Authorization"},
		AllowCredentials: true,
	})
}

// setupTCPListeners creates standard TCP listeners for HTTP and, when configured, gRPC.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts the servers in goroutines, returning the error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		g.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// watchStoreHealth keeps the gRPC health status in step with the store.
func (g *Gateway) watchStoreHealth(ctx context.Context) {
	if g.healthServer == nil {
		return
	}
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.healthServer.SetServingStatus("", g.storeStatus(ctx))
		}
	}
}

func (g *Gateway) storeStatus(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := g.store.Ping(pingCtx); err != nil {
		g.logger.Warn("store ping failed", "error", err)
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	go g.watchStoreHealth(watchCtx)

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)
	stopWatch()

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "medibridge", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet node and listens on it: HTTP on :80
// and, when gRPC health is enabled, gRPC on :50051.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	if g.grpcServer != nil {
		grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
		}
	}

	httpLn, err = g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.healthServer.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error

	// Realtime connections are hijacked and not tracked by http.Server, so
	// the registry tells them to go away first.
	g.registry.Close()
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.pipeline.Close()
	g.relay.Close()
	g.natsServer.Shutdown()

	errs = appendCloseError(errs, "store close", g.store.Close())
	errs = appendCloseError(errs, "telemetry shutdown", g.telemetry.Shutdown(ctx))

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errors.Join(errs...))
	}
	return nil
}
