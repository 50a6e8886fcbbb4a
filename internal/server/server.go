// Package server is the development HTTP server: it serves the built pages
// and public assets, and holds the push endpoint browsers subscribe to for
// rebuild notifications.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/EphraimElvis/coralite-io/internal/assets"
	"github.com/EphraimElvis/coralite-io/internal/config"
	"github.com/EphraimElvis/coralite-io/internal/errors"
	"github.com/EphraimElvis/coralite-io/internal/logging"
	"github.com/EphraimElvis/coralite-io/internal/stream"
)

// ClientPath serves the reload client script.
const ClientPath = config.ClientPath

// Server serves pages and assets with live reload.
type Server struct {
	config      *config.Config
	logger      logging.Logger
	console     *logging.Console
	fs          afero.Fs
	registry    *stream.Registry
	broadcaster *stream.Broadcaster
	handler     http.Handler

	// ctx is cancelled by Stop so long-lived push handlers return.
	ctx    context.Context
	cancel context.CancelFunc

	serverMutex sync.RWMutex
	httpServer  *http.Server
	listener    net.Listener

	stopOnce sync.Once
	stopErr  error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the diagnostics logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithConsole sets where request lines and the ready banner are written.
func WithConsole(console *logging.Console) Option {
	return func(s *Server) {
		s.console = console
	}
}

// WithFs sets the filesystem both served roots are read from.
func WithFs(fs afero.Fs) Option {
	return func(s *Server) {
		s.fs = fs
	}
}

// New creates a server for cfg. Nothing is bound until Listen.
func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		config: cfg,
		logger: logging.Discard(),
		fs:     afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.console == nil {
		s.console = logging.NewConsole(os.Stdout)
	}
	s.logger = s.logger.WithComponent("server")

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.registry = stream.NewRegistry()
	s.broadcaster = stream.NewBroadcaster(s.registry, s.logger)
	s.handler = s.routes()

	return s
}

func (s *Server) routes() http.Handler {
	serve := s.config.Serve

	handlerOpts := []HandlerOption{WithHandlerLogger(s.logger)}
	if s.config.Client.Inject {
		handlerOpts = append(handlerOpts, WithClientScript(ClientPath))
	}

	assetsCache := assets.New(s.fs, assets.Config{
		Root:         serve.AssetsRoot,
		MaxFileCount: serve.AssetsCache.MaxFileCount,
		MaxFileSize:  serve.AssetsCache.MaxFileSize,
	})
	pagesCache := assets.New(s.fs, assets.Config{
		Root:         serve.PagesRoot,
		MaxFileCount: serve.PagesCache.MaxFileCount,
		MaxFileSize:  serve.PagesCache.MaxFileSize,
	})

	assetsHandler := NewStaticHandler(assetsCache, s.console,
		append(handlerOpts, WithPrefix(serve.AssetsPrefix))...)
	pagesHandler := NewStaticHandler(pagesCache, s.console, handlerOpts...)

	mux := http.NewServeMux()
	mux.Handle("GET "+serve.AssetsPrefix+"/", assetsHandler)
	// Exact match, so the mux does not redirect /assets to /assets/.
	mux.Handle("GET "+serve.AssetsPrefix, pagesHandler)
	mux.Handle("GET /", pagesHandler)
	mux.HandleFunc("GET "+serve.RebuildPath, s.handleRebuild)
	mux.HandleFunc("GET "+ClientPath, s.handleClient)

	return Chain(mux, Recover(s.logger))
}

// Handler returns the routed handler, for use without a listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Broadcaster returns the broadcaster wired to the push endpoint.
func (s *Server) Broadcaster() *stream.Broadcaster {
	return s.broadcaster
}

// Registry returns the open push connections.
func (s *Server) Registry() *stream.Registry {
	return s.registry
}

// Listen binds the configured address and prints the ready banner.
func (s *Server) Listen() error {
	addr := s.config.Addr()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.ErrBindFailed(addr, err)
	}

	s.serverMutex.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	s.serverMutex.Unlock()

	s.logger.Info(context.Background(), "Listening", "addr", ln.Addr().String())
	s.console.Ready(s.URL())

	return nil
}

// Serve blocks serving requests until Stop. It returns nil after a clean stop.
func (s *Server) Serve() error {
	s.serverMutex.RLock()
	srv, ln := s.httpServer, s.listener
	s.serverMutex.RUnlock()

	if srv == nil {
		return errors.NewInternalError(errors.ErrCodeInternalError, "serve called before listen", nil)
	}

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.NewNetworkError(errors.ErrCodeInternalError, "server error", err)
	}

	return nil
}

// Start listens and serves until ctx is cancelled, then stops within the
// configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()

		if err := s.Stop(stopCtx); err != nil {
			s.logger.Error(stopCtx, err, "Shutdown failed")
		}
	}()

	return s.Serve()
}

// Stop closes push connections and shuts the HTTP server down. When ctx
// expires first the remaining connections are closed forcibly. Only the first
// call does anything.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.cancel()
		s.registry.CloseAll()

		s.serverMutex.RLock()
		srv := s.httpServer
		s.serverMutex.RUnlock()
		if srv == nil {
			return
		}

		if err := srv.Shutdown(ctx); err != nil {
			if closeErr := srv.Close(); closeErr != nil {
				s.logger.Debug(ctx, "Close after failed shutdown", "error", closeErr)
			}
			s.stopErr = errors.NewNetworkError(errors.ErrCodeShutdownFailed, "graceful shutdown failed", err)
		}
	})

	return s.stopErr
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.config.Addr()
}

// URL is the local address browsers should open.
func (s *Server) URL() string {
	port := strconv.Itoa(s.config.Server.Port)
	if _, p, err := net.SplitHostPort(s.Addr()); err == nil {
		port = p
	}

	host := s.config.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = config.DefaultHost
	}

	return fmt.Sprintf("http://%s", net.JoinHostPort(host, port))
}

func (s *Server) shutdownTimeout() time.Duration {
	if t := s.config.Server.ShutdownTimeout; t > 0 {
		return t
	}

	return 5 * time.Second
}
