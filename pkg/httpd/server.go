// Package httpd runs the HTTP listener with graceful shutdown.
//
// The server binds one TCP address, optionally wrapped in TLS, and serves
// the handler it was given. Shutdown drains in-flight requests for a grace
// period before forcing connections closed, then runs the registered
// cleanup functions. Signal handling is opt-in so embedding the server in
// tests stays cheap.
package httpd

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-openapi/runtime/flagext"
	"github.com/go-openapi/swag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/treelinehq/treeline/pkg/errors"
	"github.com/treelinehq/treeline/pkg/httpd/status"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"

	// DefaultListenAddress binds the loopback interface on a random port.
	DefaultListenAddress = "localhost:0"

	// DefaultShutdownGrace bounds draining in-flight requests on shutdown.
	DefaultShutdownGrace = 10 * time.Second

	// DefaultKeepAlive prunes idle connections, e.g. a client closing a
	// laptop mid-watch.
	DefaultKeepAlive = 3 * time.Minute

	// DefaultReadTimeout bounds reading one request, header and body.
	DefaultReadTimeout = 30 * time.Second

	// DefaultMaxHeaderSize caps request-line and header parsing. It does
	// not limit the size of the request body.
	DefaultMaxHeaderSize = flagext.ByteSize(1000000)
)

// Option configures the server.
type Option func(*Server)

// ListensOn sets the host:port to bind. Port 0 picks a random free port,
// recovered through Addr after Listen.
func ListensOn(address string) Option {
	return func(s *Server) {
		s.listenAddress = address
	}
}

// HandlesRequestsWith handles the http requests to the server.
func HandlesRequestsWith(h http.Handler) Option {
	return func(s *Server) {
		s.handler = h
	}
}

// LogsWith provides a logger to the server.
func LogsWith(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.l = l
		}
	}
}

// OnShutdown runs the provided functions once the listener has stopped.
func OnShutdown(handlers ...func()) Option {
	return func(s *Server) {
		s.onShutdown = append(s.onShutdown, handlers...)
	}
}

// HandlesSignals shuts the server down on SIGINT or SIGTERM.
func HandlesSignals() Option {
	return func(s *Server) {
		s.handlesSignals = true
	}
}

// WithTLS serves the listen address over TLS with the given PEM-encoded
// certificate and private key files.
func WithTLS(certificate, key string) Option {
	return func(s *Server) {
		s.tlsCertificate = certificate
		s.tlsCertificateKey = key
	}
}

// WithClientCA requires and verifies client certificates against the given
// certificate authority file.
func WithClientCA(caCertificate string) Option {
	return func(s *Server) {
		s.tlsClientCA = caCertificate
	}
}

// WithShutdownGrace sets how long Shutdown waits for in-flight requests
// before forcing connections closed.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownGrace = d
	}
}

// WithMaxHeaderSize controls the maximum number of bytes the server reads
// parsing a request header, including the request line.
func WithMaxHeaderSize(size flagext.ByteSize) Option {
	return func(s *Server) {
		s.maxHeaderSize = size
	}
}

// WithListenLimit limits the number of outstanding connections.
func WithListenLimit(limit int) Option {
	return func(s *Server) {
		s.listenLimit = limit
	}
}

// WithKeepAlive sets the idle lifetime of kept-alive connections. Zero
// disables keep-alives altogether.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		s.keepAlive = d
	}
}

// WithReadTimeout bounds reading one request.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = d
	}
}

// WithWriteTimeout bounds writing one response. The default is zero, no
// deadline: watch requests hold their response open far longer than any
// deadline that would make sense for the other routes.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

// New builds a server. Without options it binds a random loopback port and
// answers every request with a 404.
func New(opts ...Option) *Server {
	s := &Server{
		listenAddress: DefaultListenAddress,
		handler:       http.NotFoundHandler(),
		maxHeaderSize: DefaultMaxHeaderSize,
		readTimeout:   DefaultReadTimeout,
		keepAlive:     DefaultKeepAlive,
		shutdownGrace: DefaultShutdownGrace,
		shutdown:      make(chan struct{}),
		l:             zap.NewNop(),
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

// Server owns the listener and its lifecycle.
type Server struct {
	listenAddress string
	host          string
	port          int
	listener      net.Listener

	maxHeaderSize flagext.ByteSize
	readTimeout   time.Duration
	writeTimeout  time.Duration
	keepAlive     time.Duration
	listenLimit   int
	shutdownGrace time.Duration

	tlsCertificate    string
	tlsCertificateKey string
	tlsClientCA       string

	handler        http.Handler
	handlesSignals bool
	onShutdown     []func()

	shutdown     chan struct{}
	shuttingDown atomic.Bool

	l *zap.Logger
}

// Listen binds the configured address. Serve calls it when needed; calling
// it first lets the caller learn the effective port before serving.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}

	listener, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		return err
	}

	host, port, err := swag.SplitHostPort(listener.Addr().String())
	if err != nil {
		return multierr.Append(err, listener.Close())
	}
	s.host = host
	s.port = port
	s.listener = listener
	return nil
}

// Addr reports the bound address, pinning down the effective port when the
// server was configured with port 0. Before Listen it reports the
// configured address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.listenAddress
	}
	return s.listener.Addr().String()
}

// Port reports the effective TCP port after Listen.
func (s *Server) Port() int {
	return s.port
}

// Serve blocks until Shutdown is called, a trapped signal arrives, or the
// listener fails.
func (s *Server) Serve() error {
	if err := s.Listen(); err != nil {
		return err
	}

	server := &http.Server{
		Handler:        s.handler,
		MaxHeaderBytes: int(s.maxHeaderSize),
		ReadTimeout:    s.readTimeout,
		WriteTimeout:   s.writeTimeout,
		IdleTimeout:    s.keepAlive,
		ErrorLog:       zap.NewStdLog(s.l),
	}
	server.SetKeepAlivesEnabled(s.keepAlive > 0)

	listener := s.listener
	if s.listenLimit > 0 {
		listener = netutil.LimitListener(listener, s.listenLimit)
	}

	scheme := schemeHTTP
	if s.tlsCertificate != "" || s.tlsCertificateKey != "" {
		cfg, err := s.tlsConfig()
		if err != nil {
			return multierr.Append(err, s.listener.Close())
		}
		server.TLSConfig = cfg
		scheme = schemeHTTPS
	}

	if s.handlesSignals {
		stop := s.notifyOnSignals()
		defer stop()
	}

	done := make(chan error, 1)
	go func() {
		if scheme == schemeHTTPS {
			// The certificates already live in the TLS config.
			done <- server.ServeTLS(listener, "", "")
			return
		}
		done <- server.Serve(listener)
	}()

	s.l.Info("serving",
		zap.String("scheme", scheme),
		zap.String("host", s.host),
		zap.Int("port", s.port))

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-s.shutdown:
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownGrace)
	defer cancel()

	err := server.Shutdown(ctx)
	if err != nil {
		s.l.Warn("closing connections still in flight, the shutdown grace period expired", zap.Error(err))
		err = multierr.Append(err, server.Close())
	}
	<-done

	for _, run := range s.onShutdown {
		run()
	}
	s.l.Info("stopped serving",
		zap.String("scheme", scheme),
		zap.String("host", s.host),
		zap.Int("port", s.port))
	return err
}

// Shutdown stops the listener and unblocks Serve. It is safe to call more
// than once and before Serve.
func (s *Server) Shutdown() {
	if s.shuttingDown.CompareAndSwap(false, true) {
		close(s.shutdown)
	}
}

func (s *Server) tlsConfig() (*tls.Config, error) {
	if s.tlsCertificate == "" || s.tlsCertificateKey == "" {
		return nil, status.ErrTLSConfig.WrapMessage("serving TLS requires both a certificate and a key")
	}

	certificate, err := tls.LoadX509KeyPair(s.tlsCertificate, s.tlsCertificateKey)
	if err != nil {
		return nil, status.ErrTLSConfig.WrapMessage("cannot load the key pair: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{certificate},
		MinVersion:   tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}

	if s.tlsClientCA != "" {
		caCertificate, err := os.ReadFile(s.tlsClientCA)
		if err != nil {
			return nil, status.ErrTLSConfig.WrapMessage("cannot read the client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCertificate) {
			return nil, status.ErrTLSConfig.WrapMessage("no certificates found in %s", s.tlsClientCA)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

func (s *Server) notifyOnSignals() func() {
	notifications := make(chan os.Signal, 1)
	signal.Notify(notifications, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for sig := range notifications {
			s.l.Info("shutting down on signal", zap.String("signal", sig.String()))
			s.Shutdown()
		}
	}()
	return func() {
		signal.Stop(notifications)
		close(notifications)
	}
}
