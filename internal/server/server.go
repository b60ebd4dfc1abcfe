// Package server is the thin event-driven HTTP layer: it builds a
// rewrite.RequestContext per request, runs the compiled rewrite rules,
// applies the resulting rewrite.Result, and dispatches to the file
// server. TLS termination, certificate installation and port binding are
// out of scope and handled by whatever fronts this process.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"httpd/internal/accesslog"
	"httpd/internal/config"
	"httpd/internal/fileserver"
	"httpd/internal/geoip"
	"httpd/internal/rewrite"
)

var (
	rewriteEvaluations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rewrite_evaluations_total",
		Help: "Number of requests that went through the rewrite evaluator",
	})
	rewriteBudgetExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rewrite_budget_exhausted_total",
		Help: "Number of evaluations that halted on restart budget exhaustion",
	})
	rewriteChanged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rewrite_changed_total",
		Help: "Number of evaluations that produced a non-no-op Result",
	})
)

// Server wraps the main listener and a separate /metrics listener, the
// same split the teacher's server()/newMetricsServer() used.
type Server struct {
	cfg        *config.AppConfig
	logger     *slog.Logger
	fileServer *fileserver.FileServer
	accessLog  accesslog.Sink
	geo        *geoip.Lookup
	dns        *dnsCache

	httpServer    *http.Server
	metricsServer *http.Server
}

// New constructs a Server. accessLog and geo may be no-op implementations
// (accesslog.NoopSink, a geoip.Lookup built with an empty endpoint).
func New(cfg *config.AppConfig, logger *slog.Logger, fs *fileserver.FileServer, sink accesslog.Sink, geo *geoip.Lookup) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		fileServer: fs,
		accessLog:  sink,
		geo:        geo,
		dns:        newDNSCache(5 * time.Minute),
	}

	mux := http.NewServeMux()
	mux.Handle("/", s.handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	s.metricsServer = &http.Server{
		Addr:         cfg.MetricsServerListenAddress,
		Handler:      metricsMux,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		IdleTimeout:  time.Minute,
	}

	return s
}

// Run starts both listeners and blocks until ctx is cancelled, then
// shuts each down with its own grace period, mirroring the teacher's
// WaitGroup-based shutdown in server().
func (s *Server) Run(ctx context.Context) error {
	go func() {
		s.logger.WithGroup("server").Info("starting server", "listen_address", s.cfg.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithGroup("server").Error("error serving", "err", err.Error())
		}
	}()

	go func() {
		s.logger.WithGroup("metrics_server").Info("starting metrics", "listen_address", s.cfg.MetricsServerListenAddress)
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithGroup("metrics_server").Error("error serving", "err", err.Error())
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.WithGroup("server").Error("error shutting down", "err", err.Error())
		} else {
			s.logger.Info("shut down server")
		}
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			s.logger.WithGroup("metrics_server").Error("error shutting down", "err", err.Error())
		} else {
			s.logger.Info("shut down metrics server")
		}
	}()

	wg.Wait()
	return nil
}

func (s *Server) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Request-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		logger := s.logger.WithGroup("request_handler").
			With("host", r.Host).With("path", r.URL.Path).With("correlation_id", correlationID)

		requestTime := time.Now().UTC()
		ctx := s.buildRequestContext(r, requestTime)

		rewriteEvaluations.Inc()
		res := rewrite.Evaluate(ctx, s.cfg.Rules())
		if res.BudgetExhausted {
			rewriteBudgetExhausted.Inc()
			logger.Warn("rewrite restart budget exhausted")
		}
		if res.Changed() {
			rewriteChanged.Inc()
		}

		s.recordAccessLog(r.Context(), logger, r, res, requestTime)

		if res.StatusSet && res.Status >= 300 && res.Status < 400 && res.URI != res.OriginalURI {
			w.Header().Set("Location", res.URI.String())
			w.WriteHeader(res.Status)
			return
		}

		for name, value := range res.EnvVars {
			r.Header.Set("X-Rewrite-Env-"+name, value)
		}

		s.fileServer.Serve(w, r, res.URI.Path, res, requestTime)
	})
}

func (s *Server) recordAccessLog(ctx context.Context, logger *slog.Logger, r *http.Request, res *rewrite.Result, requestTime time.Time) {
	country := ""
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		country = s.geo.Country(ip)
	}

	if err := s.accessLog.Record(ctx, accesslog.Entry{
		Host:         r.Host,
		Path:         r.URL.Path,
		RewrittenURI: res.URI.String(),
		Status:       res.Status,
		RemoteAddr:   r.RemoteAddr,
		UserAgent:    r.UserAgent(),
		Country:      country,
		RequestTime:  requestTime,
	}); err != nil {
		logger.Warn("access log write failed", "err", err.Error())
	}
}

// buildRequestContext resolves reverse/forward DNS before handing off to
// the (synchronous, non-blocking) rewrite evaluator, per §5's design note.
func (s *Server) buildRequestContext(r *http.Request, requestTime time.Time) *rewrite.RequestContext {
	host := r.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}

	remoteAddr := r.RemoteAddr
	remoteHost := ""
	if ip, _, err := net.SplitHostPort(remoteAddr); err == nil {
		remoteHost = s.dns.reverse(ip)
	}

	serverAddr := s.dns.forward(host)

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return &rewrite.RequestContext{
		Scheme:         scheme,
		Host:           r.Host,
		Path:           r.URL.Path,
		Query:          r.URL.RawQuery,
		Fragment:       "",
		Method:         r.Method,
		UserAgent:      r.UserAgent(),
		Cookie:         r.Header.Get("Cookie"),
		RemoteAddr:     remoteAddr,
		RemoteHost:     remoteHost,
		SenderEndpoint: remoteAddr,
		RequestTime:    requestTime,
		DocumentRoot:   s.fileServer.DocumentRoot,
		ListenPort:     portOf(s.cfg.ListenAddress),
		ServerString:   s.cfg.ServerIdentity,
		ServerName:     host,
		ServerAddr:     serverAddr,
	}
}

func portOf(addr string) string {
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[i+1:]
	}
	return ""
}
