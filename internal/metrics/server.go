package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether the indexer is able to reach the chain
// endpoint right now. It mirrors geth-24-monitor's head-freshness probe,
// generalized to a plain boolean.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Server exposes /healthz and /metrics on a loopback-bound listener. It
// never serves block data — that remains a non-goal — only operational
// signal about the indexer process itself.
type Server struct {
	httpSrv *http.Server
	checker HealthChecker
}

// NewServer builds a metrics/health server listening on addr (e.g.
// "127.0.0.1:9090"). It does not start listening until Start is called.
func NewServer(addr string, checker HealthChecker) *Server {
	mux := http.NewServeMux()
	s := &Server{checker: checker}

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.checker != nil && !s.checker.Healthy(r.Context()) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unhealthy"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Start listens and serves in the background, logging and returning a
// non-nil error only if the listener itself fails to bind.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped unexpectedly", "err", err)
		}
	}()
	log.Info("metrics server listening", "addr", s.httpSrv.Addr)
	return nil
}

// Shutdown gracefully stops the server, waiting up to the given context's
// deadline for in-flight scrapes to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
