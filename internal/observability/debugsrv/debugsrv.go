// Package debugsrv serves the debug HTTP listener: pprof profiles and the
// prometheus /metrics endpoint. Loopback by default; never exposed unless
// explicitly configured.
package debugsrv

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "streambot/pkg/logx"
)

type Server struct {
	addr string
	reg  *prometheus.Registry
	log  logx.Logger
}

func New(addr string, reg *prometheus.Registry, log logx.Logger) *Server {
	if addr == "" {
		addr = "127.0.0.1:6060"
	}
	return &Server{addr: addr, reg: reg, log: log}
}

// Run serves until ctx is cancelled. Suitable for a supervised goroutine.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: s.addr, Handler: mux}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("debug server listening", logx.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("debug server shutdown", logx.Err(err))
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
