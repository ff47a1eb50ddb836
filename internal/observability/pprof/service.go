// Package pprof serves the runtime profiling endpoints on an optional
// loopback listener.
package pprof

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	logx "github.com/TracingInsights-Archive/f1live/pkg/logx"
)

// Config controls the pprof HTTP server. The listener refuses
// non-loopback addresses: profiles leak internals and this process has
// no auth layer.
type Config struct {
	Enabled bool
	Addr    string // default "127.0.0.1:6060"
}

type Server struct {
	srv *http.Server
	log logx.Logger
}

func NewServer(cfg Config, log logx.Logger) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:6060"
	}
	if !isLoopbackAddr(addr) {
		return nil, errors.New("pprof: refusing non-loopback addr " + addr)
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)

	return &Server{
		srv: &http.Server{Addr: addr, Handler: mux, ReadTimeout: 10 * time.Second},
		log: log,
	}, nil
}

// Start serves in the calling goroutine until ctx is cancelled. Intended
// to run under the supervisor; a nil receiver just waits out the context.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()
	s.log.Info("pprof listening", logx.String("addr", s.srv.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
