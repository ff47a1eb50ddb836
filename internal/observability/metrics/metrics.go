// Package metrics exposes operational counters over an optional
// Prometheus endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "github.com/TracingInsights-Archive/f1live/pkg/logx"
)

// Config controls the metrics HTTP server.
type Config struct {
	Enabled bool
	Addr    string // default "127.0.0.1:9090"
}

// Set holds the monitor's instruments. A nil *Set is a safe no-op, so
// callers never need to nil-check.
type Set struct {
	reg *prometheus.Registry

	Polls          prometheus.Counter
	FetchErrors    *prometheus.CounterVec
	EventsDetected prometheus.Counter
	PostsSent      *prometheus.CounterVec
	PostsDropped   *prometheus.CounterVec
	CycleSeconds   prometheus.Histogram
}

func NewSet() *Set {
	s := &Set{
		reg: prometheus.NewRegistry(),
		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "f1live_polls_total",
			Help: "Completed poll cycles (including skipped ones)",
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "f1live_fetch_errors_total",
			Help: "Fetch failures by class",
		}, []string{"class"}),
		EventsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "f1live_events_detected_total",
			Help: "New events detected across all cycles",
		}),
		PostsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "f1live_posts_sent_total",
			Help: "Notifications delivered, by sink",
		}, []string{"sink"}),
		PostsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "f1live_posts_dropped_total",
			Help: "Notifications dropped after exhausting retries, by sink",
		}, []string{"sink"}),
		CycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "f1live_cycle_seconds",
			Help:    "Wall time of one poll-detect-notify cycle",
			Buckets: prometheus.DefBuckets,
		}),
	}
	s.reg.MustRegister(s.Polls, s.FetchErrors, s.EventsDetected, s.PostsSent, s.PostsDropped, s.CycleSeconds)
	return s
}

func (s *Set) IncPoll() {
	if s != nil {
		s.Polls.Inc()
	}
}

func (s *Set) IncFetchError(class string) {
	if s != nil {
		s.FetchErrors.WithLabelValues(class).Inc()
	}
}

func (s *Set) AddDetected(n int) {
	if s != nil && n > 0 {
		s.EventsDetected.Add(float64(n))
	}
}

func (s *Set) IncSent(sink string) {
	if s != nil {
		s.PostsSent.WithLabelValues(sink).Inc()
	}
}

func (s *Set) IncDropped(sink string) {
	if s != nil {
		s.PostsDropped.WithLabelValues(sink).Inc()
	}
}

func (s *Set) ObserveCycle(d time.Duration) {
	if s != nil {
		s.CycleSeconds.Observe(d.Seconds())
	}
}

// Server serves the registry on /metrics.
type Server struct {
	srv *http.Server
	log logx.Logger
}

func NewServer(cfg Config, set *Set, log logx.Logger) *Server {
	if !cfg.Enabled || set == nil {
		return nil
	}
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:9090"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(set.reg, promhttp.HandlerOpts{}))
	return &Server{
		srv: &http.Server{Addr: addr, Handler: mux, ReadTimeout: 5 * time.Second},
		log: log,
	}
}

// Start begins serving in the calling goroutine and blocks until the
// server stops. Intended to be run under the supervisor.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()
	s.log.Info("metrics server listening", logx.String("addr", s.srv.Addr))

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
