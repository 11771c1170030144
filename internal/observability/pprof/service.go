// Package pprof exposes Go's runtime profiles over HTTP for live
// debugging of a stuck pool or a leaking scheduler. It is off by
// default and refuses to bind a non-loopback address without a token.
package pprof

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"runbot/internal/runtime/supervisor"
	logx "runbot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string // default "127.0.0.1:6060"
	Token   string // bearer token; required for non-loopback binds
}

type Service struct {
	cfg Config
	log logx.Logger
	sup *supervisor.Supervisor
}

func New(cfg Config, log logx.Logger) *Service {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6060"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled || s.sup != nil {
		return nil
	}
	if !isLoopbackAddr(s.cfg.Addr) && strings.TrimSpace(s.cfg.Token) == "" {
		return errors.New("pprof: refusing non-loopback bind without a token")
	}

	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup.GoRestart("pprof.serve", s.serveOnce, time.Second, 30*time.Second)
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.sup == nil {
		return
	}
	_ = s.sup.Stop(ctx)
	s.sup = nil
}

func (s *Service) serveOnce(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", s.withAuth(pprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", s.withAuth(pprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", s.withAuth(pprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", s.withAuth(pprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", s.withAuth(pprof.Trace))

	srv := &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// No write timeout: /profile legitimately streams for 30s+.
		IdleTimeout: time.Minute,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("pprof listening", logx.String("addr", s.cfg.Addr))

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Service) withAuth(h http.HandlerFunc) http.HandlerFunc {
	token := strings.TrimSpace(s.cfg.Token)
	if token == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="pprof"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "localhost" || host == "" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
