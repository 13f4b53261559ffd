// Package pprofutil exposes net/http/pprof on a loopback listener for the
// serve command.
package pprofutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"
	"time"

	"securecrdt/internal/debuglog"
)

const (
	DefaultAddr = "127.0.0.1:6060"

	envEnable      = "SECURECRDT_PPROF"
	envAddr        = "SECURECRDT_PPROF_ADDR"
	envAllowPublic = "SECURECRDT_PPROF_ALLOW_PUBLIC"
)

type Options struct {
	Addr        string
	AllowPublic bool
}

// OptionsFromEnv reports whether SECURECRDT_PPROF=1 and the options the
// environment selects.
func OptionsFromEnv() (Options, bool) {
	if strings.TrimSpace(os.Getenv(envEnable)) != "1" {
		return Options{}, false
	}
	return Options{
		Addr:        strings.TrimSpace(os.Getenv(envAddr)),
		AllowPublic: strings.TrimSpace(os.Getenv(envAllowPublic)) == "1",
	}, true
}

type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start listens on opts.Addr and serves the default mux until ctx is done or
// Close is called. Non-loopback binds need AllowPublic.
func Start(ctx context.Context, opts Options) (*Server, error) {
	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	if !opts.AllowPublic && !isLoopbackBind(addr) {
		return nil, fmt.Errorf("pprof address must be loopback unless %s=1: %s", envAllowPublic, addr)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("pprof listen failed: %w", err)
	}
	s := &Server{
		ln: ln,
		srv: &http.Server{
			Handler:           http.DefaultServeMux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	debuglog.Logf("pprof enabled: http://%s/debug/pprof/", ln.Addr())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			debuglog.Warnf("pprof server stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	return s, nil
}

// StartFromEnv is Start with OptionsFromEnv; it returns nil, nil when pprof
// is not enabled.
func StartFromEnv(ctx context.Context) (*Server, error) {
	opts, ok := OptionsFromEnv()
	if !ok {
		return nil, nil
	}
	return Start(ctx, opts)
}

func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func isLoopbackBind(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
