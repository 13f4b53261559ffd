package pprofutil

import (
	"context"
	"net/http"
	"testing"
)

func TestIsLoopbackBind(t *testing.T) {
	cases := []struct {
		addr string
		ok   bool
	}{
		{addr: "127.0.0.1:6060", ok: true},
		{addr: "localhost:6060", ok: true},
		{addr: "[::1]:6060", ok: true},
		{addr: "0.0.0.0:6060", ok: false},
		{addr: "192.168.1.10:6060", ok: false},
		{addr: "bad-addr", ok: false},
	}
	for _, tc := range cases {
		if got := isLoopbackBind(tc.addr); got != tc.ok {
			t.Fatalf("isLoopbackBind(%q)=%v want %v", tc.addr, got, tc.ok)
		}
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv(envEnable, "")
	if _, ok := OptionsFromEnv(); ok {
		t.Fatalf("pprof must be off by default")
	}
	t.Setenv(envEnable, "1")
	t.Setenv(envAddr, " 127.0.0.1:0 ")
	t.Setenv(envAllowPublic, "1")
	opts, ok := OptionsFromEnv()
	if !ok || opts.Addr != "127.0.0.1:0" || !opts.AllowPublic {
		t.Fatalf("unexpected options: %+v %v", opts, ok)
	}
}

func TestStartRejectsPublicBind(t *testing.T) {
	if _, err := Start(context.Background(), Options{Addr: "0.0.0.0:0"}); err == nil {
		t.Fatalf("expected public bind to be refused")
	}
}

func TestStartServesIndex(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := Start(ctx, Options{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	resp, err := http.Get("http://" + s.Addr().String() + "/debug/pprof/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
