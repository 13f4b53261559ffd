package network

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"securecrdt/internal/metrics"
)

func startServer(t *testing.T, handler Handler, opts ServerOptions) *Server {
	t.Helper()
	srv, err := Listen("127.0.0.1:0", handler, opts)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("serve did not stop")
		}
	})
	return srv
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(ClientOptions{Timeout: 5 * time.Second, Retries: -1})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestExchangeLoopback(t *testing.T) {
	m := metrics.New()
	srv := startServer(t, func(ctx context.Context, remote net.Addr, payload []byte) ([]byte, error) {
		return bytes.ToUpper(payload), nil
	}, ServerOptions{Metrics: m})
	c := newTestClient(t)

	payload := []byte(strings.Repeat("snapshot ", 100))
	got, err := c.Exchange(context.Background(), srv.Addr().String(), payload)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if !bytes.Equal(got, bytes.ToUpper(payload)) {
		t.Fatalf("unexpected reply")
	}

	// the pooled connection serves a second exchange
	got, err = c.Exchange(context.Background(), srv.Addr().String(), []byte("again"))
	if err != nil {
		t.Fatalf("second exchange: %v", err)
	}
	if string(got) != "AGAIN" {
		t.Fatalf("unexpected second reply: %q", got)
	}
}

func TestExchangeRemoteError(t *testing.T) {
	srv := startServer(t, func(ctx context.Context, remote net.Addr, payload []byte) ([]byte, error) {
		return nil, errors.New("malformed snapshot")
	}, ServerOptions{})
	c := newTestClient(t)

	_, err := c.Exchange(context.Background(), srv.Addr().String(), []byte("junk"))
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	if !strings.Contains(err.Error(), "malformed snapshot") {
		t.Fatalf("remote reason lost: %v", err)
	}
}

func TestExchangeUnreachable(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := c.Exchange(ctx, "127.0.0.1:1", []byte("x")); err == nil {
		t.Fatalf("expected dial failure")
	}
}

func TestListenRejectsNilHandler(t *testing.T) {
	if _, err := Listen("127.0.0.1:0", nil, ServerOptions{}); err == nil {
		t.Fatalf("expected error for nil handler")
	}
}

func TestRemoteIP(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.7"), Port: 4242}
	if got := remoteIP(addr); got != "10.0.0.7" {
		t.Fatalf("unexpected ip %q", got)
	}
	if remoteIP(nil) != "" {
		t.Fatalf("nil addr must map to empty ip")
	}
}
