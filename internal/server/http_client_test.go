package server

import (
	"testing"
	"time"

	"github.com/scrapn/scrapn/internal/config"
)

func TestNewUpstreamTransportUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	transport := NewUpstreamTransport(cfg)
	if transport.ResponseHeaderTimeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", transport.ResponseHeaderTimeout)
	}
	if transport.Proxy != nil {
		t.Fatalf("base transport must not carry a proxy")
	}
}

func TestNewUpstreamTransportDefaultsTimeout(t *testing.T) {
	transport := NewUpstreamTransport(nil)
	if transport.ResponseHeaderTimeout != 30*time.Second {
		t.Fatalf("expected default 30s, got %s", transport.ResponseHeaderTimeout)
	}
}
