package server

import (
	"net"
	"net/http"
	"time"

	"github.com/scrapn/scrapn/internal/config"
)

// NewUpstreamTransport 返回所有出口共享的基础 Transport，upstream.Client 按出口 Clone 后设置 Proxy。
func NewUpstreamTransport(cfg *config.Config) *http.Transport {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	return &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}
