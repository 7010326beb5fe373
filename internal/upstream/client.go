// Package upstream 负责所有出站请求：经代理池轮询出口、失败冷却与重试，
// 并在此之上实现账号资料与媒体字节的抓取。
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scrapn/scrapn/internal/egress"
	"github.com/scrapn/scrapn/internal/logging"
)

// Observer 接收出站请求结果，由 internal/metrics 实现。
type Observer interface {
	UpstreamRequest(egress string, outcome string, statusCode int)
	UpstreamRetry(reason string)
}

type noopObserver struct{}

func (noopObserver) UpstreamRequest(string, string, int) {}
func (noopObserver) UpstreamRetry(string)                {}

// 出站结果标签。
const (
	outcomeSuccess     = "success"
	outcomeNetworkErr  = "network_error"
	outcomeRateLimited = "rate_limited"
	outcomeBlocked     = "blocked"
)

// ClientOptions 控制出站行为。
type ClientOptions struct {
	Pool        *egress.Pool
	AllowDirect bool
	Timeout     time.Duration
	MaxRetries  int
	Backoff     Backoff
	UserAgent   string
	Logger      *logrus.Logger
	Observer    Observer
	// Transport 为所有出口共享的基础配置，按出口 Clone 后设置 Proxy；
	// 通常来自 server.NewUpstreamTransport。
	Transport *http.Transport
}

// RequestBuilder 在每次尝试时重新构造请求，保证重试时 Header/Body 干净。
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// Client 在代理池上执行请求：限流、拦截或网络错误时上报失败并换下一个出口重试。
type Client struct {
	pool        *egress.Pool
	allowDirect bool
	timeout     time.Duration
	maxRetries  int
	backoff     Backoff
	logger      *logrus.Logger
	observer    Observer
	base        *http.Transport
	ua          *uaPool

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewClient 创建出站客户端，未设置的选项使用默认值。
func NewClient(opts ClientOptions) *Client {
	c := &Client{
		pool:        opts.Pool,
		allowDirect: opts.AllowDirect,
		timeout:     opts.Timeout,
		maxRetries:  opts.MaxRetries,
		backoff:     opts.Backoff,
		logger:      opts.Logger,
		observer:    opts.Observer,
		base:        opts.Transport,
		ua:          newUAPool(strings.TrimSpace(opts.UserAgent)),
		clients:     make(map[string]*http.Client),
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	if c.observer == nil {
		c.observer = noopObserver{}
	}
	if c.base == nil {
		c.base = http.DefaultTransport.(*http.Transport).Clone()
	}
	return c
}

// Do 执行请求并返回第一个未被判定为出口问题的响应，调用方负责关闭 Body。
// 429、登录/验证拦截与网络错误会让当前出口进入冷却，并在退避后换下一个出口重试。
func (c *Client) Do(ctx context.Context, op string, build RequestBuilder) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.backoff.Delay(attempt-1)); err != nil {
				return nil, &FetchError{Kind: KindNetwork, Op: op, Err: err}
			}
		}

		desc, proxied, err := c.route()
		if err != nil {
			if lastErr != nil {
				err = fmt.Errorf("%w (last attempt: %v)", err, lastErr)
			}
			return nil, &FetchError{Kind: KindProxyExhausted, Op: op, Err: err}
		}

		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", c.ua.random())
		}

		entry := c.logger.WithFields(logging.EgressFields(desc.ID, attempt)).WithField("op", op)
		resp, err := c.clientFor(desc, proxied).Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, &FetchError{Kind: KindNetwork, Op: op, URL: req.URL.String(), Egress: desc.ID, Err: ctxErr}
			}
			c.report(desc, proxied, egress.OutcomeFailure)
			c.observer.UpstreamRequest(desc.ID, outcomeNetworkErr, 0)
			kind := KindNetwork
			if proxied {
				kind = KindProxy
			}
			lastErr = &FetchError{Kind: kind, Op: op, URL: req.URL.String(), Egress: desc.ID, Err: err}
			entry.WithError(err).Warn("upstream_network_error")
			c.retrying(attempt, outcomeNetworkErr)
			continue
		}

		if outcome, blocked := classify(req, resp); blocked {
			resp.Body.Close()
			c.report(desc, proxied, egress.OutcomeFailure)
			c.observer.UpstreamRequest(desc.ID, outcome, resp.StatusCode)
			lastErr = &FetchError{
				Kind:       KindRateLimited,
				Op:         op,
				URL:        req.URL.String(),
				StatusCode: resp.StatusCode,
				Egress:     desc.ID,
				Err:        errors.New(outcome),
			}
			entry.WithField("upstream_status", resp.StatusCode).Warn("upstream_" + outcome)
			c.retrying(attempt, outcome)
			continue
		}

		c.report(desc, proxied, egress.OutcomeSuccess)
		c.observer.UpstreamRequest(desc.ID, outcomeSuccess, resp.StatusCode)
		entry.WithField("upstream_status", resp.StatusCode).Debug("upstream_complete")
		return resp, nil
	}
	return nil, lastErr
}

func (c *Client) retrying(attempt int, reason string) {
	if attempt < c.maxRetries {
		c.observer.UpstreamRetry(reason)
	}
}

// route 选择本次请求的出口：代理池为空时直连；池非空但全部冷却时按 allowDirect 决定。
func (c *Client) route() (egress.Descriptor, bool, error) {
	if c.pool.Len() == 0 {
		return egress.Descriptor{}, false, nil
	}
	if desc, ok := c.pool.Acquire(); ok {
		return desc, true, nil
	}
	if c.allowDirect {
		c.logger.WithField("action", "egress_fallback_direct").Warn("all proxies cooling down, using direct connection")
		return egress.Descriptor{}, false, nil
	}
	return egress.Descriptor{}, false, ErrProxyExhausted
}

func (c *Client) report(desc egress.Descriptor, proxied bool, outcome egress.Outcome) {
	if proxied {
		c.pool.Report(desc, outcome)
	}
}

// clientFor 为每个出口缓存一个 http.Client，直连使用空 ID。
func (c *Client) clientFor(desc egress.Descriptor, proxied bool) *http.Client {
	key := ""
	if proxied {
		key = desc.ID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[key]; ok {
		return client
	}
	transport := c.base.Clone()
	transport.Proxy = nil
	if proxied {
		transport.Proxy = http.ProxyURL(desc.URL())
	}
	client := &http.Client{Timeout: c.timeout, Transport: transport}
	c.clients[key] = client
	return client
}

// classify 判断响应是否意味着当前出口被限流或拦截。
func classify(req *http.Request, resp *http.Response) (string, bool) {
	if resp.StatusCode == http.StatusTooManyRequests {
		return outcomeRateLimited, true
	}
	final := resp.Request
	if final == nil || final.URL == nil {
		return "", false
	}
	path := strings.ToLower(final.URL.Path)
	if path == strings.ToLower(req.URL.Path) {
		return "", false
	}
	if strings.HasPrefix(path, "/accounts/login") || strings.HasPrefix(path, "/challenge") {
		return outcomeBlocked, true
	}
	return "", false
}
