package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scrapn/scrapn/internal/domain"
)

const (
	defaultWebBaseURL    = "https://www.instagram.com"
	defaultMobileBaseURL = "https://i.instagram.com"

	mobileUserAgent = "Instagram 219.0.0.12.117 Android"
	igAppID         = "936619743392459"

	browserAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	imageAccept   = "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"

	rateLimitBody = "Please wait a few minutes"

	// maxPageBytes 限制单次读取的资料页大小，避免异常响应耗尽内存。
	maxPageBytes = 8 << 20
)

// ScraperOptions 控制账号资料与媒体抓取。
type ScraperOptions struct {
	WebBaseURL    string
	MobileBaseURL string
	Cookies       string
	MaxBlobSize   int64
	Logger        *logrus.Logger
	Now           func() time.Time
}

// Scraper 通过 Client 访问上游，按 web API → mobile API → HTML 的顺序尝试。
type Scraper struct {
	client      *Client
	webBase     string
	mobileBase  string
	cookies     string
	maxBlobSize int64
	logger      *logrus.Logger
	now         func() time.Time
}

// NewScraper 构造 Scraper。
func NewScraper(client *Client, opts ScraperOptions) *Scraper {
	s := &Scraper{
		client:      client,
		webBase:     strings.TrimRight(opts.WebBaseURL, "/"),
		mobileBase:  strings.TrimRight(opts.MobileBaseURL, "/"),
		cookies:     strings.TrimSpace(opts.Cookies),
		maxBlobSize: opts.MaxBlobSize,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if s.webBase == "" {
		s.webBase = defaultWebBaseURL
	}
	if s.mobileBase == "" {
		s.mobileBase = defaultMobileBaseURL
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type profileStrategy struct {
	name  string
	fetch func(ctx context.Context, username string) (domain.Profile, error)
}

// FetchProfile 抓取账号资料。遇到 NotFound/Private 等确定性错误立即返回，
// 其余情况下所有策略都失败时返回优先级最高的错误。
func (s *Scraper) FetchProfile(ctx context.Context, username string) (domain.Profile, error) {
	strategies := []profileStrategy{
		{name: "web_api", fetch: s.fetchWebAPI},
		{name: "mobile_api", fetch: s.fetchMobileAPI},
		{name: "html", fetch: s.fetchHTML},
	}

	var best error
	for _, strategy := range strategies {
		profile, err := strategy.fetch(ctx, username)
		if err == nil {
			s.logger.WithFields(logrus.Fields{
				"action":   "scrape_profile",
				"username": username,
				"strategy": strategy.name,
				"posts":    len(profile.Posts),
			}).Info("profile_scraped")
			return profile, nil
		}
		kind := KindOf(err)
		s.logger.WithFields(logrus.Fields{
			"action":   "scrape_profile",
			"username": username,
			"strategy": strategy.name,
			"kind":     string(kind),
		}).WithError(err).Debug("strategy_failed")

		if kind.terminal() {
			return domain.Profile{}, err
		}
		if ctx.Err() != nil {
			return domain.Profile{}, err
		}
		if best == nil || kind.priority() > KindOf(best).priority() {
			best = err
		}
	}
	return domain.Profile{}, best
}

func (s *Scraper) fetchWebAPI(ctx context.Context, username string) (domain.Profile, error) {
	const op = "web_api"
	target := fmt.Sprintf("%s/%s/?__a=1&__d=dis", s.webBase, url.PathEscape(username))
	body, err := s.getPage(ctx, op, target, func(h http.Header) {
		h.Set("Accept", browserAccept)
		h.Set("Accept-Language", "en-US,en;q=0.5")
		h.Set("Sec-Fetch-Dest", "document")
		h.Set("Sec-Fetch-Mode", "navigate")
		h.Set("Sec-Fetch-Site", "none")
		h.Set("Sec-Fetch-User", "?1")
		h.Set("Upgrade-Insecure-Requests", "1")
	}, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	var env webEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.Profile{}, &FetchError{Kind: KindParse, Op: op, URL: target, Err: err}
	}
	if env.Graphql == nil {
		return domain.Profile{}, &FetchError{Kind: KindParse, Op: op, URL: target, Err: errMissingUser}
	}
	return toProfile(op, username, env.Graphql.User, s.now())
}

func (s *Scraper) fetchMobileAPI(ctx context.Context, username string) (domain.Profile, error) {
	const op = "mobile_api"
	target := s.mobileBase + "/api/v1/users/web_profile_info/?username=" + url.QueryEscape(username)
	body, err := s.getPage(ctx, op, target, func(h http.Header) {
		h.Set("User-Agent", mobileUserAgent)
		h.Set("Accept", "application/json")
		h.Set("X-IG-App-ID", igAppID)
		h.Set("X-ASBD-ID", "198387")
		h.Set("X-IG-WWW-Claim", "0")
	}, func(status int, body []byte) *FetchError {
		if (status == http.StatusUnauthorized || status == http.StatusForbidden) && bytes.Contains(body, []byte(rateLimitBody)) {
			return &FetchError{Kind: KindRateLimited, Op: op, URL: target, StatusCode: status}
		}
		return nil
	})
	if err != nil {
		return domain.Profile{}, err
	}
	var env mobileEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.Profile{}, &FetchError{Kind: KindParse, Op: op, URL: target, Err: err}
	}
	if env.Data == nil {
		return domain.Profile{}, &FetchError{Kind: KindParse, Op: op, URL: target, Err: errMissingUser}
	}
	// 不存在的账号返回 {"data":{"user":null},"status":"ok"}
	if env.Data.User == nil && env.Status == "ok" {
		return domain.Profile{}, &FetchError{Kind: KindNotFound, Op: op, URL: target}
	}
	return toProfile(op, username, env.Data.User, s.now())
}

func (s *Scraper) fetchHTML(ctx context.Context, username string) (domain.Profile, error) {
	const op = "html"
	target := fmt.Sprintf("%s/%s/", s.webBase, url.PathEscape(username))
	body, err := s.getPage(ctx, op, target, func(h http.Header) {
		h.Set("Accept", browserAccept)
		h.Set("Accept-Language", "en-US,en;q=0.5")
	}, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	user, err := extractUserFromHTML(body, username)
	if err != nil {
		return domain.Profile{}, &FetchError{Kind: KindParse, Op: op, URL: target, Err: err}
	}
	return toProfile(op, username, user, s.now())
}

// getPage 执行 GET 并读取 2xx 响应体；inspect 可针对非 2xx 响应给出更具体的分类。
func (s *Scraper) getPage(
	ctx context.Context,
	op, target string,
	headers func(http.Header),
	inspect func(status int, body []byte) *FetchError,
) ([]byte, error) {
	resp, err := s.client.Do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		headers(req.Header)
		if s.cookies != "" {
			req.Header.Set("Cookie", s.cookies)
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, Op: op, URL: target, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	if inspect != nil {
		if fe := inspect(resp.StatusCode, body); fe != nil {
			return nil, fe
		}
	}
	return nil, statusError(op, target, resp.StatusCode)
}

func statusError(op, target string, status int) *FetchError {
	kind := KindStatus
	if status == http.StatusNotFound {
		kind = KindNotFound
	}
	return &FetchError{Kind: kind, Op: op, URL: target, StatusCode: status}
}

// ErrBodyTooLarge 表示媒体大小超过配置上限。
var ErrBodyTooLarge = errors.New("media body exceeds size limit")

// FetchMedia 下载媒体字节，返回响应的 Content-Type 作为类型提示。
func (s *Scraper) FetchMedia(ctx context.Context, rawURL string) ([]byte, string, error) {
	const op = "media"
	resp, err := s.client.Do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", imageAccept)
		req.Header.Set("Referer", s.webBase+"/")
		return req, nil
	})
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, "", statusError(op, rawURL, resp.StatusCode)
	}

	reader := io.Reader(resp.Body)
	if s.maxBlobSize > 0 {
		if resp.ContentLength > s.maxBlobSize {
			return nil, "", &FetchError{Kind: KindTooLarge, Op: op, URL: rawURL, StatusCode: resp.StatusCode, Err: ErrBodyTooLarge}
		}
		reader = io.LimitReader(resp.Body, s.maxBlobSize+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", &FetchError{Kind: KindNetwork, Op: op, URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}
	if s.maxBlobSize > 0 && int64(len(body)) > s.maxBlobSize {
		return nil, "", &FetchError{Kind: KindTooLarge, Op: op, URL: rawURL, StatusCode: resp.StatusCode, Err: ErrBodyTooLarge}
	}
	return body, resp.Header.Get("Content-Type"), nil
}
