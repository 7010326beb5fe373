// Package api 暴露 /instagram 下的 HTTP 接口：账号资料、帖子、Reels 与媒体代理。
// 三种 JSON 视图共享同一个按用户名索引的 ResultCache，一次抓取服务所有视图。
package api

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/scrapn/scrapn/internal/access"
	"github.com/scrapn/scrapn/internal/cache"
	"github.com/scrapn/scrapn/internal/domain"
	"github.com/scrapn/scrapn/internal/imaging"
	"github.com/scrapn/scrapn/internal/logging"
	"github.com/scrapn/scrapn/internal/server"
)

// Fetcher 是上游抓取器，upstream.Scraper 实现该接口。
type Fetcher interface {
	FetchProfile(ctx context.Context, username string) (domain.Profile, error)
	FetchMedia(ctx context.Context, rawURL string) ([]byte, string, error)
}

// Options 描述 Handler 的依赖。
type Options struct {
	Profiles    *cache.ResultCache[domain.Profile]
	Media       *cache.BlobCache
	Variants    *cache.BlobCache // 转换后的派生图片；为空时在 NewHandler 中创建仅内存的缓存
	Fetcher     Fetcher
	Whitelist   *access.Whitelist
	Logger      *logrus.Logger
	ImageMaxAge time.Duration
}

// Handler 实现 /instagram 路由。
type Handler struct {
	profiles    *cache.ResultCache[domain.Profile]
	media       *cache.BlobCache
	variants    *cache.BlobCache
	fetcher     Fetcher
	whitelist   *access.Whitelist
	logger      *logrus.Logger
	imageMaxAge time.Duration
}

// 视图名同时用于日志字段。
const (
	viewProfile = "profile"
	viewPosts   = "posts"
	viewReels   = "reels"
	viewImage   = "image"
)

// X-Scrapn-Cache 的取值。
const (
	cacheStateHit    = "hit"
	cacheStateMiss   = "miss"
	cacheStateShared = "shared"
	cacheStateStale  = "stale"
)

// NewHandler 构造 Handler。
func NewHandler(opts Options) (*Handler, error) {
	if opts.Profiles == nil {
		return nil, fmt.Errorf("profile cache is required")
	}
	if opts.Media == nil {
		return nil, fmt.Errorf("media cache is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	h := &Handler{
		profiles:    opts.Profiles,
		media:       opts.Media,
		variants:    opts.Variants,
		fetcher:     opts.Fetcher,
		whitelist:   opts.Whitelist,
		logger:      opts.Logger,
		imageMaxAge: opts.ImageMaxAge,
	}
	if h.logger == nil {
		h.logger = logrus.StandardLogger()
	}
	if h.variants == nil {
		h.variants = cache.NewBlobCache(cache.WithBlobName("variants"), cache.WithBlobLogger(h.logger))
	}
	if h.imageMaxAge <= 0 {
		h.imageMaxAge = 24 * time.Hour
	}
	return h, nil
}

// Register 挂载路由。
func (h *Handler) Register(router fiber.Router) {
	group := router.Group("/instagram")
	group.Get("/:username", h.viewHandler(viewProfile))
	group.Get("/:username/posts", h.viewHandler(viewPosts))
	group.Get("/:username/reels", h.viewHandler(viewReels))
	group.Get("/:username/image", h.serveImage)
}

// Envelope 是 JSON 接口的统一响应结构，CacheAge 仅在 FromCache 为 true 时非空。
type Envelope struct {
	Data      interface{} `json:"data"`
	FromCache bool        `json:"fromCache"`
	CacheAge  *int64      `json:"cacheAge"`
}

func (h *Handler) viewHandler(view string) fiber.Handler {
	return func(c fiber.Ctx) error {
		return h.serveView(c, view)
	}
}

func (h *Handler) serveView(c fiber.Ctx, view string) error {
	started := time.Now()
	username, err := h.authorize(c.Params("username"))
	if err != nil {
		return h.fail(c, view, c.Params("username"), started, err)
	}

	res, state, err := h.loadProfile(requestContext(c), username)
	if err != nil {
		return h.fail(c, view, username, started, err)
	}

	var data interface{}
	switch view {
	case viewPosts:
		data = res.Value.Posts
	case viewReels:
		data = res.Value.Reels
	default:
		data = res.Value
	}
	envelope := Envelope{Data: data, FromCache: res.FromCache}
	if res.FromCache {
		age := int64(res.Age / time.Second)
		envelope.CacheAge = &age
	}

	c.Set(fiber.HeaderCacheControl, fmt.Sprintf("public, max-age=%d", remainingSeconds(h.profiles.TTL(), res)))
	c.Set("X-Scrapn-Cache", state)
	h.logResult(c, view, username, state, fiber.StatusOK, started, nil)
	return c.JSON(envelope)
}

// authorize 规范化用户名并执行白名单校验。
func (h *Handler) authorize(raw string) (string, error) {
	username, err := domain.NormalizeUsername(raw)
	if err != nil {
		return "", err
	}
	if err := h.whitelist.Check(username); err != nil {
		return "", err
	}
	return username, nil
}

// loadProfile 经 ResultCache 获取资料；抓取失败但存在过期条目时返回过期条目。
func (h *Handler) loadProfile(ctx context.Context, username string) (cache.Result[domain.Profile], string, error) {
	res, err := h.profiles.GetOrFetch(ctx, username, h.fetchProfile)
	if err == nil {
		return res, resultState(res.FromCache, res.Shared), nil
	}
	if stale, ok := h.profiles.Peek(username); ok {
		h.logger.WithFields(logrus.Fields{
			"action":    "stale_fallback",
			"target":    username,
			"cache_age": int64(stale.Age / time.Second),
		}).WithError(err).Warn("serving stale profile after fetch failure")
		return stale, cacheStateStale, nil
	}
	return cache.Result[domain.Profile]{}, "", err
}

func (h *Handler) fetchProfile(ctx context.Context, username string) (domain.Profile, error) {
	return h.fetcher.FetchProfile(ctx, username)
}

func (h *Handler) serveImage(c fiber.Ctx) error {
	started := time.Now()
	username, err := h.authorize(c.Params("username"))
	if err != nil {
		return h.fail(c, viewImage, c.Params("username"), started, err)
	}

	rawURL := strings.TrimSpace(c.Query("url"))
	if rawURL == "" {
		return h.fail(c, viewImage, username, started, errMissingURL)
	}
	if _, err := cache.CanonicalURL(rawURL); err != nil {
		return h.fail(c, viewImage, username, started, err)
	}
	params, err := imaging.ParseQuery(imaging.Query{
		Width:   c.Query("width"),
		Height:  c.Query("height"),
		Format:  c.Query("format"),
		Quality: c.Query("quality"),
		Fit:     c.Query("fit"),
		Focus:   c.Query("focus"),
	})
	if err != nil {
		return h.fail(c, viewImage, username, started, err)
	}

	profile, err := h.ownerProfile(requestContext(c), username)
	if err != nil {
		return h.fail(c, viewImage, username, started, err)
	}
	if !profile.OwnsURL(rawURL) {
		return h.fail(c, viewImage, username, started, errForeignURL)
	}

	blob, err := h.loadImage(requestContext(c), rawURL, params)
	if err != nil {
		return h.fail(c, viewImage, username, started, err)
	}

	state := resultState(blob.FromCache, blob.Shared)
	etag := computeETag(blob.Bytes)
	c.Set(fiber.HeaderETag, etag)
	c.Set(fiber.HeaderCacheControl, fmt.Sprintf("public, max-age=%d", int64(h.imageMaxAge/time.Second)))
	c.Set("X-Scrapn-Cache", state)

	if etagMatches(c.Get(fiber.HeaderIfNoneMatch), etag) {
		h.logResult(c, viewImage, username, state, fiber.StatusNotModified, started, nil)
		return c.SendStatus(fiber.StatusNotModified)
	}

	c.Set(fiber.HeaderContentType, blob.MIME)
	h.logResult(c, viewImage, username, state, fiber.StatusOK, started, nil)
	return c.Send(blob.Bytes)
}

// loadImage 返回原图；带转换参数时返回以 "规范化地址#参数" 为键的派生版本，
// 派生版本的抓取会先经原图缓存取得原始字节。
func (h *Handler) loadImage(ctx context.Context, rawURL string, params imaging.Params) (cache.BlobResult, error) {
	if !params.NeedsConversion() {
		return h.media.GetOrFetch(ctx, rawURL, h.fetcher.FetchMedia)
	}
	return h.variants.GetOrFetchVariant(ctx, rawURL, params.CacheKey(), func(ctx context.Context, rawURL string) ([]byte, string, error) {
		original, err := h.media.GetOrFetch(ctx, rawURL, h.fetcher.FetchMedia)
		if err != nil {
			return nil, "", err
		}
		return imaging.Convert(original.Bytes, params)
	})
}

// ownerProfile 优先使用缓存中的资料（允许过期），否则经 ResultCache 抓取。
func (h *Handler) ownerProfile(ctx context.Context, username string) (domain.Profile, error) {
	if res, ok := h.profiles.Peek(username); ok {
		return res.Value, nil
	}
	res, _, err := h.loadProfile(ctx, username)
	if err != nil {
		return domain.Profile{}, err
	}
	return res.Value, nil
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func resultState(fromCache, shared bool) string {
	switch {
	case fromCache:
		return cacheStateHit
	case shared:
		return cacheStateShared
	default:
		return cacheStateMiss
	}
}

// remainingSeconds 返回条目剩余的新鲜时间，新抓取的结果返回完整 TTL。
func remainingSeconds(ttl time.Duration, res cache.Result[domain.Profile]) int64 {
	if !res.FromCache {
		return int64(ttl / time.Second)
	}
	remaining := ttl - res.Age
	if remaining < 0 {
		return 0
	}
	return int64(remaining / time.Second)
}

func computeETag(body []byte) string {
	sum := md5.Sum(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func etagMatches(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}

func (h *Handler) logResult(c fiber.Ctx, view, username, state string, status int, started time.Time, err error) {
	fields := logging.RequestFields(username, view, state)
	fields["action"] = "request"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID := server.RequestID(c); requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		h.logger.WithFields(fields).WithError(err).Warn("request_failed")
		return
	}
	h.logger.WithFields(fields).Info("request_complete")
}
