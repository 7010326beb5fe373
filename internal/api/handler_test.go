package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/scrapn/scrapn/internal/access"
	"github.com/scrapn/scrapn/internal/cache"
	"github.com/scrapn/scrapn/internal/domain"
	"github.com/scrapn/scrapn/internal/upstream"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeFetcher struct {
	mu           sync.Mutex
	profile      domain.Profile
	profileErr   error
	profileCalls int
	media        []byte
	mediaHint    string
	mediaErr     error
	mediaCalls   int
}

func (f *fakeFetcher) FetchProfile(ctx context.Context, username string) (domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileCalls++
	if f.profileErr != nil {
		return domain.Profile{}, f.profileErr
	}
	p := f.profile
	p.Username = username
	return p, nil
}

func (f *fakeFetcher) FetchMedia(ctx context.Context, rawURL string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mediaCalls++
	if f.mediaErr != nil {
		return nil, "", f.mediaErr
	}
	return f.media, f.mediaHint, nil
}

func (f *fakeFetcher) setProfileErr(err error) {
	f.mu.Lock()
	f.profileErr = err
	f.mu.Unlock()
}

func sampleProfile() domain.Profile {
	views := int64(10)
	return domain.Profile{
		FullName:      "National Geographic",
		ProfilePicURL: "https://scontent.cdninstagram.com/v/pic.jpg?sig=abc",
		Posts: []domain.Post{
			{ID: "1", DisplayURL: "https://scontent.cdninstagram.com/v/p1.jpg?sig=1"},
			{ID: "2", DisplayURL: "https://scontent.cdninstagram.com/v/v2.jpg", IsVideo: true, VideoURL: "https://scontent.cdninstagram.com/v/v2.mp4", VideoViewCount: &views},
		},
		Reels: []domain.Reel{
			{ID: "2", DisplayURL: "https://scontent.cdninstagram.com/v/v2.jpg", VideoURL: "https://scontent.cdninstagram.com/v/v2.mp4", ViewsCount: &views},
		},
	}
}

type harness struct {
	app     *fiber.App
	clock   *testClock
	fetcher *fakeFetcher
}

func newHarness(t *testing.T, whitelist []string) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	fetcher := &fakeFetcher{profile: sampleProfile(), media: pngBytes}
	wl, err := access.NewWhitelist(whitelist, "")
	if err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	h, err := NewHandler(Options{
		Profiles:    cache.NewResultCache[domain.Profile]("profiles", time.Hour, cache.WithClock(clock.Now)),
		Media:       cache.NewBlobCache(cache.WithBlobClock(clock.Now), cache.WithBlobLogger(logger)),
		Fetcher:     fetcher,
		Whitelist:   wl,
		Logger:      logger,
		ImageMaxAge: 2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	app := fiber.New()
	h.Register(app)
	return &harness{app: app, clock: clock, fetcher: fetcher}
}

func (h *harness) get(t *testing.T, target string, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := h.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test(%s) failed: %v", target, err)
	}
	return resp
}

type envelopeBody struct {
	Data      json.RawMessage `json:"data"`
	FromCache bool            `json:"fromCache"`
	CacheAge  *int64          `json:"cacheAge"`
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelopeBody {
	t.Helper()
	var env envelopeBody
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func decodeError(t *testing.T, resp *http.Response) ErrorBody {
	t.Helper()
	var body ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestProfileMissThenHit(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.get(t, "/instagram/NatGeo", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Scrapn-Cache"); got != "miss" {
		t.Fatalf("X-Scrapn-Cache = %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "public, max-age=3600" {
		t.Fatalf("Cache-Control = %q", got)
	}
	env := decodeEnvelope(t, resp)
	if env.FromCache || env.CacheAge != nil {
		t.Fatalf("fresh fetch must report fromCache=false and null cacheAge: %+v", env)
	}
	var profile domain.Profile
	if err := json.Unmarshal(env.Data, &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Username != "natgeo" {
		t.Fatalf("username should be normalized, got %q", profile.Username)
	}

	h.clock.Advance(10 * time.Minute)
	resp = h.get(t, "/instagram/natgeo", nil)
	env = decodeEnvelope(t, resp)
	if !env.FromCache || env.CacheAge == nil || *env.CacheAge != 600 {
		t.Fatalf("expected cached response aged 600s, got %+v", env)
	}
	if got := resp.Header.Get("Cache-Control"); got != "public, max-age=3000" {
		t.Fatalf("Cache-Control = %q", got)
	}
	if h.fetcher.profileCalls != 1 {
		t.Fatalf("expected a single upstream fetch, got %d", h.fetcher.profileCalls)
	}
}

func TestPostsAndReelsShareOneFetch(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.get(t, "/instagram/natgeo/posts", nil)
	env := decodeEnvelope(t, resp)
	var posts []domain.Post
	if err := json.Unmarshal(env.Data, &posts); err != nil || len(posts) != 2 {
		t.Fatalf("unexpected posts payload: %s (%v)", env.Data, err)
	}

	resp = h.get(t, "/instagram/natgeo/reels", nil)
	env = decodeEnvelope(t, resp)
	var reels []domain.Reel
	if err := json.Unmarshal(env.Data, &reels); err != nil || len(reels) != 1 {
		t.Fatalf("unexpected reels payload: %s (%v)", env.Data, err)
	}
	if !env.FromCache {
		t.Fatalf("reels view should be served from the shared cache entry")
	}
	if h.fetcher.profileCalls != 1 {
		t.Fatalf("views must share one fetch, got %d", h.fetcher.profileCalls)
	}
}

func TestWhitelistRejectsBeforeFetch(t *testing.T) {
	h := newHarness(t, []string{"natgeo"})

	resp := h.get(t, "/instagram/someoneelse", nil)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Error != "unauthorized" {
		t.Fatalf("error = %q", body.Error)
	}
	if h.fetcher.profileCalls != 0 {
		t.Fatalf("whitelisted-out request must not reach upstream")
	}

	if resp := h.get(t, "/instagram/NatGeo", nil); resp.StatusCode != fiber.StatusOK {
		t.Fatalf("allowed user got %d", resp.StatusCode)
	}
}

func TestInvalidUsername(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.get(t, "/instagram/bad%20name!", nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestFetchErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", &upstream.FetchError{Kind: upstream.KindNotFound}, 404, "not_found"},
		{"private", &upstream.FetchError{Kind: upstream.KindPrivate}, 403, "private_profile"},
		{"rate limited", &upstream.FetchError{Kind: upstream.KindRateLimited}, 429, "rate_limited"},
		{"proxy", &upstream.FetchError{Kind: upstream.KindProxy}, 502, "proxy_error"},
		{"exhausted", &upstream.FetchError{Kind: upstream.KindProxyExhausted, Err: upstream.ErrProxyExhausted}, 503, "all_proxies_failed"},
		{"network", &upstream.FetchError{Kind: upstream.KindNetwork}, 503, "upstream_unavailable"},
		{"parse", &upstream.FetchError{Kind: upstream.KindParse}, 500, "parse_error"},
		{"unknown", errors.New("boom"), 500, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.fetcher.setProfileErr(tc.err)

			resp := h.get(t, "/instagram/natgeo", nil)
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			if body := decodeError(t, resp); body.Error != tc.code || body.Message == "" {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}

func TestStaleFallbackOnFetchFailure(t *testing.T) {
	h := newHarness(t, nil)
	if resp := h.get(t, "/instagram/natgeo", nil); resp.StatusCode != fiber.StatusOK {
		t.Fatalf("seed status = %d", resp.StatusCode)
	}

	h.clock.Advance(2 * time.Hour)
	h.fetcher.setProfileErr(&upstream.FetchError{Kind: upstream.KindRateLimited})

	resp := h.get(t, "/instagram/natgeo", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected stale fallback, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Scrapn-Cache"); got != "stale" {
		t.Fatalf("X-Scrapn-Cache = %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "public, max-age=0" {
		t.Fatalf("Cache-Control = %q", got)
	}
	env := decodeEnvelope(t, resp)
	if !env.FromCache || env.CacheAge == nil || *env.CacheAge != 7200 {
		t.Fatalf("unexpected stale envelope %+v", env)
	}
}

func imagePath(raw string) string {
	return "/instagram/natgeo/image?url=" + url.QueryEscape(raw)
}

func TestImageServedWithSniffedTypeAndETag(t *testing.T) {
	h := newHarness(t, nil)
	target := "https://scontent.cdninstagram.com/v/p1.jpg?sig=rotated"

	resp := h.get(t, imagePath(target), nil)
	if resp.StatusCode != fiber.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d body=%s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Type"); got != "image/png" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "public, max-age=7200" {
		t.Fatalf("Cache-Control = %q", got)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" || etag[0] != '"' {
		t.Fatalf("unexpected ETag %q", etag)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != string(pngBytes) {
		t.Fatalf("body mismatch")
	}

	resp = h.get(t, imagePath(target), map[string]string{"If-None-Match": etag})
	if resp.StatusCode != fiber.StatusNotModified {
		t.Fatalf("expected 304, got %d", resp.StatusCode)
	}
	if h.fetcher.mediaCalls != 1 {
		t.Fatalf("media should be fetched once, got %d", h.fetcher.mediaCalls)
	}
}

func TestImageRejectsForeignURL(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.get(t, imagePath("https://evil.example.com/p1.jpg"), nil)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if h.fetcher.mediaCalls != 0 {
		t.Fatalf("foreign URL must not be fetched")
	}
}

func TestImageRequiresURL(t *testing.T) {
	h := newHarness(t, nil)

	if resp := h.get(t, "/instagram/natgeo/image", nil); resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("missing url status = %d", resp.StatusCode)
	}
	if resp := h.get(t, imagePath("ftp://scontent.cdninstagram.com/x.jpg"), nil); resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("invalid url status = %d", resp.StatusCode)
	}
}

func TestImageUsesStaleProfileForOwnership(t *testing.T) {
	h := newHarness(t, nil)
	if resp := h.get(t, "/instagram/natgeo", nil); resp.StatusCode != fiber.StatusOK {
		t.Fatalf("seed status = %d", resp.StatusCode)
	}
	h.clock.Advance(3 * time.Hour)
	h.fetcher.setProfileErr(&upstream.FetchError{Kind: upstream.KindNetwork})

	resp := h.get(t, imagePath("https://scontent.cdninstagram.com/v/pic.jpg"), nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if h.fetcher.profileCalls != 1 {
		t.Fatalf("ownership check should reuse the cached profile")
	}
}

func TestEtagMatches(t *testing.T) {
	etag := `"abc"`
	cases := map[string]bool{
		"":               false,
		`"abc"`:          true,
		`W/"abc"`:        true,
		`"x", "abc"`:     true,
		"*":              true,
		`"other"`:        false,
	}
	for header, want := range cases {
		if got := etagMatches(header, etag); got != want {
			t.Fatalf("etagMatches(%q) = %v, want %v", header, got, want)
		}
	}
}

func realPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 255, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestImageConversionCachesVariants(t *testing.T) {
	h := newHarness(t, nil)
	original := realPNG(t, 40, 20)
	h.fetcher.media = original
	target := "https://scontent.cdninstagram.com/v/p1.jpg?sig=1"

	resp := h.get(t, imagePath(target)+"&width=20&format=png", nil)
	if resp.StatusCode != fiber.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d body=%s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Type"); got != "image/png" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := resp.Header.Get("X-Scrapn-Cache"); got != cacheStateMiss {
		t.Fatalf("X-Scrapn-Cache = %q", got)
	}
	body, _ := io.ReadAll(resp.Body)
	cfg, err := png.DecodeConfig(bytes.NewReader(body))
	if err != nil || cfg.Width != 20 || cfg.Height != 10 {
		t.Fatalf("converted size = %dx%d err=%v", cfg.Width, cfg.Height, err)
	}

	// 参数大小写不同但语义相同，应命中同一派生版本。
	resp = h.get(t, imagePath(target)+"&format=PNG&width=20", nil)
	if got := resp.Header.Get("X-Scrapn-Cache"); resp.StatusCode != fiber.StatusOK || got != cacheStateHit {
		t.Fatalf("same variant status=%d cache=%q", resp.StatusCode, got)
	}

	resp = h.get(t, imagePath(target)+"&width=10&height=10&fit=fill&focus=top&format=jpeg&quality=60", nil)
	if resp.StatusCode != fiber.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Fatalf("jpeg variant status=%d type=%q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	resp = h.get(t, imagePath(target), nil)
	body, _ = io.ReadAll(resp.Body)
	if !bytes.Equal(body, original) {
		t.Fatalf("无参数请求应返回原图")
	}
	if h.fetcher.mediaCalls != 1 {
		t.Fatalf("原图应只抓取一次, got %d", h.fetcher.mediaCalls)
	}
}

func TestImageConversionSharesConcurrentFetch(t *testing.T) {
	h := newHarness(t, nil)
	h.fetcher.media = realPNG(t, 32, 32)
	target := imagePath("https://scontent.cdninstagram.com/v/p1.jpg?sig=1") + "&width=16&format=webp"

	var wg sync.WaitGroup
	statuses := make(chan int, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest("GET", target, nil)
			resp, err := h.app.Test(req)
			if err != nil {
				statuses <- -1
				return
			}
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)
	for status := range statuses {
		if status != fiber.StatusOK {
			t.Fatalf("status = %d", status)
		}
	}
	if h.fetcher.mediaCalls != 1 {
		t.Fatalf("并发请求应只抓取一次原图, got %d", h.fetcher.mediaCalls)
	}
}

func TestImageConversionRejectsInvalidParams(t *testing.T) {
	h := newHarness(t, nil)
	base := imagePath("https://scontent.cdninstagram.com/v/p1.jpg?sig=1")

	for _, query := range []string{"&format=avif", "&fit=stretch", "&focus=middle", "&width=0", "&height=9999", "&quality=abc"} {
		resp := h.get(t, base+query, nil)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("%s: status = %d", query, resp.StatusCode)
		}
		if body := decodeError(t, resp); body.Error != "invalid_image_params" {
			t.Fatalf("%s: error = %q", query, body.Error)
		}
	}
	if h.fetcher.profileCalls != 0 || h.fetcher.mediaCalls != 0 {
		t.Fatalf("参数非法时不应访问上游")
	}
}

func TestImageConversionOfUndecodableMedia(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.get(t, imagePath("https://scontent.cdninstagram.com/v/p1.jpg?sig=1")+"&width=10", nil)
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Error != "conversion_failed" {
		t.Fatalf("error = %q", body.Error)
	}

	// 原图依旧可用，失败的派生版本不会写入缓存。
	if resp := h.get(t, imagePath("https://scontent.cdninstagram.com/v/p1.jpg?sig=1"), nil); resp.StatusCode != fiber.StatusOK {
		t.Fatalf("original status = %d", resp.StatusCode)
	}
	if h.fetcher.mediaCalls != 1 {
		t.Fatalf("mediaCalls = %d", h.fetcher.mediaCalls)
	}
}
