package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/scrapn/scrapn/internal/access"
	"github.com/scrapn/scrapn/internal/cache"
	"github.com/scrapn/scrapn/internal/domain"
	"github.com/scrapn/scrapn/internal/imaging"
	"github.com/scrapn/scrapn/internal/upstream"
)

const requestIDKey = "_scrapn_request_id"

func TestFailWritesErrorBodyAndLogsRequestID(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "req-123")

	logBuf := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetOutput(logBuf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	h := &Handler{logger: logger}
	err := &upstream.FetchError{Kind: upstream.KindProxyExhausted, Err: upstream.ErrProxyExhausted}
	if ret := h.fail(ctx, viewProfile, "natgeo", time.Now(), err); ret != nil {
		t.Fatalf("fail returned unexpected error: %v", ret)
	}

	if status := ctx.Response().StatusCode(); status != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, `"all_proxies_failed"`) {
		t.Fatalf("unexpected body %s", body)
	}
	logged := logBuf.String()
	if !strings.Contains(logged, "req-123") || !strings.Contains(logged, "request_failed") {
		t.Fatalf("log entry should carry request id, got %s", logged)
	}
}

func TestMapErrorCoversLocalErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrInvalidUsername, 400, "invalid_username"},
		{errMissingURL, 400, "missing_url"},
		{fmt.Errorf("%w: bad", cache.ErrInvalidURL), 400, "invalid_url"},
		{fmt.Errorf("%w: x", access.ErrNotAllowed), 401, "unauthorized"},
		{errForeignURL, 401, "unauthorized"},
		{fmt.Errorf("%w: unsupported fit", imaging.ErrInvalidParams), 400, "invalid_image_params"},
		{fmt.Errorf("%w: eof", imaging.ErrDecode), 502, "conversion_failed"},
		{fmt.Errorf("%w: short write", imaging.ErrEncode), 500, "conversion_failed"},
		{fmt.Errorf("%w: boom", cache.ErrFetchPanic), 500, "internal_error"},
		{&upstream.FetchError{Kind: upstream.KindTooLarge}, 502, "media_too_large"},
		{&upstream.FetchError{Kind: upstream.KindStatus, StatusCode: 500}, 503, "upstream_unavailable"},
		{context.DeadlineExceeded, 503, "upstream_unavailable"},
		{errors.New("other"), 500, "internal_error"},
	}
	for _, tc := range cases {
		m := mapError(tc.err)
		if m.status != tc.status || m.code != tc.code {
			t.Fatalf("mapError(%v) = %d/%s, want %d/%s", tc.err, m.status, m.code, tc.status, tc.code)
		}
	}
}
