package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/scrapn/scrapn/internal/access"
	"github.com/scrapn/scrapn/internal/cache"
	"github.com/scrapn/scrapn/internal/domain"
	"github.com/scrapn/scrapn/internal/imaging"
	"github.com/scrapn/scrapn/internal/upstream"
)

var (
	errMissingURL = errors.New("query parameter url is required")
	errForeignURL = errors.New("url does not belong to this user's content")
)

// ErrorBody 是所有错误响应的 JSON 结构。
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorMapping struct {
	status  int
	code    string
	message string
}

// mapError 将内部错误映射为 HTTP 状态码与错误码。
func mapError(err error) errorMapping {
	switch {
	case errors.Is(err, domain.ErrInvalidUsername):
		return errorMapping{fiber.StatusBadRequest, "invalid_username", "username must be 1-30 characters of letters, digits, '.' or '_'"}
	case errors.Is(err, errMissingURL):
		return errorMapping{fiber.StatusBadRequest, "missing_url", err.Error()}
	case errors.Is(err, cache.ErrInvalidURL):
		return errorMapping{fiber.StatusBadRequest, "invalid_url", "url must be an absolute http(s) URL"}
	case errors.Is(err, imaging.ErrInvalidParams):
		return errorMapping{fiber.StatusBadRequest, "invalid_image_params", err.Error()}
	case errors.Is(err, imaging.ErrDecode):
		return errorMapping{fiber.StatusBadGateway, "conversion_failed", "upstream media is not a convertible image"}
	case errors.Is(err, imaging.ErrEncode):
		return errorMapping{fiber.StatusInternalServerError, "conversion_failed", "failed to encode converted image"}
	case errors.Is(err, access.ErrNotAllowed), errors.Is(err, errForeignURL):
		return errorMapping{fiber.StatusUnauthorized, "unauthorized", err.Error()}
	case errors.Is(err, cache.ErrFetchPanic):
		return errorMapping{fiber.StatusInternalServerError, "internal_error", "internal error while fetching upstream"}
	}

	switch upstream.KindOf(err) {
	case upstream.KindNotFound:
		return errorMapping{fiber.StatusNotFound, "not_found", "profile or media not found"}
	case upstream.KindPrivate:
		return errorMapping{fiber.StatusForbidden, "private_profile", "the requested profile is private and cannot be accessed"}
	case upstream.KindRateLimited:
		return errorMapping{fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later"}
	case upstream.KindProxy:
		return errorMapping{fiber.StatusBadGateway, "proxy_error", "egress proxy failed"}
	case upstream.KindProxyExhausted:
		return errorMapping{fiber.StatusServiceUnavailable, "all_proxies_failed", "all egress proxies are cooling down"}
	case upstream.KindNetwork, upstream.KindStatus:
		return errorMapping{fiber.StatusServiceUnavailable, "upstream_unavailable", "upstream request failed"}
	case upstream.KindParse:
		return errorMapping{fiber.StatusInternalServerError, "parse_error", "failed to parse upstream response"}
	case upstream.KindTooLarge:
		return errorMapping{fiber.StatusBadGateway, "media_too_large", "media exceeds the configured size limit"}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errorMapping{fiber.StatusServiceUnavailable, "upstream_unavailable", "request cancelled before upstream responded"}
	}
	return errorMapping{fiber.StatusInternalServerError, "internal_error", "unexpected error"}
}

func (h *Handler) fail(c fiber.Ctx, view, username string, started time.Time, err error) error {
	m := mapError(err)
	h.logResult(c, view, username, "", m.status, started, err)
	return c.Status(m.status).JSON(ErrorBody{Error: m.code, Message: m.message})
}
