package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RouteRegistrar 将一组路由挂载到 Fiber 上，api.Handler 与诊断接口均实现该接口。
type RouteRegistrar interface {
	Register(fiber.Router)
}

// RouteRegistrarFunc adapts a function to the RouteRegistrar interface.
type RouteRegistrarFunc func(fiber.Router)

// Register makes RouteRegistrarFunc satisfy RouteRegistrar.
func (f RouteRegistrarFunc) Register(r fiber.Router) {
	f(r)
}

// AppOptions controls how the Fiber application is assembled.
type AppOptions struct {
	Logger *logrus.Logger
	Routes []RouteRegistrar
}

const contextKeyRequestID = "_scrapn_request_id"

// NewApp builds a Fiber application with request-id/CORS/recover middleware,
// the registered routes and a JSON 404 fallback.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(opts.Routes) == 0 {
		return nil, errors.New("at least one route registrar is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())
	app.Use(cors.New())

	for _, registrar := range opts.Routes {
		if registrar != nil {
			registrar.Register(app)
		}
	}

	app.Use(func(c fiber.Ctx) error {
		return renderRouteNotFound(c, opts.Logger)
	})

	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID，写入 Locals 与响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func renderRouteNotFound(c fiber.Ctx, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action":     "route_lookup",
		"path":       c.Path(),
		"method":     c.Method(),
		"request_id": RequestID(c),
	}).Debug("route not found")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":   "route_not_found",
		"message": "no route matches " + c.Method() + " " + c.Path(),
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
