// Package server hosts the Fiber HTTP application: the middleware chain
// (recover, request id, CORS), route registration and the JSON 404 fallback.
// Concrete routes live in internal/api and internal/server/routes and are
// injected through RouteRegistrar so this package keeps no domain imports.
package server
