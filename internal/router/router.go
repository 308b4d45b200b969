// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/kwachira/tikiti/internal/config"
	"github.com/kwachira/tikiti/internal/handler"
	"github.com/kwachira/tikiti/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication:
// the health check, the Prometheus scrape endpoint, and the payment
// provider webhook (which authenticates with its own shared secret
// rather than a user token).  The webhook carries the token bucket
// keyed by source IP so a misbehaving sender cannot hammer storage.
func RegisterRoutes(e *echo.Echo, wh *handler.WebhookHandler, rlCfg config.RateLimitConfig, rdb *redis.Client) {
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.POST("/v1/webhooks/rift", wh.Handle, middleware.NewTokenBucket(rlCfg, rdb))
}

// RegisterReservations registers the authenticated reservation
// lifecycle and organizer endpoints under /v1.  The token bucket only
// wraps the payment-confirmation routes: those can block for most of
// a minute while polling, so they are the ones worth defending.
func RegisterReservations(
	e *echo.Echo,
	res *handler.ReservationHandler,
	org *handler.OrganizerHandler,
	jwtSecret string,
	rlCfg config.RateLimitConfig,
	rdb *redis.Client,
) {
	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))

	limited := auth.Group("")
	limited.Use(middleware.NewTokenBucket(rlCfg, rdb))

	auth.POST("/events/:id/rsvp", res.Reserve)
	limited.POST("/events/:id/rsvp/confirm", res.Confirm)
	limited.POST("/events/:id/rsvp/wallet", res.PayWallet)
	auth.GET("/events/:id/invoice", res.Status)

	auth.GET("/events/:id/attendees", org.Attendees)
}
