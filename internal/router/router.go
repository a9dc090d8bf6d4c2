// Package router registers the HTTP routes of the claims service.
package router

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/campusbites/campus-food-claims/internal/config"
	"github.com/campusbites/campus-food-claims/internal/handler"
	mw "github.com/campusbites/campus-food-claims/internal/middleware"
)

// Handlers bundles the handler set the router wires up.
type Handlers struct {
	Events *handler.EventHandler
	Items  *handler.ItemHandler
	Claims *handler.ClaimHandler
	Orgs   *handler.OrganizationHandler
	Users  *handler.UserHandler
}

// Register mounts all routes on the echo instance.  Read endpoints sit
// behind the response cache; the claim-mutating endpoints get the rate
// limiter so a drop announcement cannot stampede the allocator.
func Register(e *echo.Echo, db *sql.DB, rdb *redis.Client, h Handlers) {
	limiter := mw.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	cache := mw.NewRedisCache(config.LoadCacheConfig(), rdb)

	e.GET("/healthz", handler.Health(db))

	v1 := e.Group("/v1")

	events := v1.Group("/events")
	events.GET("", h.Events.ListEvents, cache)
	events.POST("", h.Events.CreateEvent)
	events.GET("/:id", h.Events.GetEvent, cache)
	events.PUT("/:id", h.Events.UpdateEvent)
	events.DELETE("/:id", h.Events.DeleteEvent)
	events.GET("/:id/items", h.Events.ListEventItems, cache)
	events.POST("/:id/expire", h.Events.ExpireEvent)
	events.POST("/:id/items/:itemID/claims", h.Claims.CreateClaim, limiter)

	items := v1.Group("/items")
	items.GET("/:id", h.Items.GetItem)
	items.PATCH("/:id/capacity", h.Items.SetCapacity)

	claims := v1.Group("/claims")
	claims.GET("/:id", h.Claims.GetClaim)
	claims.POST("/:id/redeem", h.Claims.RedeemClaim, limiter)
	claims.POST("/:id/cancel", h.Claims.CancelClaim, limiter)

	orgs := v1.Group("/organizations")
	orgs.GET("", h.Orgs.ListOrganizations, cache)
	orgs.POST("", h.Orgs.CreateOrganization)
	orgs.GET("/:id", h.Orgs.GetOrganization, cache)
	orgs.GET("/:id/locations", h.Orgs.ListLocations, cache)
	orgs.POST("/:id/locations", h.Orgs.CreateLocation)

	users := v1.Group("/users")
	users.GET("", h.Users.ListUsers)
	users.POST("", h.Users.CreateUser)
	users.GET("/:id", h.Users.GetUser)
	users.GET("/:id/claims", h.Claims.ListUserClaims)
}
