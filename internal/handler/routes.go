package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/thethien2906/KnMdiscova-api-sub000/internal/middleware"
	"github.com/thethien2906/KnMdiscova-api-sub000/internal/models"
)

// Handlers bundles everything RegisterRoutes mounts.
type Handlers struct {
	Auth         *AuthHandler
	Availability *AvailabilityHandler
	Slots        *SlotHandler
	Bookings     *BookingHandler
	Payments     *PaymentHandler
	Metrics      *MetricsHandler
}

// RegisterRoutes mounts the API under the given prefix.
func RegisterRoutes(r *gin.Engine, prefix string, auth middleware.TokenValidator, h Handlers) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Health)
	r.GET("/metrics", h.Metrics.Prometheus)

	api := r.Group(prefix)

	api.POST("/auth/login", h.Auth.Login)
	api.POST("/payments/webhook", h.Payments.Webhook)

	authed := api.Group("")
	authed.Use(middleware.Auth(auth))

	provider := authed.Group("")
	provider.Use(middleware.RequireRoles(models.RolePsychologist, models.RoleAdmin))
	provider.POST("/availability", h.Availability.Create)
	provider.GET("/availability", h.Availability.List)
	provider.PUT("/availability/:id", h.Availability.Update)
	provider.DELETE("/availability/:id", h.Availability.Delete)
	provider.POST("/availability/:id/generate", h.Availability.Generate)
	provider.GET("/availability/schedule/export", h.Slots.ExportSchedule)
	provider.POST("/sessions/verify", h.Bookings.VerifySession)
	provider.POST("/bookings/:id/complete", h.Bookings.Complete)
	provider.POST("/bookings/:id/no-show", h.Bookings.MarkNoShow)

	admin := authed.Group("")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	admin.POST("/slots/bulk-generate", h.Availability.BulkGenerate)

	authed.GET("/psychologists/:id/slots", h.Slots.List)
	authed.GET("/psychologists/:id/slots/check", h.Slots.Check)

	parent := authed.Group("")
	parent.Use(middleware.RequireRoles(models.RoleParent, models.RoleAdmin))
	parent.POST("/bookings", h.Bookings.Create)
	parent.POST("/psychologists/:id/hold/extend", h.Bookings.ExtendHold)
	parent.DELETE("/psychologists/:id/hold", h.Bookings.ReleaseHold)

	authed.GET("/bookings/upcoming", h.Bookings.ListUpcoming)
	authed.GET("/bookings/:id", h.Bookings.Get)
	authed.POST("/bookings/:id/cancel", h.Bookings.Cancel)
}
