package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/parcelguard/internal/auth"
	"github.com/stwalsh4118/parcelguard/internal/middleware"
)

// Router holds what RegisterRoutes needs beyond the handlers themselves.
type Router struct {
	Health        *HealthHandler
	Parcels       *ParcelHandler
	Tickets       *TicketHandler
	Verifier      *auth.Verifier
	ReviewerRoles []string
	SubmitLimit   gin.HandlerFunc // optional
}

// RegisterRoutes mounts the health probes and the v1 API on router.
func (r Router) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", r.Health.Health)
	router.GET("/health/ready", r.Health.Ready)

	v1 := router.Group("/api/v1")
	v1.GET("/info", r.Health.Info)

	parcels := v1.Group("/parcels")
	{
		parcels.POST("/preview", r.Parcels.Preview)
		parcels.GET("", r.Parcels.AtPoint)
		parcels.GET("/:id", middleware.OptionalAuth(r.Verifier), r.Parcels.Get)

		submit := []gin.HandlerFunc{middleware.Auth(r.Verifier)}
		if r.SubmitLimit != nil {
			submit = append(submit, r.SubmitLimit)
		}
		parcels.POST("", append(submit, r.Parcels.Submit)...)
	}

	tickets := v1.Group("/tickets", middleware.Auth(r.Verifier), middleware.RequireRole(r.ReviewerRoles))
	{
		tickets.GET("", r.Tickets.List)
		tickets.GET("/:id", r.Tickets.Get)
		tickets.POST("/:id/resolve", r.Tickets.Resolve)
	}
}
