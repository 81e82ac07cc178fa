package api

import (
	"net/http"

	adminHandler "tracker-server/internal/admin/handler"
	"tracker-server/internal/auth"
	"tracker-server/internal/ratelimit"

	"github.com/gin-gonic/gin"
)

type API struct {
	router       *gin.RouterGroup
	adminHandler adminHandler.Handler
	auth         *auth.Processor
	rateLimiter  *ratelimit.Service
}

func New(router *gin.RouterGroup, handler adminHandler.Handler, auth *auth.Processor, rateLimiter *ratelimit.Service) API {
	return API{
		router:       router,
		adminHandler: handler,
		auth:         auth,
		rateLimiter:  rateLimiter,
	}
}

func (a *API) RegisterRoutes() {
	a.Health()
	opsGroup := a.router.Group("/api/ops", a.auth.Middleware(), a.rateLimiter.Middleware())
	{
		opsGroup.POST("/aggregation/run", a.adminHandler.HandleRunAggregation)
		opsGroup.POST("/aggregation/backfill", a.adminHandler.HandleBackfill)
		opsGroup.GET("/aggregation/status", a.adminHandler.HandleAggregationStatus)
		opsGroup.GET("/stats/daily", a.adminHandler.HandleGetDailyStats)
		opsGroup.POST("/postbacks/:conversion_id/send", a.adminHandler.HandleSendPostback)
		opsGroup.POST("/postbacks/:conversion_id/retry", a.adminHandler.HandleRetryPostback)
		opsGroup.GET("/postbacks/:conversion_id/logs", a.adminHandler.HandleGetPostbackLogs)
		opsGroup.GET("/offers/:offer_id/caps", a.adminHandler.HandleGetOfferCaps)
	}
}

func (a *API) Health() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
}
