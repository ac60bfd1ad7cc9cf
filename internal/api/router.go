package api

import (
	"flagpost/internal/metrics"
	"flagpost/internal/middleware"
	"flagpost/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func RegisterRoutes(
	flagHandler *FlagHandler,
	orgHandler *OrgHandler,
	streamHandler *StreamHandler,
	authHandler *AuthHandler,
	auth *service.AuthService,
	rdb *redis.Client,
	requestsPerSecond int,
) *gin.Engine {
	r := gin.New()

	r.Use(
		middleware.CorsMiddleware(),
		middleware.RequestID(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.HttpMiddleware(),
		middleware.TraceMiddleware(),
	)
	r.SetTrustedProxies(nil)

	r.GET("/health", flagHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	authPublic := r.Group("/v1/auth")
	{
		authPublic.POST("/register", authHandler.Register)
		authPublic.POST("/login", authHandler.Login)
		authPublic.POST("/refresh", authHandler.Refresh)
	}

	authProtected := r.Group("/v1/auth")
	authProtected.Use(middleware.JWTMiddleware(auth))
	{
		authProtected.GET("/me", authHandler.GetProfile)
		authProtected.POST("/logout", authHandler.Logout)
	}

	protected := r.Group("/v1")
	protected.Use(middleware.JWTMiddleware(auth))

	writeLimiter := middleware.RateLimitMiddleware(rdb, requestsPerSecond)

	{
		protected.GET("/flags", flagHandler.ListFlags)
		protected.GET("/flags/snapshot", flagHandler.Snapshot)
		protected.POST("/flags", writeLimiter, flagHandler.CreateFlag)
		protected.GET("/flags/:id", flagHandler.GetFlag)
		protected.PATCH("/flags/:id", writeLimiter, flagHandler.UpdateFlag)
		protected.DELETE("/flags/:id", writeLimiter, flagHandler.DeleteFlag)
		protected.POST("/flags/:id/toggle", writeLimiter, flagHandler.ToggleFlag)
		protected.GET("/flags/:id/audits", flagHandler.GetFlagAudits)
		protected.PUT("/flags/:id/overrides", writeLimiter, flagHandler.UpsertOverride)
		protected.DELETE("/overrides/:id", writeLimiter, flagHandler.DeleteOverride)

		protected.POST("/orgs", writeLimiter, orgHandler.CreateOrganization)
		protected.GET("/orgs/:id/members", orgHandler.ListMembers)
		protected.POST("/orgs/:id/members", writeLimiter, orgHandler.AddMember)
		protected.PATCH("/orgs/:id/members/:userID", writeLimiter, orgHandler.UpdateMemberRole)
		protected.DELETE("/orgs/:id/members/:userID", writeLimiter, orgHandler.RemoveMember)

		protected.GET("/stream", streamHandler.Watch)
	}
	return r
}
