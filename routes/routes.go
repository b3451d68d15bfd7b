package routes

import (
	"github.com/gin-gonic/gin"
	"zh.xyz/dv/pgsync/handlers"
	"zh.xyz/dv/pgsync/middleware"
	"zh.xyz/dv/pgsync/ratelimit"
)

func SetupRoutes(r *gin.Engine) {
	// CORS中间件
	r.Use(middleware.CORSMiddleware())

	// 健康检查端点（无需认证）
	r.GET("/api/v1/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "pg-sync",
		})
	})

	// 公共路由
	public := r.Group("/api/v1")
	{
		userHandler := &handlers.UserHandler{}
		public.POST("/register", userHandler.Register)
		public.POST("/login", userHandler.Login)
	}

	// 需要认证的路由
	auth := r.Group("/api/v1")
	auth.Use(middleware.AuthMiddleware())
	{
		userHandler := &handlers.UserHandler{}
		auth.GET("/profile", middleware.RateLimitMiddleware(ratelimit.ClassRead), userHandler.GetProfile)

		// 数据库连接管理
		dbHandler := &handlers.DBConnectionHandler{}
		auth.POST("/connections", middleware.RateLimitMiddleware(ratelimit.ClassSync), dbHandler.CreateConnection)
		auth.GET("/connections", middleware.RateLimitMiddleware(ratelimit.ClassRead), dbHandler.ListConnections)
		auth.POST("/connections/test", middleware.RateLimitMiddleware(ratelimit.ClassSchema), dbHandler.TestConnection)

		// 数据库连接子资源路由（必须在/:id路由之前，避免路由冲突）
		connections := auth.Group("/connections")
		{
			schemaHandler := &handlers.SchemaHandler{}
			connections.GET("/:id/schema", middleware.RateLimitMiddleware(ratelimit.ClassSchema), schemaHandler.InspectSchema)

			// 基础CRUD路由（必须在子资源路由之后）
			readLimit := middleware.RateLimitMiddleware(ratelimit.ClassRead)
			connections.GET("/:id", readLimit, dbHandler.GetConnection)
			connections.PUT("/:id", middleware.RateLimitMiddleware(ratelimit.ClassSync), dbHandler.UpdateConnection)
			connections.DELETE("/:id", middleware.RateLimitMiddleware(ratelimit.ClassSync), dbHandler.DeleteConnection)
		}

		// 结构校验与迁移脚本
		schemaHandler := &handlers.SchemaHandler{}
		schemaLimit := middleware.RateLimitMiddleware(ratelimit.ClassSchema)
		auth.POST("/schema/validate", schemaLimit, schemaHandler.ValidateSchemas)
		auth.POST("/schema/migration", schemaLimit, schemaHandler.GenerateMigration)

		// 同步任务
		syncHandler := &handlers.SyncHandler{}
		syncLimit := middleware.RateLimitMiddleware(ratelimit.ClassSync)
		execLimit := middleware.RateLimitMiddleware(ratelimit.ClassExecute)
		readLimit := middleware.RateLimitMiddleware(ratelimit.ClassRead)
		auth.POST("/sync/dry-run", syncLimit, syncHandler.DryRun)
		auth.POST("/sync/jobs", syncLimit, syncHandler.CreateJob)
		auth.GET("/sync/jobs", readLimit, syncHandler.ListJobs)

		// 同步任务子资源路由
		jobs := auth.Group("/sync/jobs")
		{
			jobs.GET("/:id/logs", readLimit, syncHandler.GetJobLogs)
			// 基础路由
			jobs.GET("/:id", readLimit, syncHandler.GetJob)
			jobs.POST("/:id/start", execLimit, syncHandler.StartJob)
			jobs.POST("/:id/pause", execLimit, syncHandler.PauseJob)
			jobs.POST("/:id/cancel", execLimit, syncHandler.CancelJob)
			jobs.POST("/:id/resume", execLimit, syncHandler.ResumeJob)
			jobs.DELETE("/:id", syncLimit, syncHandler.DeleteJob)
		}

		// 冲突处理
		conflictHandler := &handlers.ConflictHandler{}
		auth.GET("/conflicts", readLimit, conflictHandler.ListConflicts)
		auth.GET("/conflicts/:id", readLimit, conflictHandler.GetConflict)
		auth.POST("/conflicts/:id/resolve", execLimit, conflictHandler.ResolveConflict)
	}

	// 管理员路由
	admin := r.Group("/api/v1/admin")
	admin.Use(middleware.AuthMiddleware())
	admin.Use(middleware.AdminMiddleware())
	admin.Use(middleware.RateLimitMiddleware(ratelimit.ClassAdmin))
	{
		userHandler := &handlers.UserHandler{}
		admin.GET("/users", userHandler.ListUsers)
	}

	// 公共冲突查看接口（通过邮件中的token）
	r.GET("/api/v1/conflicts/view", func(c *gin.Context) {
		handler := &handlers.ConflictHandler{}
		handler.ViewConflictByToken(c)
	})
}
