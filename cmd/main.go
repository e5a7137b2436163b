package main

import (
	"log"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/themaluxis/MUM-sub001/internal/config"
	"github.com/themaluxis/MUM-sub001/internal/handlers"
	"github.com/themaluxis/MUM-sub001/internal/middleware"
	"github.com/themaluxis/MUM-sub001/internal/models"
	"github.com/themaluxis/MUM-sub001/internal/services"
)

func main() {
	// 加载配置
	if err := config.Load(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	if err := models.InitDB(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	db := models.GetDB()

	// 设置Gin模式
	gin.SetMode(config.AppConfig.GinMode)

	// 创建路由
	r := gin.Default()

	// 中间件
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
	}))

	// 初始化服务
	userService := services.NewUserService(db)
	inviteService := services.NewInviteService(db)
	serverService := services.NewMediaServerService(db)
	libraryService := services.NewLibraryService()
	wizardService := services.NewWizardService()
	pinService := services.NewPinAuthService(services.DefaultPinRetryPolicy())
	oauthService := services.NewOAuthService(db)
	conflictService := services.NewConflictService(db)
	provisionService := services.NewProvisionService(db, inviteService, libraryService, wizardService)

	// 初始化处理器
	authHandler := handlers.NewAuthHandler(userService)
	userHandler := handlers.NewUserHandler(db, userService)
	serverHandler := handlers.NewServerHandler(serverService)
	inviteAdminHandler := handlers.NewInviteAdminHandler(inviteService, serverService, libraryService)
	wizardHandler := handlers.NewWizardHandler(db, inviteService, wizardService,
		pinService, oauthService, conflictService, libraryService, provisionService)

	// 公开向导路由（限流）
	invite := r.Group("/invite/:code")
	invite.Use(middleware.RateLimitInvite())
	{
		invite.GET("", wizardHandler.Show)
		invite.GET("/libraries", wizardHandler.Libraries)
		invite.POST("/pin/start", wizardHandler.StartPin)
		invite.POST("/pin/poll", wizardHandler.PollPin)
		invite.GET("/oauth/start", wizardHandler.StartOAuth)
		invite.GET("/oauth/callback", wizardHandler.OAuthCallback)
		invite.POST("/account", wizardHandler.SubmitAccount)
		invite.POST("/accept", wizardHandler.Accept)
	}

	// API路由
	api := r.Group("/api/v1")
	{
		// 认证（无需登录）
		api.POST("/auth/login", authHandler.Login)

		// 需要登录的路由
		auth := api.Group("")
		auth.Use(middleware.AuthMiddleware())
		{
			// 用户信息
			auth.GET("/auth/me", authHandler.GetCurrentUser)
			auth.POST("/auth/change-password", authHandler.ChangePassword)

			// 邀请管理
			auth.GET("/invites", inviteAdminHandler.List)
			auth.POST("/invites", inviteAdminHandler.Create)
			auth.GET("/invites/:id", inviteAdminHandler.Get)
			auth.PATCH("/invites/:id/disabled", inviteAdminHandler.SetDisabled)
			auth.DELETE("/invites/:id", inviteAdminHandler.Delete)
			auth.GET("/invites/:id/usages", inviteAdminHandler.Usages)
			auth.GET("/libraries", inviteAdminHandler.LibraryOptions)

			// 服务器管理
			auth.GET("/servers", serverHandler.List)
			auth.POST("/servers", serverHandler.Create)
			auth.GET("/servers/:id", serverHandler.Get)
			auth.DELETE("/servers/:id", serverHandler.Delete)
			auth.GET("/servers/:id/libraries", serverHandler.Libraries)

			// 用户与服务账号
			admin := auth.Group("")
			admin.Use(middleware.RequireAdmin())
			{
				admin.GET("/users", userHandler.List)
				admin.GET("/users/:id", userHandler.Get)
				admin.PUT("/users/:id", userHandler.Update)
				admin.GET("/accounts", userHandler.ServiceAccounts)
			}
		}
	}

	// 启动服务
	log.Printf("🚀 MUM starting on port %s", config.AppConfig.ServerPort)
	if err := r.Run(":" + config.AppConfig.ServerPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
