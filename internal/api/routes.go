package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"studyhub/internal/access"
	"studyhub/internal/account"
	"studyhub/internal/admin"
	"studyhub/internal/api/middleware"
	"studyhub/internal/catalog"
	"studyhub/internal/config"
	"studyhub/internal/ordering"
	"studyhub/internal/tasks"
	"studyhub/internal/uploader"
)

// Services 汇总路由依赖的业务服务。
type Services struct {
	Accounts  *account.AccountService
	Sheets    *catalog.SheetService
	Orders    *ordering.OrderService
	Uploaders *uploader.UploaderService
	Admin     *admin.AdminService
}

// Deps 是 RegisterRoutes 需要的全部外部依赖。
type Deps struct {
	Services
	Config  *config.Config
	Tokens  middleware.TokenValidator
	Redis   redis.UniversalClient
	Storage ObjectStorage
	Scanner Scanner
	Cleanup tasks.Enqueuer
	Logger  *slog.Logger
}

// RegisterRoutes 注册 /v1 下的全部业务路由。
func RegisterRoutes(router *gin.Engine, d Deps) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Scanner == nil {
		d.Scanner = noopScanner{}
	}
	upload := d.Config.Upload
	p := presenter{storage: d.Storage, ttl: upload.URLTTL, logger: d.Logger}
	files := fileStore{storage: d.Storage, scanner: d.Scanner, cleanup: d.Cleanup, logger: d.Logger}

	authHandler := NewAuthHandler(d.Accounts, d.Redis, LoginLimits{
		PerHour:       d.Config.Auth.LoginRateLimitPerHour,
		LockThreshold: d.Config.Auth.LoginLockThreshold,
		LockTTL:       d.Config.Auth.LoginLockTTL,
	}, p)
	sheetHandler := NewSheetHandler(d.Sheets, files, upload, p)
	orderHandler := NewOrderHandler(d.Orders, files, upload, p)
	uploaderHandler := NewUploaderHandler(d.Uploaders, p)
	userHandler := NewUserHandler(d.Accounts, files, upload, p)
	adminHandler := NewAdminHandler(d.Admin, d.Sheets, d.Orders, p)
	wsHandler := NewWsHandler(d.Redis, d.Tokens, d.Accounts, d.Logger, d.Config.API.AllowedOrigins)

	v1 := router.Group("/v1")
	v1.GET("/ws", wsHandler.HandleConnection)

	authenticate := middleware.Authenticate(d.Tokens, d.Accounts)
	// 强制改密的账号只能查看自己并修改密码。
	gate := middleware.RequirePasswordChangeCompletedMiddleware("/v1/auth/me", "/v1/auth/change-password")
	requireAdmin := middleware.Require(access.RequireAdmin)

	public := v1.Group("")
	public.Use(middleware.OptionalAuthenticate(d.Tokens, d.Accounts))
	{
		public.POST("/auth/register", authHandler.Register)
		public.POST("/auth/login", authHandler.Login)
		public.GET("/sheets", sheetHandler.List)
		public.GET("/sheets/:id", sheetHandler.Get)
		public.GET("/uploaders/approved", uploaderHandler.Approved)
		public.GET("/users/:id", userHandler.Profile)
	}

	authed := v1.Group("")
	authed.Use(authenticate, gate)
	{
		authGroup := authed.Group("/auth")
		authGroup.GET("/me", authHandler.Me)
		authGroup.PUT("/profile", authHandler.UpdateProfile)
		authGroup.PUT("/change-password", authHandler.ChangePassword)

		sheetGroup := authed.Group("/sheets")
		sheetGroup.POST("/upload", middleware.Require(access.RequireApprovedUploader), sheetHandler.Upload)
		sheetGroup.GET("/my/uploads", sheetHandler.MyUploads)
		sheetGroup.PUT("/:id", sheetHandler.Update)
		sheetGroup.DELETE("/:id", sheetHandler.Delete)
		sheetGroup.POST("/:id/download", sheetHandler.Download)

		orderGroup := authed.Group("/orders")
		orderGroup.POST("", orderHandler.Create)
		orderGroup.GET("/my", orderHandler.My)
		orderGroup.GET("/purchased", orderHandler.Purchased)
		orderGroup.GET("/:id", orderHandler.Get)
		orderGroup.POST("/:id/payment", orderHandler.UploadPayment)
		orderGroup.PUT("/:id/cancel", orderHandler.Cancel)

		uploaderGroup := authed.Group("/uploaders")
		uploaderGroup.POST("/apply", uploaderHandler.Apply)
		uploaderGroup.PUT("/profile", uploaderHandler.UpdateProfile)
		uploaderGroup.GET("/pending", requireAdmin, uploaderHandler.Pending)
		uploaderGroup.PUT("/:id/status", requireAdmin, uploaderHandler.Review)

		userGroup := authed.Group("/users")
		userGroup.GET("/stats", userHandler.Stats)
		userGroup.POST("/avatar", userHandler.Avatar)
		userGroup.GET("/search", userHandler.Search)
		userGroup.GET("/notifications", userHandler.Notifications)

		adminGroup := authed.Group("/admin")
		adminGroup.Use(requireAdmin)
		adminGroup.GET("/dashboard", adminHandler.Dashboard)
		adminGroup.GET("/users", adminHandler.Users)
		adminGroup.PUT("/users/:id/role", adminHandler.SetRole)
		adminGroup.GET("/sheets", adminHandler.Sheets)
		adminGroup.GET("/sheets/pending", adminHandler.PendingSheets)
		adminGroup.PUT("/sheets/:id/status", adminHandler.ReviewSheet)
		adminGroup.DELETE("/sheets/:id", sheetHandler.Delete)
		adminGroup.GET("/orders", adminHandler.Orders)
		adminGroup.PUT("/orders/:id/confirm-payment", adminHandler.ConfirmPayment)
	}
}
