package api

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/luo-one/mailsync/internal/api/handlers"
	"github.com/luo-one/mailsync/internal/api/middleware"
	"github.com/luo-one/mailsync/internal/config"
	"github.com/luo-one/mailsync/internal/events"
	"github.com/luo-one/mailsync/internal/services"
)

// Services bundles the service layer the handlers depend on. The caller
// owns construction and lifecycle; the router only wires routes.
type Services struct {
	Account        *services.AccountService
	OAuth          *services.OAuthService
	Folder         *services.FolderService
	MessageSync    *services.MessageSyncService
	SessionManager *services.SessionManager
	SyncEngine     *services.SyncEngine
	PushMonitor    *services.PushMonitor
	Log            *services.LogService
	Bus            *events.Bus
}

// SetupRouter initializes and returns the Gin router with all routes configured
func SetupRouter(cfg *config.Config, svc *Services) (*gin.Engine, *middleware.AuthManager, error) {
	router := gin.Default()

	origins := strings.Split(cfg.CORSOrigins, ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: cfg.CORSOrigins != "*",
		MaxAge:           12 * time.Hour,
	}))

	authManager, err := middleware.NewAuthManager(cfg.DataDir, cfg.JWTSecret)
	if err != nil {
		return nil, nil, err
	}

	// Initialize handlers
	accountHandler := handlers.NewAccountHandler(svc.Account, svc.Log, svc.SyncEngine, svc.PushMonitor)
	oauthHandler := handlers.NewOAuthHandler(svc.OAuth, svc.Log, svc.PushMonitor)
	syncHandler := handlers.NewSyncHandler(svc.SyncEngine, svc.Log)
	folderHandler := handlers.NewFolderHandler(svc.Account, svc.Folder)
	messageHandler := handlers.NewMessageHandler(svc.Account, svc.Folder, svc.MessageSync, svc.SessionManager, svc.Log)
	eventsHandler := handlers.NewEventsHandler(svc.Bus, authManager.StreamTokenManager)
	logsHandler := handlers.NewLogsHandler(svc.Log)

	// Health check endpoint (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// The event stream authenticates with a short-lived token in the
	// query string instead of the API key header
	router.GET("/api/events", middleware.StreamTokenMiddleware(authManager.StreamTokenManager), eventsHandler.Stream)

	// OAuth callback is hit by a browser redirect and carries no API key;
	// the single-use state identifies the flow and its provider
	router.GET("/api/oauth/callback", oauthHandler.Callback)

	// API routes
	api := router.Group("/api")
	{
		api.Use(middleware.APIKeyMiddleware(authManager.APIKeyManager))

		accounts := api.Group("/accounts")
		{
			accounts.GET("", accountHandler.ListAccounts)
			accounts.POST("", accountHandler.CreateAccount)
			accounts.GET("/:id", accountHandler.GetAccount)
			accounts.PUT("/:id", accountHandler.UpdateAccount)
			accounts.DELETE("/:id", accountHandler.DeleteAccount)
			accounts.POST("/:id/test", accountHandler.TestConnection)
			accounts.POST("/:id/enable", accountHandler.EnableAccount)
			accounts.POST("/:id/disable", accountHandler.DisableAccount)
			accounts.POST("/:id/activate", accountHandler.ActivateAccount)
			accounts.POST("/:id/sync", syncHandler.TriggerSync)
			accounts.GET("/:id/sync", syncHandler.SyncStatus)
			accounts.GET("/:id/folders", folderHandler.ListFolders)
		}

		folders := api.Group("/folders")
		{
			folders.GET("/:id/messages", messageHandler.ListMessages)
		}

		messages := api.Group("/messages")
		{
			messages.GET("/:id", messageHandler.GetMessage)
			messages.PATCH("/:id/flags", messageHandler.UpdateFlags)
		}

		oauth := api.Group("/oauth")
		{
			oauth.GET("/:provider/auth", oauthHandler.GetAuthURL)
		}

		api.POST("/events/token", eventsHandler.IssueToken)
		api.GET("/logs", logsHandler.QueryLogs)
	}

	return router, authManager, nil
}
