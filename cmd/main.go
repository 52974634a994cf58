package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/luo-one/mailsync/internal/api"
	"github.com/luo-one/mailsync/internal/cli"
	"github.com/luo-one/mailsync/internal/config"
	"github.com/luo-one/mailsync/internal/database"
	"github.com/luo-one/mailsync/internal/events"
	"github.com/luo-one/mailsync/internal/services"
	"github.com/luo-one/mailsync/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Ensure data directory exists
	if err := ensureDataDir(cfg); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// Initialize database
	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Check if running CLI command
	if len(os.Args) > 1 {
		cli.Execute(db, cfg)
		return
	}

	// Credential vault backing all account secrets
	credentialVault, err := vault.New(cfg.VaultBackend, cfg.DataDir, cfg.GetEncryptionKey())
	if err != nil {
		log.Fatalf("Failed to initialize credential vault: %v", err)
	}

	// Service layer
	logService := services.NewLogServiceWithLevel(db, cfg.LogLevel)
	bus := events.NewBus()
	accountService := services.NewAccountService(db, credentialVault)
	redirectURL := fmt.Sprintf("http://localhost:%s/api/oauth/callback", cfg.APIPort)
	oauthService := services.NewOAuthService(db, accountService, redirectURL)
	sessionManager := services.NewSessionManager(db, accountService, oauthService, nil)
	folderService := services.NewFolderService(db)
	messageSync := services.NewMessageSyncService(db, bus, cfg.FullSyncWindowDays, cfg.FlagRecheckWindow)
	syncEngine := services.NewSyncEngine(db, accountService, folderService, messageSync, sessionManager, bus, cfg.SyncInterval())

	// Background workers
	syncEngine.Start()
	defer syncEngine.Stop()

	tokenScheduler := services.NewTokenScheduler(db, oauthService, cfg.SyncInterval())
	tokenScheduler.Start()
	defer tokenScheduler.Stop()

	pushMonitor := services.NewPushMonitor(db, accountService, sessionManager, syncEngine, cfg.PollInterval())
	pushMonitor.StartAll()
	defer pushMonitor.StopAll()

	// Start API server
	router, authManager, err := api.SetupRouter(cfg, &api.Services{
		Account:        accountService,
		OAuth:          oauthService,
		Folder:         folderService,
		MessageSync:    messageSync,
		SessionManager: sessionManager,
		SyncEngine:     syncEngine,
		PushMonitor:    pushMonitor,
		Log:            logService,
		Bus:            bus,
	})
	if err != nil {
		log.Fatalf("Failed to setup router: %v", err)
	}

	log.Printf("Starting mailsync server on port %s", cfg.APIPort)
	log.Printf("Data directory: %s", cfg.DataDir)
	log.Printf("Database path: %s", cfg.DatabasePath)
	log.Printf("Vault backend: %s", cfg.VaultBackend)
	log.Printf("API Key: %s", authManager.APIKeyManager.GetCurrentKey())
	if err := router.Run(":" + cfg.APIPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// ensureDataDir creates the data directory and the database parent
// directory if they don't exist
func ensureDataDir(cfg *config.Config) error {
	dirs := []string{
		cfg.DataDir,
		filepath.Dir(cfg.DatabasePath),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
