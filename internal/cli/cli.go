package cli

import (
	"fmt"
	"os"

	"github.com/luo-one/mailsync/internal/api/middleware"
	"github.com/luo-one/mailsync/internal/config"
	"github.com/luo-one/mailsync/internal/events"
	"github.com/luo-one/mailsync/internal/services"
	"github.com/luo-one/mailsync/internal/vault"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	db             *gorm.DB
	cfg            *config.Config
	apiKeyManager  *middleware.APIKeyManager
	accountService *services.AccountService
	syncEngine     *services.SyncEngine
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mailsync",
	Short: "邮箱账户认证与同步引擎",
	Long: `mailsync 是一个多账户邮件认证与同步引擎的命令行工具。

该命令行工具提供以下功能：
  - 账户管理：添加、列出、启用、禁用和删除邮箱账户
  - 同步控制：手动触发一次同步
  - 密钥管理：查看和重置 API 密钥

使用示例：
  mailsync account add       # 交互式添加邮箱账户
  mailsync account list      # 列出所有账户
  mailsync sync run          # 同步所有启用的账户
  mailsync key show          # 显示当前 API 密钥`,
}

// Execute runs the CLI with the provided database and config
func Execute(database *gorm.DB, config *config.Config) {
	db = database
	cfg = config

	var err error
	apiKeyManager, err = middleware.NewAPIKeyManager(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: 无法初始化 API 密钥管理器: %v\n", err)
		os.Exit(1)
	}

	credentialVault, err := vault.New(cfg.VaultBackend, cfg.DataDir, cfg.GetEncryptionKey())
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: 无法初始化凭据保险库: %v\n", err)
		os.Exit(1)
	}

	accountService = services.NewAccountService(db, credentialVault)

	oauthService := services.NewOAuthService(db, accountService, "")
	sessionManager := services.NewSessionManager(db, accountService, oauthService, nil)
	folderService := services.NewFolderService(db)
	bus := events.NewBus()
	messageSync := services.NewMessageSyncService(db, bus, cfg.FullSyncWindowDays, cfg.FlagRecheckWindow)
	syncEngine = services.NewSyncEngine(db, accountService, folderService, messageSync, sessionManager, bus, cfg.SyncInterval())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(syncCmd)
}
