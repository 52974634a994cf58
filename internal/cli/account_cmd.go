package cli

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/luo-one/mailsync/internal/database/models"
	"github.com/luo-one/mailsync/internal/imap"
	"github.com/luo-one/mailsync/internal/services"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// accountCmd represents the account command group
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "邮箱账户管理",
	Long:  `管理邮箱账户，包括添加、列出、启用、禁用和删除账户。`,
}

// accountAddCmd interactively attaches a password account
var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "添加邮箱账户",
	Long:  `交互式添加密码或应用专用密码认证的邮箱账户。OAuth 账户请通过 API 授权流程添加。`,
	Run: func(cmd *cobra.Command, args []string) {
		if accountService == nil {
			fmt.Fprintln(os.Stderr, "错误: 账户服务未初始化")
			os.Exit(1)
		}

		reader := bufio.NewReader(os.Stdin)

		email := promptLine(reader, "请输入邮箱地址: ")
		if email == "" {
			fmt.Fprintln(os.Stderr, "错误: 邮箱地址不能为空")
			os.Exit(1)
		}

		imapHost := promptLine(reader, "请输入 IMAP 服务器地址: ")
		imapPort := promptPort(reader, "请输入 IMAP 端口 (默认 993): ", 993)
		imapEnc := promptEncryption(reader, "IMAP 加密方式 (ssl/starttls/none, 默认 ssl): ", models.EncryptionSSL)

		smtpHost := promptLine(reader, "请输入 SMTP 服务器地址 (可选，直接回车跳过): ")
		smtpPort := 587
		smtpEnc := models.EncryptionStartTLS
		if smtpHost != "" {
			smtpPort = promptPort(reader, "请输入 SMTP 端口 (默认 587): ", 587)
			smtpEnc = promptEncryption(reader, "SMTP 加密方式 (ssl/starttls/none, 默认 starttls): ", models.EncryptionStartTLS)
		}

		username := promptLine(reader, fmt.Sprintf("请输入登录用户名 (默认 %s): ", email))
		if username == "" {
			username = email
		}

		fmt.Print("请输入密码或应用专用密码: ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			fmt.Fprintf(os.Stderr, "\n错误: 读取密码失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()
		password := string(passwordBytes)
		if password == "" {
			fmt.Fprintln(os.Stderr, "错误: 密码不能为空")
			os.Exit(1)
		}

		candidate := &models.Account{
			Email:          email,
			IMAPHost:       imapHost,
			IMAPPort:       imapPort,
			IMAPEncryption: imapEnc,
			SMTPHost:       smtpHost,
			SMTPPort:       smtpPort,
			SMTPEncryption: smtpEnc,
			Username:       username,
		}

		fmt.Println("正在验证凭据...")
		result := services.VerifyPasswordCredentials(candidate, password, imap.Dial)
		if !result.Success {
			fmt.Fprintf(os.Stderr, "错误: 凭据验证失败: %s\n", result.Message)
			os.Exit(1)
		}
		fmt.Println(result.Message)

		account, err := accountService.CreateAccount(services.CreateAccountInput{
			Email:          email,
			DisplayName:    email,
			IMAPHost:       imapHost,
			IMAPPort:       imapPort,
			IMAPEncryption: imapEnc,
			SMTPHost:       smtpHost,
			SMTPPort:       smtpPort,
			SMTPEncryption: smtpEnc,
			Username:       username,
			AuthType:       models.AuthTypePassword,
			Password:       password,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "错误: 创建账户失败: %v\n", err)
			os.Exit(1)
		}

		fmt.Println()
		fmt.Println("账户添加成功！")
		fmt.Printf("  ID: %d\n", account.ID)
		fmt.Printf("  邮箱: %s\n", account.Email)
	},
}

// accountListCmd lists all accounts
var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出所有账户",
	Long:  `显示所有已配置的邮箱账户及其状态。`,
	Run: func(cmd *cobra.Command, args []string) {
		if accountService == nil {
			fmt.Fprintln(os.Stderr, "错误: 账户服务未初始化")
			os.Exit(1)
		}

		accounts, err := accountService.ListAccounts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "错误: 获取账户列表失败: %v\n", err)
			os.Exit(1)
		}

		if len(accounts) == 0 {
			fmt.Println("暂无已配置的账户。")
			return
		}

		fmt.Println("账户列表:")
		fmt.Println("--------------------------------------------------------------")
		fmt.Printf("%-6s %-30s %-10s %-8s %s\n", "ID", "邮箱", "认证方式", "状态", "上次同步")
		fmt.Println("--------------------------------------------------------------")
		for _, a := range accounts {
			status := "启用"
			if !a.Enabled {
				status = "禁用"
			} else if a.NeedsReauth() {
				status = "需重新认证"
			}
			lastSync := "从未"
			if !a.LastSyncAt.IsZero() {
				lastSync = a.LastSyncAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-6d %-30s %-10s %-8s %s\n", a.ID, a.Email, a.AuthType, status, lastSync)
		}
		fmt.Println("--------------------------------------------------------------")
		fmt.Printf("共 %d 个账户\n", len(accounts))
	},
}

// accountEnableCmd enables an account
var accountEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "启用账户",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		account := mustSetEnabled(args[0], true)
		fmt.Printf("账户 '%s' 已启用。\n", account.Email)
	},
}

// accountDisableCmd disables an account
var accountDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "禁用账户",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		account := mustSetEnabled(args[0], false)
		fmt.Printf("账户 '%s' 已禁用。\n", account.Email)
	},
}

// accountRemoveCmd deletes an account and its local data
var accountRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "删除账户",
	Long:  `删除指定账户及其本地文件夹、邮件元数据和保险库中的凭据。此操作需要确认。`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		accountID := mustParseAccountID(args[0])

		account, err := accountService.GetAccountByID(accountID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "错误: 账户不存在: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("警告: 即将删除账户 '%s' (ID: %d) 及其所有本地数据。\n", account.Email, account.ID)
		fmt.Print("确定要继续吗？(yes/no): ")

		reader := bufio.NewReader(os.Stdin)
		confirm, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "错误: 读取输入失败: %v\n", err)
			os.Exit(1)
		}
		confirm = strings.TrimSpace(strings.ToLower(confirm))
		if confirm != "yes" && confirm != "y" {
			fmt.Println("操作已取消。")
			return
		}

		if err := accountService.DeleteAccount(accountID); err != nil {
			fmt.Fprintf(os.Stderr, "错误: 删除账户失败: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("账户 '%s' 已删除。\n", account.Email)
	},
}

func promptLine(reader *bufio.Reader, prompt string) string {
	fmt.Print(prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: 读取输入失败: %v\n", err)
		os.Exit(1)
	}
	return strings.TrimSpace(line)
}

func promptPort(reader *bufio.Reader, prompt string, fallback int) int {
	line := promptLine(reader, prompt)
	if line == "" {
		return fallback
	}
	port, err := strconv.Atoi(line)
	if err != nil || port <= 0 || port > 65535 {
		fmt.Fprintln(os.Stderr, "错误: 无效的端口号")
		os.Exit(1)
	}
	return port
}

func promptEncryption(reader *bufio.Reader, prompt string, fallback models.Encryption) models.Encryption {
	line := strings.ToLower(promptLine(reader, prompt))
	switch line {
	case "":
		return fallback
	case "ssl", "starttls", "none":
		return models.Encryption(line)
	default:
		fmt.Fprintln(os.Stderr, "错误: 无效的加密方式")
		os.Exit(1)
		return fallback
	}
}

func mustParseAccountID(arg string) uint {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		fmt.Fprintln(os.Stderr, "错误: 无效的账户 ID")
		os.Exit(1)
	}
	return uint(id)
}

func mustSetEnabled(arg string, enabled bool) *models.Account {
	if accountService == nil {
		fmt.Fprintln(os.Stderr, "错误: 账户服务未初始化")
		os.Exit(1)
	}
	accountID := mustParseAccountID(arg)
	account, err := accountService.SetAccountEnabled(accountID, enabled)
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: 更新账户状态失败: %v\n", err)
		os.Exit(1)
	}
	return account
}

func init() {
	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountEnableCmd)
	accountCmd.AddCommand(accountDisableCmd)
	accountCmd.AddCommand(accountRemoveCmd)
}
