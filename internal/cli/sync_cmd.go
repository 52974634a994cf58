package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var syncAccountID uint

// syncCmd represents the sync command group
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "同步控制",
	Long:  `手动触发邮件同步。`,
}

// syncRunCmd runs one sync pass
var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "执行一次同步",
	Long:  `同步所有启用的账户，或通过 --account 指定单个账户。`,
	Run: func(cmd *cobra.Command, args []string) {
		if syncEngine == nil || accountService == nil {
			fmt.Fprintln(os.Stderr, "错误: 同步引擎未初始化")
			os.Exit(1)
		}

		ctx := context.Background()

		if syncAccountID != 0 {
			account, err := accountService.GetAccountByID(syncAccountID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "错误: 账户不存在: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("正在同步账户 '%s'...\n", account.Email)
			if err := syncEngine.TriggerSync(ctx, account.ID); err != nil {
				fmt.Fprintf(os.Stderr, "错误: 同步失败: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("同步完成。")
			return
		}

		accounts, err := accountService.GetEnabledAccounts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "错误: 获取账户列表失败: %v\n", err)
			os.Exit(1)
		}
		if len(accounts) == 0 {
			fmt.Println("暂无启用的账户。")
			return
		}

		failed := 0
		for _, account := range accounts {
			if account.NeedsReauth() {
				fmt.Printf("跳过账户 '%s' (需重新认证)\n", account.Email)
				continue
			}
			fmt.Printf("正在同步账户 '%s'...\n", account.Email)
			if err := syncEngine.TriggerSync(ctx, account.ID); err != nil {
				fmt.Fprintf(os.Stderr, "  同步失败: %v\n", err)
				failed++
				continue
			}
			fmt.Println("  完成。")
		}

		if failed > 0 {
			fmt.Fprintf(os.Stderr, "%d 个账户同步失败。\n", failed)
			os.Exit(1)
		}
		fmt.Println("全部同步完成。")
	},
}

func init() {
	syncRunCmd.Flags().UintVar(&syncAccountID, "account", 0, "仅同步指定 ID 的账户")
	syncCmd.AddCommand(syncRunCmd)
}
