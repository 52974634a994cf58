package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/luo-one/mailsync/internal/imap"
)

// Manual connectivity probe. Reads server and credentials from the
// environment so nothing sensitive lands in the source tree:
//
//	MAILSYNC_PROBE_HOST, MAILSYNC_PROBE_PORT (default 993),
//	MAILSYNC_PROBE_ENCRYPTION (default ssl),
//	MAILSYNC_PROBE_USER, MAILSYNC_PROBE_PASSWORD
func main() {
	host := os.Getenv("MAILSYNC_PROBE_HOST")
	username := os.Getenv("MAILSYNC_PROBE_USER")
	password := os.Getenv("MAILSYNC_PROBE_PASSWORD")
	if host == "" || username == "" || password == "" {
		log.Fatal("MAILSYNC_PROBE_HOST, MAILSYNC_PROBE_USER 和 MAILSYNC_PROBE_PASSWORD 必须设置")
	}

	port := 993
	if v := os.Getenv("MAILSYNC_PROBE_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("无效的端口: %v", err)
		}
		port = p
	}
	encryption := os.Getenv("MAILSYNC_PROBE_ENCRYPTION")
	if encryption == "" {
		encryption = "ssl"
	}

	log.Printf("正在连接 %s:%d...", host, port)
	session, err := imap.Dial(imap.Config{Host: host, Port: port, Encryption: encryption})
	if err != nil {
		log.Fatalf("连接失败: %v", err)
	}
	defer session.Logout()
	log.Println("连接成功!")

	log.Printf("正在登录 %s...", username)
	if err := session.LoginPassword(username, password); err != nil {
		log.Fatalf("登录失败: %v", err)
	}
	log.Println("登录成功!")

	folders, err := session.ListFolders()
	if err != nil {
		log.Fatalf("列出文件夹失败: %v", err)
	}
	log.Printf("共 %d 个文件夹", len(folders))
	for _, f := range folders {
		fmt.Printf("  %s (selectable=%v)\n", f.Name, f.Selectable())
	}

	status, err := session.Select("INBOX", true)
	if err != nil {
		log.Fatalf("选择收件箱失败: %v", err)
	}
	log.Printf("收件箱共有 %d 封邮件, UIDVALIDITY=%d, UIDNEXT=%d", status.Messages, status.UIDValidity, status.UIDNext)

	uids, err := session.SearchUIDs(1, 0)
	if err != nil {
		log.Fatalf("搜索邮件失败: %v", err)
	}
	log.Printf("搜索到 %d 个 UID", len(uids))
	if len(uids) == 0 {
		log.Println("没有邮件")
		return
	}

	start := len(uids) - 5
	if start < 0 {
		start = 0
	}
	recent := uids[start:]

	metas, err := session.FetchEnvelopes(recent)
	if err != nil {
		log.Fatalf("获取邮件失败: %v", err)
	}

	log.Printf("最近 %d 封邮件:", len(metas))
	fmt.Println("--------------------------------------------------")
	for _, meta := range metas {
		fmt.Printf("UID: %d\n", meta.UID)
		fmt.Printf("主题: %s\n", meta.Subject)
		fmt.Printf("发件人: %s\n", meta.From)
		fmt.Printf("日期: %s\n", meta.Date)
		fmt.Println("--------------------------------------------------")
	}

	log.Println("测试完成!")
}
