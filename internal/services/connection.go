package services

import (
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/luo-one/mailsync/internal/database/models"
	"github.com/luo-one/mailsync/internal/imap"
)

const connectionTimeout = 10 * time.Second

// buildAddress builds a host:port address string
func buildAddress(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// ConnectionTestResult represents the result of a connection test
type ConnectionTestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// loginAuth implements smtp.Auth for LOGIN authentication
// Required for QQ Mail, 163 Mail and other Chinese email providers
type loginAuth struct {
	username, password string
}

func newLoginAuth(username, password string) smtp.Auth {
	return &loginAuth{username, password}
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", []byte{}, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		switch string(fromServer) {
		case "Username:", "username:":
			return []byte(a.username), nil
		case "Password:", "password:":
			return []byte(a.password), nil
		default:
			// Some servers send base64 encoded prompts
			decoded, err := base64.StdEncoding.DecodeString(string(fromServer))
			if err == nil {
				switch strings.ToLower(string(decoded)) {
				case "username:", "username":
					return []byte(a.username), nil
				case "password:", "password":
					return []byte(a.password), nil
				}
			}
			return nil, fmt.Errorf("unexpected server challenge: %s", fromServer)
		}
	}
	return nil, nil
}

// VerifyPasswordCredentials verifies a password against the account's IMAP
// and SMTP servers. IMAP verification is authoritative, SMTP failures are
// reported but do not fail the check when IMAP accepted the password.
func VerifyPasswordCredentials(account *models.Account, password string, dial imap.DialFunc) ConnectionTestResult {
	imapResult := verifyIMAPLogin(account, password, dial)
	if !imapResult.Success {
		return imapResult
	}

	if account.SMTPHost == "" {
		return imapResult
	}

	smtpResult := verifySMTPLogin(account, password)
	if !smtpResult.Success {
		return ConnectionTestResult{
			Success: true,
			Message: "IMAP authentication successful; SMTP check failed: " + smtpResult.Message,
		}
	}

	return ConnectionTestResult{
		Success: true,
		Message: "Both IMAP and SMTP connections successful",
	}
}

// verifyIMAPLogin dials the IMAP server and attempts a LOGIN.
func verifyIMAPLogin(account *models.Account, password string, dial imap.DialFunc) ConnectionTestResult {
	session, err := dial(imap.Config{
		Host:       account.IMAPHost,
		Port:       account.IMAPPort,
		Encryption: string(account.IMAPEncryption),
	})
	if err != nil {
		return ConnectionTestResult{
			Success: false,
			Message: fmt.Sprintf("Failed to connect to IMAP server: %v", err),
		}
	}
	defer session.Logout()

	if err := session.LoginPassword(account.Username, password); err != nil {
		return ConnectionTestResult{
			Success: false,
			Message: fmt.Sprintf("IMAP authentication failed: %v", err),
		}
	}

	return ConnectionTestResult{
		Success: true,
		Message: "IMAP connection and authentication successful",
	}
}

// verifySMTPLogin dials the SMTP server and attempts authentication,
// falling back from PLAIN to LOGIN for servers that require it.
func verifySMTPLogin(account *models.Account, password string) ConnectionTestResult {
	addr := buildAddress(account.SMTPHost, account.SMTPPort)

	var client *smtp.Client
	if account.SMTPEncryption == models.EncryptionSSL {
		tlsConfig := &tls.Config{ServerName: account.SMTPHost}
		conn, err := tls.DialWithDialer(&net.Dialer{Timeout: connectionTimeout}, "tcp", addr, tlsConfig)
		if err != nil {
			return ConnectionTestResult{
				Success: false,
				Message: fmt.Sprintf("Failed to connect to SMTP server: %v", err),
			}
		}

		client, err = smtp.NewClient(conn, account.SMTPHost)
		if err != nil {
			conn.Close()
			return ConnectionTestResult{
				Success: false,
				Message: fmt.Sprintf("Failed to create SMTP client: %v", err),
			}
		}
	} else {
		var err error
		client, err = smtp.Dial(addr)
		if err != nil {
			return ConnectionTestResult{
				Success: false,
				Message: fmt.Sprintf("Failed to connect to SMTP server: %v", err),
			}
		}

		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{ServerName: account.SMTPHost}
			if err := client.StartTLS(tlsConfig); err != nil && account.SMTPEncryption == models.EncryptionStartTLS {
				client.Close()
				return ConnectionTestResult{
					Success: false,
					Message: fmt.Sprintf("STARTTLS failed: %v", err),
				}
			}
		} else if account.SMTPEncryption == models.EncryptionStartTLS {
			client.Close()
			return ConnectionTestResult{
				Success: false,
				Message: "SMTP server does not support STARTTLS",
			}
		}
	}
	defer client.Close()

	auth := smtp.PlainAuth("", account.Username, password, account.SMTPHost)
	if err := client.Auth(auth); err != nil {
		// PLAIN rejected, retry with LOGIN
		if err := client.Auth(newLoginAuth(account.Username, password)); err != nil {
			return ConnectionTestResult{
				Success: false,
				Message: fmt.Sprintf("SMTP authentication failed: %v", err),
			}
		}
	}

	return ConnectionTestResult{
		Success: true,
		Message: "SMTP connection and authentication successful",
	}
}
