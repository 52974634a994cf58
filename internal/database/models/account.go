package models

import (
	"time"
)

// Provider identifies the mail provider preset an account was created from.
type Provider string

const (
	ProviderGenericIMAP Provider = "generic-imap"
	ProviderGmail       Provider = "gmail"
	ProviderExchange    Provider = "exchange"
	ProviderYahoo       Provider = "yahoo"
	ProviderQQ          Provider = "qq"
	ProviderNetEase     Provider = "netease"
	ProviderOutlook     Provider = "outlook"
	ProviderApple       Provider = "apple"
	ProviderPOP3        Provider = "pop3"
)

// IsValid checks if the provider is one of the known presets.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderGenericIMAP, ProviderGmail, ProviderExchange, ProviderYahoo,
		ProviderQQ, ProviderNetEase, ProviderOutlook, ProviderApple, ProviderPOP3:
		return true
	}
	return false
}

// AuthType determines how an account authenticates against its servers.
type AuthType string

const (
	AuthTypePassword    AuthType = "password"
	AuthTypeOAuth2      AuthType = "oauth2"
	AuthTypeAppPassword AuthType = "app_password"
)

// Encryption selects the transport security for a server connection.
type Encryption string

const (
	EncryptionSSL      Encryption = "ssl"
	EncryptionStartTLS Encryption = "starttls"
	EncryptionNone     Encryption = "none"
)

// AuthStatus reflects whether an account's credentials are currently usable.
const (
	AuthStatusOK             = "ok"
	AuthStatusReauthRequired = "reauth_required"
)

// Account represents an attached mail account and its server configuration.
type Account struct {
	ID          uint     `gorm:"primaryKey" json:"id"`
	Email       string   `gorm:"uniqueIndex;size:255;not null" json:"email"`
	DisplayName string   `gorm:"size:100" json:"display_name"`
	Provider    Provider `gorm:"size:30;not null" json:"provider"`

	IMAPHost       string     `gorm:"size:255;not null" json:"imap_host"`
	IMAPPort       int        `gorm:"not null" json:"imap_port"`
	IMAPEncryption Encryption `gorm:"size:10;default:'ssl'" json:"imap_encryption"`
	SMTPHost       string     `gorm:"size:255;not null" json:"smtp_host"`
	SMTPPort       int        `gorm:"not null" json:"smtp_port"`
	SMTPEncryption Encryption `gorm:"size:10;default:'starttls'" json:"smtp_encryption"`
	Username       string     `gorm:"size:255;not null" json:"username"`

	AuthType         AuthType  `gorm:"size:20;default:'password'" json:"auth_type"`
	CredentialSet    bool      `gorm:"default:false" json:"credential_set"`
	OAuthTokenExpiry time.Time `json:"oauth_token_expiry"`
	AuthStatus       string    `gorm:"size:20;default:'ok'" json:"auth_status"`

	// IsActive marks the foreground-selected account; at most one at a time.
	// No gorm default tags on booleans: a default would silently override
	// explicit false values on insert.
	IsActive bool `json:"is_active"`
	Enabled  bool `json:"enabled"`

	LastSyncAt  time.Time `json:"last_sync_at"`
	SyncError   string    `gorm:"size:500" json:"sync_error"`
	SyncErrorAt time.Time `json:"sync_error_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Folders []Folder `gorm:"foreignKey:AccountID" json:"folders,omitempty"`
}

// HasValidServerConfig reports whether both server hosts are configured.
func (a *Account) HasValidServerConfig() bool {
	return a.IMAPHost != "" && a.SMTPHost != ""
}

// NeedsReauth reports whether the user must re-authenticate the account.
func (a *Account) NeedsReauth() bool {
	return a.AuthStatus == AuthStatusReauthRequired
}
