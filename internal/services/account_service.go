package services

import (
	"errors"
	"time"

	"github.com/luo-one/mailsync/internal/database/models"
	"github.com/luo-one/mailsync/internal/vault"
	"gorm.io/gorm"
)

// AccountService handles account-related business logic. Secrets live in
// the credential vault; account rows carry only non-secret metadata.
type AccountService struct {
	db         *gorm.DB
	vault      vault.Vault
	logService *LogService
}

// NewAccountService creates a new AccountService instance
func NewAccountService(db *gorm.DB, v vault.Vault) *AccountService {
	return &AccountService{
		db:         db,
		vault:      v,
		logService: NewLogService(db),
	}
}

// CreateAccountInput represents the input for creating an account
type CreateAccountInput struct {
	Email          string
	DisplayName    string
	Provider       models.Provider
	IMAPHost       string
	IMAPPort       int
	IMAPEncryption models.Encryption
	SMTPHost       string
	SMTPPort       int
	SMTPEncryption models.Encryption
	Username       string
	AuthType       models.AuthType
	Password       string // password or app password, empty for oauth2
}

// CreateAccount creates a new account and stores its credentials in the
// vault. OAuth2 accounts are created through the OAuth flow instead.
func (s *AccountService) CreateAccount(input CreateAccountInput) (*models.Account, error) {
	if input.Email == "" || input.Username == "" {
		return nil, ErrInvalidAccountData
	}
	if input.Provider != "" && !input.Provider.IsValid() {
		return nil, ErrInvalidAccountData
	}
	if input.AuthType == models.AuthTypeOAuth2 {
		return nil, ErrInvalidAccountData
	}
	if input.Password == "" {
		return nil, ErrInvalidAccountData
	}

	var existing models.Account
	if err := s.db.Where("email = ?", input.Email).First(&existing).Error; err == nil {
		return nil, ErrAccountAlreadyExists
	}

	provider := input.Provider
	if provider == "" {
		provider = models.ProviderGenericIMAP
	}
	authType := input.AuthType
	if authType == "" {
		authType = models.AuthTypePassword
	}

	account := &models.Account{
		Email:          input.Email,
		DisplayName:    input.DisplayName,
		Provider:       provider,
		IMAPHost:       input.IMAPHost,
		IMAPPort:       input.IMAPPort,
		IMAPEncryption: input.IMAPEncryption,
		SMTPHost:       input.SMTPHost,
		SMTPPort:       input.SMTPPort,
		SMTPEncryption: input.SMTPEncryption,
		Username:       input.Username,
		AuthType:       authType,
		AuthStatus:     models.AuthStatusOK,
		Enabled:        true,
	}

	if err := s.db.Create(account).Error; err != nil {
		return nil, err
	}

	if err := s.vault.Store(account.ID, vault.Credentials{Password: input.Password}); err != nil {
		// keep the row and the vault consistent
		s.db.Delete(account)
		return nil, err
	}
	account.CredentialSet = true
	if err := s.db.Model(account).Update("credential_set", true).Error; err != nil {
		return nil, err
	}

	s.logService.LogAccountCreated(account.ID, account.Email)
	return account, nil
}

// CreateAccountWithOAuth creates or updates an account from a completed
// OAuth flow. An existing account with the same email gets its tokens
// replaced and leaves the reauth_required state.
func (s *AccountService) CreateAccountWithOAuth(account *models.Account, creds vault.Credentials) (*models.Account, error) {
	var existing models.Account
	if err := s.db.Where("email = ?", account.Email).First(&existing).Error; err == nil {
		if err := s.vault.Store(existing.ID, creds); err != nil {
			return nil, err
		}

		existing.AuthType = models.AuthTypeOAuth2
		existing.Provider = account.Provider
		existing.OAuthTokenExpiry = creds.TokenExpiry
		existing.CredentialSet = true
		existing.AuthStatus = models.AuthStatusOK
		existing.Enabled = true

		if err := s.db.Save(&existing).Error; err != nil {
			return nil, err
		}
		s.logService.LogAccountUpdated(existing.ID, existing.Email)
		return &existing, nil
	}

	account.AuthType = models.AuthTypeOAuth2
	account.AuthStatus = models.AuthStatusOK
	account.OAuthTokenExpiry = creds.TokenExpiry
	account.Enabled = true

	if err := s.db.Create(account).Error; err != nil {
		return nil, err
	}
	if err := s.vault.Store(account.ID, creds); err != nil {
		s.db.Delete(account)
		return nil, err
	}
	account.CredentialSet = true
	if err := s.db.Model(account).Update("credential_set", true).Error; err != nil {
		return nil, err
	}

	s.logService.LogAccountCreated(account.ID, account.Email)
	return account, nil
}

// GetAccountByID retrieves an account by ID
func (s *AccountService) GetAccountByID(id uint) (*models.Account, error) {
	var account models.Account
	if err := s.db.First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetAccountByEmail retrieves an account by its email address
func (s *AccountService) GetAccountByEmail(email string) (*models.Account, error) {
	var account models.Account
	if err := s.db.Where("email = ?", email).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// ListAccounts retrieves all accounts
func (s *AccountService) ListAccounts() ([]models.Account, error) {
	var accounts []models.Account
	if err := s.db.Order("id").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// GetEnabledAccounts retrieves all enabled accounts
func (s *AccountService) GetEnabledAccounts() ([]models.Account, error) {
	var accounts []models.Account
	if err := s.db.Where("enabled = ?", true).Order("id").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// UpdateAccountInput represents the input for updating an account
type UpdateAccountInput struct {
	DisplayName    string
	IMAPHost       string
	IMAPPort       int
	IMAPEncryption models.Encryption
	SMTPHost       string
	SMTPPort       int
	SMTPEncryption models.Encryption
	Username       string
	Password       string // Optional: only update if not empty
}

// UpdateAccount updates an account's server configuration. A new password
// replaces the vaulted one and clears the reauth_required state.
func (s *AccountService) UpdateAccount(id uint, input UpdateAccountInput) (*models.Account, error) {
	account, err := s.GetAccountByID(id)
	if err != nil {
		return nil, err
	}

	if input.DisplayName != "" {
		account.DisplayName = input.DisplayName
	}
	if input.IMAPHost != "" {
		account.IMAPHost = input.IMAPHost
	}
	if input.IMAPPort > 0 {
		account.IMAPPort = input.IMAPPort
	}
	if input.IMAPEncryption != "" {
		account.IMAPEncryption = input.IMAPEncryption
	}
	if input.SMTPHost != "" {
		account.SMTPHost = input.SMTPHost
	}
	if input.SMTPPort > 0 {
		account.SMTPPort = input.SMTPPort
	}
	if input.SMTPEncryption != "" {
		account.SMTPEncryption = input.SMTPEncryption
	}
	if input.Username != "" {
		account.Username = input.Username
	}

	if input.Password != "" {
		if account.AuthType == models.AuthTypeOAuth2 {
			return nil, ErrInvalidAccountData
		}
		if err := s.vault.Store(account.ID, vault.Credentials{Password: input.Password}); err != nil {
			return nil, err
		}
		account.CredentialSet = true
		account.AuthStatus = models.AuthStatusOK
	}

	if err := s.db.Save(account).Error; err != nil {
		return nil, err
	}

	s.logService.LogAccountUpdated(account.ID, account.Email)
	return account, nil
}

// DeleteAccount removes an account, its folders and messages, and its
// vaulted credentials.
func (s *AccountService) DeleteAccount(id uint) error {
	account, err := s.GetAccountByID(id)
	if err != nil {
		return err
	}

	email := account.Email
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", id).Delete(&models.Folder{}).Error; err != nil {
			return err
		}
		return tx.Delete(account).Error
	})
	if err != nil {
		return err
	}

	if err := s.vault.Delete(id); err != nil {
		s.logService.LogWarn(id, models.LogModuleAccount, "delete", "Failed to remove vaulted credentials", map[string]interface{}{
			"error": err.Error(),
		})
	}

	s.logService.LogAccountDeleted(id, email)
	return nil
}

// SetAccountEnabled sets the enabled status of an account
func (s *AccountService) SetAccountEnabled(id uint, enabled bool) (*models.Account, error) {
	account, err := s.GetAccountByID(id)
	if err != nil {
		return nil, err
	}

	account.Enabled = enabled
	if !enabled {
		account.IsActive = false
	}

	if err := s.db.Save(account).Error; err != nil {
		return nil, err
	}

	s.logService.LogAccountStatusChanged(account.ID, account.Email, enabled)
	return account, nil
}

// EnableAccount enables an account
func (s *AccountService) EnableAccount(id uint) (*models.Account, error) {
	return s.SetAccountEnabled(id, true)
}

// DisableAccount disables an account
func (s *AccountService) DisableAccount(id uint) (*models.Account, error) {
	return s.SetAccountEnabled(id, false)
}

// SetActiveAccount marks one account as the foreground selection. At most
// one account is active at a time.
func (s *AccountService) SetActiveAccount(id uint) (*models.Account, error) {
	account, err := s.GetAccountByID(id)
	if err != nil {
		return nil, err
	}
	if !account.Enabled {
		return nil, ErrAccountDisabled
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Account{}).Where("is_active = ?", true).Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Model(account).Update("is_active", true).Error
	})
	if err != nil {
		return nil, err
	}

	account.IsActive = true
	return account, nil
}

// GetActiveAccount returns the currently active account, or
// ErrAccountNotFound when none is active.
func (s *AccountService) GetActiveAccount() (*models.Account, error) {
	var account models.Account
	if err := s.db.Where("is_active = ?", true).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetCredentials retrieves the vaulted credentials for an account.
func (s *AccountService) GetCredentials(accountID uint) (vault.Credentials, error) {
	return s.vault.Retrieve(accountID)
}

// UpdateOAuthTokens replaces the vaulted OAuth tokens for an account and
// mirrors the new expiry into the account row. An empty refresh token
// keeps the stored one.
func (s *AccountService) UpdateOAuthTokens(accountID uint, accessToken, refreshToken string, expiry time.Time) error {
	creds, err := s.vault.Retrieve(accountID)
	if err != nil && !errors.Is(err, vault.ErrNotFound) {
		return err
	}

	creds.AccessToken = accessToken
	if refreshToken != "" {
		creds.RefreshToken = refreshToken
	}
	creds.TokenExpiry = expiry

	if err := s.vault.Store(accountID, creds); err != nil {
		return err
	}

	return s.db.Model(&models.Account{}).Where("id = ?", accountID).Updates(map[string]interface{}{
		"oauth_token_expiry": expiry,
		"credential_set":     true,
	}).Error
}

// MarkReauthRequired flags an account as needing user re-authentication.
// Sync stays paused for the account until new credentials arrive.
func (s *AccountService) MarkReauthRequired(accountID uint, cause error) error {
	account, err := s.GetAccountByID(accountID)
	if err != nil {
		return err
	}

	if err := s.db.Model(account).Update("auth_status", models.AuthStatusReauthRequired).Error; err != nil {
		return err
	}
	s.logService.LogReauthRequired(accountID, account.Email, cause)
	return nil
}

// ClearAuthStatus returns an account to the ok auth state.
func (s *AccountService) ClearAuthStatus(accountID uint) error {
	return s.db.Model(&models.Account{}).Where("id = ?", accountID).Update("auth_status", models.AuthStatusOK).Error
}

// RecordSyncError stores the last sync failure on the account row.
func (s *AccountService) RecordSyncError(accountID uint, syncErr error) error {
	updates := map[string]interface{}{
		"sync_error":    syncErr.Error(),
		"sync_error_at": time.Now(),
	}
	return s.db.Model(&models.Account{}).Where("id = ?", accountID).Updates(updates).Error
}

// RecordSyncSuccess clears the sync error and stamps the last sync time.
func (s *AccountService) RecordSyncSuccess(accountID uint) error {
	updates := map[string]interface{}{
		"sync_error":   "",
		"last_sync_at": time.Now(),
	}
	return s.db.Model(&models.Account{}).Where("id = ?", accountID).Updates(updates).Error
}
