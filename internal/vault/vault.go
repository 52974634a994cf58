package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates no credentials are stored for the account
	ErrNotFound = errors.New("credentials not found")
	// ErrBackendUnavailable indicates the vault backend cannot be opened
	ErrBackendUnavailable = errors.New("vault backend unavailable")
)

// Credentials holds the secret material for one account. Password is set
// for password and app-password accounts, the token fields for OAuth2.
type Credentials struct {
	Password     string    `json:"password,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenExpiry  time.Time `json:"token_expiry,omitempty"`
}

// Vault stores account credentials outside the database. Only non-secret
// metadata (expiry, auth status) is mirrored into account rows.
type Vault interface {
	Store(accountID uint, creds Credentials) error
	Retrieve(accountID uint) (Credentials, error)
	Delete(accountID uint) error
}

// New selects a backend by name. "keyring" uses the OS secret store,
// "file" an encrypted file under dataDir.
func New(backend, dataDir string, encryptionKey []byte) (Vault, error) {
	switch backend {
	case "", "keyring":
		return NewKeyringVault(dataDir)
	case "file":
		return NewFileVault(dataDir, encryptionKey)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrBackendUnavailable, backend)
	}
}

func credentialKey(accountID uint) string {
	return fmt.Sprintf("account-%d", accountID)
}

func encodeCredentials(creds Credentials) ([]byte, error) {
	return json.Marshal(creds)
}

func decodeCredentials(data []byte) (Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("decoding credentials: %w", err)
	}
	return creds, nil
}
