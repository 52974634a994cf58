package vault

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/99designs/keyring"
)

const serviceName = "mailsync"

// KeyringVault stores credentials in the OS secret store, falling back to
// keyring's own encrypted file backend on headless hosts.
type KeyringVault struct {
	ring keyring.Keyring
}

// NewKeyringVault opens the system keyring for the mailsync service.
func NewKeyringVault(dataDir string) (*KeyringVault, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(dataDir, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt(serviceName + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening keyring: %v", ErrBackendUnavailable, err)
	}
	return &KeyringVault{ring: ring}, nil
}

// Store writes the credentials for an account.
func (v *KeyringVault) Store(accountID uint, creds Credentials) error {
	data, err := encodeCredentials(creds)
	if err != nil {
		return err
	}
	if err := v.ring.Set(keyring.Item{
		Key:   credentialKey(accountID),
		Data:  data,
		Label: fmt.Sprintf("%s credentials for account %d", serviceName, accountID),
	}); err != nil {
		return fmt.Errorf("storing credentials for account %d: %w", accountID, err)
	}
	return nil
}

// Retrieve reads the credentials for an account.
func (v *KeyringVault) Retrieve(accountID uint) (Credentials, error) {
	item, err := v.ring.Get(credentialKey(accountID))
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return Credentials{}, ErrNotFound
		}
		return Credentials{}, fmt.Errorf("getting credentials for account %d: %w", accountID, err)
	}
	return decodeCredentials(item.Data)
}

// Delete removes the credentials for an account. Deleting credentials
// that were never stored is not an error.
func (v *KeyringVault) Delete(accountID uint) error {
	if err := v.ring.Remove(credentialKey(accountID)); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("removing credentials for account %d: %w", accountID, err)
	}
	return nil
}
