package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrEncryptionFailed indicates credential encryption failed
	ErrEncryptionFailed = errors.New("credential encryption failed")
	// ErrDecryptionFailed indicates credential decryption failed
	ErrDecryptionFailed = errors.New("credential decryption failed")
)

// FileVault stores credentials in a single JSON file where each entry is
// encrypted with AES-256-GCM. Used when no system keyring is available.
type FileVault struct {
	mu   sync.Mutex
	path string
	key  []byte // 32 bytes for AES-256
}

// NewFileVault creates a file-backed vault under dataDir.
func NewFileVault(dataDir string, encryptionKey []byte) (*FileVault, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, err
	}
	// Ensure key is 32 bytes for AES-256
	key := make([]byte, 32)
	copy(key, encryptionKey)
	return &FileVault{
		path: filepath.Join(dataDir, "vault.json"),
		key:  key,
	}, nil
}

// Store writes the credentials for an account.
func (v *FileVault) Store(accountID uint, creds Credentials) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.load()
	if err != nil {
		return err
	}

	data, err := encodeCredentials(creds)
	if err != nil {
		return err
	}
	sealed, err := v.encrypt(data)
	if err != nil {
		return err
	}

	entries[credentialKey(accountID)] = sealed
	return v.save(entries)
}

// Retrieve reads the credentials for an account.
func (v *FileVault) Retrieve(accountID uint) (Credentials, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.load()
	if err != nil {
		return Credentials{}, err
	}

	sealed, ok := entries[credentialKey(accountID)]
	if !ok {
		return Credentials{}, ErrNotFound
	}

	data, err := v.decrypt(sealed)
	if err != nil {
		return Credentials{}, err
	}
	return decodeCredentials(data)
}

// Delete removes the credentials for an account.
func (v *FileVault) Delete(accountID uint) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.load()
	if err != nil {
		return err
	}

	delete(entries, credentialKey(accountID))
	return v.save(entries)
}

func (v *FileVault) load() (map[string]string, error) {
	entries := make(map[string]string)
	data, err := os.ReadFile(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (v *FileVault) save(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(v.path, data, 0600)
}

// encrypt seals data with AES-256-GCM, nonce prepended.
func (v *FileVault) encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptionFailed
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (v *FileVault) decrypt(sealed string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrDecryptionFailed
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}
