package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidAPIKey indicates the API key is invalid
	ErrInvalidAPIKey = errors.New("invalid API key")
	// ErrInvalidToken indicates the stream token is invalid
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired indicates the stream token has expired
	ErrTokenExpired = errors.New("token expired")
)

const (
	// APIKeyHeader is the header name for API key
	APIKeyHeader = "X-API-Key"
	// APIKeyLength is the length of generated API keys (32 bytes = 64 hex chars)
	APIKeyLength = 32
	// StreamTokenExpiry bounds how long an issued SSE token stays valid.
	// EventSource cannot send headers, so the token rides in the query
	// string and must be short-lived.
	StreamTokenExpiry = 15 * time.Minute
)

// APIKeyManager handles API key generation, storage, and validation
type APIKeyManager struct {
	keyFilePath string
	currentKey  string
	mu          sync.RWMutex
}

// NewAPIKeyManager creates a new APIKeyManager instance
func NewAPIKeyManager(dataDir string) (*APIKeyManager, error) {
	manager := &APIKeyManager{
		keyFilePath: filepath.Join(dataDir, "api_key.txt"),
	}

	if err := manager.loadOrGenerateKey(); err != nil {
		return nil, err
	}

	return manager, nil
}

// loadOrGenerateKey loads existing API key or generates a new one
func (m *APIKeyManager) loadOrGenerateKey() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.keyFilePath)
	if err == nil && len(data) > 0 {
		m.currentKey = strings.TrimSpace(string(data))
		return nil
	}

	return m.generateAndSaveKey()
}

// generateAndSaveKey generates a new API key and saves it to file
func (m *APIKeyManager) generateAndSaveKey() error {
	key, err := generateRandomKey(APIKeyLength)
	if err != nil {
		return err
	}

	dir := filepath.Dir(m.keyFilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if err := os.WriteFile(m.keyFilePath, []byte(key), 0600); err != nil {
		return err
	}

	m.currentKey = key
	return nil
}

// generateRandomKey generates a cryptographically secure random key
func generateRandomKey(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GetCurrentKey returns the current API key
func (m *APIKeyManager) GetCurrentKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentKey
}

// ValidateKey validates the provided API key
func (m *APIKeyManager) ValidateKey(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.currentKey == "" || key == "" {
		return false
	}

	// constant-time comparison
	return subtle.ConstantTimeCompare([]byte(m.currentKey), []byte(key)) == 1
}

// ResetKey generates a new API key and invalidates the old one
func (m *APIKeyManager) ResetKey() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.generateAndSaveKey(); err != nil {
		return "", err
	}

	return m.currentKey, nil
}

// StreamClaims are the claims carried by an SSE stream token.
type StreamClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// StreamTokenManager issues and validates short-lived tokens for the
// event stream endpoint.
type StreamTokenManager struct {
	secretKey []byte
	expiry    time.Duration
}

// NewStreamTokenManager creates a new StreamTokenManager instance
func NewStreamTokenManager(secretKey string, expiry time.Duration) *StreamTokenManager {
	if expiry == 0 {
		expiry = StreamTokenExpiry
	}
	return &StreamTokenManager{
		secretKey: []byte(secretKey),
		expiry:    expiry,
	}
}

// IssueToken returns a signed stream token and its expiry time.
func (m *StreamTokenManager) IssueToken() (string, int64, error) {
	expiresAt := time.Now().Add(m.expiry)

	claims := &StreamClaims{
		Scope: "events",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "mailsync",
			Subject:   "event-stream",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", 0, err
	}

	return tokenString, expiresAt.Unix(), nil
}

// ValidateToken checks a stream token and returns its claims.
func (m *StreamTokenManager) ValidateToken(tokenString string) (*StreamClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &StreamClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*StreamClaims)
	if !ok || !token.Valid || claims.Scope != "events" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// AuthManager combines API key and stream token management
type AuthManager struct {
	APIKeyManager      *APIKeyManager
	StreamTokenManager *StreamTokenManager
}

// NewAuthManager creates a new AuthManager instance
func NewAuthManager(dataDir, secret string) (*AuthManager, error) {
	apiKeyManager, err := NewAPIKeyManager(dataDir)
	if err != nil {
		return nil, err
	}

	return &AuthManager{
		APIKeyManager:      apiKeyManager,
		StreamTokenManager: NewStreamTokenManager(secret, StreamTokenExpiry),
	}, nil
}

// APIKeyMiddleware validates API key for all requests
func APIKeyMiddleware(apiKeyManager *APIKeyManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(APIKeyHeader)
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "AUTH_FAILED",
					"message": "API key is required",
				},
			})
			return
		}

		if !apiKeyManager.ValidateKey(apiKey) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "AUTH_FAILED",
					"message": "Invalid API key",
				},
			})
			return
		}

		c.Next()
	}
}

// StreamTokenMiddleware validates the token query parameter used by the
// SSE endpoint.
func StreamTokenMiddleware(tokenManager *StreamTokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "AUTH_FAILED",
					"message": "Stream token is required",
				},
			})
			return
		}

		if _, err := tokenManager.ValidateToken(tokenString); err != nil {
			message := "Invalid stream token"
			if errors.Is(err, ErrTokenExpired) {
				message = "Stream token has expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "AUTH_FAILED",
					"message": message,
				},
			})
			return
		}

		c.Next()
	}
}
