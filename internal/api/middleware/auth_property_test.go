package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_APIKeyAuthenticationValidity(t *testing.T) {
	gin.SetMode(gin.TestMode)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	tempDir, err := os.MkdirTemp("", "mailsync_auth_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	apiKeyManager, err := NewAPIKeyManager(tempDir)
	if err != nil {
		t.Fatalf("Failed to create API key manager: %v", err)
	}

	validKey := apiKeyManager.GetCurrentKey()

	newTestRouter := func() *gin.Engine {
		router := gin.New()
		router.Use(APIKeyMiddleware(apiKeyManager))
		router.GET("/test", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		return router
	}

	properties.Property("valid_api_key_accepted", prop.ForAll(
		func(_ int) bool {
			req, _ := http.NewRequest("GET", "/test", nil)
			req.Header.Set(APIKeyHeader, validKey)

			w := httptest.NewRecorder()
			newTestRouter().ServeHTTP(w, req)

			return w.Code == http.StatusOK
		},
		gen.Int(),
	))

	properties.Property("missing_api_key_rejected", prop.ForAll(
		func(_ int) bool {
			req, _ := http.NewRequest("GET", "/test", nil)

			w := httptest.NewRecorder()
			newTestRouter().ServeHTTP(w, req)

			return w.Code == http.StatusUnauthorized
		},
		gen.Int(),
	))

	properties.Property("invalid_api_key_rejected", prop.ForAll(
		func(invalidKey string) bool {
			if invalidKey == validKey {
				return true
			}

			req, _ := http.NewRequest("GET", "/test", nil)
			req.Header.Set(APIKeyHeader, invalidKey)

			w := httptest.NewRecorder()
			newTestRouter().ServeHTTP(w, req)

			return w.Code == http.StatusUnauthorized
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestProperty_KeyResetValidity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	// After a reset the old key must stop working and the new one must
	// survive a manager restart
	properties.Property("old_key_invalid_new_key_persists_after_reset", prop.ForAll(
		func(_ int) bool {
			tempDir, err := os.MkdirTemp("", "mailsync_reset_test_*")
			if err != nil {
				return false
			}
			defer os.RemoveAll(tempDir)

			manager, err := NewAPIKeyManager(tempDir)
			if err != nil {
				return false
			}

			oldKey := manager.GetCurrentKey()
			if !manager.ValidateKey(oldKey) {
				return false
			}

			newKey, err := manager.ResetKey()
			if err != nil {
				return false
			}
			if manager.ValidateKey(oldKey) || !manager.ValidateKey(newKey) || oldKey == newKey {
				return false
			}

			// simulate restart
			reloaded, err := NewAPIKeyManager(tempDir)
			if err != nil {
				return false
			}
			return reloaded.GetCurrentKey() == newKey && reloaded.ValidateKey(newKey)
		},
		gen.Int(),
	))

	properties.Property("reset_key_is_hex_of_expected_length", prop.ForAll(
		func(_ int) bool {
			tempDir, err := os.MkdirTemp("", "mailsync_format_test_*")
			if err != nil {
				return false
			}
			defer os.RemoveAll(tempDir)

			manager, err := NewAPIKeyManager(tempDir)
			if err != nil {
				return false
			}

			newKey, err := manager.ResetKey()
			if err != nil {
				return false
			}

			if len(newKey) != APIKeyLength*2 {
				return false
			}
			for _, c := range newKey {
				if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
					return false
				}
			}
			return true
		},
		gen.Int(),
	))

	properties.TestingRun(t)
}

func TestProperty_StreamTokenValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	tokenManager := NewStreamTokenManager("test-secret-key", time.Hour)

	properties.Property("issued_token_passes_validation", prop.ForAll(
		func(_ int) bool {
			token, expiresAt, err := tokenManager.IssueToken()
			if err != nil {
				return false
			}
			if expiresAt <= time.Now().Unix() {
				return false
			}

			claims, err := tokenManager.ValidateToken(token)
			if err != nil {
				return false
			}
			return claims.Scope == "events"
		},
		gen.Int(),
	))

	properties.Property("garbage_token_rejected", prop.ForAll(
		func(garbage string) bool {
			_, err := tokenManager.ValidateToken(garbage)
			return err != nil
		},
		gen.AlphaString(),
	))

	properties.Property("token_from_different_secret_rejected", prop.ForAll(
		func(_ int) bool {
			otherManager := NewStreamTokenManager("different-secret", time.Hour)
			token, _, err := otherManager.IssueToken()
			if err != nil {
				return false
			}

			_, err = tokenManager.ValidateToken(token)
			return err != nil
		},
		gen.Int(),
	))

	properties.TestingRun(t)
}

func TestStreamTokenMiddlewareQueryParam(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tokenManager := NewStreamTokenManager("test-secret-key", time.Hour)

	router := gin.New()
	router.GET("/events", StreamTokenMiddleware(tokenManager), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	token, _, err := tokenManager.IssueToken()
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	req, _ := http.NewRequest("GET", "/events?token="+token, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with valid token, got %d", w.Code)
	}

	req, _ = http.NewRequest("GET", "/events", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}

	expired := NewStreamTokenManager("test-secret-key", -time.Minute)
	expiredToken, _, err := expired.IssueToken()
	if err != nil {
		t.Fatalf("Failed to issue expired token: %v", err)
	}

	req, _ = http.NewRequest("GET", "/events?token="+expiredToken, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with expired token, got %d", w.Code)
	}
}
