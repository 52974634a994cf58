package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/luo-one/mailsync/internal/services"
)

// OAuthHandler exposes the OAuth authorization flow
type OAuthHandler struct {
	oauthService *services.OAuthService
	logService   *services.LogService
	pushMonitor  *services.PushMonitor
}

// NewOAuthHandler creates a new OAuthHandler
func NewOAuthHandler(oauthService *services.OAuthService, logService *services.LogService,
	pushMonitor *services.PushMonitor) *OAuthHandler {
	return &OAuthHandler{
		oauthService: oauthService,
		logService:   logService,
		pushMonitor:  pushMonitor,
	}
}

// GetAuthURL starts an authorization flow for the given provider and
// returns the URL to open in a browser
// GET /api/oauth/:provider/auth
func (h *OAuthHandler) GetAuthURL(c *gin.Context) {
	provider := c.Param("provider")

	authURL, state, err := h.oauthService.StartFlow(provider)
	if err != nil {
		if errors.Is(err, services.ErrUnknownOAuthProvider) || errors.Is(err, services.ErrCredential) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "OAUTH_NOT_CONFIGURED",
					"message": err.Error(),
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to start OAuth flow",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"auth_url": authURL,
			"state":    state,
		},
	})
}

// Callback completes the authorization flow after the provider redirects
// back with a code
// GET /api/oauth/callback
func (h *OAuthHandler) Callback(c *gin.Context) {
	if errorParam := c.Query("error"); errorParam != "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "OAUTH_DENIED",
				"message": "Provider returned an error: " + errorParam,
			},
		})
		return
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Missing code or state parameter",
			},
		})
		return
	}

	account, err := h.oauthService.CompleteFlow(c.Request.Context(), state, code)
	if err != nil {
		status := http.StatusInternalServerError
		errCode := "INTERNAL_ERROR"
		switch {
		case errors.Is(err, services.ErrInvalidOAuthState):
			status = http.StatusBadRequest
			errCode = "INVALID_STATE"
		case errors.Is(err, services.ErrCredential):
			status = http.StatusUnprocessableEntity
			errCode = "AUTH_FAILED"
		case errors.Is(err, services.ErrNetwork):
			status = http.StatusBadGateway
			errCode = "UPSTREAM_ERROR"
		}
		c.JSON(status, gin.H{
			"success": false,
			"error": gin.H{
				"code":    errCode,
				"message": err.Error(),
			},
		})
		return
	}

	if h.pushMonitor != nil {
		h.pushMonitor.StartAccount(account.ID)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toAccountResponse(account),
	})
}
