package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/luo-one/mailsync/internal/database/models"
	"github.com/luo-one/mailsync/internal/imap"
	"github.com/luo-one/mailsync/internal/services"
)

// AccountHandler handles mail account related requests. It also drives
// the sync engine and push monitor through account lifecycle changes so a
// disabled or deleted account's background work stops right away.
type AccountHandler struct {
	accountService *services.AccountService
	logService     *services.LogService
	syncEngine     *services.SyncEngine
	pushMonitor    *services.PushMonitor
	dial           imap.DialFunc
}

// NewAccountHandler creates a new AccountHandler instance
func NewAccountHandler(accountService *services.AccountService, logService *services.LogService,
	syncEngine *services.SyncEngine, pushMonitor *services.PushMonitor) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		logService:     logService,
		syncEngine:     syncEngine,
		pushMonitor:    pushMonitor,
		dial:           imap.Dial,
	}
}

// stopBackgroundWork interrupts the account's in-flight sync and tears
// down its push connection.
func (h *AccountHandler) stopBackgroundWork(accountID uint) {
	if h.syncEngine != nil {
		h.syncEngine.CancelSync(accountID)
	}
	if h.pushMonitor != nil {
		h.pushMonitor.StopAccount(accountID)
	}
}

func (h *AccountHandler) startBackgroundWork(accountID uint) {
	if h.pushMonitor != nil {
		h.pushMonitor.StartAccount(accountID)
	}
}

// CreateAccountRequest represents the request to attach a password or
// app-password account
type CreateAccountRequest struct {
	Email          string `json:"email" binding:"required,email"`
	DisplayName    string `json:"display_name"`
	Provider       string `json:"provider"`
	IMAPHost       string `json:"imap_host" binding:"required"`
	IMAPPort       int    `json:"imap_port" binding:"required"`
	IMAPEncryption string `json:"imap_encryption"`
	SMTPHost       string `json:"smtp_host" binding:"required"`
	SMTPPort       int    `json:"smtp_port" binding:"required"`
	SMTPEncryption string `json:"smtp_encryption"`
	Username       string `json:"username" binding:"required"`
	AuthType       string `json:"auth_type"`
	Password       string `json:"password" binding:"required"`
}

// UpdateAccountRequest represents the request to update an account
type UpdateAccountRequest struct {
	DisplayName    string `json:"display_name"`
	IMAPHost       string `json:"imap_host"`
	IMAPPort       int    `json:"imap_port"`
	IMAPEncryption string `json:"imap_encryption"`
	SMTPHost       string `json:"smtp_host"`
	SMTPPort       int    `json:"smtp_port"`
	SMTPEncryption string `json:"smtp_encryption"`
	Username       string `json:"username"`
	Password       string `json:"password"`
}

// AccountResponse represents the response for a mail account
type AccountResponse struct {
	ID             uint   `json:"id"`
	Email          string `json:"email"`
	DisplayName    string `json:"display_name"`
	Provider       string `json:"provider"`
	IMAPHost       string `json:"imap_host"`
	IMAPPort       int    `json:"imap_port"`
	IMAPEncryption string `json:"imap_encryption"`
	SMTPHost       string `json:"smtp_host"`
	SMTPPort       int    `json:"smtp_port"`
	SMTPEncryption string `json:"smtp_encryption"`
	Username       string `json:"username"`
	AuthType       string `json:"auth_type"`
	AuthStatus     string `json:"auth_status"`
	CredentialSet  bool   `json:"credential_set"`
	IsActive       bool   `json:"is_active"`
	Enabled        bool   `json:"enabled"`
	LastSyncAt     int64  `json:"last_sync_at"`
	SyncError      string `json:"sync_error"`
	CreatedAt      int64  `json:"created_at"`
}

// toAccountResponse converts an Account model to AccountResponse
func toAccountResponse(account *models.Account) AccountResponse {
	return AccountResponse{
		ID:             account.ID,
		Email:          account.Email,
		DisplayName:    account.DisplayName,
		Provider:       string(account.Provider),
		IMAPHost:       account.IMAPHost,
		IMAPPort:       account.IMAPPort,
		IMAPEncryption: string(account.IMAPEncryption),
		SMTPHost:       account.SMTPHost,
		SMTPPort:       account.SMTPPort,
		SMTPEncryption: string(account.SMTPEncryption),
		Username:       account.Username,
		AuthType:       string(account.AuthType),
		AuthStatus:     account.AuthStatus,
		CredentialSet:  account.CredentialSet,
		IsActive:       account.IsActive,
		Enabled:        account.Enabled,
		LastSyncAt:     account.LastSyncAt.Unix(),
		SyncError:      account.SyncError,
		CreatedAt:      account.CreatedAt.Unix(),
	}
}

// ListAccounts returns all configured accounts
// GET /api/accounts
func (h *AccountHandler) ListAccounts(c *gin.Context) {
	accounts, err := h.accountService.ListAccounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve accounts",
			},
		})
		return
	}

	response := make([]AccountResponse, 0, len(accounts))
	for i := range accounts {
		response = append(response, toAccountResponse(&accounts[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    response,
	})
}

// CreateAccount verifies the supplied credentials against the server and
// attaches the account
// POST /api/accounts
func (h *AccountHandler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request body",
				"details": err.Error(),
			},
		})
		return
	}

	if req.AuthType == string(models.AuthTypeOAuth2) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "OAuth accounts are attached through the OAuth flow",
			},
		})
		return
	}

	candidate := &models.Account{
		Email:          req.Email,
		IMAPHost:       req.IMAPHost,
		IMAPPort:       req.IMAPPort,
		IMAPEncryption: encryptionOrDefault(req.IMAPEncryption, models.EncryptionSSL),
		SMTPHost:       req.SMTPHost,
		SMTPPort:       req.SMTPPort,
		SMTPEncryption: encryptionOrDefault(req.SMTPEncryption, models.EncryptionStartTLS),
		Username:       req.Username,
	}

	result := services.VerifyPasswordCredentials(candidate, req.Password, h.dial)
	if !result.Success {
		h.logService.LogAuthFailure(0, req.Email, req.Provider, errors.New(result.Message))
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "AUTH_FAILED",
				"message": "Credential verification failed",
				"details": result.Message,
			},
		})
		return
	}

	input := services.CreateAccountInput{
		Email:          req.Email,
		DisplayName:    req.DisplayName,
		Provider:       models.Provider(req.Provider),
		IMAPHost:       candidate.IMAPHost,
		IMAPPort:       candidate.IMAPPort,
		IMAPEncryption: candidate.IMAPEncryption,
		SMTPHost:       candidate.SMTPHost,
		SMTPPort:       candidate.SMTPPort,
		SMTPEncryption: candidate.SMTPEncryption,
		Username:       req.Username,
		AuthType:       models.AuthType(req.AuthType),
		Password:       req.Password,
	}

	account, err := h.accountService.CreateAccount(input)
	if err != nil {
		if errors.Is(err, services.ErrAccountAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "CONFLICT",
					"message": "Account already exists",
				},
			})
			return
		}
		if errors.Is(err, services.ErrInvalidAccountData) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_ERROR",
					"message": "Invalid account data",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to create account",
			},
		})
		return
	}

	h.startBackgroundWork(account.ID)

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    toAccountResponse(account),
	})
}

// GetAccount returns a specific account
// GET /api/accounts/:id
func (h *AccountHandler) GetAccount(c *gin.Context) {
	accountID, ok := parseIDParam(c)
	if !ok {
		return
	}

	account, err := h.accountService.GetAccountByID(accountID)
	if err != nil {
		respondAccountError(c, err, "Failed to retrieve account")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toAccountResponse(account),
	})
}

// UpdateAccount updates an account's server settings or password
// PUT /api/accounts/:id
func (h *AccountHandler) UpdateAccount(c *gin.Context) {
	accountID, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request body",
				"details": err.Error(),
			},
		})
		return
	}

	input := services.UpdateAccountInput{
		DisplayName:    req.DisplayName,
		IMAPHost:       req.IMAPHost,
		IMAPPort:       req.IMAPPort,
		IMAPEncryption: models.Encryption(req.IMAPEncryption),
		SMTPHost:       req.SMTPHost,
		SMTPPort:       req.SMTPPort,
		SMTPEncryption: models.Encryption(req.SMTPEncryption),
		Username:       req.Username,
		Password:       req.Password,
	}

	account, err := h.accountService.UpdateAccount(accountID, input)
	if err != nil {
		if errors.Is(err, services.ErrInvalidAccountData) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_ERROR",
					"message": "Invalid account data",
				},
			})
			return
		}
		respondAccountError(c, err, "Failed to update account")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toAccountResponse(account),
	})
}

// DeleteAccount removes an account with its folders, messages, and
// vaulted credentials
// DELETE /api/accounts/:id
func (h *AccountHandler) DeleteAccount(c *gin.Context) {
	accountID, ok := parseIDParam(c)
	if !ok {
		return
	}

	h.stopBackgroundWork(accountID)

	if err := h.accountService.DeleteAccount(accountID); err != nil {
		respondAccountError(c, err, "Failed to delete account")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Account deleted successfully",
	})
}

// EnableAccount enables an account
// POST /api/accounts/:id/enable
func (h *AccountHandler) EnableAccount(c *gin.Context) {
	accountID, ok := parseIDParam(c)
	if !ok {
		return
	}

	account, err := h.accountService.EnableAccount(accountID)
	if err != nil {
		respondAccountError(c, err, "Failed to enable account")
		return
	}

	h.startBackgroundWork(account.ID)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toAccountResponse(account),
	})
}

// DisableAccount disables an account
// POST /api/accounts/:id/disable
func (h *AccountHandler) DisableAccount(c *gin.Context) {
	accountID, ok := parseIDParam(c)
	if !ok {
		return
	}

	account, err := h.accountService.DisableAccount(accountID)
	if err != nil {
		respondAccountError(c, err, "Failed to disable account")
		return
	}

	h.stopBackgroundWork(account.ID)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toAccountResponse(account),
	})
}

// ActivateAccount marks an account as the foreground-selected one
// POST /api/accounts/:id/activate
func (h *AccountHandler) ActivateAccount(c *gin.Context) {
	accountID, ok := parseIDParam(c)
	if !ok {
		return
	}

	account, err := h.accountService.SetActiveAccount(accountID)
	if err != nil {
		if errors.Is(err, services.ErrAccountDisabled) {
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "CONFLICT",
					"message": "Cannot activate a disabled account",
				},
			})
			return
		}
		respondAccountError(c, err, "Failed to activate account")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toAccountResponse(account),
	})
}

// TestConnection verifies the stored credentials for an account
// POST /api/accounts/:id/test
func (h *AccountHandler) TestConnection(c *gin.Context) {
	accountID, ok := parseIDParam(c)
	if !ok {
		return
	}

	account, err := h.accountService.GetAccountByID(accountID)
	if err != nil {
		respondAccountError(c, err, "Failed to retrieve account")
		return
	}

	if account.AuthType == models.AuthTypeOAuth2 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "OAuth accounts are verified through token refresh",
			},
		})
		return
	}

	creds, err := h.accountService.GetCredentials(accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve credentials",
			},
		})
		return
	}

	result := services.VerifyPasswordCredentials(account, creds.Password, h.dial)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

func encryptionOrDefault(value string, fallback models.Encryption) models.Encryption {
	if value == "" {
		return fallback
	}
	return models.Encryption(value)
}

// parseIDParam extracts the numeric :id route parameter, writing the
// error response itself on failure.
func parseIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid ID",
			},
		})
		return 0, false
	}
	return uint(id), true
}

// respondAccountError maps service errors for account lookups to HTTP
// responses.
func respondAccountError(c *gin.Context, err error, fallback string) {
	if errors.Is(err, services.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Account not found",
			},
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": fallback,
		},
	})
}
