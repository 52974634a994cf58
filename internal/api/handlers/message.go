package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/luo-one/mailsync/internal/services"
)

// MessageHandler handles message listing and flag updates
type MessageHandler struct {
	accountService *services.AccountService
	folderService  *services.FolderService
	messageSync    *services.MessageSyncService
	sessionManager *services.SessionManager
	logService     *services.LogService
}

// NewMessageHandler creates a new MessageHandler instance
func NewMessageHandler(accountService *services.AccountService, folderService *services.FolderService,
	messageSync *services.MessageSyncService, sessionManager *services.SessionManager,
	logService *services.LogService) *MessageHandler {
	return &MessageHandler{
		accountService: accountService,
		folderService:  folderService,
		messageSync:    messageSync,
		sessionManager: sessionManager,
		logService:     logService,
	}
}

// ListMessages returns a page of messages in a folder, newest first
// GET /api/folders/:id/messages?unread_only=&page=&limit=
func (h *MessageHandler) ListMessages(c *gin.Context) {
	folderID, ok := parseIDParam(c)
	if !ok {
		return
	}

	if _, err := h.folderService.GetFolderByID(folderID); err != nil {
		respondFolderError(c, err)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	result, err := h.messageSync.ListMessages(services.ListMessagesQuery{
		FolderID:   folderID,
		UnreadOnly: c.Query("unread_only") == "true",
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve messages",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// GetMessage returns one message row
// GET /api/messages/:id
func (h *MessageHandler) GetMessage(c *gin.Context) {
	messageID, ok := parseIDParam(c)
	if !ok {
		return
	}

	message, err := h.messageSync.GetMessageByID(messageID)
	if err != nil {
		respondMessageError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    message,
	})
}

// UpdateFlags toggles read/starred state, server first, then the local
// row
// PATCH /api/messages/:id/flags
func (h *MessageHandler) UpdateFlags(c *gin.Context) {
	messageID, ok := parseIDParam(c)
	if !ok {
		return
	}

	var update services.FlagUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
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

	message, err := h.messageSync.GetMessageByID(messageID)
	if err != nil {
		respondMessageError(c, err)
		return
	}

	folder, err := h.folderService.GetFolderByID(message.FolderID)
	if err != nil {
		respondFolderError(c, err)
		return
	}

	account, err := h.accountService.GetAccountByID(message.AccountID)
	if err != nil {
		respondAccountError(c, err, "Failed to retrieve account")
		return
	}

	session, err := h.sessionManager.Connect(c.Request.Context(), account)
	if err != nil {
		respondSyncError(c, err)
		return
	}
	defer session.Logout()

	if err := h.messageSync.SetMessageFlags(session, folder, message, update); err != nil {
		respondSyncError(c, err)
		return
	}

	// reload to return the mirrored state
	updated, err := h.messageSync.GetMessageByID(messageID)
	if err != nil {
		respondMessageError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    updated,
	})
}

// respondFolderError maps folder lookup errors to HTTP responses.
func respondFolderError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrFolderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Folder not found",
			},
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "Failed to retrieve folder",
		},
	})
}

// respondMessageError maps message lookup errors to HTTP responses.
func respondMessageError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrMessageNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Message not found",
			},
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "Failed to retrieve message",
		},
	})
}
