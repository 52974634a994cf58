package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/luo-one/mailsync/internal/services"
)

// SyncHandler exposes sync triggering
type SyncHandler struct {
	syncEngine *services.SyncEngine
	logService *services.LogService
}

// NewSyncHandler creates a new SyncHandler instance
func NewSyncHandler(syncEngine *services.SyncEngine, logService *services.LogService) *SyncHandler {
	return &SyncHandler{
		syncEngine: syncEngine,
		logService: logService,
	}
}

// TriggerSyncRequest optionally narrows a sync to one folder
type TriggerSyncRequest struct {
	FolderID uint `json:"folder_id"`
}

// TriggerSync runs a sync for the account and reports the outcome.
// Concurrent triggers for the same account join the in-flight run.
// POST /api/accounts/:id/sync
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	accountID, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req TriggerSyncRequest
	if c.Request.ContentLength > 0 {
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
	}

	if req.FolderID != 0 {
		stats, err := h.syncEngine.TriggerFolderSync(c.Request.Context(), accountID, req.FolderID)
		if err != nil {
			respondSyncError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    stats,
		})
		return
	}

	if err := h.syncEngine.TriggerSync(c.Request.Context(), accountID); err != nil {
		respondSyncError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Sync completed",
	})
}

// SyncStatus reports whether a sync run is in flight for the account
// GET /api/accounts/:id/sync
func (h *SyncHandler) SyncStatus(c *gin.Context) {
	accountID, ok := parseIDParam(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"syncing": h.syncEngine.IsSyncing(accountID),
		},
	})
}

// respondSyncError maps sync errors to HTTP responses.
func respondSyncError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Account not found",
			},
		})
	case errors.Is(err, services.ErrFolderNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Folder not found",
			},
		})
	case errors.Is(err, services.ErrAccountDisabled):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CONFLICT",
				"message": "Account is disabled",
			},
		})
	case errors.Is(err, services.ErrReauthRequired), errors.Is(err, services.ErrCredential):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "AUTH_FAILED",
				"message": err.Error(),
			},
		})
	case errors.Is(err, services.ErrNetwork):
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "UPSTREAM_ERROR",
				"message": err.Error(),
			},
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Sync failed",
			},
		})
	}
}
