package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/luo-one/mailsync/internal/database/models"
	"github.com/luo-one/mailsync/internal/services"
)

// FolderHandler handles folder listing requests
type FolderHandler struct {
	accountService *services.AccountService
	folderService  *services.FolderService
}

// NewFolderHandler creates a new FolderHandler instance
func NewFolderHandler(accountService *services.AccountService, folderService *services.FolderService) *FolderHandler {
	return &FolderHandler{
		accountService: accountService,
		folderService:  folderService,
	}
}

// FolderResponse represents the response for a folder
type FolderResponse struct {
	ID            uint   `json:"id"`
	AccountID     uint   `json:"account_id"`
	Name          string `json:"name"`
	DisplayName   string `json:"display_name"`
	Type          string `json:"type"`
	ParentID      *uint  `json:"parent_id,omitempty"`
	Delimiter     string `json:"delimiter"`
	IsSelectable  bool   `json:"is_selectable"`
	TotalCount    int    `json:"total_count"`
	UnreadCount   int    `json:"unread_count"`
	NeedsFullSync bool   `json:"needs_full_sync"`
	LastSyncAt    int64  `json:"last_sync_at"`
}

func toFolderResponse(folder *models.Folder) FolderResponse {
	return FolderResponse{
		ID:            folder.ID,
		AccountID:     folder.AccountID,
		Name:          folder.Name,
		DisplayName:   folder.DisplayName,
		Type:          string(folder.Type),
		ParentID:      folder.ParentID,
		Delimiter:     folder.Delimiter,
		IsSelectable:  folder.IsSelectable,
		TotalCount:    folder.TotalCount,
		UnreadCount:   folder.UnreadCount,
		NeedsFullSync: folder.NeedsFullSync,
		LastSyncAt:    folder.LastSyncAt.Unix(),
	}
}

// ListFolders returns the reconciled folder tree of an account
// GET /api/accounts/:id/folders
func (h *FolderHandler) ListFolders(c *gin.Context) {
	accountID, ok := parseIDParam(c)
	if !ok {
		return
	}

	if _, err := h.accountService.GetAccountByID(accountID); err != nil {
		respondAccountError(c, err, "Failed to retrieve account")
		return
	}

	folders, err := h.folderService.GetFoldersByAccountID(accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve folders",
			},
		})
		return
	}

	response := make([]FolderResponse, 0, len(folders))
	for i := range folders {
		response = append(response, toFolderResponse(&folders[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    response,
	})
}
