package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/luo-one/mailsync/internal/services"
)

// LogsHandler exposes the audit log
type LogsHandler struct {
	logService *services.LogService
}

// NewLogsHandler creates a new LogsHandler instance
func NewLogsHandler(logService *services.LogService) *LogsHandler {
	return &LogsHandler{logService: logService}
}

// QueryLogs returns a filtered page of log entries
// GET /api/logs?account_id=&level=&module=&page=&limit=
func (h *LogsHandler) QueryLogs(c *gin.Context) {
	accountID, _ := strconv.ParseUint(c.Query("account_id"), 10, 32)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	result, err := h.logService.QueryLogs(services.LogQuery{
		AccountID: uint(accountID),
		Level:     c.Query("level"),
		Module:    c.Query("module"),
		Action:    c.Query("action"),
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve logs",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"total": result.Total,
			"logs":  result.Logs,
		},
	})
}
