package services

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/luo-one/mailsync/internal/database/models"
	"gorm.io/gorm"
)

// LogService handles logging operations
type LogService struct {
	db       *gorm.DB
	logLevel models.LogLevel
}

// NewLogService creates a new LogService instance
func NewLogService(db *gorm.DB) *LogService {
	return &LogService{
		db:       db,
		logLevel: models.LogLevelInfo, // Default log level
	}
}

// NewLogServiceWithLevel creates a new LogService instance with specified log level
func NewLogServiceWithLevel(db *gorm.DB, level string) *LogService {
	return &LogService{
		db:       db,
		logLevel: parseLogLevel(level),
	}
}

// parseLogLevel converts a string to LogLevel
func parseLogLevel(level string) models.LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return models.LogLevelDebug
	case "INFO":
		return models.LogLevelInfo
	case "WARN", "WARNING":
		return models.LogLevelWarn
	case "ERROR":
		return models.LogLevelError
	default:
		return models.LogLevelInfo
	}
}

// SetLogLevel sets the minimum log level
func (s *LogService) SetLogLevel(level string) {
	s.logLevel = parseLogLevel(level)
}

// GetLogLevel returns the current log level
func (s *LogService) GetLogLevel() models.LogLevel {
	return s.logLevel
}

// shouldLog checks if a log entry should be recorded based on log level
func (s *LogService) shouldLog(level models.LogLevel) bool {
	levelPriority := map[models.LogLevel]int{
		models.LogLevelDebug: 0,
		models.LogLevelInfo:  1,
		models.LogLevelWarn:  2,
		models.LogLevelError: 3,
	}

	return levelPriority[level] >= levelPriority[s.logLevel]
}

// LogEntry represents a log entry to be created
type LogEntry struct {
	AccountID uint
	Level     models.LogLevel
	Module    models.LogModule
	Action    string
	Message   string
	Details   interface{} // Will be serialized to JSON
}

// Log creates a new log entry
func (s *LogService) Log(entry LogEntry) error {
	// Check if this log level should be recorded
	if !s.shouldLog(entry.Level) {
		return nil
	}

	var detailsJSON string
	if entry.Details != nil {
		bytes, err := json.Marshal(entry.Details)
		if err != nil {
			detailsJSON = "{}"
		} else {
			detailsJSON = string(bytes)
		}
	}

	log := &models.Log{
		AccountID: entry.AccountID,
		Level:     string(entry.Level),
		Module:    string(entry.Module),
		Action:    entry.Action,
		Message:   entry.Message,
		Details:   detailsJSON,
	}

	return s.db.Create(log).Error
}

// LogInfo creates an INFO level log entry
func (s *LogService) LogInfo(accountID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{
		AccountID: accountID,
		Level:     models.LogLevelInfo,
		Module:    module,
		Action:    action,
		Message:   message,
		Details:   details,
	})
}

// LogWarn creates a WARN level log entry
func (s *LogService) LogWarn(accountID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{
		AccountID: accountID,
		Level:     models.LogLevelWarn,
		Module:    module,
		Action:    action,
		Message:   message,
		Details:   details,
	})
}

// LogError creates an ERROR level log entry
func (s *LogService) LogError(accountID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{
		AccountID: accountID,
		Level:     models.LogLevelError,
		Module:    module,
		Action:    action,
		Message:   message,
		Details:   details,
	})
}

// LogDebug creates a DEBUG level log entry
func (s *LogService) LogDebug(accountID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{
		AccountID: accountID,
		Level:     models.LogLevelDebug,
		Module:    module,
		Action:    action,
		Message:   message,
		Details:   details,
	})
}

// AccountChangeDetails represents details for account configuration changes
type AccountChangeDetails struct {
	AccountID    uint   `json:"account_id"`
	AccountEmail string `json:"account_email"`
	Field        string `json:"field,omitempty"`
	OldValue     string `json:"old_value,omitempty"`
	NewValue     string `json:"new_value,omitempty"`
}

// LogAccountCreated logs an account creation event
func (s *LogService) LogAccountCreated(accountID uint, email string) error {
	return s.LogInfo(accountID, models.LogModuleAccount, "create", "Account created", AccountChangeDetails{
		AccountID:    accountID,
		AccountEmail: email,
	})
}

// LogAccountUpdated logs an account update event
func (s *LogService) LogAccountUpdated(accountID uint, email string) error {
	return s.LogInfo(accountID, models.LogModuleAccount, "update", "Account updated", AccountChangeDetails{
		AccountID:    accountID,
		AccountEmail: email,
	})
}

// LogAccountDeleted logs an account deletion event
func (s *LogService) LogAccountDeleted(accountID uint, email string) error {
	return s.LogInfo(accountID, models.LogModuleAccount, "delete", "Account deleted", AccountChangeDetails{
		AccountID:    accountID,
		AccountEmail: email,
	})
}

// LogAccountStatusChanged logs an account status change event
func (s *LogService) LogAccountStatusChanged(accountID uint, email string, enabled bool) error {
	status := "disabled"
	if enabled {
		status = "enabled"
	}
	return s.LogInfo(accountID, models.LogModuleAccount, "status_change", "Account "+status, AccountChangeDetails{
		AccountID:    accountID,
		AccountEmail: email,
		Field:        "enabled",
		NewValue:     status,
	})
}

// ===== Sync Logging =====

// SyncRunDetails represents details for sync run logs
type SyncRunDetails struct {
	AccountID     uint   `json:"account_id"`
	FolderName    string `json:"folder_name,omitempty"`
	Inserted      int    `json:"inserted,omitempty"`
	Updated       int    `json:"updated,omitempty"`
	Deleted       int    `json:"deleted,omitempty"`
	CheckpointUID uint32 `json:"checkpoint_uid,omitempty"`
	FullSync      bool   `json:"full_sync,omitempty"`
	Status        string `json:"status"`
	ErrorMsg      string `json:"error_msg,omitempty"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
}

// LogSyncStarted logs the start of a sync run
func (s *LogService) LogSyncStarted(accountID uint, full bool) error {
	return s.LogInfo(accountID, models.LogModuleSync, "start", "Sync run started", SyncRunDetails{
		AccountID: accountID,
		FullSync:  full,
		Status:    "running",
	})
}

// LogSyncCompleted logs a finished sync run
func (s *LogService) LogSyncCompleted(accountID uint, details SyncRunDetails) error {
	details.Status = "success"
	return s.LogInfo(accountID, models.LogModuleSync, "complete", "Sync run completed", details)
}

// LogSyncFailed logs a failed sync run
func (s *LogService) LogSyncFailed(accountID uint, err error) error {
	return s.LogError(accountID, models.LogModuleSync, "fail", "Sync run failed", SyncRunDetails{
		AccountID: accountID,
		Status:    "failed",
		ErrorMsg:  err.Error(),
	})
}

// LogFolderSynced logs the outcome of one folder sync
func (s *LogService) LogFolderSynced(accountID uint, details SyncRunDetails) error {
	details.Status = "success"
	return s.LogInfo(accountID, models.LogModuleSync, "folder", "Folder synced", details)
}

// ===== Auth Logging =====

// AuthOperationDetails represents details for authentication operation logs
type AuthOperationDetails struct {
	AccountEmail string `json:"account_email,omitempty"`
	Provider     string `json:"provider,omitempty"`
	ClientIP     string `json:"client_ip,omitempty"`
	Status       string `json:"status"`
	ErrorMsg     string `json:"error_msg,omitempty"`
}

// LogAuthSuccess logs a successful server authentication
func (s *LogService) LogAuthSuccess(accountID uint, email, provider string) error {
	return s.LogInfo(accountID, models.LogModuleAuth, "login", "Server authentication succeeded", AuthOperationDetails{
		AccountEmail: email,
		Provider:     provider,
		Status:       "success",
	})
}

// LogAuthFailure logs a failed server authentication
func (s *LogService) LogAuthFailure(accountID uint, email, provider string, err error) error {
	details := AuthOperationDetails{
		AccountEmail: email,
		Provider:     provider,
		Status:       "failed",
	}
	if err != nil {
		details.ErrorMsg = err.Error()
	}
	return s.LogWarn(accountID, models.LogModuleAuth, "login", "Server authentication failed", details)
}

// LogTokenRefreshed logs a successful OAuth token refresh
func (s *LogService) LogTokenRefreshed(accountID uint, email string) error {
	return s.LogInfo(accountID, models.LogModuleAuth, "token_refresh", "OAuth token refreshed", AuthOperationDetails{
		AccountEmail: email,
		Status:       "success",
	})
}

// LogReauthRequired logs an account entering the reauth_required state
func (s *LogService) LogReauthRequired(accountID uint, email string, err error) error {
	details := AuthOperationDetails{
		AccountEmail: email,
		Status:       "reauth_required",
	}
	if err != nil {
		details.ErrorMsg = err.Error()
	}
	return s.LogWarn(accountID, models.LogModuleAuth, "reauth_required", "Account requires re-authentication", details)
}

// LogAPIKeyValidation logs an API key validation attempt
func (s *LogService) LogAPIKeyValidation(success bool, clientIP string, err error) error {
	details := AuthOperationDetails{
		ClientIP: clientIP,
		Status:   "valid",
	}

	level := models.LogLevelDebug
	message := "API key validated successfully"

	if !success {
		level = models.LogLevelWarn
		details.Status = "invalid"
		message = "API key validation failed"
		if err != nil {
			details.ErrorMsg = err.Error()
		}
	}

	return s.Log(LogEntry{
		Level:   level,
		Module:  models.LogModuleAuth,
		Action:  "api_key_validation",
		Message: message,
		Details: details,
	})
}

// LogAPIKeyReset logs an API key reset event
func (s *LogService) LogAPIKeyReset() error {
	return s.LogInfo(0, models.LogModuleAuth, "api_key_reset", "API key reset", nil)
}

// ===== API Request Logging =====

// APIRequestDetails represents details for API request logs
type APIRequestDetails struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	StatusCode int    `json:"status_code"`
	Duration   int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// LogAPIRequest logs an API request
func (s *LogService) LogAPIRequest(method, path string, statusCode int, durationMs int64, clientIP, userAgent string) error {
	level := models.LogLevelInfo
	if statusCode >= 400 && statusCode < 500 {
		level = models.LogLevelWarn
	} else if statusCode >= 500 {
		level = models.LogLevelError
	}

	return s.Log(LogEntry{
		Level:   level,
		Module:  models.LogModuleAPI,
		Action:  "request",
		Message: method + " " + path,
		Details: APIRequestDetails{
			Method:     method,
			Path:       path,
			StatusCode: statusCode,
			Duration:   durationMs,
			ClientIP:   clientIP,
			UserAgent:  userAgent,
		},
	})
}

// ===== Log Query Methods =====

// LogQuery represents query parameters for log retrieval
type LogQuery struct {
	AccountID uint
	Level     string
	Module    string
	Action    string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	Limit     int
}

// LogQueryResult represents the result of a log query
type LogQueryResult struct {
	Total int64
	Logs  []models.Log
}

// QueryLogs retrieves logs based on query parameters
func (s *LogService) QueryLogs(query LogQuery) (*LogQueryResult, error) {
	db := s.db.Model(&models.Log{})

	if query.AccountID > 0 {
		db = db.Where("account_id = ?", query.AccountID)
	}
	if query.Level != "" {
		db = db.Where("level = ?", query.Level)
	}
	if query.Module != "" {
		db = db.Where("module = ?", query.Module)
	}
	if query.Action != "" {
		db = db.Where("action = ?", query.Action)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", query.EndTime)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	if query.Page <= 0 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}

	offset := (query.Page - 1) * query.Limit

	var logs []models.Log
	if err := db.Order("created_at DESC").Offset(offset).Limit(query.Limit).Find(&logs).Error; err != nil {
		return nil, err
	}

	return &LogQueryResult{
		Total: total,
		Logs:  logs,
	}, nil
}

// GetRecentLogs retrieves the most recent logs
func (s *LogService) GetRecentLogs(limit int) ([]models.Log, error) {
	if limit <= 0 {
		limit = 100
	}

	var logs []models.Log
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// GetLogsByModule retrieves logs for a specific module
func (s *LogService) GetLogsByModule(module models.LogModule, limit int) ([]models.Log, error) {
	if limit <= 0 {
		limit = 100
	}

	var logs []models.Log
	if err := s.db.Where("module = ?", string(module)).Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
