package models

import (
	"time"
)

// SyncState tracks where a message row is in its sync lifecycle.
type SyncState string

const (
	SyncStateSynced  SyncState = "synced"
	SyncStatePending SyncState = "pending"
	SyncStateSyncing SyncState = "syncing"
	SyncStateError   SyncState = "error"
	SyncStateDeleted SyncState = "deleted"
	SyncStateSent    SyncState = "sent"
	SyncStateDraft   SyncState = "draft"
)

// maxSyncAttempts is the number of consecutive metadata fetch failures
// before a message is parked in SyncStateError until the next full sync.
const MaxSyncAttempts = 3

// Message is the local metadata row for one message placement.
//
// (FolderID, UID) identifies a message only within the folder's current
// UIDValidity epoch. The same MessageID may appear in several folders (for
// example Gmail labels); each placement is its own row and they are never
// merged.
type Message struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	AccountID uint   `gorm:"index;not null" json:"account_id"`
	FolderID  uint   `gorm:"index;not null;uniqueIndex:idx_messages_folder_uid" json:"folder_id"`
	MessageID string `gorm:"index;size:255;not null" json:"message_id"`
	UID       uint32 `gorm:"not null;uniqueIndex:idx_messages_folder_uid" json:"uid"`

	Subject  string `gorm:"size:500" json:"subject"`
	FromAddr string `gorm:"size:255" json:"from"`
	ToAddrs  string `gorm:"type:text" json:"to"` // JSON array stored as string

	SentDate     time.Time `gorm:"index" json:"sent_date"`
	ReceivedDate time.Time `json:"received_date"`

	IsRead    bool `gorm:"default:false" json:"is_read"`
	IsStarred bool `gorm:"default:false" json:"is_starred"`
	IsFlagged bool `gorm:"default:false" json:"is_flagged"`
	IsDraft   bool `gorm:"default:false" json:"is_draft"`

	HasAttachments bool `gorm:"default:false" json:"has_attachments"`

	SyncState    SyncState `gorm:"size:20;default:'pending';index" json:"sync_state"`
	SyncAttempts int       `gorm:"default:0" json:"sync_attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
