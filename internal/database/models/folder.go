package models

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// FolderType classifies a folder by its role on the server.
type FolderType string

const (
	FolderTypeInbox   FolderType = "inbox"
	FolderTypeSent    FolderType = "sent"
	FolderTypeDrafts  FolderType = "drafts"
	FolderTypeTrash   FolderType = "trash"
	FolderTypeSpam    FolderType = "spam"
	FolderTypeArchive FolderType = "archive"
	FolderTypeCustom  FolderType = "custom"
)

// Folder mirrors one server-side mailbox of an account.
//
// Name holds the raw server token and is the stable identity key together
// with AccountID; DisplayName may be decoded or localized and must never be
// used for matching.
type Folder struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	AccountID   uint       `gorm:"index;not null;uniqueIndex:idx_folders_account_name" json:"account_id"`
	Name        string     `gorm:"size:500;not null;uniqueIndex:idx_folders_account_name" json:"name"`
	DisplayName string     `gorm:"size:255" json:"display_name"`
	Type        FolderType `gorm:"size:20;default:'custom'" json:"type"`
	ParentID    *uint      `gorm:"index" json:"parent_id,omitempty"`
	Delimiter   string     `gorm:"size:10" json:"delimiter"`

	// No gorm default tags on booleans: a default would silently override
	// explicit false values on insert.
	IsSelectable bool `json:"is_selectable"`
	IsSubscribed bool `json:"is_subscribed"`

	TotalCount  int `gorm:"default:0" json:"total_count"`
	UnreadCount int `gorm:"default:0" json:"unread_count"`

	// UIDValidity 0 means the server has not reported one yet; UIDs are only
	// comparable within a single non-zero UIDValidity epoch.
	UIDValidity uint32 `gorm:"column:uid_validity;default:0" json:"uid_validity"`
	UIDNext     uint32 `gorm:"column:uid_next;default:0" json:"uid_next"`

	// LastSeenUID is the incremental sync checkpoint.
	LastSeenUID   uint32    `gorm:"column:last_seen_uid;default:0" json:"last_seen_uid"`
	NeedsFullSync bool      `json:"needs_full_sync"`
	LastSyncAt    time.Time `json:"last_sync_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Messages []Message `gorm:"foreignKey:FolderID" json:"messages,omitempty"`
}

// CanonicalFolderName folds a server folder name for identity comparison.
// Server names that differ only in case refer to the same mailbox on the
// common servers that treat names case-insensitively; INBOX in particular is
// case-insensitive per RFC 3501.
func CanonicalFolderName(name string) string {
	return cases.Fold().String(name)
}

// IsInbox reports whether the raw server name denotes the INBOX.
func IsInbox(name string) bool {
	return strings.EqualFold(name, "INBOX")
}

// IsSystemFolder reports whether the folder has a well-known role.
func (f *Folder) IsSystemFolder() bool {
	return f.Type != FolderTypeCustom
}
