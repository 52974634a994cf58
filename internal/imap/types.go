package imap

import (
	"strings"
	"time"
)

// Standard IMAP flags as they appear on the wire.
const (
	FlagSeen     = "\\Seen"
	FlagAnswered = "\\Answered"
	FlagFlagged  = "\\Flagged"
	FlagDeleted  = "\\Deleted"
	FlagDraft    = "\\Draft"
)

// Special-use attributes from RFC 6154, plus \Noselect.
const (
	AttrNoselect = "\\Noselect"
	AttrSent     = "\\Sent"
	AttrDrafts   = "\\Drafts"
	AttrTrash    = "\\Trash"
	AttrJunk     = "\\Junk"
	AttrArchive  = "\\Archive"
	AttrAll      = "\\All"
)

// FolderInfo describes one mailbox returned by LIST.
type FolderInfo struct {
	Name       string
	Delimiter  string
	Attributes []string
}

// Selectable reports whether the mailbox can hold messages.
func (f FolderInfo) Selectable() bool {
	for _, attr := range f.Attributes {
		if strings.EqualFold(attr, AttrNoselect) {
			return false
		}
	}
	return true
}

// SpecialUse returns the RFC 6154 attribute of the mailbox, or "" for none.
func (f FolderInfo) SpecialUse() string {
	for _, attr := range f.Attributes {
		switch {
		case strings.EqualFold(attr, AttrSent),
			strings.EqualFold(attr, AttrDrafts),
			strings.EqualFold(attr, AttrTrash),
			strings.EqualFold(attr, AttrJunk),
			strings.EqualFold(attr, AttrArchive):
			return attr
		}
	}
	return ""
}

// MailboxStatus is the state of a selected or STATUS-queried mailbox.
type MailboxStatus struct {
	Name        string
	Messages    uint32
	Unseen      uint32
	UIDNext     uint32
	UIDValidity uint32
}

// MessageMeta is the envelope-level metadata of one message.
type MessageMeta struct {
	UID            uint32
	MessageID      string
	Subject        string
	From           string
	To             []string
	Date           time.Time
	InternalDate   time.Time
	Flags          []string
	HasAttachments bool
}

// HasFlag reports whether the message carries the given flag.
func (m MessageMeta) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// Session is one authenticated IMAP connection. Implementations are not
// safe for concurrent use; callers serialize access per account.
type Session interface {
	// LoginPassword authenticates with LOGIN.
	LoginPassword(username, password string) error
	// LoginXOAuth2 authenticates with the XOAUTH2 SASL mechanism.
	LoginXOAuth2(username, accessToken string) error

	// ListFolders returns all mailboxes visible to the account.
	ListFolders() ([]FolderInfo, error)
	// Select opens a mailbox and returns its status.
	Select(name string, readOnly bool) (MailboxStatus, error)
	// Status queries a mailbox without selecting it.
	Status(name string) (MailboxStatus, error)

	// SearchUIDs runs UID SEARCH UID from:to against the selected mailbox.
	// A to of 0 means "*".
	SearchUIDs(from, to uint32) ([]uint32, error)
	// SearchSince runs UID SEARCH SINCE date against the selected mailbox.
	SearchSince(since time.Time) ([]uint32, error)
	// FetchEnvelopes fetches envelope metadata and flags for the given UIDs.
	FetchEnvelopes(uids []uint32) ([]MessageMeta, error)
	// FetchFlags fetches only the flags for the given UIDs.
	FetchFlags(uids []uint32) (map[uint32][]string, error)
	// StoreFlags adds or removes flags on one message.
	StoreFlags(uid uint32, add bool, flags []string) error

	// SupportsIdle reports whether the server advertises IDLE.
	SupportsIdle() (bool, error)
	// Idle blocks in IDLE until stop is closed or the connection drops.
	Idle(stop <-chan struct{}) error
	// Updates delivers a notification per unsolicited server update.
	Updates() <-chan struct{}

	// Logout closes the connection.
	Logout() error
}

// DialFunc opens a connection to an IMAP server. Services take a DialFunc
// so tests can substitute a fake session.
type DialFunc func(cfg Config) (Session, error)
