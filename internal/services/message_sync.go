package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/luo-one/mailsync/internal/database/models"
	"github.com/luo-one/mailsync/internal/events"
	"github.com/luo-one/mailsync/internal/imap"
	"gorm.io/gorm"
)

const insertBatchSize = 50

// MessageSyncService keeps local message metadata in step with the server
// using per-folder UID checkpoints.
type MessageSyncService struct {
	db         *gorm.DB
	logService *LogService
	bus        *events.Bus

	fullSyncWindowDays int
	flagRecheckWindow  int
}

// NewMessageSyncService creates a new MessageSyncService instance
func NewMessageSyncService(db *gorm.DB, bus *events.Bus, fullSyncWindowDays, flagRecheckWindow int) *MessageSyncService {
	if flagRecheckWindow <= 0 {
		flagRecheckWindow = 200
	}
	return &MessageSyncService{
		db:                 db,
		logService:         NewLogService(db),
		bus:                bus,
		fullSyncWindowDays: fullSyncWindowDays,
		flagRecheckWindow:  flagRecheckWindow,
	}
}

// FolderSyncStats summarizes one folder sync.
type FolderSyncStats struct {
	Inserted      int
	FlagUpdates   int
	Deleted       int
	CheckpointUID uint32
	FullSync      bool
}

func (s FolderSyncStats) changed() bool {
	return s.Inserted > 0 || s.FlagUpdates > 0 || s.Deleted > 0
}

// SyncFolder brings one folder up to date. The caller provides an already
// authenticated session.
func (s *MessageSyncService) SyncFolder(account *models.Account, folder *models.Folder, session imap.Session) (FolderSyncStats, error) {
	started := time.Now()

	mbox, err := session.Select(folder.Name, true)
	if err != nil {
		return FolderSyncStats{}, fmt.Errorf("%w: selecting %s: %v", ErrProtocol, folder.Name, err)
	}

	// A changed UIDValidity invalidates every stored UID for the folder.
	// 0 means the server never reported a value before, so the first
	// observation is not an epoch change.
	if folder.UIDValidity != 0 && mbox.UIDValidity != 0 && folder.UIDValidity != mbox.UIDValidity {
		s.logService.LogWarn(account.ID, models.LogModuleSync, "uid_epoch", "UIDValidity changed, scheduling full sync", map[string]interface{}{
			"folder":  folder.Name,
			"old":     folder.UIDValidity,
			"new":     mbox.UIDValidity,
		})
		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("folder_id = ?", folder.ID).Delete(&models.Message{}).Error; err != nil {
				return err
			}
			folder.LastSeenUID = 0
			folder.NeedsFullSync = true
			folder.UIDValidity = mbox.UIDValidity
			return tx.Save(folder).Error
		})
		if err != nil {
			return FolderSyncStats{}, err
		}
	}
	folder.UIDValidity = mbox.UIDValidity
	folder.UIDNext = mbox.UIDNext

	var stats FolderSyncStats
	if folder.NeedsFullSync {
		stats, err = s.fullSync(account, folder, session)
	} else {
		stats, err = s.incrementalSync(account, folder, session)
	}
	if err != nil {
		return stats, err
	}

	if err := s.refreshCounts(folder); err != nil {
		return stats, err
	}
	folder.LastSyncAt = time.Now()
	if err := s.db.Save(folder).Error; err != nil {
		return stats, err
	}

	if stats.changed() && s.bus != nil {
		s.bus.Publish(events.EventFolderChanged, account.ID, folder.ID, map[string]interface{}{
			"folder":       folder.Name,
			"inserted":     stats.Inserted,
			"flag_updates": stats.FlagUpdates,
			"deleted":      stats.Deleted,
		})
	}

	s.logService.LogFolderSynced(account.ID, SyncRunDetails{
		AccountID:     account.ID,
		FolderName:    folder.Name,
		Inserted:      stats.Inserted,
		Updated:       stats.FlagUpdates,
		Deleted:       stats.Deleted,
		CheckpointUID: stats.CheckpointUID,
		FullSync:      stats.FullSync,
		DurationMs:    time.Since(started).Milliseconds(),
	})
	return stats, nil
}

// fullSync replaces the folder's rows with the server's state inside the
// configured window, ascending by UID.
func (s *MessageSyncService) fullSync(account *models.Account, folder *models.Folder, session imap.Session) (FolderSyncStats, error) {
	stats := FolderSyncStats{FullSync: true}

	var uids []uint32
	var err error
	if s.fullSyncWindowDays > 0 {
		uids, err = session.SearchSince(time.Now().AddDate(0, 0, -s.fullSyncWindowDays))
	} else {
		uids, err = session.SearchUIDs(1, 0)
	}
	if err != nil {
		return stats, fmt.Errorf("%w: searching %s: %v", ErrProtocol, folder.Name, err)
	}
	sortUIDs(uids)

	metas, err := session.FetchEnvelopes(uids)
	if err != nil {
		return stats, fmt.Errorf("%w: fetching envelopes: %v", ErrProtocol, err)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("folder_id = ?", folder.ID).Delete(&models.Message{}).Error; err != nil {
			return err
		}

		rows := make([]*models.Message, 0, len(metas))
		for i := range metas {
			rows = append(rows, s.rowFromMeta(account.ID, folder.ID, &metas[i]))
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
				return err
			}
		}
		stats.Inserted = len(rows)

		checkpoint := uint32(0)
		for _, uid := range uids {
			if uid > checkpoint {
				checkpoint = uid
			}
		}
		// The checkpoint commits with its rows so a failure later in the
		// run cannot leave persisted messages above a stale checkpoint.
		if err := tx.Model(&models.Folder{}).Where("id = ?", folder.ID).Updates(map[string]interface{}{
			"last_seen_uid":   checkpoint,
			"needs_full_sync": false,
		}).Error; err != nil {
			return err
		}
		folder.LastSeenUID = checkpoint
		folder.NeedsFullSync = false
		stats.CheckpointUID = checkpoint
		return nil
	})
	if err != nil {
		return stats, err
	}

	s.publishNewMessages(account.ID, folder.ID, metas)
	return stats, nil
}

// incrementalSync fetches messages past the checkpoint, rechecks flags on
// the newest known messages, and detects deletions below the checkpoint.
func (s *MessageSyncService) incrementalSync(account *models.Account, folder *models.Folder, session imap.Session) (FolderSyncStats, error) {
	stats := FolderSyncStats{CheckpointUID: folder.LastSeenUID}

	// Retry messages whose metadata fetch failed on earlier runs
	if err := s.retryPending(folder, session, &stats); err != nil {
		return stats, err
	}

	// New messages above the checkpoint. Servers answer "n:*" with the
	// newest message even when n is past the end, so filter the result.
	newUIDs, err := session.SearchUIDs(folder.LastSeenUID+1, 0)
	if err != nil {
		return stats, fmt.Errorf("%w: searching new messages: %v", ErrProtocol, err)
	}
	filtered := newUIDs[:0]
	for _, uid := range newUIDs {
		if uid > folder.LastSeenUID {
			filtered = append(filtered, uid)
		}
	}
	newUIDs = filtered
	sortUIDs(newUIDs)

	if len(newUIDs) > 0 {
		metas, err := session.FetchEnvelopes(newUIDs)
		if err != nil {
			return stats, fmt.Errorf("%w: fetching new envelopes: %v", ErrProtocol, err)
		}

		fetched := make(map[uint32]bool, len(metas))
		rows := make([]*models.Message, 0, len(newUIDs))
		for i := range metas {
			fetched[metas[i].UID] = true
			rows = append(rows, s.rowFromMeta(account.ID, folder.ID, &metas[i]))
		}
		// UIDs the server listed but did not return metadata for become
		// stubs and are retried on later runs
		for _, uid := range newUIDs {
			if !fetched[uid] {
				rows = append(rows, &models.Message{
					AccountID:    account.ID,
					FolderID:     folder.ID,
					MessageID:    fmt.Sprintf("uid:%d", uid),
					UID:          uid,
					SyncState:    models.SyncStatePending,
					SyncAttempts: 1,
				})
			}
		}

		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
				return err
			}
			checkpoint := folder.LastSeenUID
			for _, uid := range newUIDs {
				if uid > checkpoint {
					checkpoint = uid
				}
			}
			// The checkpoint commits with its batch so a failure later in
			// the run cannot leave the inserted rows above a stale
			// checkpoint, which would make every following run collide
			// with the (folder_id, uid) unique index.
			if err := tx.Model(&models.Folder{}).Where("id = ?", folder.ID).
				Update("last_seen_uid", checkpoint).Error; err != nil {
				return err
			}
			folder.LastSeenUID = checkpoint
			stats.CheckpointUID = checkpoint
			return nil
		})
		if err != nil {
			return stats, err
		}
		stats.Inserted = len(rows)
		s.publishNewMessages(account.ID, folder.ID, metas)
	}

	// Flag recheck over the newest known messages
	flagUpdates, err := s.recheckFlags(folder, session)
	if err != nil {
		return stats, err
	}
	stats.FlagUpdates = flagUpdates

	// Deletion detection below the checkpoint
	deleted, err := s.detectDeletions(folder, session)
	if err != nil {
		return stats, err
	}
	stats.Deleted = deleted

	return stats, nil
}

// retryPending refetches metadata for stub rows, parking them in the
// error state after repeated failures.
func (s *MessageSyncService) retryPending(folder *models.Folder, session imap.Session, stats *FolderSyncStats) error {
	var pending []models.Message
	if err := s.db.Where("folder_id = ? AND sync_state = ?", folder.ID, models.SyncStatePending).Find(&pending).Error; err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	uids := make([]uint32, len(pending))
	byUID := make(map[uint32]*models.Message, len(pending))
	for i := range pending {
		uids[i] = pending[i].UID
		byUID[pending[i].UID] = &pending[i]
	}

	metas, err := session.FetchEnvelopes(uids)
	if err != nil {
		return fmt.Errorf("%w: refetching pending envelopes: %v", ErrProtocol, err)
	}

	resolved := make(map[uint32]bool, len(metas))
	for i := range metas {
		meta := &metas[i]
		row, ok := byUID[meta.UID]
		if !ok {
			continue
		}
		resolved[meta.UID] = true
		updates := map[string]interface{}{
			"message_id":      meta.MessageID,
			"subject":         meta.Subject,
			"from_addr":       meta.From,
			"to_addrs":        encodeAddrs(meta.To),
			"sent_date":       meta.Date,
			"is_read":         meta.HasFlag(imap.FlagSeen),
			"is_starred":      meta.HasFlag(imap.FlagFlagged),
			"is_flagged":      meta.HasFlag(imap.FlagFlagged),
			"is_draft":        meta.HasFlag(imap.FlagDraft),
			"has_attachments": meta.HasAttachments,
			"sync_state":      models.SyncStateSynced,
			"sync_attempts":   0,
		}
		if !meta.InternalDate.IsZero() {
			updates["received_date"] = meta.InternalDate
		}
		if err := s.db.Model(row).Updates(updates).Error; err != nil {
			return err
		}
	}

	for uid, row := range byUID {
		if resolved[uid] {
			continue
		}
		row.SyncAttempts++
		state := models.SyncStatePending
		if row.SyncAttempts >= models.MaxSyncAttempts {
			state = models.SyncStateError
		}
		if err := s.db.Model(row).Updates(map[string]interface{}{
			"sync_attempts": row.SyncAttempts,
			"sync_state":    state,
		}).Error; err != nil {
			return err
		}
	}
	return nil
}

// recheckFlags refreshes flags on the newest known messages of the folder.
func (s *MessageSyncService) recheckFlags(folder *models.Folder, session imap.Session) (int, error) {
	var recent []models.Message
	err := s.db.Where("folder_id = ? AND sync_state = ?", folder.ID, models.SyncStateSynced).
		Order("uid DESC").Limit(s.flagRecheckWindow).Find(&recent).Error
	if err != nil {
		return 0, err
	}
	if len(recent) == 0 {
		return 0, nil
	}

	uids := make([]uint32, len(recent))
	for i := range recent {
		uids[i] = recent[i].UID
	}

	remoteFlags, err := session.FetchFlags(uids)
	if err != nil {
		return 0, fmt.Errorf("%w: fetching flags: %v", ErrProtocol, err)
	}

	updated := 0
	for i := range recent {
		msg := &recent[i]
		flags, ok := remoteFlags[msg.UID]
		if !ok {
			continue
		}
		meta := imap.MessageMeta{Flags: flags}

		isRead := meta.HasFlag(imap.FlagSeen)
		isStarred := meta.HasFlag(imap.FlagFlagged)
		isDraft := meta.HasFlag(imap.FlagDraft)
		if msg.IsRead == isRead && msg.IsStarred == isStarred && msg.IsDraft == isDraft {
			continue
		}

		err := s.db.Model(msg).Updates(map[string]interface{}{
			"is_read":    isRead,
			"is_starred": isStarred,
			"is_flagged": isStarred,
			"is_draft":   isDraft,
		}).Error
		if err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// detectDeletions marks local rows whose UIDs no longer exist on the
// server, comparing against the range up to the checkpoint. Rows stay in
// place as sync_state deleted until the next full sync replaces them.
func (s *MessageSyncService) detectDeletions(folder *models.Folder, session imap.Session) (int, error) {
	if folder.LastSeenUID == 0 {
		return 0, nil
	}

	serverUIDs, err := session.SearchUIDs(1, folder.LastSeenUID)
	if err != nil {
		return 0, fmt.Errorf("%w: searching for deletions: %v", ErrProtocol, err)
	}
	serverSet := make(map[uint32]bool, len(serverUIDs))
	for _, uid := range serverUIDs {
		serverSet[uid] = true
	}

	var local []models.Message
	err = s.db.Select("id", "uid").
		Where("folder_id = ? AND uid <= ? AND sync_state <> ?", folder.ID, folder.LastSeenUID, models.SyncStateDeleted).
		Find(&local).Error
	if err != nil {
		return 0, err
	}

	var gone []uint
	for i := range local {
		if !serverSet[local[i].UID] {
			gone = append(gone, local[i].ID)
		}
	}
	if len(gone) == 0 {
		return 0, nil
	}

	err = s.db.Model(&models.Message{}).Where("id IN ?", gone).
		Update("sync_state", models.SyncStateDeleted).Error
	if err != nil {
		return 0, err
	}
	return len(gone), nil
}

// refreshCounts recomputes the folder's cached totals from the rows,
// excluding rows marked deleted.
func (s *MessageSyncService) refreshCounts(folder *models.Folder) error {
	var total, unread int64
	if err := s.db.Model(&models.Message{}).Where("folder_id = ? AND sync_state <> ?", folder.ID, models.SyncStateDeleted).Count(&total).Error; err != nil {
		return err
	}
	if err := s.db.Model(&models.Message{}).Where("folder_id = ? AND is_read = ? AND sync_state <> ?", folder.ID, false, models.SyncStateDeleted).Count(&unread).Error; err != nil {
		return err
	}
	folder.TotalCount = int(total)
	folder.UnreadCount = int(unread)
	return nil
}

func (s *MessageSyncService) rowFromMeta(accountID, folderID uint, meta *imap.MessageMeta) *models.Message {
	received := meta.InternalDate
	if received.IsZero() {
		received = time.Now()
	}
	return &models.Message{
		AccountID:      accountID,
		FolderID:       folderID,
		MessageID:      meta.MessageID,
		UID:            meta.UID,
		Subject:        meta.Subject,
		FromAddr:       meta.From,
		ToAddrs:        encodeAddrs(meta.To),
		SentDate:       meta.Date,
		ReceivedDate:   received,
		IsRead:         meta.HasFlag(imap.FlagSeen),
		IsStarred:      meta.HasFlag(imap.FlagFlagged),
		IsFlagged:      meta.HasFlag(imap.FlagFlagged),
		IsDraft:        meta.HasFlag(imap.FlagDraft),
		HasAttachments: meta.HasAttachments,
		SyncState:      models.SyncStateSynced,
	}
}

func (s *MessageSyncService) publishNewMessages(accountID, folderID uint, metas []imap.MessageMeta) {
	if s.bus == nil {
		return
	}
	for i := range metas {
		s.bus.Publish(events.EventNewMessage, accountID, folderID, map[string]interface{}{
			"uid":     metas[i].UID,
			"subject": metas[i].Subject,
			"from":    metas[i].From,
		})
	}
}

func encodeAddrs(addrs []string) string {
	if len(addrs) == 0 {
		return "[]"
	}
	data, err := json.Marshal(addrs)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func sortUIDs(uids []uint32) {
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
}

// ===== Message queries and flag updates =====

// ListMessagesQuery filters a message listing.
type ListMessagesQuery struct {
	FolderID   uint
	UnreadOnly bool
	Page       int
	Limit      int
}

// ListMessagesResult is a page of messages.
type ListMessagesResult struct {
	Total    int64            `json:"total"`
	Messages []models.Message `json:"messages"`
}

// ListMessages returns messages of a folder, newest first. Rows marked
// deleted are excluded.
func (s *MessageSyncService) ListMessages(query ListMessagesQuery) (*ListMessagesResult, error) {
	db := s.db.Model(&models.Message{}).
		Where("folder_id = ? AND sync_state <> ?", query.FolderID, models.SyncStateDeleted)
	if query.UnreadOnly {
		db = db.Where("is_read = ?", false)
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

	var messages []models.Message
	err := db.Order("uid DESC").Offset((query.Page - 1) * query.Limit).Limit(query.Limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return &ListMessagesResult{Total: total, Messages: messages}, nil
}

// GetMessageByID retrieves one message.
func (s *MessageSyncService) GetMessageByID(id uint) (*models.Message, error) {
	var message models.Message
	if err := s.db.First(&message, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &message, nil
}

// FlagUpdate carries optional flag changes; nil fields stay untouched.
type FlagUpdate struct {
	IsRead    *bool `json:"is_read"`
	IsStarred *bool `json:"is_starred"`
}

// SetMessageFlags writes flag changes to the server first, then mirrors
// them locally. The caller provides an authenticated session with the
// message's folder unselected; this selects it read-write.
func (s *MessageSyncService) SetMessageFlags(session imap.Session, folder *models.Folder, message *models.Message, update FlagUpdate) error {
	if _, err := session.Select(folder.Name, false); err != nil {
		return fmt.Errorf("%w: selecting %s: %v", ErrProtocol, folder.Name, err)
	}

	changes := map[string]interface{}{}
	if update.IsRead != nil && *update.IsRead != message.IsRead {
		if err := session.StoreFlags(message.UID, *update.IsRead, []string{imap.FlagSeen}); err != nil {
			return fmt.Errorf("%w: storing \\Seen: %v", ErrProtocol, err)
		}
		changes["is_read"] = *update.IsRead
	}
	if update.IsStarred != nil && *update.IsStarred != message.IsStarred {
		if err := session.StoreFlags(message.UID, *update.IsStarred, []string{imap.FlagFlagged}); err != nil {
			return fmt.Errorf("%w: storing \\Flagged: %v", ErrProtocol, err)
		}
		changes["is_starred"] = *update.IsStarred
		changes["is_flagged"] = *update.IsStarred
	}

	if len(changes) == 0 {
		return nil
	}
	return s.db.Model(message).Updates(changes).Error
}
