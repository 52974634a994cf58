package services

import (
	"errors"
	"sort"
	"strings"

	"github.com/luo-one/mailsync/internal/database/models"
	"github.com/luo-one/mailsync/internal/imap"
	"gorm.io/gorm"
)

// FolderService reconciles the local folder list against the server and
// answers folder queries.
type FolderService struct {
	db         *gorm.DB
	logService *LogService
}

// NewFolderService creates a new FolderService instance
func NewFolderService(db *gorm.DB) *FolderService {
	return &FolderService{
		db:         db,
		logService: NewLogService(db),
	}
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

// Reconcile diffs the server's folder list against the local one and
// applies the difference in a single transaction. Local folders are keyed
// by case-folded name; messages of removed folders go with them.
func (s *FolderService) Reconcile(account *models.Account, session imap.Session) (ReconcileResult, error) {
	remote, err := session.ListFolders()
	if err != nil {
		return ReconcileResult{}, err
	}

	// Deterministic order, and when two remote names fold to the same
	// canonical key the lexicographically smaller one wins.
	sort.Slice(remote, func(i, j int) bool { return remote[i].Name < remote[j].Name })
	remoteByKey := make(map[string]imap.FolderInfo, len(remote))
	for _, info := range remote {
		key := models.CanonicalFolderName(info.Name)
		if _, ok := remoteByKey[key]; !ok {
			remoteByKey[key] = info
		}
	}

	var result ReconcileResult
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var local []models.Folder
		if err := tx.Where("account_id = ?", account.ID).Find(&local).Error; err != nil {
			return err
		}

		localByKey := make(map[string]*models.Folder, len(local))
		for i := range local {
			localByKey[models.CanonicalFolderName(local[i].Name)] = &local[i]
		}

		// Insert or update whatever the server reports
		for key, info := range remoteByKey {
			folderType := classifyFolderType(info)
			existing, ok := localByKey[key]
			if !ok {
				folder := models.Folder{
					AccountID:     account.ID,
					Name:          info.Name,
					DisplayName:   displayNameFor(info),
					Type:          folderType,
					Delimiter:     info.Delimiter,
					IsSelectable:  info.Selectable(),
					IsSubscribed:  true,
					NeedsFullSync: true,
				}
				if err := tx.Create(&folder).Error; err != nil {
					return err
				}
				localByKey[key] = &folder
				result.Added++
				continue
			}

			changed := false
			if existing.Name != info.Name {
				existing.Name = info.Name
				existing.DisplayName = displayNameFor(info)
				changed = true
			}
			if existing.Type != folderType {
				existing.Type = folderType
				changed = true
			}
			if existing.Delimiter != info.Delimiter {
				existing.Delimiter = info.Delimiter
				changed = true
			}
			if existing.IsSelectable != info.Selectable() {
				existing.IsSelectable = info.Selectable()
				changed = true
			}
			if changed {
				if err := tx.Save(existing).Error; err != nil {
					return err
				}
				result.Updated++
			}
		}

		// Drop local folders the server no longer has
		for key, folder := range localByKey {
			if _, ok := remoteByKey[key]; ok {
				continue
			}
			if err := tx.Where("folder_id = ?", folder.ID).Delete(&models.Message{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&models.Folder{}, folder.ID).Error; err != nil {
				return err
			}
			delete(localByKey, key)
			result.Removed++
		}

		// Rebuild hierarchy links from the delimiter
		return s.linkParentsLocked(tx, account.ID)
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	if result.Added > 0 || result.Removed > 0 || result.Updated > 0 {
		s.logService.LogInfo(account.ID, models.LogModuleSync, "reconcile_folders", "Folder list reconciled", result)
	}
	return result, nil
}

// linkParentsLocked points each folder at its parent by splitting names on
// the hierarchy delimiter. Caller supplies the transaction.
func (s *FolderService) linkParentsLocked(tx *gorm.DB, accountID uint) error {
	var folders []models.Folder
	if err := tx.Where("account_id = ?", accountID).Find(&folders).Error; err != nil {
		return err
	}

	byKey := make(map[string]*models.Folder, len(folders))
	for i := range folders {
		byKey[models.CanonicalFolderName(folders[i].Name)] = &folders[i]
	}

	for i := range folders {
		folder := &folders[i]
		var parentID *uint
		if folder.Delimiter != "" {
			if idx := strings.LastIndex(folder.Name, folder.Delimiter); idx > 0 {
				parentName := folder.Name[:idx]
				if parent, ok := byKey[models.CanonicalFolderName(parentName)]; ok && parent.ID != folder.ID {
					parentID = &parent.ID
				}
			}
		}

		current := uint(0)
		if folder.ParentID != nil {
			current = *folder.ParentID
		}
		next := uint(0)
		if parentID != nil {
			next = *parentID
		}
		if current != next {
			if err := tx.Model(folder).Update("parent_id", parentID).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// classifyFolderType maps special-use attributes, then well-known names,
// to a folder type.
func classifyFolderType(info imap.FolderInfo) models.FolderType {
	if models.IsInbox(info.Name) {
		return models.FolderTypeInbox
	}

	switch info.SpecialUse() {
	case imap.AttrSent:
		return models.FolderTypeSent
	case imap.AttrDrafts:
		return models.FolderTypeDrafts
	case imap.AttrTrash:
		return models.FolderTypeTrash
	case imap.AttrJunk:
		return models.FolderTypeSpam
	case imap.AttrArchive:
		return models.FolderTypeArchive
	}

	leaf := info.Name
	if info.Delimiter != "" {
		if idx := strings.LastIndex(leaf, info.Delimiter); idx >= 0 {
			leaf = leaf[idx+len(info.Delimiter):]
		}
	}
	switch strings.ToLower(leaf) {
	case "sent", "sent messages", "sent items":
		return models.FolderTypeSent
	case "drafts", "draft":
		return models.FolderTypeDrafts
	case "trash", "deleted", "deleted items", "deleted messages":
		return models.FolderTypeTrash
	case "spam", "junk", "junk e-mail", "bulk mail":
		return models.FolderTypeSpam
	case "archive", "archives", "all mail":
		return models.FolderTypeArchive
	}
	return models.FolderTypeCustom
}

// displayNameFor strips the hierarchy prefix for presentation.
func displayNameFor(info imap.FolderInfo) string {
	if info.Delimiter == "" {
		return info.Name
	}
	if idx := strings.LastIndex(info.Name, info.Delimiter); idx >= 0 {
		return info.Name[idx+len(info.Delimiter):]
	}
	return info.Name
}

// GetFoldersByAccountID lists the local folders of an account.
func (s *FolderService) GetFoldersByAccountID(accountID uint) ([]models.Folder, error) {
	var folders []models.Folder
	if err := s.db.Where("account_id = ?", accountID).Order("name").Find(&folders).Error; err != nil {
		return nil, err
	}
	return folders, nil
}

// GetFolderByID retrieves one folder.
func (s *FolderService) GetFolderByID(id uint) (*models.Folder, error) {
	var folder models.Folder
	if err := s.db.First(&folder, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFolderNotFound
		}
		return nil, err
	}
	return &folder, nil
}

// GetInbox returns the account's INBOX folder.
func (s *FolderService) GetInbox(accountID uint) (*models.Folder, error) {
	var folders []models.Folder
	if err := s.db.Where("account_id = ? AND type = ?", accountID, models.FolderTypeInbox).Find(&folders).Error; err != nil {
		return nil, err
	}
	if len(folders) == 0 {
		return nil, ErrFolderNotFound
	}
	return &folders[0], nil
}
