package services

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/luo-one/mailsync/internal/database/models"
)

// Reconciling the same server folder list twice must be a no-op the
// second time, and the local set must equal the server's canonical set.

func TestProperty_FolderReconcileIdempotence(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	accountService := newTestAccountService(t, db)
	folderService := NewFolderService(db)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	counter := 0

	properties.Property("second_reconcile_changes_nothing", prop.ForAll(
		func(extraFolders uint8) bool {
			counter++
			account := createPasswordAccount(t, accountService, fmt.Sprintf("recon%d@test.com", counter))

			session := newFakeSession()
			session.addMailbox("INBOX", "/", 1)
			n := int(extraFolders%5) + 1
			for i := 0; i < n; i++ {
				session.addMailbox(fmt.Sprintf("Custom%d", i), "/", 1)
			}

			first, err := folderService.Reconcile(account, session)
			if err != nil {
				return false
			}
			if first.Added != n+1 || first.Removed != 0 {
				return false
			}

			second, err := folderService.Reconcile(account, session)
			if err != nil {
				return false
			}
			if second.Added != 0 || second.Updated != 0 || second.Removed != 0 {
				return false
			}

			folders, err := folderService.GetFoldersByAccountID(account.ID)
			if err != nil {
				return false
			}
			return len(folders) == n+1
		},
		gen.UInt8(),
	))

	properties.Property("case_folded_duplicates_collapse_to_one_row", prop.ForAll(
		func(_ bool) bool {
			counter++
			account := createPasswordAccount(t, accountService, fmt.Sprintf("fold%d@test.com", counter))

			session := newFakeSession()
			session.addMailbox("INBOX", "/", 1)
			// Same mailbox under two spellings; the smaller name wins
			session.addMailbox("Newsletters", "/", 1)
			session.addMailbox("newsletters", "/", 1)

			result, err := folderService.Reconcile(account, session)
			if err != nil {
				return false
			}
			if result.Added != 2 {
				return false
			}

			folders, err := folderService.GetFoldersByAccountID(account.ID)
			if err != nil {
				return false
			}
			names := make(map[string]bool)
			for _, f := range folders {
				names[f.Name] = true
			}
			return len(folders) == 2 && names["Newsletters"] && !names["newsletters"]
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestFolderReconcileAddRemoveAndHierarchy(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	accountService := newTestAccountService(t, db)
	folderService := NewFolderService(db)
	account := createPasswordAccount(t, accountService, "hierarchy@test.com")

	session := newFakeSession()
	session.addMailbox("INBOX", "/", 1)
	session.addMailbox("Archive", "/", 1)

	if _, err := folderService.Reconcile(account, session); err != nil {
		t.Fatalf("initial reconcile failed: %v", err)
	}

	// Seed a message in Archive so removal can be checked to cascade
	var archive models.Folder
	if err := db.Where("account_id = ? AND name = ?", account.ID, "Archive").First(&archive).Error; err != nil {
		t.Fatalf("archive folder missing: %v", err)
	}
	msg := models.Message{
		AccountID: account.ID,
		FolderID:  archive.ID,
		MessageID: "<old@test>",
		UID:       7,
		SyncState: models.SyncStateSynced,
	}
	if err := db.Create(&msg).Error; err != nil {
		t.Fatalf("failed to seed message: %v", err)
	}

	// Server grows a hierarchy and drops Archive
	session.removeMailbox("Archive")
	session.addMailbox("Projects", "/", 1)
	session.addMailbox("Projects/2024", "/", 1)

	result, err := folderService.Reconcile(account, session)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Added != 2 || result.Removed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	var parent, child models.Folder
	if err := db.Where("account_id = ? AND name = ?", account.ID, "Projects").First(&parent).Error; err != nil {
		t.Fatalf("Projects missing: %v", err)
	}
	if err := db.Where("account_id = ? AND name = ?", account.ID, "Projects/2024").First(&child).Error; err != nil {
		t.Fatalf("Projects/2024 missing: %v", err)
	}
	if child.ParentID == nil || *child.ParentID != parent.ID {
		t.Fatalf("Projects/2024 not linked to Projects: parent_id=%v", child.ParentID)
	}
	if parent.ParentID != nil {
		t.Fatalf("top-level folder has a parent: %v", *parent.ParentID)
	}

	var count int64
	if err := db.Model(&models.Folder{}).Where("account_id = ? AND name = ?", account.ID, "Archive").Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatal("removed folder still present")
	}
	if err := db.Model(&models.Message{}).Where("folder_id = ?", archive.ID).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatal("messages of removed folder survived")
	}
}

func TestFolderReconcileClassifiesSpecialUse(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	accountService := newTestAccountService(t, db)
	folderService := NewFolderService(db)
	account := createPasswordAccount(t, accountService, "classify@test.com")

	session := newFakeSession()
	session.addMailbox("INBOX", "/", 1)
	session.addMailbox("Gesendet", "/", 1, "\\Sent")
	session.addMailbox("Trash", "/", 1)
	session.addMailbox("[Gmail]/All Mail", "/", 1, "\\Noselect")

	if _, err := folderService.Reconcile(account, session); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	want := map[string]models.FolderType{
		"INBOX":    models.FolderTypeInbox,
		"Gesendet": models.FolderTypeSent,
		"Trash":    models.FolderTypeTrash,
	}
	for name, folderType := range want {
		var folder models.Folder
		if err := db.Where("account_id = ? AND name = ?", account.ID, name).First(&folder).Error; err != nil {
			t.Fatalf("%s missing: %v", name, err)
		}
		if folder.Type != folderType {
			t.Errorf("%s classified as %s, want %s", name, folder.Type, folderType)
		}
	}

	var noselect models.Folder
	if err := db.Where("account_id = ? AND name = ?", account.ID, "[Gmail]/All Mail").First(&noselect).Error; err != nil {
		t.Fatalf("noselect folder missing: %v", err)
	}
	if noselect.IsSelectable {
		t.Error("\\Noselect folder marked selectable")
	}
}
