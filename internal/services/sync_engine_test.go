package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/luo-one/mailsync/internal/events"
	"github.com/luo-one/mailsync/internal/imap"
)

func newTestEngine(t *testing.T, dial imap.DialFunc) (*SyncEngine, *AccountService, *FolderService) {
	t.Helper()
	db, cleanup := setupTestDB(t)
	t.Cleanup(cleanup)

	accountService := newTestAccountService(t, db)
	folderService := NewFolderService(db)
	messageSync := NewMessageSyncService(db, events.NewBus(), 0, 200)
	sessionManager := NewSessionManager(db, accountService, nil, dial)
	engine := NewSyncEngine(db, accountService, folderService, messageSync, sessionManager, events.NewBus(), time.Hour)
	return engine, accountService, folderService
}

func populatedFakeSession() *fakeSession {
	session := newFakeSession()
	session.password = "secret"
	inbox := session.addMailbox("INBOX", "/", 1)
	inbox.add(1, "hello")
	inbox.add(2, "world", imap.FlagSeen)
	return session
}

func TestTriggerSyncFullPass(t *testing.T) {
	session := populatedFakeSession()
	engine, accountService, folderService := newTestEngine(t, dialTo(session))
	account := createPasswordAccount(t, accountService, "engine@test.com")

	if err := engine.TriggerSync(context.Background(), account.ID); err != nil {
		t.Fatalf("TriggerSync failed: %v", err)
	}

	folders, err := folderService.GetFoldersByAccountID(account.ID)
	if err != nil {
		t.Fatalf("folder list failed: %v", err)
	}
	if len(folders) != 1 || folders[0].Name != "INBOX" {
		t.Fatalf("unexpected folders: %+v", folders)
	}
	if folders[0].TotalCount != 2 || folders[0].UnreadCount != 1 {
		t.Fatalf("counts wrong: total=%d unread=%d", folders[0].TotalCount, folders[0].UnreadCount)
	}

	reloaded, err := accountService.GetAccountByID(account.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.LastSyncAt.IsZero() {
		t.Fatal("LastSyncAt not recorded")
	}
	if reloaded.SyncError != "" {
		t.Fatalf("unexpected sync error: %s", reloaded.SyncError)
	}
	if engine.IsSyncing(account.ID) {
		t.Fatal("engine still reports a run in flight")
	}
}

func TestTriggerSyncCoalescesConcurrentRuns(t *testing.T) {
	release := make(chan struct{})
	var dials atomic.Int32
	dial := func(cfg imap.Config) (imap.Session, error) {
		dials.Add(1)
		<-release
		return populatedFakeSession(), nil
	}

	engine, accountService, _ := newTestEngine(t, dial)
	account := createPasswordAccount(t, accountService, "coalesce@test.com")

	errs := make(chan error, 2)
	go func() { errs <- engine.TriggerSync(context.Background(), account.ID) }()

	// Wait for the first run to register before joining it
	deadline := time.Now().Add(2 * time.Second)
	for !engine.IsSyncing(account.ID) {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(time.Millisecond)
	}
	go func() { errs <- engine.TriggerSync(context.Background(), account.ID) }()

	time.Sleep(10 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("caller %d got error: %v", i, err)
		}
	}
	if got := dials.Load(); got != 1 {
		t.Fatalf("expected 1 connection, got %d", got)
	}
}

func TestTriggerSyncDisabledAccount(t *testing.T) {
	engine, accountService, _ := newTestEngine(t, dialTo(populatedFakeSession()))
	account := createPasswordAccount(t, accountService, "off@test.com")
	if _, err := accountService.DisableAccount(account.ID); err != nil {
		t.Fatalf("disable failed: %v", err)
	}

	if err := engine.TriggerSync(context.Background(), account.ID); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected disabled error, got %v", err)
	}
}

func TestTriggerFolderSyncChecksOwnership(t *testing.T) {
	session := populatedFakeSession()
	engine, accountService, folderService := newTestEngine(t, dialTo(session))

	owner := createPasswordAccount(t, accountService, "owner@test.com")
	other := createPasswordAccount(t, accountService, "other@test.com")

	if err := engine.TriggerSync(context.Background(), owner.ID); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}
	folders, err := folderService.GetFoldersByAccountID(owner.ID)
	if err != nil || len(folders) == 0 {
		t.Fatalf("no folders after sync: %v", err)
	}
	folderID := folders[0].ID

	// A freshly arrived message is picked up by a folder-scoped refresh
	session.mailbox("INBOX").add(3, "breaking news")
	stats, err := engine.TriggerFolderSync(context.Background(), owner.ID, folderID)
	if err != nil {
		t.Fatalf("TriggerFolderSync failed: %v", err)
	}
	if stats.Inserted != 1 {
		t.Fatalf("expected 1 insert, got %+v", stats)
	}

	if _, err := engine.TriggerFolderSync(context.Background(), other.ID, folderID); !errors.Is(err, ErrFolderNotFound) {
		t.Fatalf("foreign folder not rejected: %v", err)
	}

	bogus := folderID + 1000
	if _, err := engine.TriggerFolderSync(context.Background(), owner.ID, bogus); !errors.Is(err, ErrFolderNotFound) {
		t.Fatalf("missing folder not rejected: %v", err)
	}
}

func TestTriggerSyncPropagatesConnectFailure(t *testing.T) {
	release := make(chan struct{})
	dial := func(cfg imap.Config) (imap.Session, error) {
		<-release
		return nil, fmt.Errorf("%w: connection torn down", ErrNetwork)
	}

	engine, accountService, _ := newTestEngine(t, dial)
	account := createPasswordAccount(t, accountService, "failing@test.com")

	errs := make(chan error, 1)
	go func() { errs <- engine.TriggerSync(context.Background(), account.ID) }()

	deadline := time.Now().Add(2 * time.Second)
	for !engine.IsSyncing(account.ID) {
		if time.Now().After(deadline) {
			t.Fatal("run never started")
		}
		time.Sleep(time.Millisecond)
	}

	close(release)

	if err := <-errs; !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected network error from torn down run, got %v", err)
	}
	if engine.IsSyncing(account.ID) {
		t.Fatal("run still registered after completion")
	}

	reloaded, err := accountService.GetAccountByID(account.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.SyncError == "" {
		t.Fatal("sync error not recorded on the account")
	}
}

func TestTriggerFolderSyncWaitsForAccountRun(t *testing.T) {
	release := make(chan struct{})
	var dials atomic.Int32
	dial := func(cfg imap.Config) (imap.Session, error) {
		if dials.Add(1) == 2 {
			<-release
		}
		return populatedFakeSession(), nil
	}

	engine, accountService, folderService := newTestEngine(t, dial)
	account := createPasswordAccount(t, accountService, "refresh@test.com")

	// An initial pass creates the folder rows
	if err := engine.TriggerSync(context.Background(), account.ID); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}
	folders, err := folderService.GetFoldersByAccountID(account.ID)
	if err != nil || len(folders) == 0 {
		t.Fatalf("no folders after sync: %v", err)
	}
	folderID := folders[0].ID

	accountErrs := make(chan error, 1)
	go func() { accountErrs <- engine.TriggerSync(context.Background(), account.ID) }()

	deadline := time.Now().Add(2 * time.Second)
	for !engine.IsSyncing(account.ID) {
		if time.Now().After(deadline) {
			t.Fatal("account run never started")
		}
		time.Sleep(time.Millisecond)
	}

	folderErrs := make(chan error, 1)
	go func() {
		_, err := engine.TriggerFolderSync(context.Background(), account.ID, folderID)
		folderErrs <- err
	}()

	// The folder refresh must not open its connection while the
	// account-wide run holds the slot
	time.Sleep(20 * time.Millisecond)
	if got := dials.Load(); got != 2 {
		t.Fatalf("folder refresh overlapped the account run: %d dials", got)
	}

	close(release)
	if err := <-accountErrs; err != nil {
		t.Fatalf("account run failed: %v", err)
	}
	if err := <-folderErrs; err != nil {
		t.Fatalf("folder refresh failed: %v", err)
	}
	if got := dials.Load(); got != 3 {
		t.Fatalf("expected the folder refresh to dial once after the run, got %d total", got)
	}
}
