package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/luo-one/mailsync/internal/database/models"
	"github.com/luo-one/mailsync/internal/events"
	"gorm.io/gorm"
)

// SyncEngine orchestrates account sync runs. Concurrent triggers for the
// same account coalesce into the in-flight run instead of queuing or
// failing, and every caller gets that run's result.
type SyncEngine struct {
	db             *gorm.DB
	accountService *AccountService
	folderService  *FolderService
	messageSync    *MessageSyncService
	sessionManager *SessionManager
	logService     *LogService
	bus            *events.Bus

	interval time.Duration
	stopChan chan struct{}
	running  bool
	mu       sync.Mutex

	runs sync.Map // accountID -> *syncRun
}

// syncRun is one in-flight account sync. err is valid after done closes.
type syncRun struct {
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// NewSyncEngine creates a new SyncEngine instance
func NewSyncEngine(db *gorm.DB, accountService *AccountService, folderService *FolderService,
	messageSync *MessageSyncService, sessionManager *SessionManager, bus *events.Bus, interval time.Duration) *SyncEngine {
	return &SyncEngine{
		db:             db,
		accountService: accountService,
		folderService:  folderService,
		messageSync:    messageSync,
		sessionManager: sessionManager,
		logService:     NewLogService(db),
		bus:            bus,
		interval:       interval,
		stopChan:       make(chan struct{}),
	}
}

// TriggerSync runs a sync for the account, or joins the run already in
// flight. It returns when the run completes or ctx is done; a joined
// caller leaving early does not cancel the run.
func (e *SyncEngine) TriggerSync(ctx context.Context, accountID uint) error {
	run := &syncRun{done: make(chan struct{})}
	actual, loaded := e.runs.LoadOrStore(accountID, run)
	if loaded {
		existing := actual.(*syncRun)
		select {
		case <-existing.done:
			return existing.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run.cancel = cancel

	go func() {
		run.err = e.syncAccount(runCtx, accountID)
		cancel()
		e.runs.Delete(accountID)
		close(run.done)
	}()

	select {
	case <-run.done:
		return run.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelSync interrupts the account's in-flight run, if any.
func (e *SyncEngine) CancelSync(accountID uint) {
	if actual, ok := e.runs.Load(accountID); ok {
		if run := actual.(*syncRun); run.cancel != nil {
			run.cancel()
		}
	}
}

// TriggerFolderSync syncs a single folder on its own connection. Used
// for user-initiated refresh of one mailbox. It takes the account's run
// slot so it never overlaps an account-wide run; an in-flight run is
// waited out first.
func (e *SyncEngine) TriggerFolderSync(ctx context.Context, accountID, folderID uint) (FolderSyncStats, error) {
	account, err := e.accountService.GetAccountByID(accountID)
	if err != nil {
		return FolderSyncStats{}, err
	}
	if !account.Enabled {
		return FolderSyncStats{}, ErrAccountDisabled
	}

	folder, err := e.folderService.GetFolderByID(folderID)
	if err != nil {
		return FolderSyncStats{}, err
	}
	if folder.AccountID != accountID {
		return FolderSyncStats{}, ErrFolderNotFound
	}

	run := &syncRun{done: make(chan struct{})}
	for {
		actual, loaded := e.runs.LoadOrStore(accountID, run)
		if !loaded {
			break
		}
		existing := actual.(*syncRun)
		select {
		case <-existing.done:
		case <-ctx.Done():
			return FolderSyncStats{}, ctx.Err()
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run.cancel = cancel

	stats, err := e.syncOneFolder(runCtx, account, folder)

	run.err = err
	cancel()
	e.runs.Delete(accountID)
	close(run.done)
	return stats, err
}

func (e *SyncEngine) syncOneFolder(ctx context.Context, account *models.Account, folder *models.Folder) (FolderSyncStats, error) {
	session, err := e.sessionManager.Connect(ctx, account)
	if err != nil {
		return FolderSyncStats{}, err
	}
	defer session.Logout()

	if err := ctx.Err(); err != nil {
		return FolderSyncStats{}, err
	}
	return e.messageSync.SyncFolder(account, folder, session)
}

// IsSyncing reports whether the account has a run in flight.
func (e *SyncEngine) IsSyncing(accountID uint) bool {
	_, ok := e.runs.Load(accountID)
	return ok
}

// syncAccount performs one full pass: reconcile folders, then sync every
// selectable folder.
func (e *SyncEngine) syncAccount(ctx context.Context, accountID uint) error {
	account, err := e.accountService.GetAccountByID(accountID)
	if err != nil {
		return err
	}
	if !account.Enabled {
		return ErrAccountDisabled
	}

	e.logService.LogSyncStarted(accountID, false)
	if e.bus != nil {
		e.bus.Publish(events.EventSyncStarted, accountID, 0, nil)
	}

	err = e.doSync(ctx, account)

	if err != nil {
		e.accountService.RecordSyncError(accountID, err)
		e.logService.LogSyncFailed(accountID, err)
		if isCredentialError(err) && e.bus != nil {
			e.bus.Publish(events.EventAuthRequired, accountID, 0, map[string]interface{}{
				"error": err.Error(),
			})
		}
	} else {
		e.accountService.RecordSyncSuccess(accountID)
	}

	if e.bus != nil {
		payload := map[string]interface{}{"success": err == nil}
		if err != nil {
			payload["error"] = err.Error()
		}
		e.bus.Publish(events.EventSyncFinished, accountID, 0, payload)
	}
	return err
}

func (e *SyncEngine) doSync(ctx context.Context, account *models.Account) error {
	session, err := e.sessionManager.Connect(ctx, account)
	if err != nil {
		return err
	}
	defer session.Logout()

	if _, err := e.folderService.Reconcile(account, session); err != nil {
		return err
	}

	folders, err := e.folderService.GetFoldersByAccountID(account.ID)
	if err != nil {
		return err
	}

	var firstErr error
	for i := range folders {
		if err := ctx.Err(); err != nil {
			return err
		}
		folder := &folders[i]
		if !folder.IsSelectable {
			continue
		}

		if _, err := e.messageSync.SyncFolder(account, folder, session); err != nil {
			e.logService.LogError(account.ID, models.LogModuleSync, "folder", "Folder sync failed", map[string]interface{}{
				"folder": folder.Name,
				"error":  err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
			// credential and network errors kill the session, stop here
			if isCredentialError(err) || isNetworkError(err) {
				return err
			}
		}
	}
	return firstErr
}

// Start begins periodic background sync of all enabled accounts.
func (e *SyncEngine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	log.Printf("[SyncEngine] Starting with interval: %v", e.interval)

	go func() {
		// let the service finish coming up before the first pass
		select {
		case <-time.After(10 * time.Second):
			e.syncAllAccounts()
		case <-e.stopChan:
			return
		}

		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.syncAllAccounts()
			case <-e.stopChan:
				log.Println("[SyncEngine] Stopping")
				return
			}
		}
	}()
}

// Stop halts the periodic sync loop.
func (e *SyncEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	close(e.stopChan)
	e.running = false
}

// syncAllAccounts triggers a sync for every enabled account that is not
// parked in reauth_required.
func (e *SyncEngine) syncAllAccounts() {
	accounts, err := e.accountService.GetEnabledAccounts()
	if err != nil {
		log.Printf("[SyncEngine] Failed to get accounts: %v", err)
		return
	}

	var wg sync.WaitGroup
	for _, account := range accounts {
		if account.NeedsReauth() {
			continue
		}

		wg.Add(1)
		go func(id uint, email string) {
			defer wg.Done()
			if err := e.TriggerSync(context.Background(), id); err != nil {
				log.Printf("[SyncEngine] Account %d (%s) sync failed: %v", id, email, err)
			}
		}(account.ID, account.Email)
	}
	wg.Wait()
}
