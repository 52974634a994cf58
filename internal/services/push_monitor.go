package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/luo-one/mailsync/internal/database/models"
	"github.com/luo-one/mailsync/internal/imap"
	"gorm.io/gorm"
)

const (
	// idleKeepAlive restarts IDLE well inside the 29 minute RFC limit
	idleKeepAlive = 5 * time.Minute
	// reconnect backoff doubles from backoffBase up to backoffMax
	backoffBase = time.Second
	backoffMax  = 60 * time.Second
)

// PushMonitor keeps a long-lived connection per account watching INBOX.
// Servers with IDLE push updates; everything else falls back to STATUS
// polling. Any observed change triggers a sync run.
type PushMonitor struct {
	db             *gorm.DB
	accountService *AccountService
	sessionManager *SessionManager
	syncEngine     *SyncEngine
	logService     *LogService
	pollInterval   time.Duration

	mu      sync.Mutex
	cancels map[uint]context.CancelFunc
}

// NewPushMonitor creates a new PushMonitor instance
func NewPushMonitor(db *gorm.DB, accountService *AccountService, sessionManager *SessionManager,
	syncEngine *SyncEngine, pollInterval time.Duration) *PushMonitor {
	return &PushMonitor{
		db:             db,
		accountService: accountService,
		sessionManager: sessionManager,
		syncEngine:     syncEngine,
		logService:     NewLogService(db),
		pollInterval:   pollInterval,
		cancels:        make(map[uint]context.CancelFunc),
	}
}

// StartAll starts monitoring every enabled account.
func (m *PushMonitor) StartAll() {
	accounts, err := m.accountService.GetEnabledAccounts()
	if err != nil {
		log.Printf("[PushMonitor] Failed to get accounts: %v", err)
		return
	}
	for _, account := range accounts {
		m.StartAccount(account.ID)
	}
}

// StartAccount begins monitoring one account. Starting an already
// monitored account is a no-op.
func (m *PushMonitor) StartAccount(accountID uint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cancels[accountID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancels[accountID] = cancel
	go m.monitorLoop(ctx, accountID)
}

// StopAccount stops monitoring one account.
func (m *PushMonitor) StopAccount(accountID uint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cancel, ok := m.cancels[accountID]; ok {
		cancel()
		delete(m.cancels, accountID)
	}
}

// StopAll stops every monitor.
func (m *PushMonitor) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, cancel := range m.cancels {
		cancel()
		delete(m.cancels, id)
	}
}

// monitorLoop connects, watches, and reconnects with exponential backoff
// until the context is cancelled.
func (m *PushMonitor) monitorLoop(ctx context.Context, accountID uint) {
	backoff := backoffBase

	for {
		if ctx.Err() != nil {
			return
		}

		account, err := m.accountService.GetAccountByID(accountID)
		if err != nil || !account.Enabled {
			return
		}
		if account.NeedsReauth() {
			// nothing to watch until the user fixes the credentials
			if !sleepCtx(ctx, backoffMax) {
				return
			}
			continue
		}

		started := time.Now()
		err = m.watchAccount(ctx, account)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if isCredentialError(err) {
				log.Printf("[PushMonitor] Account %d (%s) needs re-authentication, pausing monitor", account.ID, account.Email)
				if !sleepCtx(ctx, backoffMax) {
					return
				}
				continue
			}
			log.Printf("[PushMonitor] Account %d (%s) connection lost: %v, reconnecting in %v", account.ID, account.Email, err, backoff)
		}

		// a connection that held for a while earns a fresh backoff
		if time.Since(started) > time.Minute {
			backoff = backoffBase
		}
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// watchAccount holds one connection and blocks until it fails or the
// context is cancelled.
func (m *PushMonitor) watchAccount(ctx context.Context, account *models.Account) error {
	session, err := m.sessionManager.Connect(ctx, account)
	if err != nil {
		return err
	}
	defer session.Logout()

	// catch up on whatever arrived while the connection was down
	go m.triggerSync(account.ID)

	supportsIdle, err := session.SupportsIdle()
	if err != nil {
		return err
	}

	if supportsIdle {
		return m.idleLoop(ctx, account, session)
	}
	return m.pollLoop(ctx, account, session)
}

// idleLoop runs IDLE with periodic restarts, triggering a sync whenever
// the server reports a change.
func (m *PushMonitor) idleLoop(ctx context.Context, account *models.Account, session imap.Session) error {
	updates := session.Updates()

	if _, err := session.Select("INBOX", true); err != nil {
		return err
	}

	stopIdle := make(chan struct{})
	doneIdle := make(chan error, 1)
	go func() { doneIdle <- session.Idle(stopIdle) }()

	restart := func() {
		stopIdle = make(chan struct{})
		doneIdle = make(chan error, 1)
		go func() { doneIdle <- session.Idle(stopIdle) }()
	}

	for {
		select {
		case <-ctx.Done():
			close(stopIdle)
			<-doneIdle
			return ctx.Err()

		case err := <-doneIdle:
			if err != nil {
				return err
			}
			restart()

		case <-updates:
			close(stopIdle)
			<-doneIdle

			go m.triggerSync(account.ID)
			restart()

		case <-time.After(idleKeepAlive):
			close(stopIdle)
			<-doneIdle
			restart()
		}
	}
}

// pollLoop queries INBOX status periodically and triggers a sync when the
// message count or UIDNext moves.
func (m *PushMonitor) pollLoop(ctx context.Context, account *models.Account, session imap.Session) error {
	last, err := session.Status("INBOX")
	if err != nil {
		return err
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			status, err := session.Status("INBOX")
			if err != nil {
				return err
			}
			if status.Messages != last.Messages || status.UIDNext != last.UIDNext || status.Unseen != last.Unseen {
				go m.triggerSync(account.ID)
			}
			last = status
		}
	}
}

func (m *PushMonitor) triggerSync(accountID uint) {
	if err := m.syncEngine.TriggerSync(context.Background(), accountID); err != nil {
		log.Printf("[PushMonitor] Push-triggered sync for account %d failed: %v", accountID, err)
	}
}

// sleepCtx waits for d, returning false when ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
