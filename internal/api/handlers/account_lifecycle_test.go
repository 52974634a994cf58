package handlers

import (
	"fmt"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luo-one/mailsync/internal/database/models"
	"github.com/luo-one/mailsync/internal/events"
	"github.com/luo-one/mailsync/internal/imap"
	"github.com/luo-one/mailsync/internal/services"
	"github.com/luo-one/mailsync/internal/vault"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// idleSession is the minimal imap.Session the push monitor needs: an
// empty INBOX and an IDLE that blocks until told to stop.
type idleSession struct {
	mu      sync.Mutex
	logins  int
	logouts int
}

func (s *idleSession) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins, s.logouts
}

func (s *idleSession) LoginPassword(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins++
	return nil
}

func (s *idleSession) LoginXOAuth2(username, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins++
	return nil
}

func (s *idleSession) ListFolders() ([]imap.FolderInfo, error) {
	return []imap.FolderInfo{{Name: "INBOX", Delimiter: "/"}}, nil
}

func (s *idleSession) Select(name string, readOnly bool) (imap.MailboxStatus, error) {
	return imap.MailboxStatus{Name: name, UIDNext: 1, UIDValidity: 1}, nil
}

func (s *idleSession) Status(name string) (imap.MailboxStatus, error) {
	return imap.MailboxStatus{Name: name, UIDNext: 1, UIDValidity: 1}, nil
}

func (s *idleSession) SearchUIDs(from, to uint32) ([]uint32, error)     { return nil, nil }
func (s *idleSession) SearchSince(since time.Time) ([]uint32, error)    { return nil, nil }
func (s *idleSession) FetchEnvelopes(uids []uint32) ([]imap.MessageMeta, error) {
	return nil, nil
}
func (s *idleSession) FetchFlags(uids []uint32) (map[uint32][]string, error) {
	return map[uint32][]string{}, nil
}
func (s *idleSession) StoreFlags(uid uint32, add bool, flags []string) error { return nil }

func (s *idleSession) SupportsIdle() (bool, error) { return true, nil }

func (s *idleSession) Idle(stop <-chan struct{}) error {
	<-stop
	return nil
}

func (s *idleSession) Updates() <-chan struct{} { return nil }

func (s *idleSession) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logouts++
	return nil
}

type lifecycleFixture struct {
	handler *AccountHandler
	account *models.Account
	monitor *services.PushMonitor
	session *idleSession
	db      *gorm.DB
}

func setupLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tmpFile, err := os.CreateTemp("", "handler_test_*.db")
	if err != nil {
		t.Fatalf("temp db: %v", err)
	}
	tmpFile.Close()
	db, err := gorm.Open(sqlite.Open(tmpFile.Name()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Account{}, &models.Folder{}, &models.Message{}, &models.Log{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		os.Remove(tmpFile.Name())
	})

	v, err := vault.NewFileVault(t.TempDir(), []byte("test-encryption-key-32-bytes!!"))
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	accountService := services.NewAccountService(db, v)

	session := &idleSession{}
	dial := func(cfg imap.Config) (imap.Session, error) { return session, nil }

	folderService := services.NewFolderService(db)
	messageSync := services.NewMessageSyncService(db, events.NewBus(), 0, 200)
	sessionManager := services.NewSessionManager(db, accountService, nil, dial)
	engine := services.NewSyncEngine(db, accountService, folderService, messageSync, sessionManager, events.NewBus(), time.Hour)
	monitor := services.NewPushMonitor(db, accountService, sessionManager, engine, time.Hour)
	t.Cleanup(monitor.StopAll)

	account, err := accountService.CreateAccount(services.CreateAccountInput{
		Email:          "lifecycle@test.com",
		DisplayName:    "Lifecycle",
		Provider:       models.ProviderGenericIMAP,
		IMAPHost:       "imap.test.com",
		IMAPPort:       993,
		IMAPEncryption: models.EncryptionSSL,
		SMTPHost:       "smtp.test.com",
		SMTPPort:       587,
		SMTPEncryption: models.EncryptionStartTLS,
		Username:       "lifecycle@test.com",
		Password:       "secret",
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	handler := NewAccountHandler(accountService, services.NewLogService(db), engine, monitor)
	return &lifecycleFixture{handler: handler, account: account, monitor: monitor, session: session, db: db}
}

func accountContext(t *testing.T, accountID uint) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/", nil)
	c.Params = gin.Params{{Key: "id", Value: fmt.Sprint(accountID)}}
	return c, w
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", desc)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDisableAccountStopsPushMonitoring(t *testing.T) {
	fx := setupLifecycleFixture(t)

	fx.monitor.StartAccount(fx.account.ID)
	waitFor(t, "monitor to connect", func() bool {
		logins, _ := fx.session.counts()
		return logins >= 1
	})

	c, w := accountContext(t, fx.account.ID)
	fx.handler.DisableAccount(c)
	if w.Code != 200 {
		t.Fatalf("disable returned %d: %s", w.Code, w.Body.String())
	}

	var stored models.Account
	if err := fx.db.First(&stored, fx.account.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if stored.Enabled {
		t.Fatal("account still enabled")
	}

	// The monitor's IDLE connection winds down with the account
	waitFor(t, "idle session teardown", func() bool {
		logins, logouts := fx.session.counts()
		return logouts >= logins
	})
}

func TestEnableAccountRestartsPushMonitoring(t *testing.T) {
	fx := setupLifecycleFixture(t)

	fx.monitor.StartAccount(fx.account.ID)
	waitFor(t, "monitor to connect", func() bool {
		logins, _ := fx.session.counts()
		return logins >= 1
	})

	c, w := accountContext(t, fx.account.ID)
	fx.handler.DisableAccount(c)
	if w.Code != 200 {
		t.Fatalf("disable returned %d: %s", w.Code, w.Body.String())
	}
	waitFor(t, "idle session teardown", func() bool {
		logins, logouts := fx.session.counts()
		return logouts >= logins
	})
	before, _ := fx.session.counts()

	c, w = accountContext(t, fx.account.ID)
	fx.handler.EnableAccount(c)
	if w.Code != 200 {
		t.Fatalf("enable returned %d: %s", w.Code, w.Body.String())
	}

	waitFor(t, "monitor to reconnect", func() bool {
		logins, _ := fx.session.counts()
		return logins > before
	})
}
