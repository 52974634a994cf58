package services

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/luo-one/mailsync/internal/database/models"
	"github.com/luo-one/mailsync/internal/imap"
	"github.com/luo-one/mailsync/internal/vault"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	// Create a temporary database file
	tmpFile, err := os.CreateTemp("", "test_*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpFile.Close()

	// Open database
	db, err := gorm.Open(sqlite.Open(tmpFile.Name()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to open database: %v", err)
	}

	// Run migrations
	err = db.AutoMigrate(
		&models.Account{},
		&models.Folder{},
		&models.Message{},
		&models.Log{},
	)
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to migrate: %v", err)
	}

	cleanup := func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		os.Remove(tmpFile.Name())
	}

	return db, cleanup
}

func newTestAccountService(t *testing.T, db *gorm.DB) *AccountService {
	t.Helper()
	v, err := vault.NewFileVault(t.TempDir(), []byte("test-encryption-key-32-bytes!!"))
	if err != nil {
		t.Fatalf("Failed to create file vault: %v", err)
	}
	return NewAccountService(db, v)
}

func createPasswordAccount(t *testing.T, service *AccountService, email string) *models.Account {
	t.Helper()
	account, err := service.CreateAccount(CreateAccountInput{
		Email:          email,
		DisplayName:    "Test Account",
		Provider:       models.ProviderGenericIMAP,
		IMAPHost:       "imap.test.com",
		IMAPPort:       993,
		IMAPEncryption: models.EncryptionSSL,
		SMTPHost:       "smtp.test.com",
		SMTPPort:       587,
		SMTPEncryption: models.EncryptionStartTLS,
		Username:       email,
		Password:       "secret",
	})
	if err != nil {
		t.Fatalf("Failed to create test account: %v", err)
	}
	return account
}

// ===== Fake IMAP session =====

// fakeMailbox is one server-side mailbox held in memory.
type fakeMailbox struct {
	info        imap.FolderInfo
	uidValidity uint32
	messages    map[uint32]imap.MessageMeta
	// unfetchable UIDs appear in search results but yield no envelope,
	// the way a server drops a FETCH response for an expunged message
	unfetchable map[uint32]bool
}

func (m *fakeMailbox) add(uid uint32, subject string, flags ...string) {
	m.messages[uid] = imap.MessageMeta{
		UID:          uid,
		MessageID:    fmt.Sprintf("<msg-%d@test>", uid),
		Subject:      subject,
		From:         "sender@test.com",
		To:           []string{"rcpt@test.com"},
		Date:         time.Now().Add(-time.Hour),
		InternalDate: time.Now().Add(-30 * time.Minute),
		Flags:        flags,
	}
}

func (m *fakeMailbox) remove(uid uint32) {
	delete(m.messages, uid)
}

func (m *fakeMailbox) setFlags(uid uint32, flags ...string) {
	msg, ok := m.messages[uid]
	if !ok {
		return
	}
	msg.Flags = flags
	m.messages[uid] = msg
}

func (m *fakeMailbox) maxUID() uint32 {
	max := uint32(0)
	for uid := range m.messages {
		if uid > max {
			max = uid
		}
	}
	return max
}

func (m *fakeMailbox) status() imap.MailboxStatus {
	unseen := uint32(0)
	for _, msg := range m.messages {
		if !msg.HasFlag(imap.FlagSeen) {
			unseen++
		}
	}
	return imap.MailboxStatus{
		Name:        m.info.Name,
		Messages:    uint32(len(m.messages)),
		Unseen:      unseen,
		UIDNext:     m.maxUID() + 1,
		UIDValidity: m.uidValidity,
	}
}

// fakeSession implements imap.Session against in-memory mailboxes.
type fakeSession struct {
	mu        sync.Mutex
	mailboxes map[string]*fakeMailbox
	selected  *fakeMailbox

	password   string // accepted password, empty rejects all
	oauthToken string // accepted XOAUTH2 token, empty rejects all
	loginErr   error  // when set, both login methods return it as-is

	failFetchFlags error // returned once by FetchFlags, then cleared

	idleSupported bool
	updates       chan struct{}

	logins  int
	logouts int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		mailboxes: make(map[string]*fakeMailbox),
		updates:   make(chan struct{}, 8),
	}
}

func (s *fakeSession) addMailbox(name, delimiter string, uidValidity uint32, attrs ...string) *fakeMailbox {
	mbox := &fakeMailbox{
		info:        imap.FolderInfo{Name: name, Delimiter: delimiter, Attributes: attrs},
		uidValidity: uidValidity,
		messages:    make(map[uint32]imap.MessageMeta),
		unfetchable: make(map[uint32]bool),
	}
	s.mailboxes[name] = mbox
	return mbox
}

func (s *fakeSession) removeMailbox(name string) {
	delete(s.mailboxes, name)
}

func (s *fakeSession) mailbox(name string) *fakeMailbox {
	if mbox, ok := s.mailboxes[name]; ok {
		return mbox
	}
	for n, mbox := range s.mailboxes {
		if strings.EqualFold(n, name) {
			return mbox
		}
	}
	return nil
}

func (s *fakeSession) LoginPassword(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loginErr != nil {
		return s.loginErr
	}
	if s.password == "" || password != s.password {
		return errors.New("AUTHENTICATIONFAILED invalid credentials")
	}
	s.logins++
	return nil
}

func (s *fakeSession) LoginXOAuth2(username, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loginErr != nil {
		return s.loginErr
	}
	if s.oauthToken == "" || accessToken != s.oauthToken {
		return errors.New("AUTHENTICATIONFAILED invalid SASL argument")
	}
	s.logins++
	return nil
}

func (s *fakeSession) ListFolders() ([]imap.FolderInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]imap.FolderInfo, 0, len(s.mailboxes))
	for _, mbox := range s.mailboxes {
		infos = append(infos, mbox.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *fakeSession) Select(name string, readOnly bool) (imap.MailboxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mbox := s.mailbox(name)
	if mbox == nil {
		return imap.MailboxStatus{}, fmt.Errorf("no such mailbox: %s", name)
	}
	s.selected = mbox
	return mbox.status(), nil
}

func (s *fakeSession) Status(name string) (imap.MailboxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mbox := s.mailbox(name)
	if mbox == nil {
		return imap.MailboxStatus{}, fmt.Errorf("no such mailbox: %s", name)
	}
	return mbox.status(), nil
}

func (s *fakeSession) SearchUIDs(from, to uint32) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return nil, errors.New("no mailbox selected")
	}

	// Real servers answer "n:*" with the newest message even when n is
	// past the end of the mailbox.
	max := s.selected.maxUID()
	if to == 0 && from > max && max > 0 {
		return []uint32{max}, nil
	}

	hi := to
	if to == 0 {
		hi = ^uint32(0)
	}
	var uids []uint32
	for uid := range s.selected.messages {
		if uid >= from && uid <= hi {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (s *fakeSession) SearchSince(since time.Time) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return nil, errors.New("no mailbox selected")
	}
	var uids []uint32
	for uid, msg := range s.selected.messages {
		if !msg.Date.Before(since) {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (s *fakeSession) FetchEnvelopes(uids []uint32) ([]imap.MessageMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return nil, errors.New("no mailbox selected")
	}
	var metas []imap.MessageMeta
	for _, uid := range uids {
		if s.selected.unfetchable[uid] {
			continue
		}
		if msg, ok := s.selected.messages[uid]; ok {
			metas = append(metas, msg)
		}
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].UID < metas[j].UID })
	return metas, nil
}

func (s *fakeSession) FetchFlags(uids []uint32) (map[uint32][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFetchFlags != nil {
		err := s.failFetchFlags
		s.failFetchFlags = nil
		return nil, err
	}
	if s.selected == nil {
		return nil, errors.New("no mailbox selected")
	}
	flags := make(map[uint32][]string)
	for _, uid := range uids {
		if msg, ok := s.selected.messages[uid]; ok {
			flags[uid] = append([]string(nil), msg.Flags...)
		}
	}
	return flags, nil
}

func (s *fakeSession) StoreFlags(uid uint32, add bool, flags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return errors.New("no mailbox selected")
	}
	msg, ok := s.selected.messages[uid]
	if !ok {
		return fmt.Errorf("no such message: %d", uid)
	}
	if add {
		for _, flag := range flags {
			if !msg.HasFlag(flag) {
				msg.Flags = append(msg.Flags, flag)
			}
		}
	} else {
		kept := msg.Flags[:0]
		for _, have := range msg.Flags {
			drop := false
			for _, flag := range flags {
				if strings.EqualFold(have, flag) {
					drop = true
					break
				}
			}
			if !drop {
				kept = append(kept, have)
			}
		}
		msg.Flags = kept
	}
	s.selected.messages[uid] = msg
	return nil
}

func (s *fakeSession) SupportsIdle() (bool, error) {
	return s.idleSupported, nil
}

func (s *fakeSession) Idle(stop <-chan struct{}) error {
	<-stop
	return nil
}

func (s *fakeSession) Updates() <-chan struct{} {
	return s.updates
}

func (s *fakeSession) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logouts++
	return nil
}

// dialTo returns a DialFunc that always hands out the given session.
func dialTo(session *fakeSession) imap.DialFunc {
	return func(cfg imap.Config) (imap.Session, error) {
		return session, nil
	}
}
