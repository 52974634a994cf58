package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luo-one/mailsync/internal/database/models"
	"github.com/luo-one/mailsync/internal/imap"
	"gorm.io/gorm"
)

// tokenExpiryMargin is how close to expiry an access token may get before
// it is refreshed ahead of use.
const tokenExpiryMargin = 60 * time.Second

// SessionManager opens authenticated IMAP sessions for accounts. Token
// refresh for one account is serialized so concurrent connects never race
// a refresh against each other.
type SessionManager struct {
	db             *gorm.DB
	accountService *AccountService
	oauthService   *OAuthService
	logService     *LogService
	dial           imap.DialFunc

	// refresh obtains a new access token; defaults to the OAuth service
	refresh func(ctx context.Context, account *models.Account) (string, error)

	refreshLocks sync.Map // accountID -> *sync.Mutex
}

// NewSessionManager creates a new SessionManager instance
func NewSessionManager(db *gorm.DB, accountService *AccountService, oauthService *OAuthService, dial imap.DialFunc) *SessionManager {
	if dial == nil {
		dial = imap.Dial
	}
	m := &SessionManager{
		db:             db,
		accountService: accountService,
		oauthService:   oauthService,
		logService:     NewLogService(db),
		dial:           dial,
	}
	if oauthService != nil {
		m.refresh = oauthService.Refresh
	}
	return m
}

func (m *SessionManager) refreshLock(accountID uint) *sync.Mutex {
	lock, _ := m.refreshLocks.LoadOrStore(accountID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Connect opens and authenticates a session for the account. Accounts in
// reauth_required are rejected until new credentials arrive.
func (m *SessionManager) Connect(ctx context.Context, account *models.Account) (imap.Session, error) {
	if !account.Enabled {
		return nil, ErrAccountDisabled
	}
	if account.NeedsReauth() {
		return nil, fmt.Errorf("%w: account %s", ErrReauthRequired, account.Email)
	}
	if !account.CredentialSet {
		return nil, fmt.Errorf("%w: no credentials stored", ErrCredential)
	}

	switch account.AuthType {
	case models.AuthTypeOAuth2:
		return m.connectOAuth(ctx, account)
	default:
		return m.connectPassword(account)
	}
}

func (m *SessionManager) connectPassword(account *models.Account) (imap.Session, error) {
	creds, err := m.accountService.GetCredentials(account.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredential, err)
	}

	session, err := m.dialAccount(account)
	if err != nil {
		return nil, err
	}

	if err := session.LoginPassword(account.Username, creds.Password); err != nil {
		session.Logout()
		if isTransportFailure(err) {
			return nil, fmt.Errorf("%w: login interrupted: %v", ErrNetwork, err)
		}
		// a rejected password stays rejected until the user replaces it
		m.accountService.MarkReauthRequired(account.ID, err)
		m.logService.LogAuthFailure(account.ID, account.Email, string(account.Provider), err)
		return nil, fmt.Errorf("%w: login rejected: %v", ErrCredential, err)
	}

	return session, nil
}

func (m *SessionManager) connectOAuth(ctx context.Context, account *models.Account) (imap.Session, error) {
	accessToken, err := m.accessToken(ctx, account, false)
	if err != nil {
		return nil, err
	}

	session, err := m.dialAccount(account)
	if err != nil {
		return nil, err
	}

	if err := session.LoginXOAuth2(account.Username, accessToken); err == nil {
		return session, nil
	} else {
		session.Logout()
		if isTransportFailure(err) {
			return nil, fmt.Errorf("%w: login interrupted: %v", ErrNetwork, err)
		}
		m.logService.LogAuthFailure(account.ID, account.Email, string(account.Provider), err)
	}

	// The server rejected a token we thought was valid. Refresh once and
	// retry; a second rejection means the grant itself is gone.
	accessToken, err = m.accessToken(ctx, account, true)
	if err != nil {
		return nil, err
	}

	session, err = m.dialAccount(account)
	if err != nil {
		return nil, err
	}
	if err := session.LoginXOAuth2(account.Username, accessToken); err != nil {
		session.Logout()
		if isTransportFailure(err) {
			return nil, fmt.Errorf("%w: login interrupted: %v", ErrNetwork, err)
		}
		m.accountService.MarkReauthRequired(account.ID, err)
		m.logService.LogAuthFailure(account.ID, account.Email, string(account.Provider), err)
		return nil, fmt.Errorf("%w: XOAUTH2 rejected after refresh: %v", ErrCredential, err)
	}

	return session, nil
}

// accessToken returns a usable access token, refreshing when forced or
// when the stored token is inside the expiry margin. A rejected refresh
// parks the account in reauth_required.
func (m *SessionManager) accessToken(ctx context.Context, account *models.Account, force bool) (string, error) {
	lock := m.refreshLock(account.ID)
	lock.Lock()
	defer lock.Unlock()

	creds, err := m.accountService.GetCredentials(account.ID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredential, err)
	}

	fresh := creds.AccessToken != "" && time.Until(creds.TokenExpiry) > tokenExpiryMargin
	if fresh && !force {
		return creds.AccessToken, nil
	}

	if m.refresh == nil {
		return "", fmt.Errorf("%w: no token refresh configured", ErrCredential)
	}
	token, err := m.refresh(ctx, account)
	if err != nil {
		if isCredentialError(err) {
			m.accountService.MarkReauthRequired(account.ID, err)
		}
		return "", err
	}
	return token, nil
}

func (m *SessionManager) dialAccount(account *models.Account) (imap.Session, error) {
	session, err := m.dial(imap.Config{
		Host:       account.IMAPHost,
		Port:       account.IMAPPort,
		Encryption: string(account.IMAPEncryption),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrNetwork, account.IMAPHost, err)
	}
	return session, nil
}
