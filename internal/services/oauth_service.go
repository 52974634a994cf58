package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/luo-one/mailsync/internal/database/models"
	"github.com/luo-one/mailsync/internal/vault"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"
)

var (
	// ErrUnknownOAuthProvider indicates the provider has no OAuth support
	ErrUnknownOAuthProvider = errors.New("unknown OAuth provider")
	// ErrInvalidOAuthState indicates the callback state is unknown or expired
	ErrInvalidOAuthState = errors.New("invalid or expired OAuth state")
	// ErrOAuthNotConfigured indicates client credentials are missing
	ErrOAuthNotConfigured = errors.New("OAuth client credentials not configured")
)

// stateTTL bounds how long a started flow stays completable.
const stateTTL = 10 * time.Minute

// providerPreset binds an OAuth endpoint to the provider's mail servers.
type providerPreset struct {
	provider    models.Provider
	endpoint    oauth2.Endpoint
	scopes      []string
	userInfoURL string
	imapHost    string
	imapPort    int
	smtpHost    string
	smtpPort    int
	smtpEnc     models.Encryption
	envPrefix   string // env vars <prefix>_CLIENT_ID / <prefix>_CLIENT_SECRET
}

var oauthPresets = map[string]providerPreset{
	"gmail": {
		provider:    models.ProviderGmail,
		endpoint:    google.Endpoint,
		scopes:      []string{"https://mail.google.com/", "https://www.googleapis.com/auth/userinfo.email"},
		userInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		imapHost:    "imap.gmail.com",
		imapPort:    993,
		smtpHost:    "smtp.gmail.com",
		smtpPort:    587,
		smtpEnc:     models.EncryptionStartTLS,
		envPrefix:   "GOOGLE",
	},
	"outlook": {
		provider: models.ProviderOutlook,
		endpoint: oauth2.Endpoint{
			AuthURL:  "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
			TokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token",
		},
		scopes: []string{
			"https://outlook.office.com/IMAP.AccessAsUser.All",
			"https://outlook.office.com/SMTP.Send",
			"offline_access",
			"openid",
			"email",
		},
		userInfoURL: "https://graph.microsoft.com/oidc/userinfo",
		imapHost:    "outlook.office365.com",
		imapPort:    993,
		smtpHost:    "smtp.office365.com",
		smtpPort:    587,
		smtpEnc:     models.EncryptionStartTLS,
		envPrefix:   "OUTLOOK",
	},
	"yahoo": {
		provider: models.ProviderYahoo,
		endpoint: oauth2.Endpoint{
			AuthURL:  "https://api.login.yahoo.com/oauth2/request_auth",
			TokenURL: "https://api.login.yahoo.com/oauth2/get_token",
		},
		scopes:      []string{"mail-w"},
		userInfoURL: "https://api.login.yahoo.com/openid/v1/userinfo",
		imapHost:    "imap.mail.yahoo.com",
		imapPort:    993,
		smtpHost:    "smtp.mail.yahoo.com",
		smtpPort:    465,
		smtpEnc:     models.EncryptionSSL,
		envPrefix:   "YAHOO",
	},
}

// pendingFlow is a started, not yet completed authorization.
type pendingFlow struct {
	providerKey string
	createdAt   time.Time
}

// OAuthService drives the authorization-code flow and token refresh.
type OAuthService struct {
	db             *gorm.DB
	accountService *AccountService
	logService     *LogService
	redirectURL    string

	mu     sync.Mutex
	states map[string]pendingFlow
}

// NewOAuthService creates a new OAuthService instance
func NewOAuthService(db *gorm.DB, accountService *AccountService, redirectURL string) *OAuthService {
	return &OAuthService{
		db:             db,
		accountService: accountService,
		logService:     NewLogService(db),
		redirectURL:    redirectURL,
		states:         make(map[string]pendingFlow),
	}
}

// oauthConfig builds the oauth2 config for a provider from the environment.
func (s *OAuthService) oauthConfig(preset providerPreset) (*oauth2.Config, error) {
	clientID := os.Getenv(preset.envPrefix + "_CLIENT_ID")
	clientSecret := os.Getenv(preset.envPrefix + "_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("%w: set %s_CLIENT_ID and %s_CLIENT_SECRET",
			ErrOAuthNotConfigured, preset.envPrefix, preset.envPrefix)
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     preset.endpoint,
		RedirectURL:  s.redirectURL,
		Scopes:       preset.scopes,
	}, nil
}

// StartFlow begins an authorization-code flow. The returned state is
// single-use and expires after ten minutes.
func (s *OAuthService) StartFlow(providerKey string) (authURL, state string, err error) {
	preset, ok := oauthPresets[strings.ToLower(providerKey)]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownOAuthProvider, providerKey)
	}

	cfg, err := s.oauthConfig(preset)
	if err != nil {
		return "", "", err
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	state = hex.EncodeToString(buf)

	s.mu.Lock()
	s.pruneStatesLocked()
	s.states[state] = pendingFlow{providerKey: strings.ToLower(providerKey), createdAt: time.Now()}
	s.mu.Unlock()

	authURL = cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
	return authURL, state, nil
}

// pruneStatesLocked drops expired states. Caller holds s.mu.
func (s *OAuthService) pruneStatesLocked() {
	for state, flow := range s.states {
		if time.Since(flow.createdAt) > stateTTL {
			delete(s.states, state)
		}
	}
}

// consumeState validates and removes a state. A state can complete at
// most one flow.
func (s *OAuthService) consumeState(state string) (pendingFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.states[state]
	if !ok {
		return pendingFlow{}, ErrInvalidOAuthState
	}
	delete(s.states, state)

	if time.Since(flow.createdAt) > stateTTL {
		return pendingFlow{}, ErrInvalidOAuthState
	}
	return flow, nil
}

// CompleteFlow exchanges the authorization code and creates or updates the
// account for the authorized mailbox. A failed exchange or an unknown
// state leaves no account behind.
func (s *OAuthService) CompleteFlow(ctx context.Context, state, code string) (*models.Account, error) {
	flow, err := s.consumeState(state)
	if err != nil {
		return nil, err
	}

	preset := oauthPresets[flow.providerKey]
	cfg, err := s.oauthConfig(preset)
	if err != nil {
		return nil, err
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, classifyOAuthError(err)
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: provider returned no refresh token", ErrCredential)
	}

	email, err := s.fetchUserEmail(ctx, cfg, token, preset.userInfoURL)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Email:          email,
		DisplayName:    email,
		Provider:       preset.provider,
		IMAPHost:       preset.imapHost,
		IMAPPort:       preset.imapPort,
		IMAPEncryption: models.EncryptionSSL,
		SMTPHost:       preset.smtpHost,
		SMTPPort:       preset.smtpPort,
		SMTPEncryption: preset.smtpEnc,
		Username:       email,
	}

	created, err := s.accountService.CreateAccountWithOAuth(account, vault.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  token.Expiry,
	})
	if err != nil {
		return nil, err
	}

	s.logService.LogAuthSuccess(created.ID, created.Email, string(created.Provider))
	return created, nil
}

// fetchUserEmail asks the provider's userinfo endpoint for the mailbox
// address the tokens belong to.
func (s *OAuthService) fetchUserEmail(ctx context.Context, cfg *oauth2.Config, token *oauth2.Token, userInfoURL string) (string, error) {
	client := cfg.Client(ctx, token)
	resp, err := client.Get(userInfoURL)
	if err != nil {
		return "", fmt.Errorf("%w: userinfo request failed: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: userinfo returned status %d", ErrProtocol, resp.StatusCode)
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("%w: decoding userinfo: %v", ErrProtocol, err)
	}
	if info.Email == "" {
		return "", fmt.Errorf("%w: userinfo contains no email", ErrProtocol)
	}
	return info.Email, nil
}

// Refresh exchanges the account's refresh token for a new access token
// and stores the result. A rejected refresh token is a credential error;
// the caller decides whether to park the account in reauth_required.
func (s *OAuthService) Refresh(ctx context.Context, account *models.Account) (string, error) {
	presetKey := providerPresetKey(account.Provider)
	preset, ok := oauthPresets[presetKey]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownOAuthProvider, account.Provider)
	}

	cfg, err := s.oauthConfig(preset)
	if err != nil {
		return "", err
	}

	creds, err := s.accountService.GetCredentials(account.ID)
	if err != nil {
		return "", err
	}
	if creds.RefreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token stored", ErrCredential)
	}

	source := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	token, err := source.Token()
	if err != nil {
		return "", classifyOAuthError(err)
	}

	if err := s.accountService.UpdateOAuthTokens(account.ID, token.AccessToken, token.RefreshToken, token.Expiry); err != nil {
		return "", err
	}
	account.OAuthTokenExpiry = token.Expiry

	s.logService.LogTokenRefreshed(account.ID, account.Email)
	return token.AccessToken, nil
}

// providerPresetKey maps an account provider back to its preset name.
func providerPresetKey(p models.Provider) string {
	switch p {
	case models.ProviderGmail:
		return "gmail"
	case models.ProviderOutlook, models.ProviderExchange:
		return "outlook"
	case models.ProviderYahoo:
		return "yahoo"
	default:
		return string(p)
	}
}

// classifyOAuthError separates rejected grants from transport failures.
func classifyOAuthError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: token endpoint error: %v", ErrNetwork, err)
		}
		return fmt.Errorf("%w: %v", ErrCredential, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}
