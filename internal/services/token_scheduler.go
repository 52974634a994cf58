package services

import (
	"context"
	"log"
	"time"

	"github.com/luo-one/mailsync/internal/database/models"
	"gorm.io/gorm"
)

// TokenScheduler handles automatic OAuth token refresh
type TokenScheduler struct {
	db           *gorm.DB
	oauthService *OAuthService
	interval     time.Duration
	stopChan     chan struct{}
	running      bool
}

// NewTokenScheduler creates a new token scheduler
func NewTokenScheduler(db *gorm.DB, oauthService *OAuthService, interval time.Duration) *TokenScheduler {
	return &TokenScheduler{
		db:           db,
		oauthService: oauthService,
		interval:     interval,
		stopChan:     make(chan struct{}),
	}
}

// Start begins the token refresh scheduler
func (s *TokenScheduler) Start() {
	if s.running {
		return
	}
	s.running = true
	go s.run()
	log.Printf("[TokenScheduler] Started with interval %v", s.interval)
}

// Stop stops the token refresh scheduler
func (s *TokenScheduler) Stop() {
	if !s.running {
		return
	}
	close(s.stopChan)
	s.running = false
	log.Println("[TokenScheduler] Stopped")
}

func (s *TokenScheduler) run() {
	// Run immediately on start
	s.refreshExpiringTokens()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.refreshExpiringTokens()
		case <-s.stopChan:
			return
		}
	}
}

// refreshExpiringTokens refreshes tokens that are about to expire
func (s *TokenScheduler) refreshExpiringTokens() {
	// OAuth accounts whose tokens expire within the next 10 minutes,
	// skipping accounts already waiting on the user
	var accounts []models.Account
	threshold := time.Now().Add(10 * time.Minute)

	err := s.db.Where(
		"auth_type = ? AND enabled = ? AND auth_status = ? AND oauth_token_expiry < ?",
		models.AuthTypeOAuth2, true, models.AuthStatusOK, threshold,
	).Find(&accounts).Error

	if err != nil {
		log.Printf("[TokenScheduler] Error finding accounts: %v", err)
		return
	}

	if len(accounts) == 0 {
		return
	}

	log.Printf("[TokenScheduler] Found %d accounts with expiring tokens", len(accounts))

	for i := range accounts {
		account := &accounts[i]
		log.Printf("[TokenScheduler] Refreshing token for %s (expires at %v)", account.Email, account.OAuthTokenExpiry)

		if _, err := s.oauthService.Refresh(context.Background(), account); err != nil {
			log.Printf("[TokenScheduler] Failed to refresh token for %s: %v", account.Email, err)
			if isCredentialError(err) {
				s.db.Model(account).Update("auth_status", models.AuthStatusReauthRequired)
			}
		}
	}
}
