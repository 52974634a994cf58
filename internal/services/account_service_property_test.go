package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/luo-one/mailsync/internal/database/models"
)

// For any account, executing the same enable/disable operation consecutively
// keeps the state unchanged, and querying after the switch returns the new
// status.

func TestProperty_AccountStatusToggleIdempotence(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	service := newTestAccountService(t, db)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	counter := 0

	properties.Property("double_toggle_is_idempotent", prop.ForAll(
		func(enable bool) bool {
			counter++
			account := createPasswordAccount(t, service, fmt.Sprintf("toggle%d@test.com", counter))

			first, err := service.SetAccountEnabled(account.ID, enable)
			if err != nil {
				return false
			}
			second, err := service.SetAccountEnabled(account.ID, enable)
			if err != nil {
				return false
			}
			if first.Enabled != enable || second.Enabled != enable {
				return false
			}

			reloaded, err := service.GetAccountByID(account.ID)
			if err != nil {
				return false
			}
			return reloaded.Enabled == enable
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestCreateAccountValidation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	service := newTestAccountService(t, db)

	cases := []struct {
		name  string
		input CreateAccountInput
	}{
		{"missing email", CreateAccountInput{Username: "u@test.com", Password: "p"}},
		{"missing password", CreateAccountInput{Email: "a@test.com", Username: "a@test.com"}},
		{"oauth through password path", CreateAccountInput{
			Email: "b@test.com", Username: "b@test.com", Password: "p",
			AuthType: models.AuthTypeOAuth2,
		}},
		{"bogus provider", CreateAccountInput{
			Email: "c@test.com", Username: "c@test.com", Password: "p",
			Provider: models.Provider("carrier-pigeon"),
		}},
	}
	for _, tc := range cases {
		if _, err := service.CreateAccount(tc.input); !errors.Is(err, ErrInvalidAccountData) {
			t.Errorf("%s: expected ErrInvalidAccountData, got %v", tc.name, err)
		}
	}

	account := createPasswordAccount(t, service, "dup@test.com")
	if !account.CredentialSet {
		t.Error("credential_set not recorded after create")
	}

	_, err := service.CreateAccount(CreateAccountInput{
		Email:    "dup@test.com",
		Username: "dup@test.com",
		Password: "another",
	})
	if !errors.Is(err, ErrAccountAlreadyExists) {
		t.Errorf("duplicate email accepted: %v", err)
	}
}

func TestSetActiveAccountExclusivity(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	service := newTestAccountService(t, db)

	first := createPasswordAccount(t, service, "first@test.com")
	second := createPasswordAccount(t, service, "second@test.com")

	if _, err := service.SetActiveAccount(first.ID); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if _, err := service.SetActiveAccount(second.ID); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	var count int64
	if err := db.Model(&models.Account{}).Where("is_active = ?", true).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one active account, got %d", count)
	}

	active, err := service.GetActiveAccount()
	if err != nil {
		t.Fatalf("GetActiveAccount failed: %v", err)
	}
	if active.ID != second.ID {
		t.Fatalf("wrong active account: %d", active.ID)
	}

	// Disabling the active account clears the selection
	if _, err := service.DisableAccount(second.ID); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	if _, err := service.GetActiveAccount(); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("disabled account still active: %v", err)
	}
	if _, err := service.SetActiveAccount(second.ID); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("disabled account activatable: %v", err)
	}
}

func TestDeleteAccountRemovesDataAndCredentials(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	service := newTestAccountService(t, db)
	account := createPasswordAccount(t, service, "gone@test.com")

	folder := seedFolder(t, db, account.ID, "INBOX", 1, 3)
	seedSyncedMessage(t, db, account.ID, folder.ID, 3, true)

	if err := service.DeleteAccount(account.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := service.GetAccountByID(account.ID); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("account still retrievable: %v", err)
	}
	if _, err := service.GetCredentials(account.ID); err == nil {
		t.Fatal("credentials survived account deletion")
	}

	var folders, messages int64
	db.Model(&models.Folder{}).Where("account_id = ?", account.ID).Count(&folders)
	db.Model(&models.Message{}).Where("account_id = ?", account.ID).Count(&messages)
	if folders != 0 || messages != 0 {
		t.Fatalf("orphaned rows left behind: folders=%d messages=%d", folders, messages)
	}
}

func TestMarkReauthRequiredAndClear(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	service := newTestAccountService(t, db)
	account := createPasswordAccount(t, service, "reauth@test.com")

	if err := service.MarkReauthRequired(account.ID, errors.New("LOGIN failed")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	reloaded, err := service.GetAccountByID(account.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !reloaded.NeedsReauth() {
		t.Fatal("account not in reauth_required")
	}

	if err := service.ClearAuthStatus(account.ID); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	reloaded, err = service.GetAccountByID(account.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.NeedsReauth() {
		t.Fatal("reauth flag not cleared")
	}
}
