package services

import (
	"context"
	"errors"
	"io"
	"net"
)

// Error kinds shared across the sync services. Callers use errors.Is to
// decide retry policy: network errors reconnect with backoff, credential
// errors stop sync until re-authentication, protocol errors abort the
// current run, consistency errors schedule a full sync.
var (
	// ErrNetwork indicates a connection or timeout failure
	ErrNetwork = errors.New("network error")
	// ErrCredential indicates authentication was rejected by the server
	ErrCredential = errors.New("credential error")
	// ErrProtocol indicates an unexpected IMAP response
	ErrProtocol = errors.New("protocol error")
	// ErrConsistency indicates local state diverged from the server
	ErrConsistency = errors.New("consistency error")

	// ErrAccountNotFound indicates the account was not found
	ErrAccountNotFound = errors.New("account not found")
	// ErrFolderNotFound indicates the folder was not found
	ErrFolderNotFound = errors.New("folder not found")
	// ErrMessageNotFound indicates the message was not found
	ErrMessageNotFound = errors.New("message not found")
	// ErrAccountAlreadyExists indicates an account with this email already exists
	ErrAccountAlreadyExists = errors.New("account already exists")
	// ErrAccountDisabled indicates the account is disabled
	ErrAccountDisabled = errors.New("account is disabled")
	// ErrInvalidAccountData indicates invalid account data
	ErrInvalidAccountData = errors.New("invalid account data")
	// ErrReauthRequired indicates the account needs user re-authentication
	ErrReauthRequired = errors.New("re-authentication required")
)

// isCredentialError reports whether err is terminal for the current
// credentials rather than a transient failure.
func isCredentialError(err error) bool {
	return errors.Is(err, ErrCredential) || errors.Is(err, ErrReauthRequired)
}

// isNetworkError reports whether err is a transport failure worth a
// reconnect rather than a protocol or data problem.
func isNetworkError(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// isTransportFailure reports whether err looks like the connection died
// rather than the server answering NO. A login interrupted mid-command
// must not be treated as a rejected credential.
func isTransportFailure(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
