package imap

import (
	"fmt"

	"github.com/emersion/go-sasl"
)

// XOAuth2Client implements the SASL XOAUTH2 mechanism
type XOAuth2Client struct {
	Username    string
	AccessToken string
}

var _ sasl.Client = (*XOAuth2Client)(nil)

// NewXOAuth2Client creates a new XOAUTH2 SASL client
func NewXOAuth2Client(username, accessToken string) *XOAuth2Client {
	return &XOAuth2Client{
		Username:    username,
		AccessToken: accessToken,
	}
}

// Start begins the XOAUTH2 authentication
func (c *XOAuth2Client) Start() (mech string, ir []byte, err error) {
	// XOAUTH2 initial response format: "user=" + user + "\x01auth=Bearer " + token + "\x01\x01"
	ir = []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", c.Username, c.AccessToken))
	return "XOAUTH2", ir, nil
}

// Next handles server challenges (XOAUTH2 doesn't have additional challenges)
func (c *XOAuth2Client) Next(challenge []byte) (response []byte, err error) {
	return nil, nil
}
