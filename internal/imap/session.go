package imap

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	id "github.com/emersion/go-imap-id"
	_ "github.com/emersion/go-message/charset"
)

const (
	dialTimeout    = 10 * time.Second
	commandTimeout = 5 * time.Minute
	fetchBatchSize = 50
)

// Config describes how to reach an IMAP server.
type Config struct {
	Host       string
	Port       int
	Encryption string // "ssl", "starttls", "none"
}

// session wraps an emersion client behind the Session interface.
type session struct {
	c       *client.Client
	updates chan struct{}
}

// Dial connects to an IMAP server and sends the ID command when supported.
// The returned session is not yet authenticated.
func Dial(cfg Config) (Session, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dialer := &net.Dialer{Timeout: dialTimeout}

	var c *client.Client
	switch cfg.Encryption {
	case "ssl", "":
		tlsConfig := &tls.Config{ServerName: cfg.Host}
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if err != nil {
			return nil, err
		}
		c, err = client.New(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
	case "starttls":
		var err error
		c, err = client.DialWithDialer(dialer, addr)
		if err != nil {
			return nil, err
		}
		if err := c.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
			c.Logout()
			return nil, err
		}
	case "none":
		var err error
		c, err = client.DialWithDialer(dialer, addr)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown encryption mode %q", cfg.Encryption)
	}

	// Full sync of a large mailbox takes a while
	c.Timeout = commandTimeout

	// Some servers (188.com, 163.com) require client identification before login
	if ok, _ := c.Support("ID"); ok {
		idClient := id.NewClient(c)
		_, _ = idClient.ID(id.ID{
			id.FieldName:    "mailsync",
			id.FieldVersion: "1.0.0",
		})
	}

	return &session{c: c}, nil
}

func (s *session) LoginPassword(username, password string) error {
	return s.c.Login(username, password)
}

func (s *session) LoginXOAuth2(username, accessToken string) error {
	return s.c.Authenticate(NewXOAuth2Client(username, accessToken))
}

func (s *session) ListFolders() ([]FolderInfo, error) {
	mailboxes := make(chan *goimap.MailboxInfo, 20)
	done := make(chan error, 1)
	go func() {
		done <- s.c.List("", "*", mailboxes)
	}()

	var folders []FolderInfo
	for m := range mailboxes {
		folders = append(folders, FolderInfo{
			Name:       m.Name,
			Delimiter:  m.Delimiter,
			Attributes: m.Attributes,
		})
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return folders, nil
}

func (s *session) Select(name string, readOnly bool) (MailboxStatus, error) {
	mbox, err := s.c.Select(name, readOnly)
	if err != nil {
		return MailboxStatus{}, err
	}
	return MailboxStatus{
		Name:        mbox.Name,
		Messages:    mbox.Messages,
		Unseen:      mbox.Unseen,
		UIDNext:     mbox.UidNext,
		UIDValidity: mbox.UidValidity,
	}, nil
}

func (s *session) Status(name string) (MailboxStatus, error) {
	status, err := s.c.Status(name, []goimap.StatusItem{
		goimap.StatusMessages,
		goimap.StatusUnseen,
		goimap.StatusUidNext,
		goimap.StatusUidValidity,
	})
	if err != nil {
		return MailboxStatus{}, err
	}
	return MailboxStatus{
		Name:        status.Name,
		Messages:    status.Messages,
		Unseen:      status.Unseen,
		UIDNext:     status.UidNext,
		UIDValidity: status.UidValidity,
	}, nil
}

func (s *session) SearchUIDs(from, to uint32) ([]uint32, error) {
	seqSet := new(goimap.SeqSet)
	if to == 0 {
		seqSet.AddRange(from, 0) // 0 renders as "*"
	} else {
		seqSet.AddRange(from, to)
	}

	criteria := goimap.NewSearchCriteria()
	criteria.Uid = seqSet
	return s.c.UidSearch(criteria)
}

func (s *session) SearchSince(since time.Time) ([]uint32, error) {
	criteria := goimap.NewSearchCriteria()
	criteria.Since = time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
	return s.c.UidSearch(criteria)
}

func (s *session) FetchEnvelopes(uids []uint32) ([]MessageMeta, error) {
	var metas []MessageMeta

	for i := 0; i < len(uids); i += fetchBatchSize {
		end := i + fetchBatchSize
		if end > len(uids) {
			end = len(uids)
		}

		seqSet := new(goimap.SeqSet)
		seqSet.AddNum(uids[i:end]...)

		items := []goimap.FetchItem{
			goimap.FetchUid,
			goimap.FetchEnvelope,
			goimap.FetchInternalDate,
			goimap.FetchFlags,
			goimap.FetchBodyStructure,
		}
		messages := make(chan *goimap.Message, fetchBatchSize)
		done := make(chan error, 1)

		go func() {
			done <- s.c.UidFetch(seqSet, items, messages)
		}()

		for msg := range messages {
			if msg == nil || msg.Envelope == nil {
				continue
			}
			messageID := msg.Envelope.MessageId
			if messageID == "" {
				messageID = fmt.Sprintf("uid:%d", msg.Uid)
			}

			meta := MessageMeta{
				UID:          msg.Uid,
				MessageID:    messageID,
				Subject:      msg.Envelope.Subject,
				Date:         msg.Envelope.Date,
				InternalDate: msg.InternalDate,
				Flags:        msg.Flags,
			}
			if len(msg.Envelope.From) > 0 {
				meta.From = formatAddress(msg.Envelope.From[0])
			}
			for _, addr := range msg.Envelope.To {
				meta.To = append(meta.To, formatAddress(addr))
			}
			if msg.BodyStructure != nil {
				meta.HasAttachments = hasAttachments(msg.BodyStructure)
			}
			metas = append(metas, meta)
		}

		if err := <-done; err != nil {
			return metas, err
		}
	}

	return metas, nil
}

func (s *session) FetchFlags(uids []uint32) (map[uint32][]string, error) {
	flags := make(map[uint32][]string)

	for i := 0; i < len(uids); i += fetchBatchSize {
		end := i + fetchBatchSize
		if end > len(uids) {
			end = len(uids)
		}

		seqSet := new(goimap.SeqSet)
		seqSet.AddNum(uids[i:end]...)

		items := []goimap.FetchItem{goimap.FetchUid, goimap.FetchFlags}
		messages := make(chan *goimap.Message, fetchBatchSize)
		done := make(chan error, 1)

		go func() {
			done <- s.c.UidFetch(seqSet, items, messages)
		}()

		for msg := range messages {
			if msg == nil {
				continue
			}
			flags[msg.Uid] = msg.Flags
		}

		if err := <-done; err != nil {
			return flags, err
		}
	}

	return flags, nil
}

func (s *session) StoreFlags(uid uint32, add bool, flags []string) error {
	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uid)

	var op goimap.FlagsOp = goimap.AddFlags
	if !add {
		op = goimap.RemoveFlags
	}
	item := goimap.FormatFlagsOp(op, true)

	values := make([]interface{}, len(flags))
	for i, f := range flags {
		values[i] = f
	}
	return s.c.UidStore(seqSet, item, values, nil)
}

func (s *session) SupportsIdle() (bool, error) {
	return s.c.Support("IDLE")
}

func (s *session) Idle(stop <-chan struct{}) error {
	return s.c.Idle(stop, nil)
}

func (s *session) Updates() <-chan struct{} {
	if s.updates == nil {
		s.updates = make(chan struct{}, 1)
		raw := make(chan client.Update, 128)
		s.c.Updates = raw
		go func() {
			for range raw {
				select {
				case s.updates <- struct{}{}:
				default:
				}
			}
		}()
	}
	return s.updates
}

func (s *session) Logout() error {
	return s.c.Logout()
}

// formatAddress formats an IMAP address to a string
func formatAddress(addr *goimap.Address) string {
	if addr.PersonalName != "" {
		return fmt.Sprintf("%s <%s@%s>", addr.PersonalName, addr.MailboxName, addr.HostName)
	}
	return fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName)
}

// hasAttachments checks if a body structure has attachments
func hasAttachments(bs *goimap.BodyStructure) bool {
	if bs.Disposition == "attachment" {
		return true
	}
	for _, part := range bs.Parts {
		if hasAttachments(part) {
			return true
		}
	}
	return false
}
