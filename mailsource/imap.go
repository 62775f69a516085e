package mailsource

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"chatmirror/chat"
	"chatmirror/models"
)

const pageSize = 100

// Source exposes one IMAP mailbox as a chat.Source: the mailbox is the
// conversation, each mail is a message, and MIME attachment parts are
// attachments fetched by UID and part index. Connections are dialed per call
// so no session state survives between operations.
type Source struct {
	cfg      models.MailSource
	password string // decrypted

	mu      sync.Mutex
	senders map[string]string // email -> display name, seen while listing
}

func New(cfg models.MailSource, password string) *Source {
	return &Source{cfg: cfg, password: password, senders: make(map[string]string)}
}

// ConversationRef is the stable reference for the mailbox conversation.
func (s *Source) ConversationRef() string {
	return fmt.Sprintf("mail/%d/%s", s.cfg.ID, s.mailbox())
}

func (s *Source) GetConversation(ctx context.Context, convRef string) (*chat.RawConversation, error) {
	name := s.cfg.Name
	if name == "" {
		name = fmt.Sprintf("%s (%s)", s.cfg.IMAPUsername, s.mailbox())
	}
	return &chat.RawConversation{
		Name:        s.ConversationRef(),
		DisplayName: name,
		SpaceType:   "SPACE",
	}, nil
}

func (s *Source) ListMessages(ctx context.Context, convRef, pageToken string) ([]chat.RawMessage, string, error) {
	c, err := s.dial(ctx)
	if err != nil {
		return nil, "", err
	}
	defer c.Logout()

	if _, err := c.Select(s.mailbox(), true); err != nil {
		return nil, "", fmt.Errorf("%w: selecting %s: %v", chat.ErrTransient, s.mailbox(), err)
	}

	uids, err := c.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, "", fmt.Errorf("%w: searching %s: %v", chat.ErrTransient, s.mailbox(), err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	offset := 0
	if pageToken != "" {
		offset, err = strconv.Atoi(pageToken)
		if err != nil || offset < 0 {
			return nil, "", fmt.Errorf("invalid page token %q", pageToken)
		}
	}
	if offset >= len(uids) {
		return nil, "", nil
	}

	end := offset + pageSize
	if end > len(uids) {
		end = len(uids)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids[offset:end]...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	var out []chat.RawMessage
	for msg := range messages {
		raw, err := s.toRawMessage(msg)
		if err != nil {
			// Malformed mail is skipped here the same way a malformed chat
			// payload is skipped by the normalizer.
			continue
		}
		out = append(out, *raw)
	}
	if err := <-done; err != nil {
		return nil, "", fmt.Errorf("%w: fetching %s: %v", chat.ErrTransient, s.mailbox(), err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreateTime.Before(out[j].CreateTime) })

	next := ""
	if end < len(uids) {
		next = strconv.Itoa(end)
	}
	return out, next, nil
}

func (s *Source) GetMessage(ctx context.Context, messageRef string) (*chat.RawMessage, error) {
	uid, err := parseMessageRef(messageRef)
	if err != nil {
		return nil, err
	}

	c, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if _, err := c.Select(s.mailbox(), true); err != nil {
		return nil, fmt.Errorf("%w: selecting %s: %v", chat.ErrTransient, s.mailbox(), err)
	}

	msg, err := s.fetchOne(c, uid)
	if err != nil {
		return nil, err
	}
	return s.toRawMessage(msg)
}

// FetchBytes resolves an "imap://<uid>/<part>" reference to the bytes of one
// attachment part.
func (s *Source) FetchBytes(ctx context.Context, ref chat.SourceRef) ([]byte, string, error) {
	uid, part, err := parseAttachmentRef(ref.DownloadURI)
	if err != nil {
		return nil, "", err
	}

	c, err := s.dial(ctx)
	if err != nil {
		return nil, "", err
	}
	defer c.Logout()

	if _, err := c.Select(s.mailbox(), true); err != nil {
		return nil, "", fmt.Errorf("%w: selecting %s: %v", chat.ErrTransient, s.mailbox(), err)
	}

	msg, err := s.fetchOne(c, uid)
	if err != nil {
		return nil, "", err
	}

	mr, err := messageReader(msg)
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading message %d: %v", chat.ErrNotFound, uid, err)
	}

	index := 0
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("%w: walking message %d: %v", chat.ErrNotFound, uid, err)
		}
		if h, ok := p.Header.(*mail.AttachmentHeader); ok {
			if index == part {
				data, err := io.ReadAll(p.Body)
				if err != nil {
					return nil, "", fmt.Errorf("%w: reading part %d: %v", chat.ErrTransient, part, err)
				}
				contentType, _, _ := h.ContentType()
				return data, contentType, nil
			}
			index++
		}
	}
	return nil, "", fmt.Errorf("%w: message %d has no attachment part %d", chat.ErrNotFound, uid, part)
}

// ResolveIdentity serves display names observed in From headers while
// listing. Senders never seen in this adapter's lifetime report not found.
func (s *Source) ResolveIdentity(ctx context.Context, senderID string) (*chat.RawIdentity, error) {
	s.mu.Lock()
	name, ok := s.senders[senderID]
	s.mu.Unlock()
	if !ok || name == "" {
		return nil, chat.ErrNotFound
	}
	return &chat.RawIdentity{DisplayName: name, Email: senderID}, nil
}

func (s *Source) mailbox() string {
	if s.cfg.IMAPMailbox != "" {
		return s.cfg.IMAPMailbox
	}
	return "INBOX"
}

func (s *Source) dial(ctx context.Context) (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.IMAPHost, s.cfg.IMAPPort)
	tlsConfig := &tls.Config{ServerName: s.cfg.IMAPHost}

	var (
		c   *client.Client
		err error
	)
	switch strings.ToUpper(s.cfg.IMAPEncryption) {
	case "SSL", "TLS":
		c, err = client.DialTLS(addr, tlsConfig)
	case "STARTTLS":
		c, err = client.Dial(addr)
		if err == nil {
			err = c.StartTLS(tlsConfig)
		}
	default:
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %v", chat.ErrTransient, addr, err)
	}

	c.Timeout = 30 * time.Second
	if err := c.Login(s.cfg.IMAPUsername, s.password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("%w: login for %s: %v", chat.ErrUnauthorized, s.cfg.IMAPUsername, err)
	}
	return c, nil
}

func (s *Source) fetchOne(c *client.Client, uid uint32) (*imap.Message, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		msg = m
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("%w: fetching uid %d: %v", chat.ErrTransient, uid, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: uid %d", chat.ErrNotFound, uid)
	}
	return msg, nil
}

// toRawMessage flattens one mail into the chat wire shape: body text becomes
// the message text and each attachment part becomes a RawAttachment with an
// imap:// download reference.
func (s *Source) toRawMessage(msg *imap.Message) (*chat.RawMessage, error) {
	if msg.Envelope == nil {
		return nil, fmt.Errorf("message %d without envelope", msg.Uid)
	}

	sender, senderName := fromAddress(msg.Envelope)
	if sender != "" {
		s.mu.Lock()
		if senderName != "" || s.senders[sender] == "" {
			s.senders[sender] = senderName
		}
		s.mu.Unlock()
	}

	raw := chat.RawMessage{
		Name:       fmt.Sprintf("mail/%d/%s/%d", s.cfg.ID, s.mailbox(), msg.Uid),
		Sender:     chat.RawSender{Name: sender, DisplayName: senderName, Type: "HUMAN"},
		CreateTime: msg.Envelope.Date,
	}

	mr, err := messageReader(msg)
	if err != nil {
		// Envelope-only message, no parsable body.
		raw.Text = msg.Envelope.Subject
		return &raw, nil
	}

	var bodyText string
	part := 0
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			if strings.Contains(contentType, "text/plain") && bodyText == "" {
				if b, err := io.ReadAll(p.Body); err == nil {
					bodyText = string(b)
				}
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			raw.Attachment = append(raw.Attachment, chat.RawAttachment{
				Name:        fmt.Sprintf("%s/parts/%d", raw.Name, part),
				Filename:    filename,
				ContentType: contentType,
				DownloadURI: fmt.Sprintf("imap://%d/%d", msg.Uid, part),
			})
			part++
		}
	}

	if bodyText == "" {
		bodyText = msg.Envelope.Subject
	}
	raw.Text = bodyText
	return &raw, nil
}

func messageReader(msg *imap.Message) (*mail.Reader, error) {
	section := imap.BodySectionName{Peek: true}
	literal, ok := msg.Body[&section]
	if !ok {
		for _, l := range msg.Body {
			literal = l
			break
		}
	}
	if literal == nil {
		return nil, fmt.Errorf("message body not found")
	}
	return mail.CreateReader(literal)
}

func fromAddress(env *imap.Envelope) (string, string) {
	if len(env.From) == 0 {
		return "", ""
	}
	addr := env.From[0]
	return fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName), addr.PersonalName
}

func parseMessageRef(ref string) (uint32, error) {
	parts := strings.Split(ref, "/")
	if len(parts) < 4 || parts[0] != "mail" {
		return 0, fmt.Errorf("invalid mail message reference %q", ref)
	}
	uid, err := strconv.ParseUint(parts[len(parts)-1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mail message reference %q", ref)
	}
	return uint32(uid), nil
}

func parseAttachmentRef(uri string) (uint32, int, error) {
	trimmed := strings.TrimPrefix(uri, "imap://")
	parts := strings.Split(trimmed, "/")
	if trimmed == uri || len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid imap attachment reference %q", uri)
	}
	uid, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid imap attachment reference %q", uri)
	}
	part, err := strconv.Atoi(parts[1])
	if err != nil || part < 0 {
		return 0, 0, fmt.Errorf("invalid imap attachment reference %q", uri)
	}
	return uint32(uid), part, nil
}
