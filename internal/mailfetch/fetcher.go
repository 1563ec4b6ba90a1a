// Package mailfetch lists candidate statement emails from an IMAP mailbox
// and marks them seen once the pipeline has fully handled them.
package mailfetch

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"github.com/kodjooo/email-payment-processor/internal/models"
	"github.com/kodjooo/email-payment-processor/internal/procerror"
)

var log = logrus.New()

// SetLogger sets a custom logger for this package.
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// Options configures the mailbox connection and candidate filter.
type Options struct {
	Server        string
	Port          int
	Username      string
	Password      string
	Mailbox       string
	UseSSL        bool
	SubjectFilter string
	FetchLimit    int
}

// conn is the subset of IMAP commands the fetcher issues. *client.Client
// satisfies it; tests substitute a fake.
type conn interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Search(criteria *imap.SearchCriteria) ([]uint32, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Store(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Logout() error
}

// Fetcher lists unread candidate emails and marks them seen. Fetching never
// sets the seen flag; that happens only through MarkSeen.
type Fetcher struct {
	opts    Options
	conn    conn
	seqByID map[string]uint32
}

// Connect dials the server and authenticates. Dial failures map to
// ConnectionError (retryable next cycle), login failures to AuthError
// (fatal, surfaced).
func Connect(opts Options) (*Fetcher, error) {
	addr := fmt.Sprintf("%s:%d", opts.Server, opts.Port)

	var c *client.Client
	var err error
	if opts.UseSSL {
		c, err = client.DialTLS(addr, nil)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, &procerror.ConnectionError{Server: addr, Err: err}
	}

	if err := c.Login(opts.Username, opts.Password); err != nil {
		_ = c.Logout()
		return nil, &procerror.AuthError{Username: opts.Username, Err: err}
	}

	log.WithField("server", addr).Info("Connected to mailbox")
	return newWithConn(opts, c), nil
}

func newWithConn(opts Options, c conn) *Fetcher {
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 10
	}
	if opts.Mailbox == "" {
		opts.Mailbox = "INBOX"
	}
	return &Fetcher{opts: opts, conn: c, seqByID: make(map[string]uint32)}
}

// FetchCandidates searches unseen messages, filters them by the configured
// subject substring and returns their decoded bodies, newest last, capped
// at the fetch limit.
func (f *Fetcher) FetchCandidates(ctx context.Context) ([]models.EmailCandidate, error) {
	if _, err := f.conn.Select(f.opts.Mailbox, false); err != nil {
		return nil, &procerror.ConnectionError{Server: f.opts.Server, Err: err}
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := f.conn.Search(criteria)
	if err != nil {
		return nil, &procerror.ConnectionError{Server: f.opts.Server, Err: err}
	}
	if len(ids) == 0 {
		log.Info("No unread messages")
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	// Peek keeps the server from flagging messages seen during fetch; the
	// seen flag is set only after the pipeline finishes a candidate.
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, len(ids))
	fetchErr := make(chan error, 1)
	go func() {
		fetchErr <- f.conn.Fetch(seqset, items, messages)
	}()

	var candidates []models.EmailCandidate
	for msg := range messages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candidate, ok := f.toCandidate(msg, section)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate)
	}
	if err := <-fetchErr; err != nil {
		return nil, &procerror.ConnectionError{Server: f.opts.Server, Err: err}
	}

	if len(candidates) > f.opts.FetchLimit {
		candidates = candidates[len(candidates)-f.opts.FetchLimit:]
	}

	log.WithFields(logrus.Fields{
		"unread":     len(ids),
		"candidates": len(candidates),
	}).Info("Fetched candidate emails")
	return candidates, nil
}

// toCandidate converts one fetched message, applying the subject filter.
func (f *Fetcher) toCandidate(msg *imap.Message, section *imap.BodySectionName) (models.EmailCandidate, bool) {
	if msg.Envelope == nil {
		return models.EmailCandidate{}, false
	}
	subject := msg.Envelope.Subject
	if f.opts.SubjectFilter != "" && !strings.Contains(subject, f.opts.SubjectFilter) {
		return models.EmailCandidate{}, false
	}

	messageID := msg.Envelope.MessageId
	if messageID == "" {
		messageID = fmt.Sprintf("seq-%d", msg.SeqNum)
	}

	body := ""
	if r := msg.GetBody(section); r != nil {
		decoded, err := extractBody(r)
		if err != nil {
			log.WithError(err).WithField("message_id", messageID).Warn("Failed to decode message body")
		}
		body = decoded
	}

	f.seqByID[messageID] = msg.SeqNum
	return models.EmailCandidate{
		MessageID:  messageID,
		SeqNum:     msg.SeqNum,
		Subject:    subject,
		ReceivedAt: msg.InternalDate,
		Body:       body,
	}, true
}

// extractBody walks the MIME structure and returns the HTML body part,
// falling back to plain text.
func extractBody(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", fmt.Errorf("error reading message: %w", err)
	}

	var plain string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return plain, fmt.Errorf("error reading message part: %w", err)
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}
		content, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch contentType {
		case "text/html":
			return string(content), nil
		case "text/plain":
			if plain == "" {
				plain = string(content)
			}
		}
	}
	return plain, nil
}

// MarkSeen sets the seen flag on a previously fetched message.
func (f *Fetcher) MarkSeen(messageID string) error {
	seqNum, ok := f.seqByID[messageID]
	if !ok {
		return fmt.Errorf("unknown message id: %s", messageID)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNum)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	if err := f.conn.Store(seqset, item, flags, nil); err != nil {
		return &procerror.ConnectionError{Server: f.opts.Server, Err: err}
	}

	log.WithField("message_id", messageID).Debug("Marked email seen")
	return nil
}

// Close logs out of the mailbox.
func (f *Fetcher) Close() error {
	return f.conn.Logout()
}
