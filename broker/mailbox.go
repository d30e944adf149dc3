package broker

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/knadh/go-pop3"
)

// MailMessage is one mailbox message reduced to the fields the intake
// filters need. Date comes from the message's Date header, not receipt time.
type MailMessage struct {
	ID        string
	Date      time.Time
	Multipart bool
	Body      string
}

// Mailbox lists and retrieves all messages in one shot. The POP3
// implementation is stateless between cycles; tests substitute a fake.
type Mailbox interface {
	Fetch() ([]MailMessage, error)
}

type popMailbox struct {
	client   *pop3.Client
	user     string
	password string
}

// NewPOPMailbox builds a POP3-over-TLS Mailbox.
func NewPOPMailbox(host string, port int, user, password string) Mailbox {
	return &popMailbox{
		client: pop3.New(pop3.Opt{
			Host:        host,
			Port:        port,
			TLSEnabled:  true,
			DialTimeout: 30 * time.Second,
		}),
		user:     user,
		password: password,
	}
}

// Fetch connects, authenticates, downloads every message, and disconnects.
// A message the server cannot fully deliver is skipped with a log line so
// the rest of the batch still comes through; connection-level failures are
// returned for the poller's backoff.
func (m *popMailbox) Fetch() ([]MailMessage, error) {
	conn, err := m.client.NewConn()
	if err != nil {
		return nil, fmt.Errorf("mailbox connect: %w", err)
	}
	defer conn.Quit()

	if err := conn.Auth(m.user, m.password); err != nil {
		return nil, fmt.Errorf("mailbox auth: %w", err)
	}
	ids, err := conn.List(0)
	if err != nil {
		return nil, fmt.Errorf("mailbox list: %w", err)
	}

	out := make([]MailMessage, 0, len(ids))
	for _, id := range ids {
		entity, err := conn.Retr(id.ID)
		if err != nil {
			log.Printf("mailbox: retrieve message %d: %v", id.ID, err)
			continue
		}
		msg, err := fromEntity(entity)
		if err != nil {
			log.Printf("mailbox: decode message %d: %v", id.ID, err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func fromEntity(e *message.Entity) (MailMessage, error) {
	h := mail.Header{Header: e.Header}
	id, err := h.MessageID()
	if err != nil || id == "" {
		return MailMessage{}, fmt.Errorf("missing Message-ID header")
	}
	date, err := h.Date()
	if err != nil {
		return MailMessage{}, fmt.Errorf("parse Date header: %w", err)
	}
	ctype, _, _ := e.Header.ContentType()
	body, err := io.ReadAll(e.Body)
	if err != nil {
		return MailMessage{}, fmt.Errorf("read body: %w", err)
	}
	return MailMessage{
		ID:        id,
		Date:      date,
		Multipart: strings.HasPrefix(ctype, "multipart/"),
		Body:      string(body),
	}, nil
}

// MailboxPoller drives the mailbox channel: every cycle it fetches all
// messages, filters them, and feeds unseen reports through the engine,
// strictly one at a time.
type MailboxPoller struct {
	mailbox    Mailbox
	engine     *Engine
	ledger     *Ledger
	models     *PrinterModels
	archiveDir string
	maxBody    int
	poll       time.Duration
	retry      time.Duration
	debug      bool
}

func NewMailboxPoller(mb Mailbox, engine *Engine, ledger *Ledger, models *PrinterModels, cfg *Config) *MailboxPoller {
	return &MailboxPoller{
		mailbox:    mb,
		engine:     engine,
		ledger:     ledger,
		models:     models,
		archiveDir: cfg.ArchiveDir,
		maxBody:    cfg.MaxBodyChars,
		poll:       cfg.PollInterval,
		retry:      cfg.RetryInterval,
		debug:      cfg.Debug,
	}
}

func (p *MailboxPoller) debugf(format string, args ...any) {
	if p == nil || !p.debug {
		return
	}
	log.Printf(format, args...)
}

// Run polls until ctx is cancelled. Fetch failures are transient: the poller
// logs, waits the shorter retry interval, and tries again indefinitely. It
// never terminates the daemon over an unreachable mail server.
func (p *MailboxPoller) Run(ctx context.Context) error {
	for {
		wait := p.poll
		if err := p.Cycle(); err != nil {
			log.Printf("mailbox: %v; mail server might be down, retrying in %s", err, p.retry)
			wait = p.retry
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Cycle performs one fetch-and-process pass.
func (p *MailboxPoller) Cycle() error {
	msgs, err := p.mailbox.Fetch()
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		p.debugf("mailbox empty, skipping the process")
		return nil
	}
	for _, m := range msgs {
		p.handle(m)
	}
	return nil
}

func (p *MailboxPoller) handle(m MailMessage) {
	if p.ledger.Seen(m.ID) {
		p.debugf("skip duplicate message %s", m.ID)
		return
	}
	// Intake filters. Rejected messages are recorded so they are not
	// re-examined every cycle; their content will never become a report.
	if m.Multipart {
		log.Printf("mailbox: message %s has an attachment, skipping", m.ID)
		p.markFiltered(m)
		return
	}
	if len(m.Body) > p.maxBody {
		log.Printf("mailbox: message %s is too long (%d chars), skipping", m.ID, len(m.Body))
		p.markFiltered(m)
		return
	}

	p.archive(m)

	r := RawReport{
		Source:     SourceMailbox,
		Identifier: m.ID,
		Timestamp:  m.Date,
		Body:       m.Body,
	}
	if err := p.engine.Process(r); err != nil {
		log.Printf("mailbox: process %s: %v", m.ID, err)
	}
}

func (p *MailboxPoller) markFiltered(m MailMessage) {
	if err := p.ledger.Mark(m.ID, time.Now()); err != nil {
		log.Printf("mailbox: mark filtered %s: %v", m.ID, err)
	}
}

// archive writes the accepted body to the archive directory under the
// historical naming convention <date-sent>-<identifier>.txt. Best effort: a
// failed archive never blocks processing.
func (p *MailboxPoller) archive(m MailMessage) {
	if p.archiveDir == "" {
		return
	}
	ident := ReportIdentifier(m.Body)
	name := m.Date.Format(ledgerTimeLayout) + "-" + ident + reportFileExt
	if err := os.MkdirAll(p.archiveDir, 0o755); err != nil {
		log.Printf("mailbox: archive dir: %v", err)
		return
	}
	if err := os.WriteFile(filepath.Join(p.archiveDir, name), []byte(m.Body), 0o644); err != nil {
		log.Printf("mailbox: archive %s: %v", name, err)
		return
	}
	p.debugf("archived %s model=%s", name, p.models.ModelFor(ident))
}
