// Package ticket implements the archival-request lifecycle: submission
// with capture, curator confirmation, the accept/deny decision, and the
// expiry sweep. Every state transition keeps the record store and the
// artifact store paired.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/opendachs/ticketd/internal/archive"
	"github.com/opendachs/ticketd/internal/capture"
	"github.com/opendachs/ticketd/internal/credentials"
	"github.com/opendachs/ticketd/internal/format"
	"github.com/opendachs/ticketd/internal/models"
	"github.com/opendachs/ticketd/internal/notifications"
	"github.com/opendachs/ticketd/internal/repository"
)

// ErrPairingViolation is returned when the record store and the artifact
// store diverge: the artifact operation succeeded but the paired record
// deletion could not be committed. The artifact state is authoritative
// at that point and the stale record needs operator attention.
var ErrPairingViolation = errors.New("record/artifact pairing violation")

// Auditor receives a dump of every ticket after each mutation.
type Auditor interface {
	Dump(t *models.Ticket) error
}

// Manager drives tickets through the lifecycle.
type Manager struct {
	repo      repository.TicketRepository
	artifacts archive.Store
	engine    capture.Engine
	notifier  notifications.Notifier
	audit     Auditor
	logger    *log.Logger
	now       func() time.Time
	replyTo   string
	retention time.Duration
}

// NewManager wires a lifecycle manager. The reply-to address doubles as
// the fallback recipient for error notifications; retention bounds how
// long an unconfirmed ticket may sit before the sweep removes it.
func NewManager(
	repo repository.TicketRepository,
	artifacts archive.Store,
	engine capture.Engine,
	notifier notifications.Notifier,
	auditor Auditor,
	replyTo string,
	retention time.Duration,
	logger *log.Logger,
) *Manager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{
		repo:      repo,
		artifacts: artifacts,
		engine:    engine,
		notifier:  notifier,
		audit:     auditor,
		logger:    logger,
		now:       time.Now,
		replyTo:   replyTo,
		retention: retention,
	}
}

// ReplyTo returns the configured curator reply address.
func (m *Manager) ReplyTo() string {
	return m.replyTo
}

// Submit creates a ticket from a pending descriptor: generates access
// credentials, captures the source URL into the artifact spool, and
// inserts the submitted record. The capture runs before the insert so a
// failed capture leaves no record; a failed insert removes the artifact
// again to keep the stores paired.
func (m *Manager) Submit(ctx context.Context, d *models.Descriptor) (*models.Ticket, error) {
	if d.Flag != models.FlagPending {
		return nil, fmt.Errorf("submit %s: descriptor flag %q, want %q", d.Ticket, d.Flag, models.FlagPending)
	}
	username, err := credentials.GenerateUsername(credentials.DefaultUsernameLength)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", d.Ticket, err)
	}
	password, err := credentials.GeneratePassword(credentials.DefaultPasswordLength)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", d.Ticket, err)
	}
	t := &models.Ticket{
		ID: d.Ticket,
		User: models.User{
			Username: username,
			Role:     models.RoleArchivist,
			Password: password,
			Email:    d.Email,
		},
		Archive:   m.artifacts.TempPath(d.Ticket),
		Metadata:  d.Metadata,
		Flag:      models.FlagSubmitted,
		Timestamp: m.now(),
	}

	if err := m.engine.Capture(ctx, d.URL(), m.artifacts.TempPath(t.ID)); err != nil {
		return nil, fmt.Errorf("submit %s: %w", t.ID, err)
	}

	row, err := t.EncodeRow()
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", t.ID, err)
	}
	if err := m.repo.Insert(ctx, row); err != nil {
		if rmErr := m.artifacts.Remove(t.ID); rmErr != nil {
			m.logger.Printf("ticket %s: orphaned artifact after failed insert: %v", t.ID, rmErr)
		}
		return nil, fmt.Errorf("submit %s: %w", t.ID, err)
	}
	m.dump(t)
	return t, nil
}

// Confirm marks a submitted ticket as confirmed by its requester,
// refreshing the timestamp so confirmation restarts the retention clock.
func (m *Manager) Confirm(ctx context.Context, d *models.Descriptor) (*models.Ticket, error) {
	t, err := m.load(ctx, d.Ticket)
	if err != nil {
		return nil, fmt.Errorf("confirm %s: %w", d.Ticket, err)
	}
	if t.Flag != models.FlagSubmitted {
		m.logger.Printf("ticket %s: confirming from flag %q", t.ID, t.Flag)
	}
	t.Flag = models.FlagConfirmed
	t.Timestamp = m.now()
	if err := m.repo.UpdateFlag(ctx, t.ID, t.Flag, t.Timestamp); err != nil {
		return nil, fmt.Errorf("confirm %s: %w", t.ID, err)
	}
	m.dump(t)
	return t, nil
}

// Accept resolves a ticket in the requester's favor: the record leaves
// the store and the artifact moves to permanent storage. The two
// mutations are paired inside one transaction around the relocation.
func (m *Manager) Accept(ctx context.Context, d *models.Descriptor) (*models.Ticket, error) {
	return m.resolve(ctx, d.Ticket, models.FlagAccepted, m.artifacts.Relocate)
}

// Deny resolves a ticket against the requester: record and artifact are
// both removed.
func (m *Manager) Deny(ctx context.Context, d *models.Descriptor) (*models.Ticket, error) {
	return m.resolve(ctx, d.Ticket, models.FlagDenied, m.artifacts.Remove)
}

func (m *Manager) resolve(ctx context.Context, id string, flag models.Flag, artifactOp func(string) error) (*models.Ticket, error) {
	t, err := m.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", flag, id, err)
	}
	if t.Flag != models.FlagConfirmed {
		m.logger.Printf("ticket %s: resolving as %s from flag %q", t.ID, flag, t.Flag)
	}

	tx, err := m.repo.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", flag, id, err)
	}
	if err := tx.Delete(ctx, t.ID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			m.logger.Printf("ticket %s: rollback: %v", t.ID, rbErr)
		}
		return nil, fmt.Errorf("%s %s: %w", flag, id, err)
	}
	if err := artifactOp(t.ID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			m.logger.Printf("ticket %s: rollback: %v", t.ID, rbErr)
		}
		return nil, fmt.Errorf("%s %s: %w", flag, id, err)
	}
	if err := tx.Commit(); err != nil {
		// The artifact already moved; the record deletion did not land.
		return nil, fmt.Errorf("%w: ticket %s resolved as %s: %v", ErrPairingViolation, t.ID, flag, err)
	}

	t.Flag = flag
	t.Timestamp = m.now()
	if flag == models.FlagAccepted {
		// The artifact now lives in permanent storage.
		t.Archive = m.artifacts.PermanentPath(t.ID)
	}
	m.dump(t)
	return t, nil
}

// Expire removes every submitted ticket whose timestamp is older than
// the retention window. Each ticket is handled in isolation; a failure
// on one never blocks the rest of the sweep. The swept tickets are
// returned so callers can notify their requesters.
func (m *Manager) Expire(ctx context.Context) ([]*models.Ticket, error) {
	cutoff := m.now().Add(-m.retention)
	rows, err := m.repo.SelectOlderThan(ctx, cutoff, models.FlagSubmitted)
	if err != nil {
		return nil, fmt.Errorf("expire sweep: %w", err)
	}

	var expired []*models.Ticket
	for _, row := range rows {
		t, err := models.DecodeRow(row)
		if err != nil {
			m.logger.Printf("expire sweep: skipping %s: %v", row.ID, err)
			continue
		}
		if err := m.expireOne(ctx, t); err != nil {
			m.logger.Printf("expire sweep: ticket %s: %v", t.ID, err)
			continue
		}
		t.Flag = models.FlagExpired
		t.Timestamp = m.now()
		m.dump(t)
		expired = append(expired, t)
	}
	return expired, nil
}

func (m *Manager) expireOne(ctx context.Context, t *models.Ticket) error {
	tx, err := m.repo.Begin(ctx)
	if err != nil {
		return err
	}
	if err := tx.Delete(ctx, t.ID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			m.logger.Printf("ticket %s: rollback: %v", t.ID, rbErr)
		}
		return err
	}
	if err := m.artifacts.Remove(t.ID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			m.logger.Printf("ticket %s: rollback: %v", t.ID, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: ticket %s expired: %v", ErrPairingViolation, t.ID, err)
	}
	return nil
}

// Notify emails the requester about the ticket's current state. A
// delivery failure never unwinds the transition it reports, so failures
// are logged and swallowed.
func (m *Manager) Notify(ctx context.Context, t *models.Ticket) {
	subject := "Archival ticket " + t.ID
	subs := map[string]any{"ticket": t.ID}
	var att *notifications.Attachment

	switch t.Flag {
	case models.FlagSubmitted, models.FlagConfirmed:
		subs["username"] = t.User.Username
		subs["password"] = t.User.Password
		att = &notifications.Attachment{Filename: "info.txt", Body: format.Plaintext(t.Metadata)}
	case models.FlagAccepted:
		subs["reply_to"] = m.replyTo
		ris, err := format.RIS(t.Metadata)
		if err != nil {
			m.logger.Printf("ticket %s: citation attachment omitted: %v", t.ID, err)
		} else {
			att = &notifications.Attachment{Filename: "info.ris", Body: ris}
		}
	case models.FlagDenied, models.FlagExpired:
		subs["reply_to"] = m.replyTo
	default:
		m.logger.Printf("ticket %s: no notification for flag %q", t.ID, t.Flag)
		return
	}

	if err := m.notifier.Notify(ctx, t.User.Email, subject, string(t.Flag), subs, att); err != nil {
		m.logger.Printf("ticket %s: %v", t.ID, err)
	}
}

// NotifyError emails a processing-failure report. When the failing
// descriptor carried no usable address the report goes to the curator.
func (m *Manager) NotifyError(ctx context.Context, ticketID, recipient string, cause error) {
	if recipient == "" {
		recipient = m.replyTo
	}
	subs := map[string]any{
		"ticket":   ticketID,
		"reason":   cause.Error(),
		"reply_to": m.replyTo,
	}
	if err := m.notifier.Notify(ctx, recipient, "Archival ticket "+ticketID, "error", subs, nil); err != nil {
		m.logger.Printf("ticket %s: %v", ticketID, err)
	}
}

func (m *Manager) load(ctx context.Context, id string) (*models.Ticket, error) {
	row, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return models.DecodeRow(row)
}

func (m *Manager) dump(t *models.Ticket) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Dump(t); err != nil {
		m.logger.Printf("ticket %s: audit dump: %v", t.ID, err)
	}
}
