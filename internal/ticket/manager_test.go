package ticket

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendachs/ticketd/internal/models"
	"github.com/opendachs/ticketd/internal/notifications"
	"github.com/opendachs/ticketd/internal/repository"
)

type fakeRepo struct {
	rows      map[string]models.Row
	insertErr error
	commitErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[string]models.Row{}}
}

func (r *fakeRepo) EnsureSchema(ctx context.Context) error { return nil }

func (r *fakeRepo) Insert(ctx context.Context, row models.Row) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.rows[row.ID] = row
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (models.Row, error) {
	row, ok := r.rows[id]
	if !ok {
		return models.Row{}, fmt.Errorf("%w: %s", repository.ErrUnknownTicket, id)
	}
	return row, nil
}

func (r *fakeRepo) UpdateFlag(ctx context.Context, id string, flag models.Flag, timestamp time.Time) error {
	row, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("%w: %s", repository.ErrUnknownTicket, id)
	}
	row.Flag = string(flag)
	row.Timestamp = timestamp
	r.rows[id] = row
	return nil
}

func (r *fakeRepo) SelectOlderThan(ctx context.Context, cutoff time.Time, flag models.Flag) ([]models.Row, error) {
	var out []models.Row
	for _, row := range r.rows {
		if row.Flag == string(flag) && row.Timestamp.Before(cutoff) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeRepo) Begin(ctx context.Context) (repository.Tx, error) {
	return &fakeTx{repo: r}, nil
}

type fakeTx struct {
	repo   *fakeRepo
	staged string
}

func (t *fakeTx) Delete(ctx context.Context, id string) error {
	if _, ok := t.repo.rows[id]; !ok {
		return fmt.Errorf("%w: %s", repository.ErrUnknownTicket, id)
	}
	t.staged = id
	return nil
}

func (t *fakeTx) Commit() error {
	if t.repo.commitErr != nil {
		return t.repo.commitErr
	}
	if t.staged != "" {
		delete(t.repo.rows, t.staged)
	}
	return nil
}

func (t *fakeTx) Rollback() error {
	t.staged = ""
	return nil
}

type fakeStore struct {
	relocated   []string
	removed     []string
	relocateErr error
	removeErr   error
}

func (s *fakeStore) TempPath(id string) string      { return "/spool/" + id + ".warc.gz" }
func (s *fakeStore) PermanentPath(id string) string { return "/storage/" + id + ".warc.gz" }

func (s *fakeStore) Relocate(id string) error {
	if s.relocateErr != nil {
		return s.relocateErr
	}
	s.relocated = append(s.relocated, id)
	return nil
}

func (s *fakeStore) Remove(id string) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	s.removed = append(s.removed, id)
	return nil
}

type fakeEngine struct {
	captured []string
	err      error
}

func (e *fakeEngine) Capture(ctx context.Context, rawURL, dest string) error {
	if e.err != nil {
		return e.err
	}
	e.captured = append(e.captured, dest)
	return nil
}

type sentMessage struct {
	recipient string
	subject   string
	template  string
	subs      map[string]any
	att       *notifications.Attachment
}

type fakeNotifier struct {
	sent []sentMessage
	err  error
}

func (n *fakeNotifier) Notify(ctx context.Context, recipient, subject, template string, subs map[string]any, att *notifications.Attachment) error {
	n.sent = append(n.sent, sentMessage{recipient, subject, template, subs, att})
	return n.err
}

type fakeAuditor struct {
	dumped []string
}

func (a *fakeAuditor) Dump(t *models.Ticket) error {
	a.dumped = append(a.dumped, t.ID+":"+string(t.Flag))
	return nil
}

type fixture struct {
	manager  *Manager
	repo     *fakeRepo
	store    *fakeStore
	engine   *fakeEngine
	notifier *fakeNotifier
	auditor  *fakeAuditor
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newFakeRepo(),
		store:    &fakeStore{},
		engine:   &fakeEngine{},
		notifier: &fakeNotifier{},
		auditor:  &fakeAuditor{},
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.manager = NewManager(f.repo, f.store, f.engine, f.notifier, f.auditor,
		"curators@example.org", 72*time.Hour, nil)
	f.manager.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) seed(t *testing.T, id string, flag models.Flag, timestamp time.Time) *models.Ticket {
	t.Helper()
	tk := &models.Ticket{
		ID:        id,
		User:      models.User{Username: "abcd1234", Role: models.RoleArchivist, Password: "s3cret", Email: "req@example.org"},
		Archive:   f.store.TempPath(id),
		Metadata:  models.Metadata{"url": "http://example.org", "title": map[string]any{"romanization": "A Title"}},
		Flag:      flag,
		Timestamp: timestamp,
	}
	row, err := tk.EncodeRow()
	require.NoError(t, err)
	f.repo.rows[id] = row
	return tk
}

func pendingDescriptor(id string) *models.Descriptor {
	return &models.Descriptor{
		Ticket:   id,
		Email:    "req@example.org",
		Flag:     models.FlagPending,
		Metadata: models.Metadata{"url": "http://example.org"},
	}
}

func TestSubmitCreatesRecordAndArtifact(t *testing.T) {
	f := newFixture(t)

	tk, err := f.manager.Submit(context.Background(), pendingDescriptor("T1"))
	require.NoError(t, err)

	assert.Equal(t, models.FlagSubmitted, tk.Flag)
	assert.Equal(t, models.RoleArchivist, tk.User.Role)
	assert.Len(t, tk.User.Username, 8)
	assert.Len(t, tk.User.Password, 16)
	// The record points at the spool while the ticket is under review.
	assert.Equal(t, "/spool/T1.warc.gz", tk.Archive)
	assert.Equal(t, f.now, tk.Timestamp)

	assert.Equal(t, []string{"/spool/T1.warc.gz"}, f.engine.captured)
	require.Contains(t, f.repo.rows, "T1")
	assert.Equal(t, "/spool/T1.warc.gz", f.repo.rows["T1"].Archive)
	assert.Equal(t, string(models.FlagSubmitted), f.repo.rows["T1"].Flag)
	assert.Equal(t, []string{"T1:submitted"}, f.auditor.dumped)
}

func TestSubmitCaptureFailureLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	f.engine.err = errors.New("connection refused")

	_, err := f.manager.Submit(context.Background(), pendingDescriptor("T1"))
	require.Error(t, err)
	assert.Empty(t, f.repo.rows)
	assert.Empty(t, f.auditor.dumped)
}

func TestSubmitInsertFailureRemovesArtifact(t *testing.T) {
	f := newFixture(t)
	f.repo.insertErr = errors.New("disk full")

	_, err := f.manager.Submit(context.Background(), pendingDescriptor("T1"))
	require.Error(t, err)
	assert.Equal(t, []string{"T1"}, f.store.removed)
	assert.Empty(t, f.auditor.dumped)
}

func TestConfirmRefreshesTimestamp(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "T1", models.FlagSubmitted, f.now.Add(-48*time.Hour))

	tk, err := f.manager.Confirm(context.Background(), &models.Descriptor{Ticket: "T1", Email: "req@example.org", Flag: models.FlagConfirmed})
	require.NoError(t, err)

	assert.Equal(t, models.FlagConfirmed, tk.Flag)
	assert.Equal(t, f.now, tk.Timestamp)
	assert.Equal(t, string(models.FlagConfirmed), f.repo.rows["T1"].Flag)
	assert.Equal(t, f.now, f.repo.rows["T1"].Timestamp)
}

func TestConfirmUnknownTicket(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Confirm(context.Background(), &models.Descriptor{Ticket: "nope", Email: "x", Flag: models.FlagConfirmed})
	assert.ErrorIs(t, err, repository.ErrUnknownTicket)
}

func TestAcceptRemovesRecordAndRelocatesArtifact(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "T1", models.FlagConfirmed, f.now.Add(-time.Hour))

	tk, err := f.manager.Accept(context.Background(), &models.Descriptor{Ticket: "T1", Email: "req@example.org", Flag: models.FlagAccepted})
	require.NoError(t, err)

	assert.Equal(t, models.FlagAccepted, tk.Flag)
	assert.Equal(t, "/storage/T1.warc.gz", tk.Archive)
	assert.NotContains(t, f.repo.rows, "T1")
	assert.Equal(t, []string{"T1"}, f.store.relocated)
	assert.Equal(t, []string{"T1:accepted"}, f.auditor.dumped)
}

func TestAcceptRelocateFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "T1", models.FlagConfirmed, f.now.Add(-time.Hour))
	f.store.relocateErr = errors.New("permission denied")

	_, err := f.manager.Accept(context.Background(), &models.Descriptor{Ticket: "T1", Email: "req@example.org", Flag: models.FlagAccepted})
	require.Error(t, err)
	assert.Contains(t, f.repo.rows, "T1")
	assert.Empty(t, f.store.relocated)
}

func TestAcceptCommitFailureIsPairingViolation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "T1", models.FlagConfirmed, f.now.Add(-time.Hour))
	f.repo.commitErr = errors.New("connection lost")

	_, err := f.manager.Accept(context.Background(), &models.Descriptor{Ticket: "T1", Email: "req@example.org", Flag: models.FlagAccepted})
	assert.ErrorIs(t, err, ErrPairingViolation)
	// The artifact moved even though the record deletion did not commit.
	assert.Equal(t, []string{"T1"}, f.store.relocated)
}

func TestDenyRemovesRecordAndArtifact(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "T1", models.FlagConfirmed, f.now.Add(-time.Hour))

	tk, err := f.manager.Deny(context.Background(), &models.Descriptor{Ticket: "T1", Email: "req@example.org", Flag: models.FlagDenied})
	require.NoError(t, err)

	assert.Equal(t, models.FlagDenied, tk.Flag)
	assert.NotContains(t, f.repo.rows, "T1")
	assert.Equal(t, []string{"T1"}, f.store.removed)
}

func TestExpireSweepsOnlyStaleSubmitted(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "old", models.FlagSubmitted, f.now.Add(-96*time.Hour))
	f.seed(t, "fresh", models.FlagSubmitted, f.now.Add(-time.Hour))
	f.seed(t, "reviewed", models.FlagConfirmed, f.now.Add(-96*time.Hour))

	expired, err := f.manager.Expire(context.Background())
	require.NoError(t, err)

	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].ID)
	assert.Equal(t, models.FlagExpired, expired[0].Flag)
	assert.NotContains(t, f.repo.rows, "old")
	assert.Contains(t, f.repo.rows, "fresh")
	assert.Contains(t, f.repo.rows, "reviewed")
	assert.Equal(t, []string{"old"}, f.store.removed)
}

func TestExpireIsolatesPerTicketFailures(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "old", models.FlagSubmitted, f.now.Add(-96*time.Hour))
	f.store.removeErr = errors.New("permission denied")

	expired, err := f.manager.Expire(context.Background())
	require.NoError(t, err)
	assert.Empty(t, expired)
	// The failed ticket stays for the next sweep.
	assert.Contains(t, f.repo.rows, "old")
}

func TestNotifySubmittedAttachesCredentialsAndMetadata(t *testing.T) {
	f := newFixture(t)
	tk := f.seed(t, "T1", models.FlagSubmitted, f.now)

	f.manager.Notify(context.Background(), tk)

	require.Len(t, f.notifier.sent, 1)
	msg := f.notifier.sent[0]
	assert.Equal(t, "req@example.org", msg.recipient)
	assert.Equal(t, "Archival ticket T1", msg.subject)
	assert.Equal(t, "submitted", msg.template)
	assert.Equal(t, "abcd1234", msg.subs["username"])
	assert.Equal(t, "s3cret", msg.subs["password"])
	require.NotNil(t, msg.att)
	assert.Equal(t, "info.txt", msg.att.Filename)
	assert.Contains(t, msg.att.Body, "Url:")
}

func TestNotifyAcceptedAttachesCitation(t *testing.T) {
	f := newFixture(t)
	tk := f.seed(t, "T1", models.FlagAccepted, f.now)
	tk.Metadata = models.Metadata{
		"resourceType":    "WEB",
		"creator":         []any{map[string]any{"romanization": "Doe, Jane"}},
		"publicationDate": "20240501",
		"subjectHeading":  []any{"history"},
		"personHeading":   []any{},
		"publisher":       "Example Press",
		"title":           map[string]any{"romanization": "A Title"},
		"url":             "http://example.org",
	}

	f.manager.Notify(context.Background(), tk)

	require.Len(t, f.notifier.sent, 1)
	msg := f.notifier.sent[0]
	assert.Equal(t, "accepted", msg.template)
	assert.Equal(t, "curators@example.org", msg.subs["reply_to"])
	require.NotNil(t, msg.att)
	assert.Equal(t, "info.ris", msg.att.Filename)
	assert.Contains(t, msg.att.Body, "TY  - ")
}

func TestNotifyDeniedHasNoAttachment(t *testing.T) {
	f := newFixture(t)
	tk := f.seed(t, "T1", models.FlagDenied, f.now)

	f.manager.Notify(context.Background(), tk)

	require.Len(t, f.notifier.sent, 1)
	assert.Nil(t, f.notifier.sent[0].att)
}

func TestNotifySwallowsDeliveryFailure(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("relay rejected")
	tk := f.seed(t, "T1", models.FlagExpired, f.now)

	f.manager.Notify(context.Background(), tk)
	require.Len(t, f.notifier.sent, 1)
}

func TestNotifyErrorFallsBackToCurators(t *testing.T) {
	f := newFixture(t)

	f.manager.NotifyError(context.Background(), "T1", "", errors.New("bad descriptor"))

	require.Len(t, f.notifier.sent, 1)
	msg := f.notifier.sent[0]
	assert.Equal(t, "curators@example.org", msg.recipient)
	assert.Equal(t, "error", msg.template)
}
