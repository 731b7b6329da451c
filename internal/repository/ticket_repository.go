// Package repository implements the durable ticket record store.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opendachs/ticketd/internal/database"
	"github.com/opendachs/ticketd/internal/models"
)

// ErrUnknownTicket is returned when no record exists for a ticket id.
var ErrUnknownTicket = errors.New("unknown ticket")

// ErrStore wraps persistence layer failures.
var ErrStore = errors.New("record store failure")

// Tx scopes one record's store mutation so it can be paired with the
// matching artifact mutation: the caller deletes inside the transaction,
// performs the artifact operation, and only then commits.
type Tx interface {
	Delete(ctx context.Context, id string) error
	Commit() error
	Rollback() error
}

// TicketRepository defines the store operations the lifecycle manager needs.
type TicketRepository interface {
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, row models.Row) error
	GetByID(ctx context.Context, id string) (models.Row, error)
	UpdateFlag(ctx context.Context, id string, flag models.Flag, timestamp time.Time) error
	SelectOlderThan(ctx context.Context, cutoff time.Time, flag models.Flag) ([]models.Row, error)
	Begin(ctx context.Context) (Tx, error)
}

// TicketSQLRepository is the database/sql implementation of TicketRepository.
type TicketSQLRepository struct {
	db     *sql.DB
	driver string
}

// NewTicketRepository creates a ticket repository on the given connection.
func NewTicketRepository(db *sql.DB, driver string) *TicketSQLRepository {
	return &TicketSQLRepository{db: db, driver: driver}
}

// EnsureSchema creates the tickets table if it does not exist.
func (r *TicketSQLRepository) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS tickets (
			ticket      VARCHAR(64) PRIMARY KEY,
			credentials TEXT NOT NULL,
			archive     TEXT NOT NULL,
			metadata    TEXT NOT NULL,
			flag        VARCHAR(16) NOT NULL,
			created_at  TIMESTAMP NOT NULL
		)`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: create tickets table: %v", ErrStore, err)
	}
	return nil
}

// Insert stores a new ticket record.
func (r *TicketSQLRepository) Insert(ctx context.Context, row models.Row) error {
	query := database.ConvertPlaceholders(`
		INSERT INTO tickets (ticket, credentials, archive, metadata, flag, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, r.driver)
	_, err := r.db.ExecContext(ctx, query, row.ID, row.User, row.Archive, row.Metadata, row.Flag, row.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: insert ticket %s: %v", ErrStore, row.ID, err)
	}
	return nil
}

// GetByID loads a ticket row by primary key.
func (r *TicketSQLRepository) GetByID(ctx context.Context, id string) (models.Row, error) {
	query := database.ConvertPlaceholders(`
		SELECT ticket, credentials, archive, metadata, flag, created_at
		FROM tickets WHERE ticket = ?`, r.driver)
	var row models.Row
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&row.ID, &row.User, &row.Archive, &row.Metadata, &row.Flag, &row.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Row{}, fmt.Errorf("%w: %s", ErrUnknownTicket, id)
	}
	if err != nil {
		return models.Row{}, fmt.Errorf("%w: select ticket %s: %v", ErrStore, id, err)
	}
	return row, nil
}

// UpdateFlag advances the stored flag and refreshes the timestamp. Only
// those two columns ever change after insertion.
func (r *TicketSQLRepository) UpdateFlag(ctx context.Context, id string, flag models.Flag, timestamp time.Time) error {
	query := database.ConvertPlaceholders(`
		UPDATE tickets SET flag = ?, created_at = ? WHERE ticket = ?`, r.driver)
	res, err := r.db.ExecContext(ctx, query, string(flag), timestamp, id)
	if err != nil {
		return fmt.Errorf("%w: update ticket %s: %v", ErrStore, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownTicket, id)
	}
	return nil
}

// SelectOlderThan returns every record with the given flag whose
// timestamp is older than the cutoff. Used by the expiry sweep.
func (r *TicketSQLRepository) SelectOlderThan(ctx context.Context, cutoff time.Time, flag models.Flag) ([]models.Row, error) {
	query := database.ConvertPlaceholders(`
		SELECT ticket, credentials, archive, metadata, flag, created_at
		FROM tickets WHERE created_at < ? AND flag = ?
		ORDER BY created_at ASC`, r.driver)
	rows, err := r.db.QueryContext(ctx, query, cutoff, string(flag))
	if err != nil {
		return nil, fmt.Errorf("%w: select expired tickets: %v", ErrStore, err)
	}
	defer rows.Close()

	var out []models.Row
	for rows.Next() {
		var row models.Row
		if err := rows.Scan(&row.ID, &row.User, &row.Archive, &row.Metadata, &row.Flag, &row.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scan expired ticket: %v", ErrStore, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate expired tickets: %v", ErrStore, err)
	}
	return out, nil
}

// Begin opens a per-record transaction.
func (r *TicketSQLRepository) Begin(ctx context.Context) (Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %v", ErrStore, err)
	}
	return &sqlTx{tx: tx, driver: r.driver}, nil
}

type sqlTx struct {
	tx     *sql.Tx
	driver string
}

func (t *sqlTx) Delete(ctx context.Context, id string) error {
	query := database.ConvertPlaceholders(`DELETE FROM tickets WHERE ticket = ?`, t.driver)
	res, err := t.tx.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%w: delete ticket %s: %v", ErrStore, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownTicket, id)
	}
	return nil
}

func (t *sqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStore, err)
	}
	return nil
}

func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: rollback: %v", ErrStore, err)
	}
	return nil
}
