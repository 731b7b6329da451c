package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedRecord is returned when a storage row cannot be decoded back
// into a ticket (wrong arity, unparsable credentials or metadata blob).
var ErrMalformedRecord = errors.New("malformed ticket record")

// Flag represents the lifecycle state of a ticket.
type Flag string

const (
	// FlagPending is a descriptor-only flag requesting ticket creation.
	// It is never persisted; pending descriptors create submitted records.
	FlagPending Flag = "pending"
	FlagSubmitted Flag = "submitted"
	FlagConfirmed Flag = "confirmed"
	FlagAccepted  Flag = "accepted"
	FlagDenied    Flag = "denied"
	// FlagExpired marks swept tickets in notifications and audit dumps only.
	FlagExpired Flag = "expired"
)

// ParseFlag maps a descriptor flag string to its Flag value.
func ParseFlag(s string) (Flag, error) {
	switch Flag(s) {
	case FlagPending, FlagSubmitted, FlagConfirmed, FlagAccepted, FlagDenied, FlagExpired:
		return Flag(s), nil
	}
	return "", fmt.Errorf("unknown flag %q", s)
}

// Active reports whether a record with this flag lives in the store.
func (f Flag) Active() bool {
	return f == FlagSubmitted || f == FlagConfirmed
}

// Terminal reports whether this flag ends the lifecycle.
func (f Flag) Terminal() bool {
	return f == FlagAccepted || f == FlagDenied || f == FlagExpired
}

// User holds the generated access credentials granted to the requester.
// Role is fixed at creation; only username and password are generated,
// the email address comes from the request.
type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

// RoleArchivist is the role every ticket user is created with.
const RoleArchivist = "archivist"

// Metadata is the open mapping of bibliographic fields supplied by the
// requester. The state machine only ever looks at the source URL; the
// remaining fields are opaque until attachment formatting.
type Metadata map[string]any

// URL returns the source URL field, if present.
func (m Metadata) URL() string {
	s, _ := m["url"].(string)
	return s
}

// Ticket is the sole persistent entity: one archival request moving
// through the lifecycle states.
type Ticket struct {
	ID        string
	User      User
	Archive   string
	Metadata  Metadata
	Flag      Flag
	Timestamp time.Time
}

// Row is the fixed-order storage row for a ticket. Credentials and
// metadata are JSON blobs; the credentials blob uses the array form
// [username, role, password, email].
type Row struct {
	ID        string
	User      string
	Archive   string
	Metadata  string
	Flag      string
	Timestamp time.Time
}

// EncodeRow encodes the ticket into its storage row.
func (t *Ticket) EncodeRow() (Row, error) {
	user, err := json.Marshal([]string{t.User.Username, t.User.Role, t.User.Password, t.User.Email})
	if err != nil {
		return Row{}, fmt.Errorf("encode credentials for ticket %s: %w", t.ID, err)
	}
	metadata := t.Metadata
	if metadata == nil {
		metadata = Metadata{}
	}
	blob, err := json.Marshal(metadata)
	if err != nil {
		return Row{}, fmt.Errorf("encode metadata for ticket %s: %w", t.ID, err)
	}
	return Row{
		ID:        t.ID,
		User:      string(user),
		Archive:   t.Archive,
		Metadata:  string(blob),
		Flag:      string(t.Flag),
		Timestamp: t.Timestamp,
	}, nil
}

// DecodeRow reconstructs a ticket from its storage row. It is the exact
// inverse of EncodeRow for every valid ticket.
func DecodeRow(row Row) (*Ticket, error) {
	var creds []string
	if err := json.Unmarshal([]byte(row.User), &creds); err != nil {
		return nil, fmt.Errorf("%w: ticket %s: credentials blob: %v", ErrMalformedRecord, row.ID, err)
	}
	if len(creds) != 4 {
		return nil, fmt.Errorf("%w: ticket %s: credentials blob has %d fields, want 4", ErrMalformedRecord, row.ID, len(creds))
	}
	metadata := Metadata{}
	if err := json.Unmarshal([]byte(row.Metadata), &metadata); err != nil {
		return nil, fmt.Errorf("%w: ticket %s: metadata blob: %v", ErrMalformedRecord, row.ID, err)
	}
	flag, err := ParseFlag(row.Flag)
	if err != nil {
		return nil, fmt.Errorf("%w: ticket %s: %v", ErrMalformedRecord, row.ID, err)
	}
	return &Ticket{
		ID:        row.ID,
		User:      User{Username: creds[0], Role: creds[1], Password: creds[2], Email: creds[3]},
		Archive:   row.Archive,
		Metadata:  metadata,
		Flag:      flag,
		Timestamp: row.Timestamp,
	}, nil
}

// ExternalForm returns the transport representation used for audit dumps.
// It is never read back by the system.
func (t *Ticket) ExternalForm() map[string]any {
	return map[string]any{
		"ticket": t.ID,
		"user": map[string]any{
			"username": t.User.Username,
			"role":     t.User.Role,
			"email":    t.User.Email,
		},
		"archive":   t.Archive,
		"metadata":  t.Metadata,
		"flag":      string(t.Flag),
		"timestamp": t.Timestamp.UTC().Format(time.RFC3339),
	}
}
