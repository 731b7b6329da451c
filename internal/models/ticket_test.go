package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTicket() *Ticket {
	return &Ticket{
		ID: "T-2026-0001",
		User: User{
			Username: "qf3Zk9Lm",
			Role:     RoleArchivist,
			Password: "aB3dE6fG9hJ2kL5m",
			Email:    "requester@example.org",
		},
		Archive: "spool/T-2026-0001.warc.gz",
		Metadata: Metadata{
			"url":       "http://example.org/page",
			"publisher": map[string]any{"romanization": "Example Press"},
			"title":     map[string]any{"romanization": "A Title", "script": ""},
		},
		Flag:      FlagSubmitted,
		Timestamp: time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ticket := sampleTicket()
	row, err := ticket.EncodeRow()
	require.NoError(t, err)

	got, err := DecodeRow(row)
	require.NoError(t, err)

	assert.Equal(t, ticket.ID, got.ID)
	assert.Equal(t, ticket.User, got.User)
	assert.Equal(t, ticket.Archive, got.Archive)
	assert.Equal(t, ticket.Flag, got.Flag)
	assert.True(t, ticket.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, "http://example.org/page", got.Metadata.URL())
}

func TestDecodeRowMalformed(t *testing.T) {
	base, err := sampleTicket().EncodeRow()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(r *Row)
	}{
		{"credentials not json", func(r *Row) { r.User = "{" }},
		{"credentials wrong arity", func(r *Row) { r.User = `["a","b"]` }},
		{"metadata not json", func(r *Row) { r.Metadata = "nope" }},
		{"unknown flag", func(r *Row) { r.Flag = "deleted" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := base
			tt.mutate(&row)
			_, err := DecodeRow(row)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestParseFlag(t *testing.T) {
	for _, s := range []string{"pending", "submitted", "confirmed", "accepted", "denied", "expired"} {
		flag, err := ParseFlag(s)
		require.NoError(t, err)
		assert.Equal(t, Flag(s), flag)
	}
	_, err := ParseFlag("deleted")
	assert.Error(t, err)
}

func TestFlagPredicates(t *testing.T) {
	assert.True(t, FlagSubmitted.Active())
	assert.True(t, FlagConfirmed.Active())
	assert.False(t, FlagAccepted.Active())
	assert.True(t, FlagAccepted.Terminal())
	assert.True(t, FlagExpired.Terminal())
	assert.False(t, FlagPending.Terminal())
}

func TestExternalFormTimestamp(t *testing.T) {
	form := sampleTicket().ExternalForm()
	assert.Equal(t, "2026-08-20T09:30:00Z", form["timestamp"])
	assert.Equal(t, "submitted", form["flag"])
	user := form["user"].(map[string]any)
	_, exposed := user["password"]
	assert.False(t, exposed, "audit dumps must not leak passwords")
}

func TestParseDescriptor(t *testing.T) {
	data := []byte(`{
		"ticket": "T1",
		"email": "a@b.com",
		"flag": "pending",
		"url": "http://x",
		"publisher": {"romanization": "X Press"}
	}`)
	d, err := ParseDescriptor(data)
	require.NoError(t, err)
	assert.Equal(t, "T1", d.Ticket)
	assert.Equal(t, "a@b.com", d.Email)
	assert.Equal(t, FlagPending, d.Flag)
	assert.Equal(t, "http://x", d.URL())
	_, kept := d.Metadata["email"]
	assert.False(t, kept, "email must not leak into metadata")
}

func TestParseDescriptorErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"missing ticket", `{"email":"a@b.com","flag":"pending","url":"http://x"}`},
		{"missing email", `{"ticket":"T1","flag":"pending","url":"http://x"}`},
		{"unknown flag", `{"ticket":"T1","email":"a@b.com","flag":"resolved"}`},
		{"pending without url", `{"ticket":"T1","email":"a@b.com","flag":"pending"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDescriptor([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}
