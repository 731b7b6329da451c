package models

import (
	"encoding/json"
	"fmt"
)

// Descriptor is the inbound structured request driving one lifecycle
// operation. Every descriptor carries the ticket id, requester email and
// requested flag; pending descriptors additionally carry the source URL
// and the bibliographic fields that become the ticket metadata.
type Descriptor struct {
	Ticket   string
	Email    string
	Flag     Flag
	Metadata Metadata
}

// URL returns the source URL carried in the descriptor metadata.
func (d *Descriptor) URL() string {
	return d.Metadata.URL()
}

// ParseDescriptor decodes a descriptor file. The ticket, email and flag
// keys are required; the remaining keys are kept as metadata, matching
// the layout the intake form produces.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}
	id, _ := raw["ticket"].(string)
	if id == "" {
		return nil, fmt.Errorf("parse descriptor: missing ticket id")
	}
	email, _ := raw["email"].(string)
	if email == "" {
		return nil, fmt.Errorf("parse descriptor %s: missing email", id)
	}
	flagStr, _ := raw["flag"].(string)
	flag, err := ParseFlag(flagStr)
	if err != nil {
		return nil, fmt.Errorf("parse descriptor %s: %w", id, err)
	}
	metadata := Metadata{}
	for k, v := range raw {
		switch k {
		case "ticket", "email", "flag":
		default:
			metadata[k] = v
		}
	}
	if flag == FlagPending && metadata.URL() == "" {
		return nil, fmt.Errorf("parse descriptor %s: pending descriptor without url", id)
	}
	return &Descriptor{Ticket: id, Email: email, Flag: flag, Metadata: metadata}, nil
}
