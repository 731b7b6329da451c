// Package audit writes a JSON side file per ticket on every record
// mutation, for operator inspection only. Nothing reads these back.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opendachs/ticketd/internal/models"
)

// Dumper writes audit dumps into one directory, named by ticket id.
type Dumper struct {
	dir string
}

// NewDumper creates the dump directory if missing.
func NewDumper(dir string) (*Dumper, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory %s: %w", dir, err)
	}
	return &Dumper{dir: dir}, nil
}

// Dump writes the ticket's external form, replacing any previous dump.
func (d *Dumper) Dump(t *models.Ticket) error {
	data, err := json.MarshalIndent(t.ExternalForm(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode audit dump for %s: %w", t.ID, err)
	}
	path := filepath.Join(d.dir, t.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write audit dump %s: %w", path, err)
	}
	return nil
}
