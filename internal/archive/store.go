// Package archive manages capture artifacts on disk: the private spool
// location an artifact lives in while its ticket is under review, and the
// permanent storage location it moves to on acceptance.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrArtifact wraps artifact relocation and removal failures.
var ErrArtifact = errors.New("artifact store failure")

const artifactExt = ".warc.gz"

// Store places, relocates and removes capture artifacts. Relocate and
// Remove are atomic-or-reported: no partial state is observable.
type Store interface {
	TempPath(id string) string
	PermanentPath(id string) string
	Relocate(id string) error
	Remove(id string) error
}

// FSStore keeps artifacts on the local filesystem.
type FSStore struct {
	spoolDir   string
	storageDir string
}

// NewFSStore creates a filesystem artifact store. Both directories are
// created if missing.
func NewFSStore(spoolDir, storageDir string) (*FSStore, error) {
	for _, dir := range []string{spoolDir, storageDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", ErrArtifact, dir, err)
		}
	}
	return &FSStore{spoolDir: spoolDir, storageDir: storageDir}, nil
}

// TempPath returns the private spool path for a ticket's artifact.
func (s *FSStore) TempPath(id string) string {
	return filepath.Join(s.spoolDir, id+artifactExt)
}

// PermanentPath returns the permanent storage path for a ticket's artifact.
func (s *FSStore) PermanentPath(id string) string {
	return filepath.Join(s.storageDir, id+artifactExt)
}

// Relocate moves the artifact from the spool to permanent storage.
func (s *FSStore) Relocate(id string) error {
	src, dst := s.TempPath(id), s.PermanentPath(id)
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		// Spool and storage may sit on different volumes.
		if copyErr := copyFile(src, dst); copyErr == nil {
			if rmErr := os.Remove(src); rmErr != nil {
				return fmt.Errorf("%w: relocate %s: copied but spool copy remains: %v", ErrArtifact, id, rmErr)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: relocate %s: %v", ErrArtifact, id, err)
}

// Remove deletes the artifact from the spool.
func (s *FSStore) Remove(id string) error {
	if err := os.Remove(s.TempPath(id)); err != nil {
		return fmt.Errorf("%w: remove %s: %v", ErrArtifact, id, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), ".relocate-*")
	if err != nil {
		return err
	}
	defer os.Remove(out.Name())

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(out.Name(), dst)
}
