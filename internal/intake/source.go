// Package intake delivers batches of ticket descriptor files from the
// drop location. A consumed descriptor is acknowledged (deleted at the
// source) only after the lifecycle manager has finished with it, so a
// crash mid-batch re-delivers unprocessed descriptors on the next run.
package intake

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// File is one retrieved descriptor.
type File struct {
	Name string
	Data []byte
	ack  func() error
}

// Ack acknowledges consumption of the descriptor at the source.
func (f *File) Ack() error {
	if f.ack == nil {
		return nil
	}
	return f.ack()
}

// Source yields the current intake batch.
type Source interface {
	Fetch(ctx context.Context) ([]File, error)
}

// DirSource reads descriptor files from a spool directory kept in sync
// with the remote drop location by an external transfer job.
type DirSource struct {
	dir    string
	logger *log.Logger
}

// NewDirSource creates a directory intake source.
func NewDirSource(dir string, logger *log.Logger) *DirSource {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &DirSource{dir: dir, logger: logger}
}

// Fetch lists and reads every descriptor file in the drop directory.
// An unreadable directory fails the batch; an unreadable single file is
// logged and skipped so the rest of the batch still processes.
func (s *DirSource) Fetch(ctx context.Context) ([]File, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read intake directory %s: %w", s.dir, err)
	}
	var files []File
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Printf("skipping unreadable descriptor %s: %v", path, err)
			continue
		}
		files = append(files, File{
			Name: entry.Name(),
			Data: data,
			ack:  func() error { return os.Remove(path) },
		})
	}
	return files, nil
}
