package storage

import (
	"context"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
)

// FileStore keeps one file per key inside a directory. Writes are atomic and
// durable: a reader never observes a half-written record.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir. The directory is created lazily.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+".json")
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "failed to read %s", key)
	}
	return data, nil
}

func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return errors.Wrap(err, "failed to create storage directory")
	}

	// renameio handles temp file creation, fsync, atomic rename and cleanup
	pending, err := renameio.NewPendingFile(s.path(key), renameio.WithPermissions(0600))
	if err != nil {
		return errors.Wrapf(err, "failed to create pending file for %s", key)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(value); err != nil {
		return errors.Wrapf(err, "failed to write %s", key)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return errors.Wrapf(err, "failed to replace %s", key)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete %s", key)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
