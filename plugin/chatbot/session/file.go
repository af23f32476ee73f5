package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	filePrefix = "session_"
	fileSuffix = ".json"
)

// FileRepository stores one JSON file per owner, named session_<key>.json.
type FileRepository struct {
	dir string
}

// NewFileRepository creates the directory if needed.
func NewFileRepository(dir string) (*FileRepository, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrapf(err, "failed to create session directory %s", dir)
	}
	return &FileRepository{dir: dir}, nil
}

func (f *FileRepository) path(key string) string {
	return filepath.Join(f.dir, filePrefix+key+fileSuffix)
}

func (f *FileRepository) Load(_ context.Context, key string) (*Record, error) {
	data, err := os.ReadFile(f.path(key)) // #nosec G304 - key is sanitized
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read session file")
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "failed to decode session file")
	}
	return &rec, nil
}

// Save writes through a temp file and renames it over the target so readers
// never observe a partial record.
func (f *FileRepository) Save(_ context.Context, key string, record *Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode session")
	}

	tmp, err := os.CreateTemp(f.dir, filePrefix+key+"-*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp session file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "failed to write session file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "failed to close session file")
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "failed to replace session file")
	}
	return nil
}

func (f *FileRepository) Delete(_ context.Context, key string) error {
	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove session file")
	}
	return nil
}

func (f *FileRepository) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read session directory")
	}
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
	}
	return keys, nil
}

var _ Repository = (*FileRepository)(nil)
