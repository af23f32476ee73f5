package chat

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// LocalStorage is the key/value store shared by every manager on a client,
// the counterpart of a browser's localStorage.
type LocalStorage interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Remove(key string) error
}

// Watcher reports keys changed by any writer of a LocalStorage. The returned
// cancel func releases the subscription and closes the channel.
type Watcher interface {
	Subscribe() (<-chan string, func(), error)
}

// MemoryStorage is an in-process LocalStorage. Managers sharing one instance
// behave like tabs of the same browser.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string][]byte
	subs   map[chan string]struct{}
}

var (
	_ LocalStorage = (*MemoryStorage)(nil)
	_ Watcher      = (*MemoryStorage)(nil)
)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		values: make(map[string][]byte),
		subs:   make(map[chan string]struct{}),
	}
}

func (s *MemoryStorage) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStorage) Set(key string, value []byte) error {
	s.mu.Lock()
	s.values[key] = append([]byte(nil), value...)
	s.mu.Unlock()
	s.notify(key)
	return nil
}

func (s *MemoryStorage) Remove(key string) error {
	s.mu.Lock()
	_, existed := s.values[key]
	delete(s.values, key)
	s.mu.Unlock()
	if existed {
		s.notify(key)
	}
	return nil
}

func (s *MemoryStorage) Subscribe() (<-chan string, func(), error) {
	ch := make(chan string, 16)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

// notify never blocks a writer; a subscriber that falls behind loses events
// and catches up on its next reload.
func (s *MemoryStorage) notify(key string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- key:
		default:
		}
	}
}

// DirStorage keeps one file per key in a directory, so separate processes
// pointed at the same directory share conversation logs.
type DirStorage struct {
	dir string
}

var (
	_ LocalStorage = (*DirStorage)(nil)
	_ Watcher      = (*DirStorage)(nil)
)

const dirStorageExt = ".json"

// NewDirStorage creates dir if needed.
func NewDirStorage(dir string) (*DirStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create storage dir %s", dir)
	}
	return &DirStorage{dir: dir}, nil
}

func (s *DirStorage) path(key string) string {
	return filepath.Join(s.dir, encodeKey(key)+dirStorageExt)
}

func (s *DirStorage) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to read %s", key)
	}
	return data, true, nil
}

// Set writes through a temp file and rename so readers never see a partial value.
func (s *DirStorage) Set(key string, value []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to write %s", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to write %s", key)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to store %s", key)
	}
	return nil
}

func (s *DirStorage) Remove(key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", key)
	}
	return nil
}

// Subscribe watches the directory with fsnotify and reports the key of every
// created, written, renamed or removed value file.
func (s *DirStorage) Subscribe() (<-chan string, func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create watcher")
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, nil, errors.Wrapf(err, "failed to watch %s", s.dir)
	}

	ch := make(chan string, 16)
	done := make(chan struct{})
	go func() {
		defer close(ch)
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Base(event.Name)
				if !strings.HasSuffix(name, dirStorageExt) || strings.HasPrefix(name, ".tmp-") {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				key, err := decodeKey(strings.TrimSuffix(name, dirStorageExt))
				if err != nil {
					continue
				}
				select {
				case ch <- key:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("chat storage watcher error", "dir", s.dir, "error", err)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			watcher.Close()
		})
	}
	return ch, cancel, nil
}

// encodeKey maps a key to a file name reversibly; the URL-safe alphabet
// never starts with a dot, so encoded names cannot clash with temp files.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKey(name string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
