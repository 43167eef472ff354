package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const fileDebounce = 50 * time.Millisecond

// FileBackend stores one JSON file per document in a directory shared by
// every process on the host.
type FileBackend struct {
	dir string
	log logrus.FieldLogger

	mu sync.Mutex
}

type fileEnvelope struct {
	Origin string          `json:"origin"`
	Value  json.RawMessage `json:"value"`
}

func NewFileBackend(dir string, log logrus.FieldLogger) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	return &FileBackend{
		dir: dir,
		log: log,
	}, nil
}

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

func (f *FileBackend) Load(_ context.Context, key string) ([]byte, error) {
	env, err := f.read(f.path(key))
	if err != nil {
		return nil, err
	}
	return env.Value, nil
}

func (f *FileBackend) read(path string) (fileEnvelope, error) {
	var env fileEnvelope

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return env, ErrNotFound
		}
		return env, err
	}

	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return env, nil
}

func (f *FileBackend) Save(_ context.Context, key, origin string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("save %s: value is not valid JSON", key)
	}

	raw, err := json.Marshal(fileEnvelope{Origin: origin, Value: value})
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, "."+key+"-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), f.path(key))
}

func (f *FileBackend) Watch(ctx context.Context, origin string) (<-chan Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(f.dir); err != nil {
		watcher.Close()
		return nil, err
	}

	out := make(chan Change)
	go f.watchLoop(ctx, watcher, origin, out)
	return out, nil
}

func (f *FileBackend) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, origin string, out chan<- Change) {
	defer close(out)
	defer watcher.Close()

	debounce := time.NewTimer(0)
	<-debounce.C
	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
				continue
			}
			pending[event.Name] = struct{}{}
			debounce.Reset(fileDebounce)
		case <-debounce.C:
			for path := range pending {
				c, ok := f.change(path, origin)
				if !ok {
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
			pending = make(map[string]struct{})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.log.WithError(err).Warn("file watcher error")
		}
	}
}

// change builds the notification for path. Writes by origin are skipped;
// an unreadable file yields a change with no value.
func (f *FileBackend) change(path, origin string) (Change, bool) {
	key := strings.TrimSuffix(filepath.Base(path), ".json")

	env, err := f.read(path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Change{}, false
		}
		f.log.WithError(err).WithField("key", key).Warn("unreadable document")
		return Change{Key: key}, true
	}
	if env.Origin == origin {
		return Change{}, false
	}
	return Change{Key: key, Origin: env.Origin, Value: env.Value}, true
}

func (f *FileBackend) Ping(context.Context) error {
	_, err := os.Stat(f.dir)
	return err
}

func (f *FileBackend) Close() error { return nil }
