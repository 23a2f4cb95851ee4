package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/yourusername/sessionbox/internal/storage"
)

const slotFilename = "data.json"

// FileSlot はキャッシュディレクトリ内の data.json にエントリを保存します。
type FileSlot struct {
	path string
}

// NewFileSlot はディレクトリを作成して FileSlot を返します。
func NewFileSlot(dir string) (*FileSlot, error) {
	if err := storage.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &FileSlot{path: filepath.Join(dir, slotFilename)}, nil
}

func (s *FileSlot) Load(ctx context.Context) (*Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read cache entry")
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, errors.Wrap(err, "failed to parse cache entry")
	}
	if entry.ID == "" {
		return nil, errors.New("cache entry has no id")
	}
	return &entry, nil
}

// Store はエントリを書き込みます。ファイルの寿命は Cache のスケジューラが管理します。
func (s *FileSlot) Store(ctx context.Context, e *Entry, ttl time.Duration) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to encode cache entry")
	}
	return storage.WriteFileAtomic(s.path, data, 0o640)
}

func (s *FileSlot) DeleteIf(ctx context.Context, entryID string) (bool, error) {
	entry, err := s.Load(ctx)
	if err != nil {
		return false, err
	}
	if entry == nil || entry.ID != entryID {
		return false, nil
	}
	if err := storage.RemoveIfExists(s.path); err != nil {
		return false, err
	}
	return true, nil
}

// Path はエントリファイルのパスを返します。
func (s *FileSlot) Path() string {
	return s.path
}
