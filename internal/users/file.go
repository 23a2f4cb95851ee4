package users

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/yourusername/sessionbox/internal/password"
	"github.com/yourusername/sessionbox/internal/storage"
)

const lockRetryDelay = 10 * time.Millisecond

// fileStamp はファイルが他のプロセスに書き換えられたかを判定するための情報です。
// レコードは追記のみなので、追加があれば必ずサイズが変わります。
type fileStamp struct {
	size    int64
	modTime time.Time
}

func (a fileStamp) same(b fileStamp) bool {
	return a.size == b.size && a.modTime.Equal(b.modTime)
}

// FileStore はユーザー一覧を1つの JSON ファイルに保存します。
// 同じファイルを開いた複数の FileStore（別プロセスを含む）は、
// <path>.lock のファイルロックで書き込みを直列化します。
type FileStore struct {
	path   string
	hasher Hasher
	lock   *flock.Flock

	mu      sync.RWMutex
	records []Record
	index   map[string]int
	stamp   fileStamp
}

// OpenFileStore はファイルを読み込んで FileStore を作成します。
// ファイルが存在しない場合は空の一覧で作成します。
func OpenFileStore(path string, hasher Hasher) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("users file path is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is nil")
	}
	if err := storage.EnsureFile(path, []byte("[]")); err != nil {
		return nil, err
	}

	s := &FileStore{
		path:   path,
		hasher: hasher,
		lock:   flock.New(path + ".lock"),
	}
	if err := s.reloadLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// Register はユーザーを追加します。
// ハッシュ計算はロック外で行い、ファイルロックを取ってから最新の内容を読み直して重複を確認します。
func (s *FileStore) Register(ctx context.Context, username, plain string) error {
	if username == "" || plain == "" {
		return ErrInvalidInput
	}
	if err := s.refresh(); err != nil {
		return err
	}
	if s.exists(username) {
		return ErrAlreadyExists
	}

	hashed, err := s.hasher.Hash(ctx, plain)
	if err != nil {
		if errors.Is(err, password.ErrUnhashable) {
			return errors.Wrap(ErrInvalidInput, err.Error())
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return errors.Wrapf(err, "failed to lock %s", s.path)
	}
	if !locked {
		return errors.Errorf("failed to lock %s", s.path)
	}
	defer func() { _ = s.lock.Unlock() }()

	if err := s.reloadLocked(); err != nil {
		return err
	}
	if _, ok := s.index[username]; ok {
		return ErrAlreadyExists
	}

	s.records = append(s.records, Record{Username: username, PasswordHash: hashed})
	if err := s.flushLocked(); err != nil {
		s.records = s.records[:len(s.records)-1]
		return err
	}
	s.index[username] = len(s.records) - 1
	if stamp, err := statFile(s.path); err == nil {
		s.stamp = stamp
	}
	return nil
}

// FindByUsername はユーザーを検索します。存在しない場合は nil を返します。
// ファイルが他から更新されていれば読み直してから検索します。
func (s *FileStore) FindByUsername(ctx context.Context, username string) (*Record, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[username]
	if !ok {
		return nil, nil
	}
	record := s.records[i]
	return &record, nil
}

// Len は登録済みユーザー数を返します。
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *FileStore) exists(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[username]
	return ok
}

// refresh はファイルが変わっていた場合だけ読み直します。
func (s *FileStore) refresh() error {
	current, err := statFile(s.path)
	if err != nil {
		return err
	}

	s.mu.RLock()
	unchanged := current.same(s.stamp)
	s.mu.RUnlock()
	if unchanged {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked()
}

// reloadLocked はファイル全体を読み込み直します。書き込みは rename で置き換えるため、
// 読み込み中に途中の内容が見えることはありません。
func (s *FileStore) reloadLocked() error {
	stamp, err := statFile(s.path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", s.path)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return errors.Wrapf(err, "failed to parse %s", s.path)
	}

	index := make(map[string]int, len(records))
	for i, r := range records {
		if _, dup := index[r.Username]; dup {
			return errors.Errorf("duplicate username %q in %s", r.Username, s.path)
		}
		index[r.Username] = i
	}

	s.records = records
	s.index = index
	s.stamp = stamp
	return nil
}

func (s *FileStore) flushLocked() error {
	data, err := json.Marshal(s.records)
	if err != nil {
		return errors.Wrap(err, "failed to encode users")
	}
	return storage.WriteFileAtomic(s.path, data, 0o640)
}

func statFile(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, errors.Wrapf(err, "failed to stat %s", path)
	}
	return fileStamp{size: info.Size(), modTime: info.ModTime()}, nil
}
