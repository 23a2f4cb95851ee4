// Package session はサーバー側セッションの発行・検証・破棄を提供します。
// HTTP 層には依存しません。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// TTL はセッションの有効期間です。アクセスによる延長は行いません。
const TTL = 24 * time.Hour

// Identity はセッションに紐づくユーザーです。
type Identity struct {
	Username string `json:"username"`
}

// Session は発行済みセッションです。ExpiresAt は常に CreatedAt + TTL です。
type Session struct {
	Token     string    `json:"token"`
	User      Identity  `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Manager はセッションのライフサイクルを管理します。
type Manager struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// Option は Manager の設定を変更します。
type Option func(*Manager)

// WithClock は現在時刻の取得方法を差し替えます。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger はロガーを設定します。
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager は Manager を作成します。
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create は新しいセッションを発行して保存します。
func (m *Manager) Create(ctx context.Context, user Identity) (*Session, error) {
	if user.Username == "" {
		return nil, errors.New("session identity requires a username")
	}
	token, err := generateToken()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate session token")
	}

	now := m.now()
	s := &Session{
		Token:     token,
		User:      user,
		CreatedAt: now,
		ExpiresAt: now.Add(TTL),
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, errors.Wrap(err, "failed to save session")
	}
	return s, nil
}

// Validate はトークンに紐づくユーザーを返します。
// 存在しない・期限切れ・読み込み失敗はすべて false で区別しません。
func (m *Manager) Validate(ctx context.Context, token string) (Identity, bool) {
	if token == "" {
		return Identity{}, false
	}
	s, err := m.store.Get(ctx, token)
	if err != nil {
		m.logger.Warn("session lookup failed", zap.Error(err))
		return Identity{}, false
	}
	if s == nil {
		return Identity{}, false
	}
	if !m.now().Before(s.ExpiresAt) {
		if err := m.store.Delete(ctx, token); err != nil {
			m.logger.Warn("failed to remove expired session", zap.Error(err))
		}
		return Identity{}, false
	}
	return s.User, true
}

// Destroy はセッションを削除します。戻った時点で Validate からは見えません。
func (m *Manager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.store.Delete(ctx, token); err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	return nil
}

// RunSweeper は期限切れセッションを定期的に削除します。ctx が終了するまで戻りません。
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep は期限切れセッションを一度だけ削除します。
func (m *Manager) Sweep(ctx context.Context) int {
	removed, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		m.logger.Warn("session sweep failed", zap.Error(err))
		return removed
	}
	if removed > 0 {
		m.logger.Debug("expired sessions removed", zap.Int("count", removed))
	}
	return removed
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
