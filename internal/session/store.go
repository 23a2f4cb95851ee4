package session

import (
	"context"
	"time"
)

// Store はセッションの保存先です。
// Get は存在しないトークンに対して nil, nil を返します。
type Store interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
