package cache

import (
	"context"
	"time"
)

// Dataset は /data で返す計算結果です。
type Dataset struct {
	Items     []int `json:"items"`
	Timestamp int64 `json:"timestamp"`
}

// Entry はスロットに保存される唯一のエントリです。
// ID は遅延削除の対象を特定するために使います。
type Entry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Data      Dataset   `json:"data"`
}

// Freshness はレスポンスがどこから返されたかを表します。
type Freshness int

const (
	Fresh Freshness = iota
	Recomputed
)

// String は API の source フィールドの値を返します。
func (f Freshness) String() string {
	if f == Fresh {
		return "cache"
	}
	return "database"
}

// Result は Get の結果です。
type Result struct {
	Data      Dataset
	Freshness Freshness
}

// Slot は単一エントリの保存先です。
// Load はエントリが無い場合に nil, nil を返します。
type Slot interface {
	Load(ctx context.Context) (*Entry, error)
	Store(ctx context.Context, e *Entry, ttl time.Duration) error
	DeleteIf(ctx context.Context, entryID string) (bool, error)
}
