// Package jobs はキャッシュエントリの遅延削除をスケジュールします。
package jobs

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

const (
	taskTypeExpire = "cache:expire"
	queueName      = "cache"
)

// ErrClosed は Close 後にスケジュールしようとした場合に返されます。
var ErrClosed = errors.New("scheduler is closed")

// Expirer は指定したエントリだけを削除できるコンポーネントです。
// スロットが別のエントリに置き換わっている場合は何もしません。
type Expirer interface {
	Expire(ctx context.Context, entryID string) error
}

// Scheduler はエントリIDごとに遅延削除を予約・取り消します。
type Scheduler interface {
	Bind(e Expirer)
	Schedule(ctx context.Context, entryID string, delay time.Duration) error
	Cancel(ctx context.Context, entryID string) error
	Close() error
}

// TaskPayload は削除タスクのペイロードです。
type TaskPayload struct {
	EntryID string `json:"entryId"`
}

func taskID(entryID string) string {
	return "cache-expire:" + entryID
}
