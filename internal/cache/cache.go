// Package cache は1件だけを保持する TTL 付きキャッシュを提供します。
//
// エントリを書き込むたびに、そのエントリIDを対象とした遅延削除を予約します。
// 削除はIDが一致する場合にだけ行われるため、古い予約が新しいエントリを消すことはありません。
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/yourusername/sessionbox/internal/jobs"
)

// DefaultTTL はエントリの有効期間のデフォルト値です。
const DefaultTTL = 60 * time.Second

// Options は Cache の設定です。ゼロ値の項目はデフォルトが使われます。
type Options struct {
	TTL       time.Duration
	Scheduler jobs.Scheduler
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Cache は単一スロットの TTL キャッシュです。
// スロットへの書き込みと削除はすべてこの型を経由します。
type Cache struct {
	slot      Slot
	fetcher   Fetcher
	scheduler jobs.Scheduler
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
	newID     func() string

	mu      sync.Mutex
	current string
}

// New は Cache を作成し、スケジューラの削除先として自身を登録します。
func New(slot Slot, fetcher Fetcher, opts Options) (*Cache, error) {
	if slot == nil {
		return nil, errors.New("slot is nil")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is nil")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = jobs.NewTimerScheduler(opts.Logger)
	}

	c := &Cache{
		slot:      slot,
		fetcher:   fetcher,
		scheduler: opts.Scheduler,
		ttl:       opts.TTL,
		now:       opts.Clock,
		logger:    opts.Logger,
		newID:     uuid.NewString,
	}
	c.scheduler.Bind(c)
	return c, nil
}

// Get は有効なエントリがあればそれを返し、無ければ再計算して保存します。
// スロットの読み込み失敗はミスとして扱います。
func (c *Cache) Get(ctx context.Context) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, err := c.slot.Load(ctx)
	if err != nil {
		c.logger.Warn("cache slot unreadable, recomputing", zap.Error(err))
		entry = nil
	}
	if entry != nil && c.isFresh(entry, now) {
		return Result{Data: entry.Data, Freshness: Fresh}, nil
	}

	data, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to fetch data")
	}

	next := &Entry{
		ID:        c.newID(),
		CreatedAt: now,
		Data:      data,
	}
	if err := c.slot.Store(ctx, next, c.ttl); err != nil {
		c.logger.Error("failed to store cache entry", zap.Error(err))
		return Result{Data: data, Freshness: Recomputed}, nil
	}

	prev := c.current
	c.current = next.ID
	if prev != "" {
		if err := c.scheduler.Cancel(ctx, prev); err != nil {
			c.logger.Warn("failed to cancel superseded expiry", zap.String("entry_id", prev), zap.Error(err))
		}
	}
	if err := c.scheduler.Schedule(ctx, next.ID, c.ttl); err != nil {
		c.logger.Warn("failed to schedule cache expiry", zap.String("entry_id", next.ID), zap.Error(err))
	}

	return Result{Data: data, Freshness: Recomputed}, nil
}

// Expire は entryID のエントリがまだスロットにある場合だけ削除します。
func (c *Cache) Expire(ctx context.Context, entryID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed, err := c.slot.DeleteIf(ctx, entryID)
	if err != nil {
		return errors.Wrap(err, "failed to delete cache entry")
	}
	if c.current == entryID {
		c.current = ""
	}
	c.logger.Debug("cache expiry fired", zap.String("entry_id", entryID), zap.Bool("removed", removed))
	return nil
}

// Restore は起動時にスロットに残っているエントリの削除を予約し直します。
// 既に期限切れの場合はその場で削除します。
func (c *Cache) Restore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.slot.Load(ctx)
	if err != nil {
		c.logger.Warn("ignoring unreadable cache slot on startup", zap.Error(err))
		return nil
	}
	if entry == nil {
		return nil
	}

	now := c.now()
	if !c.isFresh(entry, now) {
		if _, err := c.slot.DeleteIf(ctx, entry.ID); err != nil {
			return errors.Wrap(err, "failed to delete stale cache entry")
		}
		return nil
	}

	c.current = entry.ID
	remaining := c.ttl - now.Sub(entry.CreatedAt)
	return c.scheduler.Schedule(ctx, entry.ID, remaining)
}

// TTL はエントリの有効期間を返します。
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) isFresh(e *Entry, now time.Time) bool {
	age := now.Sub(e.CreatedAt)
	return age >= 0 && age < c.ttl
}
