package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const expireTimeout = 10 * time.Second

type pendingTimer struct {
	timer *time.Timer
	gen   uint64
}

// TimerScheduler はプロセス内タイマーで遅延削除を行います。
// 発火はリクエストの寿命とは無関係で、Cancel で取り消せます。
type TimerScheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	expirer Expirer
	timers  map[string]pendingTimer
	seq     uint64
	closed  bool
}

// NewTimerScheduler は TimerScheduler を作成します。
func NewTimerScheduler(logger *zap.Logger) *TimerScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimerScheduler{
		logger: logger,
		timers: make(map[string]pendingTimer),
	}
}

// Bind は削除対象のコンポーネントを設定します。
func (s *TimerScheduler) Bind(e Expirer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expirer = e
}

// Schedule は delay 後に entryID の削除を予約します。
func (s *TimerScheduler) Schedule(ctx context.Context, entryID string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if prev, ok := s.timers[entryID]; ok {
		prev.timer.Stop()
	}
	s.seq++
	gen := s.seq
	s.timers[entryID] = pendingTimer{
		timer: time.AfterFunc(delay, func() { s.fire(entryID, gen) }),
		gen:   gen,
	}
	return nil
}

// Cancel は予約済みの削除を取り消します。未予約の場合は何もしません。
func (s *TimerScheduler) Cancel(ctx context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.timers[entryID]; ok {
		p.timer.Stop()
		delete(s.timers, entryID)
	}
	return nil
}

// Close はすべての予約を取り消します。
func (s *TimerScheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, id)
	}
	s.closed = true
	return nil
}

// Pending は未発火の予約数を返します。
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *TimerScheduler) fire(entryID string, gen uint64) {
	s.mu.Lock()
	if p, ok := s.timers[entryID]; ok && p.gen == gen {
		delete(s.timers, entryID)
	}
	expirer := s.expirer
	s.mu.Unlock()

	if expirer == nil {
		s.logger.Warn("expiry fired without expirer", zap.String("entry_id", entryID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
	defer cancel()
	if err := expirer.Expire(ctx, entryID); err != nil {
		s.logger.Error("failed to expire cache entry", zap.String("entry_id", entryID), zap.Error(err))
	}
}
