package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// AsynqScheduler は Asynq の遅延タスクとしてエントリ削除を予約します。
// タスクIDはエントリIDから決まるため、取り消しはインスペクタから行います。
type AsynqScheduler struct {
	client    *asynq.Client
	server    *asynq.Server
	inspector *asynq.Inspector
	mux       *asynq.ServeMux
	logger    *zap.Logger

	mu      sync.RWMutex
	expirer Expirer
}

// NewAsynqScheduler は AsynqScheduler を初期化します。
func NewAsynqScheduler(redisURL string, logger *zap.Logger) (*AsynqScheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueName: 1,
			},
		},
	)

	s := &AsynqScheduler{
		client:    asynq.NewClient(opt),
		server:    server,
		inspector: asynq.NewInspector(opt),
		mux:       asynq.NewServeMux(),
		logger:    logger,
	}
	s.mux.HandleFunc(taskTypeExpire, s.handleExpireTask)
	return s, nil
}

// Bind は削除対象のコンポーネントを設定します。
func (s *AsynqScheduler) Bind(e Expirer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expirer = e
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (s *AsynqScheduler) StartWorkers() {
	go func() {
		if err := s.server.Run(s.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			s.logger.Error("asynq server stopped with error", zap.Error(err))
		}
	}()
}

// Schedule は delay 後に実行される削除タスクを投入します。
func (s *AsynqScheduler) Schedule(ctx context.Context, entryID string, delay time.Duration) error {
	if entryID == "" {
		return errors.New("entryID is required")
	}
	body, err := json.Marshal(TaskPayload{EntryID: entryID})
	if err != nil {
		return err
	}

	task := asynq.NewTask(taskTypeExpire, body)
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.TaskID(taskID(entryID)),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(3),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// Cancel は予約済みの削除タスクを削除します。既に無い場合は成功扱いです。
func (s *AsynqScheduler) Cancel(ctx context.Context, entryID string) error {
	err := s.inspector.DeleteTask(queueName, taskID(entryID))
	if err == nil || errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return err
}

// Close はサーバーとクライアントを閉じます。
func (s *AsynqScheduler) Close() error {
	s.server.Shutdown()
	if err := s.inspector.Close(); err != nil {
		s.logger.Warn("failed to close asynq inspector", zap.Error(err))
	}
	return s.client.Close()
}

func (s *AsynqScheduler) handleExpireTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid expire payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.EntryID == "" {
		return fmt.Errorf("missing entryId in payload: %w", asynq.SkipRetry)
	}

	s.mu.RLock()
	expirer := s.expirer
	s.mu.RUnlock()
	if expirer == nil {
		return errors.New("no expirer bound")
	}

	if err := expirer.Expire(ctx, payload.EntryID); err != nil {
		s.logger.Error("failed to expire cache entry", zap.String("entry_id", payload.EntryID), zap.Error(err))
		return err
	}
	return nil
}
