package cache

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	datasetSize  = 5
	datasetLimit = 100
)

// Fetcher はキャッシュミス時にデータを取得する元です。
type Fetcher interface {
	Fetch(ctx context.Context) (Dataset, error)
}

// RandomSource は 0〜99 の乱数5つと現在時刻を返す擬似的なデータ元です。
type RandomSource struct {
	now func() time.Time
}

// NewRandomSource は RandomSource を作成します。now が nil の場合は time.Now を使います。
func NewRandomSource(now func() time.Time) *RandomSource {
	if now == nil {
		now = time.Now
	}
	return &RandomSource{now: now}
}

func (s *RandomSource) Fetch(ctx context.Context) (Dataset, error) {
	if err := ctx.Err(); err != nil {
		return Dataset{}, err
	}
	items := make([]int, datasetSize)
	for i := range items {
		items[i] = rand.IntN(datasetLimit)
	}
	return Dataset{
		Items:     items,
		Timestamp: s.now().UnixMilli(),
	}, nil
}
