// Package password は bcrypt によるパスワードハッシュの生成と検証を提供します。
package password

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// DefaultCost は bcrypt のデフォルトのコストです。
const DefaultCost = 10

// ErrUnhashable はパスワードがハッシュ化できない場合（72バイト超など）に返されます。
var ErrUnhashable = errors.New("password cannot be hashed")

// Hasher は bcrypt の計算を同時実行数の上限付きで行います。
type Hasher struct {
	cost  int
	sem   *semaphore.Weighted
	dummy []byte
}

// NewHasher は Hasher を作成します。concurrency が 0 以下の場合は CPU 数を使います。
func NewHasher(cost, concurrency int) (*Hasher, error) {
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("sessionbox-timing-equalizer"), cost)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare dummy hash")
	}

	return &Hasher{
		cost:  cost,
		sem:   semaphore.NewWeighted(int64(concurrency)),
		dummy: dummy,
	}, nil
}

// Hash はソルト込みの自己記述的なハッシュ文字列を返します。
func (h *Hasher) Hash(ctx context.Context, plain string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", errors.Wrap(ErrUnhashable, err.Error())
		}
		return "", errors.Wrap(err, "failed to hash password")
	}
	return string(hashed), nil
}

// Verify は平文とハッシュが一致するかを返します。
// 不一致と不正なハッシュはどちらも false で、エラーはコンテキストの中断時のみです。
func (h *Hasher) Verify(ctx context.Context, plain, hashed string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.sem.Release(1)

	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil, nil
}

// Dummy は存在しないユーザーのログイン時に比較対象として使うハッシュを返します。
func (h *Hasher) Dummy() string {
	return string(h.dummy)
}

// Cost は設定済みのコストを返します。
func (h *Hasher) Cost() int {
	return h.cost
}
