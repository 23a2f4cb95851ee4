// Package users はユーザー名とパスワードハッシュの対応を保持する資格情報ストアです。
package users

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidInput はユーザー名またはパスワードが空の場合に返されます。
	ErrInvalidInput = errors.New("username and password are required")
	// ErrAlreadyExists は同じユーザー名が既に登録されている場合に返されます。
	ErrAlreadyExists = errors.New("user already exists")
)

// Record は永続化されるユーザー情報です。登録後は変更されません。
type Record struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password"`
}

// Hasher はパスワードのハッシュ化を行います。
type Hasher interface {
	Hash(ctx context.Context, plain string) (string, error)
}

// Store は資格情報ストアの操作です。
type Store interface {
	Register(ctx context.Context, username, plain string) error
	FindByUsername(ctx context.Context, username string) (*Record, error)
}
