// Package apperr はAPIエラーの分類とJSONレスポンスへの変換を提供します。
package apperr

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Kind はクライアントに返すエラーの分類です。
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindUnauthorized
	KindConflict
)

// Error はクライアントに返してよいメッセージを持つエラーです。
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status は HTTP ステータスコードを返します。
func (e *Error) Status() int {
	switch e.Kind {
	case KindInvalidInput, KindConflict:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func InvalidInput(message string, err error) *Error {
	return &Error{Kind: KindInvalidInput, Code: "INVALID_INPUT", Message: message, Err: err}
}

func Conflict(message string, err error) *Error {
	return &Error{Kind: KindConflict, Code: "ALREADY_EXISTS", Message: message, Err: err}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Code: "UNAUTHORIZED", Message: message}
}

// Respond はエラーを JSON で返します。
// 分類されていないエラーはログに記録し、詳細を含まない 500 を返します。
func Respond(c *gin.Context, logger *zap.Logger, err error) {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Kind != KindInternal {
		c.AbortWithStatusJSON(apiErr.Status(), gin.H{
			"code":  apiErr.Code,
			"error": apiErr.Message,
		})
		return
	}

	if logger != nil {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"code":  "INTERNAL_ERROR",
		"error": "サーバー内部でエラーが発生しました。",
	})
}
