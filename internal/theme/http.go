// Package theme はテーマ設定をクッキーに保存するハンドラーを提供します。
// サーバー側では値を保持せず、存在チェックのみ行います。
package theme

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/sessionbox/internal/apperr"
)

const (
	// CookieName はテーマ設定を保持するクッキー名です。
	CookieName = "theme"
	maxAge     = 24 * 60 * 60
)

type themeRequest struct {
	Theme string `json:"theme"`
}

// Handler は POST /theme のハンドラーを返します。
func Handler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req themeRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Theme == "" {
			apperr.Respond(c, logger, apperr.InvalidInput("theme を指定してください。", err))
			return
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(CookieName, req.Theme, maxAge, "/", "", false, true)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
