package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/yourusername/sessionbox/internal/apperr"
	"github.com/yourusername/sessionbox/internal/session"
)

// RequireLogin はセッションを検証するミドルウェアを返します。
// 期限切れ・破棄済み・署名不正はすべて 401 になります。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := m.sessions.Validate(c.Request.Context(), tokenFrom(c))
		if !ok {
			m.metrics.SessionOp("reject")
			apperr.Respond(c, m.logger, apperr.Unauthorized("ログインが必要です。"))
			return
		}
		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// CurrentUser は RequireLogin が設定したユーザーを返します。
func CurrentUser(c *gin.Context) (session.Identity, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return session.Identity{}, false
	}
	user, ok := v.(session.Identity)
	return user, ok
}
