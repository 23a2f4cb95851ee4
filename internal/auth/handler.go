package auth

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/yourusername/sessionbox/internal/apperr"
	"github.com/yourusername/sessionbox/internal/session"
	"github.com/yourusername/sessionbox/internal/users"
)

const msgBadCredentials = "ユーザー名またはパスワードが正しくありません。"

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register は /register のハンドラーです。
func (m *Manager) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		m.metrics.AuthEvent("register", "invalid")
		apperr.Respond(c, m.logger, apperr.InvalidInput("username と password を JSON で送ってください。", err))
		return
	}

	err := m.users.Register(c.Request.Context(), req.Username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, users.ErrInvalidInput):
		m.metrics.AuthEvent("register", "invalid")
		apperr.Respond(c, m.logger, apperr.InvalidInput("ユーザー名とパスワードを入力してください。", err))
		return
	case errors.Is(err, users.ErrAlreadyExists):
		m.metrics.AuthEvent("register", "conflict")
		apperr.Respond(c, m.logger, apperr.Conflict("このユーザー名は既に使われています。", err))
		return
	default:
		m.metrics.AuthEvent("register", "error")
		apperr.Respond(c, m.logger, err)
		return
	}

	m.metrics.AuthEvent("register", "ok")
	m.logger.Info("user registered", zap.String("username", req.Username))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Login は /login のハンドラーです。
// ユーザーが存在しない場合もダミーのハッシュと照合し、応答時間で存在を判別できないようにします。
func (m *Manager) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		m.metrics.AuthEvent("login", "invalid")
		apperr.Respond(c, m.logger, apperr.InvalidInput("username と password を JSON で送ってください。", err))
		return
	}

	ctx := c.Request.Context()
	record, err := m.users.FindByUsername(ctx, req.Username)
	if err != nil {
		m.metrics.AuthEvent("login", "error")
		apperr.Respond(c, m.logger, errors.Wrap(err, "failed to look up user"))
		return
	}

	hashed := m.verifier.Dummy()
	if record != nil {
		hashed = record.PasswordHash
	}
	ok, err := m.verifier.Verify(ctx, req.Password, hashed)
	if err != nil {
		m.metrics.AuthEvent("login", "error")
		apperr.Respond(c, m.logger, errors.Wrap(err, "failed to verify password"))
		return
	}
	if record == nil || req.Password == "" || !ok {
		m.metrics.AuthEvent("login", "denied")
		apperr.Respond(c, m.logger, apperr.Unauthorized(msgBadCredentials))
		return
	}

	// 以前のトークンが残っていれば破棄してから新しいセッションを発行する
	if prev := tokenFrom(c); prev != "" {
		if err := m.sessions.Destroy(ctx, prev); err != nil {
			m.logger.Warn("failed to destroy previous session", zap.Error(err))
		}
	}

	sess, err := m.sessions.Create(ctx, session.Identity{Username: record.Username})
	if err != nil {
		m.metrics.AuthEvent("login", "error")
		apperr.Respond(c, m.logger, err)
		return
	}

	store := sessions.Default(c)
	store.Set(sessionKeyToken, sess.Token)
	if err := store.Save(); err != nil {
		if derr := m.sessions.Destroy(ctx, sess.Token); derr != nil {
			m.logger.Warn("failed to roll back session", zap.Error(derr))
		}
		m.metrics.AuthEvent("login", "error")
		apperr.Respond(c, m.logger, errors.Wrap(err, "failed to save session cookie"))
		return
	}

	m.metrics.AuthEvent("login", "ok")
	m.metrics.SessionOp("create")
	m.logger.Info("user logged in", zap.String("username", record.Username))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Logout は /logout のハンドラーです。セッションが無い場合も成功を返します。
func (m *Manager) Logout(c *gin.Context) {
	token := tokenFrom(c)
	if token != "" {
		if err := m.sessions.Destroy(c.Request.Context(), token); err != nil {
			apperr.Respond(c, m.logger, err)
			return
		}
		m.metrics.SessionOp("destroy")
	}

	store := sessions.Default(c)
	store.Clear()
	opts := CookieOptions()
	opts.MaxAge = -1
	store.Options(opts)
	if err := store.Save(); err != nil {
		apperr.Respond(c, m.logger, errors.Wrap(err, "failed to clear session cookie"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Profile は /profile のハンドラーです。RequireLogin の後ろで使います。
func (m *Manager) Profile(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		apperr.Respond(c, m.logger, apperr.Unauthorized("ログインが必要です。"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{"username": user.Username},
	})
}
