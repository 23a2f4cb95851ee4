// Package auth は登録・ログイン・ログアウトの HTTP ハンドラーと
// セッション検証ミドルウェアを提供します。
package auth

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/sessionbox/internal/metrics"
	"github.com/yourusername/sessionbox/internal/session"
	"github.com/yourusername/sessionbox/internal/users"
)

const (
	// SessionCookieName はセッショントークンを運ぶクッキー名です。
	SessionCookieName = "sid"
	sessionKeyToken   = "token"
)

// ContextUserKey は、ハンドラー間でログイン済みユーザーを共有するためのキーです。
const ContextUserKey = "auth.user"

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(session.TTL.Seconds())
}

// CookieOptions はセッションクッキーの属性です。
func CookieOptions() sessions.Options {
	return sessions.Options{
		Path:     "/",
		MaxAge:   SessionMaxAgeSeconds(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// SessionMiddleware は署名付きクッキーでセッショントークンを運ぶミドルウェアを返します。
// クッキーにはトークン以外の情報を入れません。
func SessionMiddleware(secret []byte) gin.HandlerFunc {
	store := cookie.NewStore(secret)
	store.Options(CookieOptions())
	return sessions.Sessions(SessionCookieName, store)
}

// Verifier はパスワードの照合を行います。
type Verifier interface {
	Verify(ctx context.Context, plain, hashed string) (bool, error)
	Dummy() string
}

// Manager は認証処理に必要な依存をまとめた構造体です。
type Manager struct {
	users    users.Store
	verifier Verifier
	sessions *session.Manager
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewManager は認証マネージャーを作成します。
func NewManager(store users.Store, verifier Verifier, sessions *session.Manager, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		users:    store,
		verifier: verifier,
		sessions: sessions,
		metrics:  m,
		logger:   logger,
	}
}

func tokenFrom(c *gin.Context) string {
	token, _ := sessions.Default(c).Get(sessionKeyToken).(string)
	return token
}
