package cache

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/sessionbox/internal/apperr"
	"github.com/yourusername/sessionbox/internal/metrics"
)

// Handler は GET /data のハンドラーを返します。
func Handler(c *Cache, m *metrics.Metrics, logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		result, err := c.Get(ctx.Request.Context())
		if err != nil {
			apperr.Respond(ctx, logger, err)
			return
		}

		source := result.Freshness.String()
		m.CacheServed(source)
		ctx.Header("Cache-Control", "no-store")
		ctx.JSON(http.StatusOK, gin.H{
			"items":     result.Data.Items,
			"timestamp": result.Data.Timestamp,
			"source":    source,
		})
	}
}
