package webconsole

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// corsMiddleware 创建CORS中间件
func (c *Console) corsMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		origin := ctx.Request.Header.Get("Origin")
		if origin != "" && c.originAllowed(origin) {
			ctx.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			ctx.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			ctx.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			ctx.Writer.Header().Set("Access-Control-Allow-Headers",
				"Content-Type, Content-Length, Accept, Authorization, Origin, X-Request-ID")
			ctx.Writer.Header().Set("Access-Control-Max-Age", "86400")
		}

		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}
		ctx.Next()
	}
}

// originAllowed 来源是否在允许列表中
func (c *Console) originAllowed(origin string) bool {
	for _, allowed := range c.config.AllowOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// clientLimiters 按客户端IP分配的令牌桶
type clientLimiters struct {
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiters{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *clientLimiters) get(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[client] = limiter
	}
	return limiter
}

// rateLimitMiddleware 创建请求限制中间件
func (c *Console) rateLimitMiddleware() gin.HandlerFunc {
	if c.config.RateLimit <= 0 {
		return func(ctx *gin.Context) { ctx.Next() }
	}

	limiters := newClientLimiters(c.config.RateLimit, c.config.RateBurst)
	return func(ctx *gin.Context) {
		if !limiters.get(ctx.ClientIP()).Allow() {
			c.logger.Debug("请求被限流", "client", ctx.ClientIP(), "path", ctx.Request.URL.Path)
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "请求过于频繁，请稍后再试",
			})
			return
		}
		ctx.Next()
	}
}
