package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"studyhub/internal/errcode"
)

// InternalSecretMiddleware 保护 /metrics 等内部端点。
func InternalSecretMiddleware(secret string) gin.HandlerFunc {
	secret = strings.TrimSpace(secret)
	return func(c *gin.Context) {
		if secret == "" {
			abortWithError(c, errcode.New(errcode.InternalError, "internal api secret is not configured"))
			return
		}
		// 密钥只从 Header 读取，避免 query 泄露到日志。
		token := strings.TrimSpace(c.GetHeader("X-Internal-Secret"))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			abortWithError(c, errcode.New(errcode.Unauthorized, "unauthorized"))
			return
		}
		c.Next()
	}
}
