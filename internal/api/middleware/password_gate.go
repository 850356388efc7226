package middleware

import (
	"github.com/gin-gonic/gin"

	"studyhub/internal/errcode"
)

const passwordChangeRequiredMessage = "password change required"

// RequirePasswordChangeCompletedMiddleware 阻止未完成改密的账号访问业务接口。
// allowed 为放行的路由模板（gin FullPath），例如 /v1/auth/change-password。
func RequirePasswordChangeCompletedMiddleware(allowed ...string) gin.HandlerFunc {
	open := make(map[string]struct{}, len(allowed))
	for _, path := range allowed {
		open[path] = struct{}{}
	}
	return func(c *gin.Context) {
		if IdentityFromContext(c).MustChangePassword {
			if _, ok := open[c.FullPath()]; !ok {
				abortWithError(c, errcode.New(errcode.Forbidden, passwordChangeRequiredMessage))
				return
			}
		}
		c.Next()
	}
}
