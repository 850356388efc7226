package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"studyhub/internal/access"
	"studyhub/internal/auth"
	"studyhub/internal/errcode"
)

const identityKey = "identity"

// TokenValidator 校验 Bearer 令牌并返回其中的 userID。
type TokenValidator interface {
	ValidateToken(token string) (*auth.TokenClaims, error)
}

// IdentityResolver 将令牌中的 userID 解析为当前身份，用户不存在时返回 Unauthorized。
type IdentityResolver interface {
	Resolve(ctx context.Context, userID uint) (access.Identity, error)
}

func abortWithError(c *gin.Context, e *errcode.Error) {
	c.AbortWithStatusJSON(errcode.HTTPStatus(e.Code), e)
}

func bearerToken(c *gin.Context) (string, error) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return "", auth.ErrTokenMissing
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", auth.ErrTokenInvalid
	}
	return parts[1], nil
}

func tokenError(err error) *errcode.Error {
	switch {
	case errors.Is(err, auth.ErrTokenMissing):
		return errcode.New(errcode.Unauthorized, "missing bearer token")
	case errors.Is(err, auth.ErrTokenExpired):
		return errcode.New(errcode.Unauthorized, "token expired")
	default:
		return errcode.New(errcode.Unauthorized, "invalid token")
	}
}

func resolve(c *gin.Context, tokens TokenValidator, resolver IdentityResolver) (access.Identity, error) {
	raw, err := bearerToken(c)
	if err != nil {
		return access.Anonymous, tokenError(err)
	}
	claims, err := tokens.ValidateToken(raw)
	if err != nil {
		return access.Anonymous, tokenError(err)
	}
	return resolver.Resolve(c.Request.Context(), claims.UserID)
}

func setIdentity(c *gin.Context, identity access.Identity) {
	c.Set(identityKey, identity)
	if identity.IsAuthenticated() {
		c.Set(slogLoggerKey, LoggerFromContext(c).With(slog.Uint64("user_id", uint64(identity.UserID))))
	}
}

// Authenticate 要求请求携带有效令牌且用户仍然存在，并把身份写入上下文。
func Authenticate(tokens TokenValidator, resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := resolve(c, tokens, resolver)
		if err != nil {
			if e, ok := errcode.From(err); ok {
				LoggerFromContext(c).Info("authentication rejected", slog.String("reason", e.Message))
				abortWithError(c, e)
				return
			}
			LoggerFromContext(c).Error("resolve identity failed", slog.Any("error", err))
			abortWithError(c, errcode.New(errcode.InternalError, "internal error"))
			return
		}
		setIdentity(c, identity)
		c.Next()
	}
}

// OptionalAuthenticate 尝试解析身份，任何失败都按匿名访问继续。
func OptionalAuthenticate(tokens TokenValidator, resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := access.Anonymous
		if c.GetHeader("Authorization") != "" {
			if resolved, err := resolve(c, tokens, resolver); err == nil {
				identity = resolved
			}
		}
		setIdentity(c, identity)
		c.Next()
	}
}

// Require 在 Authenticate 之后执行授权检查。
func Require(guard access.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := guard(IdentityFromContext(c)); err != nil {
			if e, ok := errcode.From(err); ok {
				abortWithError(c, e)
				return
			}
			abortWithError(c, errcode.New(errcode.Forbidden, "access denied"))
			return
		}
		c.Next()
	}
}

// IdentityFromContext 返回当前请求的身份，未认证时为 access.Anonymous。
func IdentityFromContext(c *gin.Context) access.Identity {
	if value, ok := c.Get(identityKey); ok {
		if identity, ok := value.(access.Identity); ok {
			return identity
		}
	}
	return access.Anonymous
}
