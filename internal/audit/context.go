package audit

import (
	"context"

	"github.com/gin-gonic/gin"
)

// requestMetaKey carries the caller's network origin to LogChannelAction.
type requestMetaKey struct{}

type requestMeta struct {
	ip        string
	userAgent string
}

// WithRequestMeta attaches the caller IP and user agent to ctx.
func WithRequestMeta(ctx context.Context, ip, userAgent string) context.Context {
	if ip == "" && userAgent == "" {
		return ctx
	}
	return context.WithValue(ctx, requestMetaKey{}, requestMeta{ip: ip, userAgent: userAgent})
}

func requestMetaFrom(ctx context.Context) requestMeta {
	m, _ := ctx.Value(requestMetaKey{}).(requestMeta)
	return m
}

// RequestMeta is a gin middleware resolving the client IP (gin trusted
// proxy rules apply) and user agent for audit events.
func RequestMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(WithRequestMeta(c.Request.Context(), c.ClientIP(), c.Request.UserAgent()))
		c.Next()
	}
}
