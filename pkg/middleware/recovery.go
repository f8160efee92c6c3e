package middleware

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/docuchat/pkg/errors"
	"github.com/kart-io/docuchat/pkg/utils/response"
)

// Recovery returns a middleware that recovers from panics and writes a
// unified error response instead of tearing down the connection.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"panic", r,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"request_id", GetRequestID(c),
					"stack", string(debug.Stack()),
				)

				resp := response.Err(errors.ErrPanic).WithRequestID(GetRequestID(c))
				defer response.Release(resp)
				c.AbortWithStatusJSON(resp.HTTPStatus(), resp)
			}
		}()

		c.Next()
	}
}
