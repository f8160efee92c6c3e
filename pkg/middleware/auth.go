package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/docuchat/pkg/errors"
	"github.com/kart-io/docuchat/pkg/utils/response"
)

// SharedKeyAuth returns a middleware that authenticates requests against a
// pre-shared key carried in the given header. Comparison is constant time so
// the key cannot be probed byte by byte.
func SharedKeyAuth(sharedKey, header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(header)
		if provided == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(sharedKey)) != 1 {
			logger.Warnw("rejected unauthenticated request",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP(),
				"request_id", GetRequestID(c),
			)

			resp := response.Err(errors.ErrUnauthorized).WithRequestID(GetRequestID(c))
			defer response.Release(resp)
			c.AbortWithStatusJSON(resp.HTTPStatus(), resp)
			return
		}

		c.Next()
	}
}
