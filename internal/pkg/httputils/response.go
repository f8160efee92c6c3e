// Package httputils provides HTTP utility functions.
package httputils

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/docuchat/pkg/errors"
	"github.com/kart-io/docuchat/pkg/middleware"
	"github.com/kart-io/docuchat/pkg/utils/response"
)

// WriteResponse writes the response to the client.
// It handles both success and error cases, ensuring consistent response format.
func WriteResponse(c *gin.Context, err error, data interface{}) {
	var resp *response.Response

	if err != nil {
		if errno, ok := err.(*errors.Errno); ok {
			resp = response.Err(errno)
		} else {
			// 未分类错误的原始文本只进日志，不透出给客户端
			logger.Errorw("unclassified handler error",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"request_id", middleware.GetRequestID(c),
			)
			resp = response.Err(errors.ErrInternal)
		}
	} else {
		resp = response.Success(data)
	}

	resp.WithRequestID(middleware.GetRequestID(c))
	defer response.Release(resp)
	c.JSON(resp.HTTPStatus(), resp)
}
