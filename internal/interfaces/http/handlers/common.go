package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	appErrors "github.com/memflow/memflow/pkg/errors"
)

// errorBody OpenAI风格错误体
func errorBody(err error) gin.H {
	errType := "server_error"
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case appErrors.CodeInvalidInput:
			errType = "invalid_request_error"
		case appErrors.CodeNotFound:
			errType = "not_found_error"
		case appErrors.CodeUpstreamUnavailable, appErrors.CodeUpstreamFailed:
			errType = "upstream_error"
		}
	}
	return gin.H{
		"error": gin.H{
			"message": err.Error(),
			"type":    errType,
		},
	}
}

// abortWithError 按错误码写响应并终止
func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(appErrors.HTTPStatusOf(err), errorBody(err))
}
