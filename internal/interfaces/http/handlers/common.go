// Package handlers implements the HTTP endpoints.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/nerruler/internal/interfaces/http/middleware"
	"github.com/turtacn/nerruler/pkg/errors"
)

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeAppError maps an error to its HTTP status. Server-side failures
// without an application code are masked.
func writeAppError(c *gin.Context, err error) {
	_ = c.Error(err)

	var ae *errors.AppError
	if !errors.As(err, &ae) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
			Code:      string(errors.ErrCodeInternal),
			Message:   errors.DefaultMessageForCode(errors.ErrCodeInternal),
			RequestID: middleware.GetRequestID(c),
		})
		return
	}

	status := errors.HTTPStatusForCode(ae.Code)
	resp := ErrorResponse{
		Code:      string(ae.Code),
		Message:   ae.Message,
		Detail:    ae.Detail,
		RequestID: middleware.GetRequestID(c),
	}
	if ae.Code == errors.ErrCodeInternal {
		resp.Message = errors.DefaultMessageForCode(ae.Code)
		resp.Detail = ""
	}
	c.AbortWithStatusJSON(status, resp)
}

// bindJSON decodes the body into dst or writes a 400.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeAppError(c, errors.Wrap(err, errors.ErrCodeBadRequest, "invalid request body").WithDetail(err.Error()))
		return false
	}
	return true
}
