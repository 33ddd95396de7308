package response

import (
	"net/http"

	"ojeval/pkg/errors"
	"ojeval/pkg/utils/contextkey"
	"ojeval/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    any              `json:"data,omitempty"`
	Details any              `json:"details,omitempty"`
	TraceID string           `json:"traceId,omitempty"`
}

func Success(c *gin.Context, data any) {
	write(c, http.StatusOK, Response{Code: errors.Success, Message: "Success", Data: data})
}

// Accepted answers 202 for work that continues in the background.
func Accepted(c *gin.Context, data any) {
	write(c, http.StatusAccepted, Response{Code: errors.Success, Message: "Accepted", Data: data})
}

// Error maps err to its code and HTTP status. Errors outside pkg/errors
// become 500 InternalServerError.
func Error(c *gin.Context, err error) {
	e := errors.GetError(err)
	status := e.Code.HTTPStatus()
	fields := []zap.Field{
		zap.Int("code", int(e.Code)),
		zap.String("message", e.Error()),
	}
	if len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", e.Details))
	}
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", append(fields, zap.String("stack", e.Stack))...)
	} else {
		logger.Warn(c.Request.Context(), "request rejected", fields...)
	}

	resp := Response{Code: e.Code, Message: e.Error()}
	if len(e.Details) > 0 {
		resp.Details = e.Details
	}
	write(c, status, resp)
}

// ErrorWithCode answers with code and message, or the code's default message.
func ErrorWithCode(c *gin.Context, code errors.ErrorCode, message string) {
	if message == "" {
		message = code.Message()
	}
	Error(c, errors.New(code).WithMessage(message))
}

func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, errors.InvalidParams, message)
}

func Unauthorized(c *gin.Context, message string) {
	ErrorWithCode(c, errors.Unauthorized, message)
}

func AbortWithError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

func AbortWithErrorCode(c *gin.Context, code errors.ErrorCode, message string) {
	ErrorWithCode(c, code, message)
	c.Abort()
}

func write(c *gin.Context, status int, resp Response) {
	if id, ok := c.Request.Context().Value(contextkey.TraceID).(string); ok {
		resp.TraceID = id
	}
	c.JSON(status, resp)
}
