package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the standardized error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ErrorHandler converts unhandled gin errors into structured JSON so a
// caller never sees a bare transport error.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last()
		LogError("error_handler", "request processing error", err.Err)

		statusCode := http.StatusInternalServerError
		message := "Internal server error"
		switch err.Type {
		case gin.ErrorTypeBind:
			statusCode = http.StatusBadRequest
			message = "Invalid request format"
		case gin.ErrorTypePublic:
			statusCode = http.StatusBadRequest
			message = err.Error()
		}
		if c.Writer.Status() != http.StatusOK {
			statusCode = c.Writer.Status()
		}

		if !c.Writer.Written() {
			c.JSON(statusCode, ErrorResponse{
				Error:   http.StatusText(statusCode),
				Message: message,
				Code:    statusCode,
			})
		}
	}
}
