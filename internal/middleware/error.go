package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/referral-api/internal/handler"
	apperrors "github.com/jwalitptl/referral-api/pkg/errors"
)

// ErrorHandler logs errors attached to the context and answers for handlers that
// attached an error without writing a response.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		requestID := c.GetString(ContextRequestID)
		for _, e := range c.Errors {
			ev := log.Debug()
			if e.Type != gin.ErrorTypeBind && apperrors.HTTPStatus(e.Err) >= http.StatusInternalServerError {
				ev = log.Error()
			}
			ev.Err(e.Err).
				Str("request_id", requestID).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Str("client_ip", c.ClientIP()).
				Msg("request error")
		}

		if c.Writer.Written() {
			return
		}
		handler.RespondError(c, c.Errors.Last().Err)
	}
}
