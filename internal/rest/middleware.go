package rest

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/synckairos/synckairos/internal/errs"
	"github.com/synckairos/synckairos/internal/idgen"
)

func newCorrelationID() string { return idgen.New() }

// deadlineMiddleware binds every request to a fixed budget. It runs the
// handler chain in the calling goroutine and attaches the timeout to
// c.Request's context; the handler observes cancellation the same way
// SwitchCycle's store.Get/store.Update already do, through the redis
// client returning a context error once the deadline passes, which the
// store layer surfaces as a normal error for the handler to render.
// A detached goroutine racing c.Next() against ctx.Done() was removed
// here: it let a still-running handler call c.JSON after the timeout
// branch had already written the response, corrupting the reply.
func deadlineMiddleware(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// writeError renders the canonical error envelope ("Every error
// response carries {error:{code, message, correlation_id, retryable}}").
func writeError(c *gin.Context, err error) {
	e, ok := errs.As(err)
	if !ok {
		e = errs.Internal(err)
	}
	correlationID := c.GetHeader("X-Request-ID")
	if correlationID == "" {
		correlationID = newCorrelationID()
	}
	c.JSON(e.Kind.HTTPStatus(), gin.H{
		"error": gin.H{
			"code":           string(e.Kind),
			"message":        e.Message,
			"correlation_id": correlationID,
			"retryable":      e.Kind.Retryable(),
		},
	})
}
