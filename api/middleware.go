package api

import (
	"fmt"
	"net/http"

	"github.com/flowstudio/authz/core/telemetry"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
)

// Tracing wraps each request in a span carrying the route, the request ID and,
// once authenticated, the subject. Engine spans started by the handler nest
// under it.
func Tracing(p *telemetry.Provider) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = c.Response().Header().Get(echo.HeaderXRequestID)
			}

			ctx, span := p.StartSpan(req.Context(), fmt.Sprintf("%s %s", req.Method, c.Path()), telemetry.SpanOptions{
				RequestID: requestID,
				Route:     c.Path(),
			})
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			status := c.Response().Status
			span.SetAttributes(attribute.Int("http.status_code", status))
			if subject := Subject(c); subject != "" {
				span.SetAttributes(attribute.String(telemetry.AttrSubjectID, subject))
			}
			if err == nil && status >= http.StatusInternalServerError {
				err = fmt.Errorf("http status %d", status)
			}
			telemetry.EndSpan(span, err)
			return err
		}
	}
}
