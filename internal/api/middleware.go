package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
)

// metricsMiddleware records one request observation per call, keyed by
// the matched route pattern so path parameters do not explode the label
// cardinality.
func (s *Server) metricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := c.Route().Path
		if path == "/metrics" {
			return err
		}

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				status = fiberErr.Code
			}
		}

		s.metrics.RecordRequest(c.Method(), path, status, time.Since(start))
		return err
	}
}
