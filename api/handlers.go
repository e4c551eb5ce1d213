package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/fault"
	"github.com/papercomputeco/finsight/pkg/filter"
	"github.com/papercomputeco/finsight/pkg/rag"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleStatus returns corpus sizes, providers and degradation counters.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.svc.Status(c.UserContext()))
}

// fail maps err onto an HTTP status and writes it as an ErrorResponse.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var notFound document.NotFoundError

	switch {
	case fault.IsValidation(err):
		status = fiber.StatusBadRequest
	case errors.As(err, &notFound):
		status = fiber.StatusNotFound
	case errors.Is(err, rag.ErrQueueFull), fault.IsUnavailable(err), fault.IsTimeout(err):
		status = fiber.StatusServiceUnavailable
	}

	if status == fiber.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", c.Path(),
			"error", err,
		)
	}

	return c.Status(status).JSON(ErrorResponse{
		Error: err.Error(),
		Kind:  fault.Kind(err),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: msg, Kind: fault.KindValidation})
}

// queryInt parses an optional positive integer query parameter.
func queryInt(c *fiber.Ctx, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// queryFilters decodes the optional "filters" query parameter, a JSON object.
func queryFilters(c *fiber.Ctx) (filter.Expr, error) {
	return filter.ParseJSON(c.Query("filters"))
}
