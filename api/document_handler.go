package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/finsight/pkg/document"
)

// AddDocumentsRequest is the body of POST /v1/documents. Embed defaults to
// true.
type AddDocumentsRequest struct {
	Documents []document.Input `json:"documents"`
	Embed     *bool            `json:"embed,omitempty"`
}

// JobAccepted is returned for asynchronous adds.
type JobAccepted struct {
	JobID string `json:"job_id"`
}

// handleAddDocuments handles POST /v1/documents. With ?async=true the batch
// is queued and 202 is returned with the job id.
func (s *Server) handleAddDocuments(c *fiber.Ctx) error {
	var body AddDocumentsRequest
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	embed := true
	if body.Embed != nil {
		embed = *body.Embed
	}

	if c.QueryBool("async") {
		id, err := s.svc.EnqueueDocuments(body.Documents, embed)
		if err != nil {
			return s.fail(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(JobAccepted{JobID: id})
	}

	res, err := s.svc.AddDocuments(c.UserContext(), body.Documents, embed)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// handleJob handles GET /v1/jobs/:id.
func (s *Server) handleJob(c *fiber.Ctx) error {
	status, ok := s.svc.Job(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "job not found"})
	}
	return c.JSON(status)
}

// handleListDocuments handles GET /v1/documents?filters=...
func (s *Server) handleListDocuments(c *fiber.Ctx) error {
	f, err := queryFilters(c)
	if err != nil {
		return s.fail(c, err)
	}

	docs, err := s.svc.ListDocuments(c.UserContext(), f)
	if err != nil {
		return s.fail(c, err)
	}
	if docs == nil {
		docs = []*document.Document{}
	}
	return c.JSON(map[string]any{
		"count":     len(docs),
		"documents": docs,
	})
}

// handleGetDocument handles GET /v1/documents/:id.
func (s *Server) handleGetDocument(c *fiber.Ctx) error {
	doc, err := s.svc.GetDocument(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(doc)
}

// handleUpdateDocument handles PATCH /v1/documents/:id.
func (s *Server) handleUpdateDocument(c *fiber.Ctx) error {
	var body document.Update
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	doc, err := s.svc.UpdateDocument(c.UserContext(), c.Params("id"), body)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(doc)
}

// handleDeleteDocument handles DELETE /v1/documents/:id.
func (s *Server) handleDeleteDocument(c *fiber.Ctx) error {
	id := c.Params("id")
	ok, err := s.svc.DeleteDocument(c.UserContext(), id)
	if err != nil {
		return s.fail(c, err)
	}
	if !ok {
		return s.fail(c, document.NotFoundError{ID: id})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleSummary handles GET /v1/summary.
func (s *Server) handleSummary(c *fiber.Ctx) error {
	summary, err := s.svc.Summary(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(summary)
}

// handleReconcile handles POST /v1/reconcile?repair=true.
func (s *Server) handleReconcile(c *fiber.Ctx) error {
	report, err := s.svc.Reconcile(c.UserContext(), c.QueryBool("repair"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(report)
}
