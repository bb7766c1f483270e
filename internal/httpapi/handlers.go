package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/leadflow/internal/conversation"
	perrors "github.com/p-blackswan/leadflow/internal/errors"
	"github.com/p-blackswan/leadflow/internal/requestid"
	"github.com/p-blackswan/leadflow/internal/session"
)

// Track event names accepted by POST /api/v1/sessions/:id/track/:event.
const (
	TrackConsultation       = "consultation"
	TrackAdditionalWorkflow = "additional_workflow"
)

func (s *Server) fail(c *fiber.Ctx, op string, err error) error {
	l := requestid.Logger(c.UserContext(), s.logger)
	ev := l.Debug()
	if perrors.IsDiagnostic(err) {
		ev = l.Error()
	}
	ev.Err(err).
		Str("op", op).
		Str("session_id", c.Params("id")).
		Str("kind", perrors.KindOf(err)).
		Msg("request failed")
	return errorResponse(c, err)
}

// submit handles POST /api/v1/submissions.
func (s *Server) submit(c *fiber.Ctx) error {
	var req SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	res, err := s.svc.Submit(c.UserContext(), c.IP(), req)
	if err != nil {
		return s.fail(c, "submit", err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// chat handles POST /api/v1/sessions/:id/messages.
func (s *Server) chat(c *fiber.Ctx) error {
	var req MessageRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	res, err := s.svc.Chat(c.UserContext(), c.IP(), c.Params("id"), req.Message)
	if err != nil {
		return s.fail(c, "chat", err)
	}
	return c.JSON(res)
}

// transition handles POST /api/v1/sessions/:id/transition. A rejected edge
// is a 409 whose body still carries the session's current state.
func (s *Server) transition(c *fiber.Ctx) error {
	var req TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	target, ok := session.ParseState(req.State)
	if !ok {
		return s.fail(c, "transition", perrors.NewValidationError("state", "unknown state "+req.State))
	}

	res, err := s.svc.Transition(c.UserContext(), c.Params("id"), target)
	if err != nil {
		if res != nil && perrors.KindOf(err) == perrors.KindInvalidTransition {
			return c.Status(fiber.StatusConflict).JSON(res)
		}
		return s.fail(c, "transition", err)
	}
	return c.JSON(res)
}

// requestQuote handles POST /api/v1/sessions/:id/quote. The body is
// optional; without one the request counts as coming from the UI.
func (s *Server) requestQuote(c *fiber.Ctx) error {
	req := QuoteRequest{Source: conversation.SourceUI}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_body", "Bad Request",
				"Invalid request body: "+err.Error())
		}
		if req.Source == "" {
			req.Source = conversation.SourceUI
		}
	}
	res, err := s.svc.RequestQuote(c.UserContext(), c.Params("id"), req.Source)
	if err != nil {
		return s.fail(c, "quote", err)
	}
	return c.JSON(res)
}

// quoteWebhook handles POST /api/v1/webhooks/quote.
func (s *Server) quoteWebhook(c *fiber.Ctx) error {
	var req QuoteWebhook
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	res, err := s.svc.RequestQuote(c.UserContext(), req.SessionID, conversation.SourceWebhook)
	if err != nil {
		return s.fail(c, "quote_webhook", err)
	}
	return c.JSON(res)
}

// subscribe handles POST /api/v1/sessions/:id/subscribe.
func (s *Server) subscribe(c *fiber.Ctx) error {
	var req SubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	res, err := s.svc.Subscribe(c.UserContext(), c.Params("id"), req.Email)
	if err != nil {
		return s.fail(c, "subscribe", err)
	}
	return c.JSON(res)
}

// track handles POST /api/v1/sessions/:id/track/:event.
func (s *Server) track(c *fiber.Ctx) error {
	var (
		res *conversation.Result
		err error
	)
	switch ev := c.Params("event"); ev {
	case TrackConsultation:
		res, err = s.svc.TrackConsultationClick(c.UserContext(), c.Params("id"))
	case TrackAdditionalWorkflow:
		res, err = s.svc.TrackAdditionalWorkflowClick(c.UserContext(), c.Params("id"))
	default:
		return problemResponse(c, fiber.StatusNotFound,
			"unknown_event", "Not Found",
			"Unknown track event: "+ev)
	}
	if err != nil {
		return s.fail(c, "track", err)
	}
	return c.JSON(res)
}

// getSession handles GET /api/v1/sessions/:id.
func (s *Server) getSession(c *fiber.Ctx) error {
	view, err := s.svc.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, "get", err)
	}
	return c.JSON(view)
}

// exportSession handles GET /api/v1/sessions/:id/export.
func (s *Server) exportSession(c *fiber.Ctx) error {
	exp, err := s.svc.Export(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, "export", err)
	}
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+c.Params("id")+`.json"`)
	return c.JSON(exp)
}

// deleteSession handles DELETE /api/v1/sessions/:id.
func (s *Server) deleteSession(c *fiber.Ctx) error {
	if err := s.svc.Delete(c.UserContext(), c.Params("id")); err != nil {
		return s.fail(c, "delete", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
