package httpapi

import (
	"errors"
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"

	perrors "github.com/p-blackswan/leadflow/internal/errors"
	"github.com/p-blackswan/leadflow/internal/requestid"
)

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:      errType,
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  c.Path(),
		RequestID: requestid.FromContext(c.UserContext()),
	})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case perrors.KindValidation, perrors.KindInvalidSession:
		return fiber.StatusBadRequest
	case perrors.KindRateLimited:
		return fiber.StatusTooManyRequests
	case perrors.KindSessionNotFound:
		return fiber.StatusNotFound
	case perrors.KindSessionExpired:
		return fiber.StatusGone
	case perrors.KindInvalidTransition:
		return fiber.StatusConflict
	case perrors.KindStore, perrors.KindGeneration:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// errorResponse renders err as a problem detail. Diagnostic detail of
// infrastructure failures never reaches the caller.
func errorResponse(c *fiber.Ctx, err error) error {
	kind := perrors.KindOf(err)
	status := statusFor(kind)
	title := fiber.NewError(status).Message

	detail := err.Error()
	switch kind {
	case perrors.KindStore, perrors.KindInternal:
		detail = "The service is temporarily unavailable. Please try again shortly."
	case perrors.KindGeneration:
		var ge *perrors.GenerationError
		if errors.As(err, &ge) {
			detail = ge.SafeMessage()
		} else {
			detail = "The assistant is unavailable right now."
		}
	case perrors.KindSessionNotFound:
		detail = "No session with this id exists."
	case perrors.KindSessionExpired:
		detail = "This session has expired. Please start a new questionnaire."
	}

	p := ProblemDetail{
		Type:      kind,
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  c.Path(),
		RequestID: requestid.FromContext(c.UserContext()),
	}

	var rl *perrors.RateLimitError
	if errors.As(err, &rl) && !rl.Permanent && rl.RetryAfter > 0 {
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
		p.RetryAfter = secs
	}

	return c.Status(status).JSON(p)
}
