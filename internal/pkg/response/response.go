package response

import (
	"context"
	"errors"

	"cryptofolio-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
)

// SuccessBody is the standardized success JSON shape.
type SuccessBody struct {
	Status   string      `json:"status"`
	Message  string      `json:"message"`
	Data     interface{} `json:"data"`
	Metadata interface{} `json:"metadata,omitempty"`
}

// ErrorBody is the standardized error JSON shape.
type ErrorBody struct {
	Status string      `json:"status"`
	Error  ErrorDetail `json:"error"`
}

// ErrorDetail is the nested error object.
type ErrorDetail struct {
	Message    string      `json:"message"`
	StatusCode int         `json:"statusCode"`
	Details    interface{} `json:"details,omitempty"`
}

// DomainDetails is the details object of an error raised by the ledger, valuation or adapters.
type DomainDetails struct {
	Kind      string `json:"kind"`
	Applied   string `json:"applied"`
	Retryable bool   `json:"retryable"`
}

const statusSuccess = "success"
const statusError = "error"

// Success sends a 200 OK response with the standard success format.
func Success(c *fiber.Ctx, message string, data interface{}, metadata interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return c.Status(fiber.StatusOK).JSON(SuccessBody{
		Status:   statusSuccess,
		Message:  message,
		Data:     data,
		Metadata: metadata,
	})
}

// SuccessCreated sends a 201 Created response with the standard success format.
func SuccessCreated(c *fiber.Ctx, message string, data interface{}, metadata interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return c.Status(fiber.StatusCreated).JSON(SuccessBody{
		Status:   statusSuccess,
		Message:  message,
		Data:     data,
		Metadata: metadata,
	})
}

// Error sends a response with the standard error format.
func Error(c *fiber.Ctx, message string, statusCode int, details interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	return c.Status(statusCode).JSON(ErrorBody{
		Status: statusError,
		Error: ErrorDetail{
			Message:    message,
			StatusCode: statusCode,
			Details:    details,
		},
	})
}

// Unauthorized sends 401 with the same shape as other errors (status "error", error.message).
func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, message, fiber.StatusUnauthorized, nil)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return fiber.StatusNotFound
	case domain.KindInvalidArgument:
		return fiber.StatusBadRequest
	case domain.KindUpstreamUnavailable:
		return fiber.StatusBadGateway
	case domain.KindConflict:
		return fiber.StatusConflict
	case domain.KindInvariantViolation:
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

// Fail renders a *domain.Error with its kind, whether anything was applied and
// whether the client may retry. handled is false when err is not a domain error.
// Upstream timeouts are 503, other upstream failures 502.
func Fail(c *fiber.Ctx, err error) (handled bool, sendErr error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		return false, nil
	}
	applied := "none"
	if de.Applied {
		applied = "partial"
	}
	status := StatusFor(de.Kind)
	if de.Kind == domain.KindUpstreamUnavailable && errors.Is(err, context.DeadlineExceeded) {
		status = fiber.StatusServiceUnavailable
	}
	message := de.Message
	if status == fiber.StatusInternalServerError {
		message = "Internal Server Error"
	}
	return true, Error(c, message, status, DomainDetails{
		Kind:      de.Kind.String(),
		Applied:   applied,
		Retryable: de.Retryable(),
	})
}
