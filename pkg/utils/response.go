package utils

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Service prefixes embedded in meta.code, e.g. "PASSKEY-400".
const (
	ServiceAuth    = "AUTH"
	ServicePasskey = "PASSKEY"
	ServiceAdmin   = "ADMIN"
	ServiceAudit   = "AUDIT"
)

type Meta struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors,omitempty"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

func Code(service string, status int) string {
	return fmt.Sprintf("%s-%d", service, status)
}

func Success(c *fiber.Ctx, service string, status int, message string, data any) error {
	return c.Status(status).JSON(Envelope{
		Meta: Meta{Code: Code(service, status), Message: message},
		Data: data,
	})
}

func Error(c *fiber.Ctx, service string, status int, message string) error {
	return c.Status(status).JSON(Envelope{
		Meta: Meta{Code: Code(service, status), Message: message},
	})
}

func ValidationError(c *fiber.Ctx, service string, errs []FieldError) error {
	return c.Status(fiber.StatusBadRequest).JSON(Envelope{
		Meta: Meta{
			Code:    Code(service, fiber.StatusBadRequest),
			Message: "Validation failed",
			Errors:  errs,
		},
	})
}
