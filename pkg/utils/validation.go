package utils

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

func init() {
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// ErrInvalidBody is returned when the request body cannot be decoded.
var ErrInvalidBody = errors.New("invalid request body")

// ParseAndValidate decodes the body into req and runs its validate tags.
// Field failures come back as a non-nil slice with a nil error.
func ParseAndValidate(c *fiber.Ctx, req any) ([]FieldError, error) {
	if err := c.BodyParser(req); err != nil {
		return nil, ErrInvalidBody
	}
	return ValidateStruct(req), nil
}

func ValidateStruct(req any) []FieldError {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []FieldError{{Field: "", Rule: err.Error()}}
	}

	out := make([]FieldError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, FieldError{
			Field: fe.Field(),
			Rule:  fe.Tag(),
			Param: fe.Param(),
		})
	}
	return out
}
