package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/nridwan/elysian-realm-sub000/internal/models"
	"github.com/nridwan/elysian-realm-sub000/internal/services"
	"github.com/nridwan/elysian-realm-sub000/pkg/logger"
	"github.com/nridwan/elysian-realm-sub000/pkg/utils"
)

// TokenSigner issues the bearer token returned by the login endpoints.
type TokenSigner interface {
	Sign(principal models.Principal) (string, error)
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

// bindRequest decodes and validates the body, writing the 400 response
// itself. A false return means the handler should return err as-is.
func bindRequest(c *fiber.Ctx, service string, req any) (bool, error) {
	fieldErrs, err := utils.ParseAndValidate(c, req)
	if err != nil {
		return false, utils.Error(c, service, fiber.StatusBadRequest, "Invalid request body")
	}
	if len(fieldErrs) > 0 {
		return false, utils.ValidationError(c, service, fieldErrs)
	}
	return true, nil
}

type passkeyFailure struct {
	target  error
	status  int
	message string
}

// passkeyFailures is checked in order; ErrAuthenticationFailed wraps the
// verification and replay errors so it comes first.
var passkeyFailures = []passkeyFailure{
	{services.ErrUserNotFound, fiber.StatusNotFound, "User not found"},
	{services.ErrNoPasskeys, fiber.StatusNotFound, "No passkeys found for this user"},
	{services.ErrPasskeyNotFound, fiber.StatusNotFound, "Passkey not found"},
	{services.ErrNoRegistrationChallenge, fiber.StatusBadRequest, "No registration challenge found"},
	{services.ErrNoAuthenticationChallenge, fiber.StatusBadRequest, "No authentication challenge found"},
	{services.ErrSessionRequired, fiber.StatusBadRequest, "Session uuid is required"},
	{services.ErrAuthenticationFailed, fiber.StatusUnauthorized, "Authentication failed"},
	{services.ErrVerificationFailed, fiber.StatusBadRequest, "Passkey verification failed"},
}

func passkeyError(c *fiber.Ctx, action string, err error) error {
	for _, f := range passkeyFailures {
		if errors.Is(err, f.target) {
			return utils.Error(c, utils.ServicePasskey, f.status, f.message)
		}
	}

	logger.Error(action, err, map[string]interface{}{
		"path": c.Path(),
	})
	return utils.Error(c, utils.ServicePasskey, fiber.StatusInternalServerError, "Internal server error")
}
