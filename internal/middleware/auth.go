package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/nridwan/elysian-realm-sub000/internal/models"
	"github.com/nridwan/elysian-realm-sub000/pkg/logger"
	"github.com/nridwan/elysian-realm-sub000/pkg/utils"
)

const principalKey = "principal"

type TokenVerifier interface {
	Verify(token string) (*utils.Claims, error)
}

// AuthMiddleware turns a bearer token into a principal on the request.
// The principal comes from the token claims alone.
type AuthMiddleware struct {
	Tokens TokenVerifier
}

func NewAuthMiddleware(tokens TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{Tokens: tokens}
}

func CORS(allowedOrigins string) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
	})
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	authHeader := c.Get("Authorization")
	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
	if authHeader == "" || tokenString == authHeader || tokenString == "" {
		return "", false
	}
	return tokenString, true
}

func (a *AuthMiddleware) principalFromToken(tokenString string) (*models.Principal, error) {
	claims, err := a.Tokens.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	principal := claims.Principal
	return &principal, nil
}

func (a *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	tokenString, ok := bearerToken(c)
	if !ok {
		logger.Warn("jwt_missing_header", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.Error(c, utils.ServiceAuth, fiber.StatusUnauthorized, "Unauthorized")
	}

	principal, err := a.principalFromToken(tokenString)
	if err != nil {
		logger.Warn("jwt_validation_failed", map[string]interface{}{
			"ip":    c.IP(),
			"path":  c.Path(),
			"error": err.Error(),
		})
		return utils.Error(c, utils.ServiceAuth, fiber.StatusUnauthorized, "Unauthorized")
	}

	c.Locals(principalKey, principal)
	return c.Next()
}

// OptionalAuth attaches a principal when a valid token is present and
// otherwise lets the request through untouched.
func (a *AuthMiddleware) OptionalAuth(c *fiber.Ctx) error {
	tokenString, ok := bearerToken(c)
	if !ok {
		return c.Next()
	}

	if principal, err := a.principalFromToken(tokenString); err == nil {
		c.Locals(principalKey, principal)
	}
	return c.Next()
}

func RequireAuthenticated(c *fiber.Ctx) error {
	if GetPrincipal(c) == nil {
		return utils.Error(c, utils.ServiceAuth, fiber.StatusUnauthorized, "Unauthorized")
	}
	return c.Next()
}

// RequirePermission passes only principals holding exactly permission.
func RequirePermission(permission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal := GetPrincipal(c)
		if principal == nil {
			return utils.Error(c, utils.ServiceAuth, fiber.StatusUnauthorized, "Unauthorized")
		}
		if !principal.HasPermission(permission) {
			logger.WarnWithUser(principal.ID.String(), "permission_denied", map[string]interface{}{
				"permission": permission,
				"role":       principal.Role.Name,
				"method":     c.Method(),
				"path":       c.Path(),
			})
			return utils.Error(c, utils.ServiceAuth, fiber.StatusForbidden, "Forbidden: insufficient permissions")
		}
		return c.Next()
	}
}

func GetPrincipal(c *fiber.Ctx) *models.Principal {
	principal, ok := c.Locals(principalKey).(*models.Principal)
	if !ok {
		return nil
	}
	return principal
}
