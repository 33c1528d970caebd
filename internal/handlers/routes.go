package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/nridwan/elysian-realm-sub000/internal/audit"
	"github.com/nridwan/elysian-realm-sub000/internal/middleware"
	"github.com/nridwan/elysian-realm-sub000/internal/models"
	"github.com/nridwan/elysian-realm-sub000/pkg/utils"
)

// Routes groups everything mounted under /api.
type Routes struct {
	Auth     *AuthHandler
	Passkeys *PasskeyHandler
	Admins   *AdminsHandler
	Audit    *AuditHandler

	AuthMiddleware *middleware.AuthMiddleware
	AuditSink      audit.Sink
	// AuthRateLimit caps passkey authentication calls per IP per minute.
	// Zero disables the limiter.
	AuthRateLimit int
}

func (r *Routes) authLimiter() fiber.Handler {
	if r.AuthRateLimit <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        r.AuthRateLimit,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return utils.Error(c, utils.ServicePasskey, fiber.StatusTooManyRequests, "Too many requests")
		},
	})
}

func (r *Routes) Register(app fiber.Router) {
	requireAuth := r.AuthMiddleware.RequireAuth

	api := app.Group("/api", middleware.AuditTrail(r.AuditSink))

	authRoutes := api.Group("/auth")
	authRoutes.Post("/login", r.authLimiter(), r.Auth.Login)
	authRoutes.Get("/me", requireAuth, r.Auth.Me)

	passkeyRoutes := api.Group("/passkeys")
	passkeyRoutes.Post("/register/start", requireAuth, r.Passkeys.RegisterStart)
	passkeyRoutes.Post("/register/finish", requireAuth, r.Passkeys.RegisterFinish)

	authenticate := passkeyRoutes.Group("/authenticate", r.authLimiter())
	authenticate.Post("/start", r.Passkeys.AuthenticateStart)
	authenticate.Post("/passwordless/start", r.Passkeys.PasswordlessStart)
	authenticate.Post("/finish", r.Passkeys.AuthenticateFinish)

	passkeyRoutes.Get("/", requireAuth, r.Passkeys.List)
	passkeyRoutes.Patch("/:id", requireAuth, r.Passkeys.Rename)
	passkeyRoutes.Delete("/:id", requireAuth, r.Passkeys.Delete)

	adminRoutes := api.Group("/admins", requireAuth)
	adminRoutes.Get("/:id", middleware.RequirePermission(models.PermissionAdminsRead), r.Admins.Get)
	adminRoutes.Put("/:id", middleware.RequirePermission(models.PermissionAdminsUpdate), r.Admins.Update)
	adminRoutes.Delete("/:id", middleware.RequirePermission(models.PermissionAdminsDelete), r.Admins.Delete)

	auditRoutes := api.Group("/audit", requireAuth)
	auditRoutes.Get("/", middleware.RequirePermission(models.PermissionAuditRead), r.Audit.List)
	auditRoutes.Get("/export", middleware.RequirePermission(models.PermissionAuditRead), r.Audit.Export)
	auditRoutes.Put("/:id/rollback", middleware.RequirePermission(models.PermissionAuditUpdate), r.Audit.Rollback)
}
