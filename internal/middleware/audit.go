package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/nridwan/elysian-realm-sub000/internal/audit"
)

const auditTrailKey = "auditTrail"

// AuditTrail gives every request its own trail and flushes it once the
// rest of the chain has finished, whether it returned an error or panicked.
// Flush failures are logged by the trail and never reach the client.
func AuditTrail(sink audit.Sink) fiber.Handler {
	return func(c *fiber.Ctx) error {
		trail := audit.NewTrail(sink)
		c.Locals(auditTrailKey, trail)

		defer func() {
			_ = trail.Flush(c.UserContext(), requestMeta(c))
		}()

		return c.Next()
	}
}

// GetAuditTrail returns the request's trail. Without AuditTrail in the
// chain it returns a detached trail that never writes.
func GetAuditTrail(c *fiber.Ctx) *audit.Trail {
	if trail, ok := c.Locals(auditTrailKey).(*audit.Trail); ok {
		return trail
	}
	trail := audit.NewTrail(nil)
	c.Locals(auditTrailKey, trail)
	return trail
}

// FlushAudit writes the pending row now. The end-of-request flush will not
// repeat it.
func FlushAudit(c *fiber.Ctx) error {
	return GetAuditTrail(c).Flush(c.UserContext(), requestMeta(c))
}

func requestMeta(c *fiber.Ctx) audit.RequestMeta {
	meta := audit.MetaFromHeaders(func(key string) string {
		return c.Get(key)
	})
	if principal := GetPrincipal(c); principal != nil {
		id := principal.ID
		meta.UserID = &id
	}
	return meta
}
