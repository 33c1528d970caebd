package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/nridwan/elysian-realm-sub000/internal/audit"
	"github.com/nridwan/elysian-realm-sub000/pkg/utils"
)

type memorySink struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (s *memorySink) Write(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memorySink) all() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Entry(nil), s.entries...)
}

func newAuditApp(sink audit.Sink) *fiber.App {
	auth := NewAuthMiddleware(utils.NewTokenIssuer(testSecret, 1))
	app := fiber.New()
	app.Use(recover.New())
	app.Use(AuditTrail(sink))
	app.Use(auth.OptionalAuth)

	app.Post("/multi", func(c *fiber.Ctx) error {
		trail := GetAuditTrail(c)
		trail.RecordStartAction("MULTI_OP")
		trail.RecordStartAction("IGNORED")
		_ = trail.RecordChange("user", map[string]any{"name": "a"}, map[string]any{"name": "b"})
		_ = trail.RecordChange("role", "viewer", "editor")
		return c.SendStatus(fiber.StatusOK)
	})
	app.Post("/rejected", func(c *fiber.Ctx) error {
		trail := GetAuditTrail(c)
		trail.RecordStartAction("UPDATE_ADMIN")
		_ = trail.RecordChange("user", 1, 2)
		trail.MarkForRollback()
		return utils.Error(c, utils.ServiceAdmin, fiber.StatusBadRequest, "rejected")
	})
	app.Post("/failing", func(c *fiber.Ctx) error {
		GetAuditTrail(c).RecordStartAction("FAILING")
		return errors.New("handler failed")
	})
	app.Post("/panics", func(c *fiber.Ctx) error {
		GetAuditTrail(c).RecordStartAction("PANICS")
		panic("boom")
	})
	app.Post("/explicit", func(c *fiber.Ctx) error {
		trail := GetAuditTrail(c)
		trail.RecordStartAction("EXPLICIT")
		_ = trail.RecordChange("passkey_credentials", nil, "cred")
		if err := FlushAudit(c); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/read", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func post(t *testing.T, app *fiber.App, path string, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestAuditTrail_AggregatesOneRowPerRequest(t *testing.T) {
	sink := &memorySink{}
	app := newAuditApp(sink)
	principal, token := issueToken(t, nil)

	resp := post(t, app, "/multi", map[string]string{
		"Authorization":   "Bearer " + token,
		"X-Forwarded-For": "203.0.113.5, 10.0.0.1",
		"User-Agent":      "audit-test",
	})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	entries := sink.all()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Action != "MULTI_OP" {
		t.Errorf("expected first action label, got %s", entry.Action)
	}
	if len(entry.Changes) != 2 || entry.Changes[0].TableName != "user" || entry.Changes[1].TableName != "role" {
		t.Errorf("unexpected changes %+v", entry.Changes)
	}
	if entry.UserID == nil || *entry.UserID != principal.ID {
		t.Errorf("expected principal id on row, got %v", entry.UserID)
	}
	if entry.IPAddress != "203.0.113.5" || entry.UserAgent != "audit-test" {
		t.Errorf("unexpected meta %s %s", entry.IPAddress, entry.UserAgent)
	}
}

func TestAuditTrail_AnonymousRequestHasNoUser(t *testing.T) {
	sink := &memorySink{}
	app := newAuditApp(sink)

	req := httptest.NewRequest(http.MethodPost, "/multi", nil)
	if _, err := app.Test(req); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	entries := sink.all()
	if len(entries) != 1 {
		t.Fatalf("expected one row, got %d", len(entries))
	}
	if entries[0].UserID != nil {
		t.Errorf("expected null user id, got %v", entries[0].UserID)
	}
	if entries[0].IPAddress != "unknown" {
		t.Errorf("expected unknown ip, got %s", entries[0].IPAddress)
	}
}

func TestAuditTrail_FlushRules(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantRows   int
		wantAction string
	}{
		{"rollback suppresses the row", "/rejected", fiber.StatusBadRequest, 0, ""},
		{"handler error still flushes", "/failing", fiber.StatusInternalServerError, 1, "FAILING"},
		{"panic still flushes", "/panics", fiber.StatusInternalServerError, 1, "PANICS"},
		{"explicit flush is not repeated", "/explicit", fiber.StatusOK, 1, "EXPLICIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &memorySink{}
			app := newAuditApp(sink)

			resp := post(t, app, tt.path, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			entries := sink.all()
			if len(entries) != tt.wantRows {
				t.Fatalf("expected %d rows, got %d", tt.wantRows, len(entries))
			}
			if tt.wantRows == 1 && entries[0].Action != tt.wantAction {
				t.Fatalf("expected action %s, got %s", tt.wantAction, entries[0].Action)
			}
		})
	}

	t.Run("request without an action writes nothing", func(t *testing.T) {
		sink := &memorySink{}
		app := newAuditApp(sink)
		req := httptest.NewRequest(http.MethodGet, "/read", nil)
		if _, err := app.Test(req); err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if len(sink.all()) != 0 {
			t.Fatal("expected no rows")
		}
	})
}

func TestAuditTrail_SinkFailureDoesNotChangeResponse(t *testing.T) {
	sink := &memorySink{err: errors.New("database down")}
	app := newAuditApp(sink)

	resp := post(t, app, "/multi", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 despite sink failure, got %d", resp.StatusCode)
	}
}

func TestGetAuditTrail_WithoutMiddleware(t *testing.T) {
	app := fiber.New()
	app.Post("/", func(c *fiber.Ctx) error {
		trail := GetAuditTrail(c)
		trail.RecordStartAction("DETACHED")
		if GetAuditTrail(c) != trail {
			return c.SendStatus(fiber.StatusConflict)
		}
		if err := FlushAudit(c); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
