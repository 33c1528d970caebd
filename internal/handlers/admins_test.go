package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/descope/virtualwebauthn"
	"github.com/google/uuid"
	"github.com/nridwan/elysian-realm-sub000/internal/models"
)

func TestAdminPermissionGate(t *testing.T) {
	env := setupTestEnv(t)
	reader, readerToken := env.createTestUser(t, "reader@example.com", "password123", []string{models.PermissionAdminsRead})
	target, _ := env.createTestUser(t, "target@example.com", "password123", nil)

	t.Run("read permission passes", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/admins/"+target.ID.String(), nil, authHeaders(readerToken))
		assertStatus(t, resp, http.StatusOK)
		data := decodeJSONMap(t, resp)["data"].(map[string]any)
		if data["email"] != target.Email {
			t.Fatalf("expected %s, got %v", target.Email, data["email"])
		}
	})

	t.Run("delete without permission is forbidden", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodDelete, "/api/admins/"+target.ID.String(), nil, authHeaders(readerToken))
		assertStatus(t, resp, http.StatusForbidden)
		body := decodeJSONMap(t, resp)
		meta := body["meta"].(map[string]any)
		if code, _ := meta["code"].(string); !strings.HasSuffix(code, "403") {
			t.Fatalf("expected code ending in 403, got %q", code)
		}
		if message, _ := meta["message"].(string); !strings.Contains(message, "Forbidden") {
			t.Fatalf("expected Forbidden message, got %q", message)
		}

		var count int64
		env.db.Model(&models.User{}).Where("id = ?", target.ID).Count(&count)
		if count != 1 {
			t.Fatal("forbidden request must not delete the admin")
		}
	})

	t.Run("no token is unauthorized", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/admins/"+reader.ID.String(), nil, nil)
		assertStatus(t, resp, http.StatusUnauthorized)
	})

	t.Run("unknown admin", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/admins/"+uuid.NewString(), nil, authHeaders(readerToken))
		assertStatus(t, resp, http.StatusNotFound)
		assertMeta(t, decodeJSONMap(t, resp), "ADMIN-404", "Admin not found")
	})

	t.Run("invalid id", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/api/admins/not-a-uuid", nil, authHeaders(readerToken))
		assertStatus(t, resp, http.StatusBadRequest)
		assertMeta(t, decodeJSONMap(t, resp), "ADMIN-400", "Invalid admin id")
	})
}

func TestAdminUpdateEndpoint(t *testing.T) {
	env := setupTestEnv(t)
	editor, editorToken := env.createTestUser(t, "editor@example.com", "password123", []string{models.PermissionAdminsUpdate})
	target, _ := env.createTestUser(t, "target@example.com", "password123", []string{models.PermissionAdminsRead})
	newRole := createTestRole(t, env.db, []string{models.PermissionAuditRead})

	t.Run("profile and role change is one audit row with two changes", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/admins/"+target.ID.String(), map[string]any{
			"name":   "Renamed Admin",
			"roleId": newRole.ID.String(),
		}, authHeaders(editorToken))
		assertStatus(t, resp, http.StatusOK)
		data := decodeJSONMap(t, resp)["data"].(map[string]any)
		if data["name"] != "Renamed Admin" || data["roleID"] != newRole.ID.String() {
			t.Fatalf("unexpected updated admin %v", data)
		}

		logs := env.auditLogsFor(t, actionUpdateAdmin)
		if len(logs) != 1 {
			t.Fatalf("expected one audit row, got %d", len(logs))
		}
		row := logs[0]
		if row.UserID == nil || *row.UserID != editor.ID {
			t.Fatalf("expected row attributed to editor, got %v", row.UserID)
		}
		if len(row.Changes) != 2 || row.Changes[0].TableName != usersTable || row.Changes[1].TableName != rolesTable {
			t.Fatalf("expected users then roles changes, got %+v", row.Changes)
		}
		before := row.Changes[0].OldValue.(map[string]any)
		after := row.Changes[0].NewValue.(map[string]any)
		if before["name"] != "Test Admin" || after["name"] != "Renamed Admin" {
			t.Fatalf("unexpected user change %v -> %v", before, after)
		}
	})

	t.Run("unknown role leaves no audit row", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/admins/"+target.ID.String(), map[string]any{
			"roleId": uuid.NewString(),
		}, authHeaders(editorToken))
		assertStatus(t, resp, http.StatusBadRequest)
		assertMeta(t, decodeJSONMap(t, resp), "ADMIN-400", "Role not found")

		if logs := env.auditLogsFor(t, actionUpdateAdmin); len(logs) != 1 {
			t.Fatalf("expected rejected update to add no row, got %d rows", len(logs))
		}
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/admins/"+target.ID.String(), map[string]any{
			"email": editor.Email,
		}, authHeaders(editorToken))
		assertStatus(t, resp, http.StatusConflict)
		assertMeta(t, decodeJSONMap(t, resp), "ADMIN-409", "Email already in use")
	})

	t.Run("empty update", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/admins/"+target.ID.String(), map[string]any{}, authHeaders(editorToken))
		assertStatus(t, resp, http.StatusBadRequest)
		assertMeta(t, decodeJSONMap(t, resp), "ADMIN-400", "No valid fields to update")
	})

	t.Run("invalid payload", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/api/admins/"+target.ID.String(), map[string]any{
			"email":  "nope",
			"roleId": "also-nope",
		}, authHeaders(editorToken))
		assertStatus(t, resp, http.StatusBadRequest)
		assertMeta(t, decodeJSONMap(t, resp), "ADMIN-400", "Validation failed")
	})
}

type brokenEmailLookup struct {
	AdminStore
}

func (brokenEmailLookup) FindByEmail(context.Context, string) (*models.User, error) {
	return nil, errors.New("connection reset by peer")
}

func TestAdminUpdateEmailLookupFailure(t *testing.T) {
	env := setupTestEnvWith(t, envOptions{
		wrapAdmins: func(store AdminStore) AdminStore { return brokenEmailLookup{AdminStore: store} },
	})
	_, editorToken := env.createTestUser(t, "editor@example.com", "password123", []string{models.PermissionAdminsUpdate})
	target, _ := env.createTestUser(t, "target@example.com", "password123", []string{models.PermissionAdminsRead})

	resp := performJSONRequest(t, env.app, http.MethodPut, "/api/admins/"+target.ID.String(), map[string]any{
		"email": "fresh@example.com",
	}, authHeaders(editorToken))
	assertStatus(t, resp, http.StatusInternalServerError)
	assertMeta(t, decodeJSONMap(t, resp), "ADMIN-500", "Internal server error")

	var stored models.User
	if err := env.db.First(&stored, "id = ?", target.ID).Error; err != nil {
		t.Fatalf("failed reloading target: %v", err)
	}
	if stored.Email != "target@example.com" {
		t.Fatalf("expected email to stay unchanged, got %s", stored.Email)
	}
	if logs := env.auditLogsFor(t, actionUpdateAdmin); len(logs) != 0 {
		t.Fatalf("expected failed update to leave no audit row, got %d", len(logs))
	}
}

func TestAdminDeleteEndpoint(t *testing.T) {
	env := setupTestEnv(t)
	deleter, deleterToken := env.createTestUser(t, "deleter@example.com", "password123", []string{models.PermissionAdminsDelete})
	target, targetToken := env.createTestUser(t, "target@example.com", "password123", nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	env.registerPasskey(t, targetToken, &authenticator)

	t.Run("self delete is rejected without an audit row", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodDelete, "/api/admins/"+deleter.ID.String(), nil, authHeaders(deleterToken))
		assertStatus(t, resp, http.StatusBadRequest)
		assertMeta(t, decodeJSONMap(t, resp), "ADMIN-400", "Cannot delete your own account")

		if logs := env.auditLogsFor(t, actionDeleteAdmin); len(logs) != 0 {
			t.Fatalf("expected no audit row, got %d", len(logs))
		}
	})

	t.Run("delete removes the admin and their passkeys", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodDelete, "/api/admins/"+target.ID.String(), nil, authHeaders(deleterToken))
		assertStatus(t, resp, http.StatusOK)
		resp.Body.Close()

		var users, credentials int64
		env.db.Model(&models.User{}).Where("id = ?", target.ID).Count(&users)
		env.db.Model(&models.PasskeyCredential{}).Where("owner_id = ?", target.ID).Count(&credentials)
		if users != 0 || credentials != 0 {
			t.Fatalf("expected admin and passkeys gone, got %d users and %d passkeys", users, credentials)
		}

		logs := env.auditLogsFor(t, actionDeleteAdmin)
		if len(logs) != 1 {
			t.Fatalf("expected one audit row, got %d", len(logs))
		}
		if len(logs[0].Changes) != 2 || logs[0].Changes[0].TableName != usersTable || logs[0].Changes[1].TableName != passkeyTable {
			t.Fatalf("unexpected changes %+v", logs[0].Changes)
		}
		if logs[0].Changes[0].NewValue != nil {
			t.Fatalf("expected deleted admin new value to be null, got %v", logs[0].Changes[0].NewValue)
		}
	})
}
