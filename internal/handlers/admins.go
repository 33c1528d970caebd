package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/nridwan/elysian-realm-sub000/internal/middleware"
	"github.com/nridwan/elysian-realm-sub000/internal/models"
	"github.com/nridwan/elysian-realm-sub000/internal/repository"
	"github.com/nridwan/elysian-realm-sub000/internal/services"
	"github.com/nridwan/elysian-realm-sub000/pkg/logger"
	"github.com/nridwan/elysian-realm-sub000/pkg/utils"
)

const (
	actionUpdateAdmin = "UPDATE_ADMIN"
	actionDeleteAdmin = "DELETE_ADMIN"

	usersTable = "users"
	rolesTable = "roles"
)

type AdminStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type RoleFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Role, error)
}

type AdminsHandler struct {
	Admins      AdminStore
	Roles       RoleFinder
	Credentials services.CredentialRepository
}

func NewAdminsHandler(admins AdminStore, roles RoleFinder, credentials services.CredentialRepository) *AdminsHandler {
	return &AdminsHandler{Admins: admins, Roles: roles, Credentials: credentials}
}

func adminSnapshot(user *models.User) map[string]interface{} {
	return map[string]interface{}{
		"id":      user.ID.String(),
		"email":   user.Email,
		"name":    user.Name,
		"role_id": user.RoleID.String(),
	}
}

// loadAdmin writes the error response itself; callers return the error
// as-is when the user is nil.
func (h *AdminsHandler) loadAdmin(c *fiber.Ctx) (*models.User, error) {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return nil, utils.Error(c, utils.ServiceAdmin, fiber.StatusBadRequest, "Invalid admin id")
	}

	user, err := h.Admins.FindByID(c.UserContext(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, utils.Error(c, utils.ServiceAdmin, fiber.StatusNotFound, "Admin not found")
	}
	if err != nil {
		logger.Error("admin_lookup_failed", err, map[string]interface{}{"admin_id": id.String()})
		return nil, utils.Error(c, utils.ServiceAdmin, fiber.StatusInternalServerError, "Internal server error")
	}
	return user, nil
}

func (h *AdminsHandler) Get(c *fiber.Ctx) error {
	user, err := h.loadAdmin(c)
	if user == nil {
		return err
	}
	return utils.Success(c, utils.ServiceAdmin, fiber.StatusOK, "Admin retrieved", user)
}

type updateAdminRequest struct {
	Name   *string `json:"name" validate:"omitempty,min=1,max=200"`
	Email  *string `json:"email" validate:"omitempty,email"`
	RoleID *string `json:"roleId" validate:"omitempty,uuid"`
}

// Update changes the admin's profile and role. A rejected update leaves no
// audit row behind.
func (h *AdminsHandler) Update(c *fiber.Ctx) error {
	trail := middleware.GetAuditTrail(c)
	trail.RecordStartAction(actionUpdateAdmin)

	var req updateAdminRequest
	if ok, err := bindRequest(c, utils.ServiceAdmin, &req); !ok {
		trail.MarkForRollback()
		return err
	}

	user, err := h.loadAdmin(c)
	if user == nil {
		trail.MarkForRollback()
		return err
	}
	before := adminSnapshot(user)

	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			trail.MarkForRollback()
			return utils.Error(c, utils.ServiceAdmin, fiber.StatusBadRequest, "Name cannot be empty")
		}
		updates["name"] = name
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		existing, err := h.Admins.FindByEmail(c.UserContext(), email)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			trail.MarkForRollback()
			logger.Error("admin_email_lookup_failed", err, map[string]interface{}{"admin_id": user.ID.String()})
			return utils.Error(c, utils.ServiceAdmin, fiber.StatusInternalServerError, "Internal server error")
		}
		if existing != nil && existing.ID != user.ID {
			trail.MarkForRollback()
			return utils.Error(c, utils.ServiceAdmin, fiber.StatusConflict, "Email already in use")
		}
		if email != user.Email {
			updates["email"] = email
		}
	}

	var newRole *models.Role
	if req.RoleID != nil {
		roleID, _ := parseUUID(*req.RoleID)
		newRole, err = h.Roles.FindByID(c.UserContext(), roleID)
		if errors.Is(err, repository.ErrNotFound) {
			trail.MarkForRollback()
			return utils.Error(c, utils.ServiceAdmin, fiber.StatusBadRequest, "Role not found")
		}
		if err != nil {
			trail.MarkForRollback()
			logger.Error("role_lookup_failed", err, map[string]interface{}{"role_id": roleID.String()})
			return utils.Error(c, utils.ServiceAdmin, fiber.StatusInternalServerError, "Internal server error")
		}
		if newRole.ID != user.RoleID {
			updates["role_id"] = newRole.ID
		}
	}

	if len(updates) == 0 {
		trail.MarkForRollback()
		return utils.Error(c, utils.ServiceAdmin, fiber.StatusBadRequest, "No valid fields to update")
	}

	if err := h.Admins.Update(c.UserContext(), user.ID, updates); err != nil {
		trail.MarkForRollback()
		logger.Error("admin_update_failed", err, map[string]interface{}{"admin_id": user.ID.String()})
		return utils.Error(c, utils.ServiceAdmin, fiber.StatusInternalServerError, "Failed updating admin")
	}

	updated, err := h.Admins.FindByID(c.UserContext(), user.ID)
	if err != nil {
		logger.Error("admin_reload_failed", err, map[string]interface{}{"admin_id": user.ID.String()})
		return utils.Error(c, utils.ServiceAdmin, fiber.StatusInternalServerError, "Internal server error")
	}

	_ = trail.RecordChange(usersTable, before, adminSnapshot(updated))
	if _, changed := updates["role_id"]; changed {
		_ = trail.RecordChange(rolesTable,
			map[string]interface{}{"name": user.Role.Name, "permissions": user.Role.Permissions},
			map[string]interface{}{"name": newRole.Name, "permissions": newRole.Permissions},
		)
	}

	return utils.Success(c, utils.ServiceAdmin, fiber.StatusOK, "Admin updated", updated)
}

// Delete removes the admin and their passkeys. Admins cannot delete
// themselves.
func (h *AdminsHandler) Delete(c *fiber.Ctx) error {
	trail := middleware.GetAuditTrail(c)
	trail.RecordStartAction(actionDeleteAdmin)

	user, err := h.loadAdmin(c)
	if user == nil {
		trail.MarkForRollback()
		return err
	}

	if principal := middleware.GetPrincipal(c); principal != nil && principal.ID == user.ID {
		trail.MarkForRollback()
		return utils.Error(c, utils.ServiceAdmin, fiber.StatusBadRequest, "Cannot delete your own account")
	}

	credentials, err := h.Credentials.FindByOwner(c.UserContext(), user.ID)
	if err != nil {
		trail.MarkForRollback()
		logger.Error("admin_credentials_lookup_failed", err, map[string]interface{}{"admin_id": user.ID.String()})
		return utils.Error(c, utils.ServiceAdmin, fiber.StatusInternalServerError, "Internal server error")
	}

	if err := h.Admins.Delete(c.UserContext(), user.ID); err != nil {
		trail.MarkForRollback()
		logger.Error("admin_delete_failed", err, map[string]interface{}{"admin_id": user.ID.String()})
		return utils.Error(c, utils.ServiceAdmin, fiber.StatusInternalServerError, "Failed deleting admin")
	}
	_ = trail.RecordChange(usersTable, adminSnapshot(user), nil)

	for i := range credentials {
		cred := credentials[i]
		if err := h.Credentials.Delete(c.UserContext(), cred.ID); err != nil {
			logger.Error("admin_credential_delete_failed", err, map[string]interface{}{
				"admin_id":      user.ID.String(),
				"credential_id": cred.ID,
			})
			continue
		}
		_ = trail.RecordChange(passkeyTable, cred, nil)
	}

	return utils.Success(c, utils.ServiceAdmin, fiber.StatusOK, "Admin deleted", nil)
}
