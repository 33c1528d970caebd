package handlers

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/gofiber/fiber/v2"
	"github.com/nridwan/elysian-realm-sub000/internal/middleware"
	"github.com/nridwan/elysian-realm-sub000/internal/models"
	"github.com/nridwan/elysian-realm-sub000/internal/repository"
	"github.com/nridwan/elysian-realm-sub000/internal/services"
	"github.com/nridwan/elysian-realm-sub000/pkg/logger"
	"github.com/nridwan/elysian-realm-sub000/pkg/utils"
)

const (
	actionRegisterPasskey = "REGISTER_PASSKEY"
	actionPasskeyLogin    = "PASSKEY_LOGIN"
	actionRenamePasskey   = "RENAME_PASSKEY"
	actionDeletePasskey   = "DELETE_PASSKEY"

	passkeyTable = "passkey_credentials"
)

type PasskeyHandler struct {
	Passkeys *services.PasskeyService
	Users    services.UserRepository
	Tokens   TokenSigner
}

func NewPasskeyHandler(passkeys *services.PasskeyService, users services.UserRepository, tokens TokenSigner) *PasskeyHandler {
	return &PasskeyHandler{Passkeys: passkeys, Users: users, Tokens: tokens}
}

type registerStartRequest struct {
	PasskeyName string `json:"passkeyName" validate:"omitempty,max=255"`
	UUID        string `json:"uuid" validate:"omitempty,max=128"`
}

func (h *PasskeyHandler) RegisterStart(c *fiber.Ctx) error {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		return utils.Error(c, utils.ServiceAuth, fiber.StatusUnauthorized, "Unauthorized")
	}

	var req registerStartRequest
	if ok, err := bindRequest(c, utils.ServicePasskey, &req); !ok {
		return err
	}

	options, err := h.Passkeys.StartRegistration(c.UserContext(), services.RegistrationStart{
		UserID:      principal.ID,
		Email:       principal.Email,
		DisplayName: principal.Name,
		PasskeyName: req.PasskeyName,
		SessionUUID: req.UUID,
	})
	if err != nil {
		return passkeyError(c, "passkey_registration_start_failed", err)
	}

	return utils.Success(c, utils.ServicePasskey, fiber.StatusOK, "Registration options generated", options)
}

type registerFinishRequest struct {
	UUID     string          `json:"uuid" validate:"omitempty,max=128"`
	Response json.RawMessage `json:"response" validate:"required"`
}

func (h *PasskeyHandler) RegisterFinish(c *fiber.Ctx) error {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		return utils.Error(c, utils.ServiceAuth, fiber.StatusUnauthorized, "Unauthorized")
	}

	var req registerFinishRequest
	if ok, err := bindRequest(c, utils.ServicePasskey, &req); !ok {
		return err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		return utils.Error(c, utils.ServicePasskey, fiber.StatusBadRequest, "Invalid credential response")
	}

	trail := middleware.GetAuditTrail(c)
	trail.RecordStartAction(actionRegisterPasskey)

	credential, err := h.Passkeys.FinishRegistration(c.UserContext(), principal.ID, parsed, req.UUID)
	if err != nil {
		trail.MarkForRollback()
		return passkeyError(c, "passkey_registration_finish_failed", err)
	}
	_ = trail.RecordChange(passkeyTable, nil, credential)

	return utils.Success(c, utils.ServicePasskey, fiber.StatusCreated, "Passkey registered", credential)
}

type authenticateStartRequest struct {
	Email string `json:"email" validate:"required,email"`
	UUID  string `json:"uuid" validate:"omitempty,max=128"`
}

func (h *PasskeyHandler) AuthenticateStart(c *fiber.Ctx) error {
	var req authenticateStartRequest
	if ok, err := bindRequest(c, utils.ServicePasskey, &req); !ok {
		return err
	}

	options, userID, err := h.Passkeys.StartAuthentication(c.UserContext(), req.Email, req.UUID)
	if err != nil {
		return passkeyError(c, "passkey_authentication_start_failed", err)
	}

	return utils.Success(c, utils.ServicePasskey, fiber.StatusOK, "Authentication options generated", fiber.Map{
		"options": options,
		"userId":  userID,
	})
}

type passwordlessStartRequest struct {
	UUID string `json:"uuid" validate:"required,max=128"`
}

func (h *PasskeyHandler) PasswordlessStart(c *fiber.Ctx) error {
	var req passwordlessStartRequest
	if ok, err := bindRequest(c, utils.ServicePasskey, &req); !ok {
		return err
	}

	options, err := h.Passkeys.StartPasswordless(c.UserContext(), req.UUID)
	if err != nil {
		return passkeyError(c, "passkey_passwordless_start_failed", err)
	}

	return utils.Success(c, utils.ServicePasskey, fiber.StatusOK, "Authentication options generated", options)
}

// authenticateFinishRequest carries either userId from the email-based start
// or uuid from the passwordless start.
type authenticateFinishRequest struct {
	UserID   string          `json:"userId" validate:"omitempty,uuid"`
	UUID     string          `json:"uuid" validate:"required_without=UserID,max=128"`
	Response json.RawMessage `json:"response" validate:"required"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (h *PasskeyHandler) AuthenticateFinish(c *fiber.Ctx) error {
	var req authenticateFinishRequest
	if ok, err := bindRequest(c, utils.ServicePasskey, &req); !ok {
		return err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		return utils.Error(c, utils.ServicePasskey, fiber.StatusBadRequest, "Invalid credential response")
	}

	ownerID, err := h.Passkeys.FinishAuthentication(c.UserContext(), req.UserID, parsed, req.UUID)
	if err != nil {
		return passkeyError(c, "passkey_authentication_finish_failed", err)
	}

	user, err := h.Users.FindByID(c.UserContext(), ownerID)
	if errors.Is(err, repository.ErrNotFound) {
		return utils.Error(c, utils.ServicePasskey, fiber.StatusNotFound, "User not found")
	}
	if err != nil {
		logger.Error("passkey_login_user_lookup_failed", err, map[string]interface{}{
			"user_id": ownerID.String(),
		})
		return utils.Error(c, utils.ServicePasskey, fiber.StatusInternalServerError, "Internal server error")
	}

	token, err := h.Tokens.Sign(user.Principal())
	if err != nil {
		logger.ErrorWithUser(ownerID.String(), "token_sign_failed", err, nil)
		return utils.Error(c, utils.ServicePasskey, fiber.StatusInternalServerError, "Internal server error")
	}

	trail := middleware.GetAuditTrail(c)
	trail.RecordStartAction(actionPasskeyLogin)
	trail.SetActor(ownerID)
	_ = trail.RecordChange(passkeyTable, nil, map[string]interface{}{
		"credential_id": repository.EncodeCredentialID(parsed.RawID),
		"passwordless":  req.UserID == "",
	})
	if err := middleware.FlushAudit(c); err != nil {
		logger.WarnWithUser(ownerID.String(), "passkey_login_audit_failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return utils.Success(c, utils.ServicePasskey, fiber.StatusOK, "Authentication successful", loginResponse{
		Token: token,
		User:  user,
	})
}

func (h *PasskeyHandler) List(c *fiber.Ctx) error {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		return utils.Error(c, utils.ServiceAuth, fiber.StatusUnauthorized, "Unauthorized")
	}

	credentials, err := h.Passkeys.ListCredentials(c.UserContext(), principal.ID)
	if err != nil {
		return passkeyError(c, "passkey_list_failed", err)
	}

	return utils.Success(c, utils.ServicePasskey, fiber.StatusOK, "Passkeys retrieved", credentials)
}

type renamePasskeyRequest struct {
	DisplayName string `json:"displayName" validate:"max=255"`
}

func (h *PasskeyHandler) Rename(c *fiber.Ctx) error {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		return utils.Error(c, utils.ServiceAuth, fiber.StatusUnauthorized, "Unauthorized")
	}

	var req renamePasskeyRequest
	if ok, err := bindRequest(c, utils.ServicePasskey, &req); !ok {
		return err
	}

	trail := middleware.GetAuditTrail(c)
	trail.RecordStartAction(actionRenamePasskey)

	credential, err := h.Passkeys.RenameCredential(c.UserContext(), principal.ID, c.Params("id"), req.DisplayName)
	if err != nil {
		trail.MarkForRollback()
		return passkeyError(c, "passkey_rename_failed", err)
	}
	_ = trail.RecordChange(passkeyTable,
		map[string]interface{}{"id": credential.ID},
		map[string]interface{}{"id": credential.ID, "display_name": credential.DisplayName},
	)

	return utils.Success(c, utils.ServicePasskey, fiber.StatusOK, "Passkey updated", credential)
}

func (h *PasskeyHandler) Delete(c *fiber.Ctx) error {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		return utils.Error(c, utils.ServiceAuth, fiber.StatusUnauthorized, "Unauthorized")
	}

	trail := middleware.GetAuditTrail(c)
	trail.RecordStartAction(actionDeletePasskey)

	credential, err := h.Passkeys.DeleteCredential(c.UserContext(), principal.ID, c.Params("id"))
	if err != nil {
		trail.MarkForRollback()
		return passkeyError(c, "passkey_delete_failed", err)
	}
	_ = trail.RecordChange(passkeyTable, credential, nil)

	return utils.Success(c, utils.ServicePasskey, fiber.StatusOK, "Passkey deleted", nil)
}
