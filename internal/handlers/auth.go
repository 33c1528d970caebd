package handlers

import (
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/nridwan/elysian-realm-sub000/internal/middleware"
	"github.com/nridwan/elysian-realm-sub000/internal/repository"
	"github.com/nridwan/elysian-realm-sub000/internal/services"
	"github.com/nridwan/elysian-realm-sub000/pkg/logger"
	"github.com/nridwan/elysian-realm-sub000/pkg/utils"
)

const actionLogin = "LOGIN"

var checkPassword = utils.CheckPassword

// dummyPasswordHash is compared against when the email is unknown so both
// failure paths pay for one bcrypt comparison.
var dummyPasswordHash = sync.OnceValue(func() string {
	hash, err := utils.HashPassword("elysian-realm-unknown-account")
	if err != nil {
		logger.Error("dummy_password_hash_failed", err, nil)
	}
	return hash
})

type AuthHandler struct {
	Users  services.UserRepository
	Tokens TokenSigner
}

func NewAuthHandler(users services.UserRepository, tokens TokenSigner) *AuthHandler {
	return &AuthHandler{Users: users, Tokens: tokens}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if ok, err := bindRequest(c, utils.ServiceAuth, &req); !ok {
		return err
	}

	user, err := h.Users.FindByEmail(c.UserContext(), req.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		logger.Error("login_user_lookup_failed", err, nil)
		return utils.Error(c, utils.ServiceAuth, fiber.StatusInternalServerError, "Internal server error")
	}
	hash := dummyPasswordHash()
	if user != nil {
		hash = user.PasswordHash
	}
	if !checkPassword(req.Password, hash) || user == nil {
		logger.Warn("login_failed", map[string]interface{}{
			"ip": c.IP(),
		})
		return utils.Error(c, utils.ServiceAuth, fiber.StatusUnauthorized, "Invalid email or password")
	}

	token, err := h.Tokens.Sign(user.Principal())
	if err != nil {
		logger.ErrorWithUser(user.ID.String(), "token_sign_failed", err, nil)
		return utils.Error(c, utils.ServiceAuth, fiber.StatusInternalServerError, "Internal server error")
	}

	trail := middleware.GetAuditTrail(c)
	trail.RecordStartAction(actionLogin)
	trail.SetActor(user.ID)

	logger.InfoWithUser(user.ID.String(), "login_succeeded", nil)
	return utils.Success(c, utils.ServiceAuth, fiber.StatusOK, "Login successful", loginResponse{
		Token: token,
		User:  user,
	})
}

// Me reloads the principal's user so a deleted account stops resolving even
// while its token is still valid.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		return utils.Error(c, utils.ServiceAuth, fiber.StatusUnauthorized, "Unauthorized")
	}

	user, err := h.Users.FindByID(c.UserContext(), principal.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return utils.Error(c, utils.ServiceAuth, fiber.StatusNotFound, "User not found")
	}
	if err != nil {
		logger.ErrorWithUser(principal.ID.String(), "me_lookup_failed", err, nil)
		return utils.Error(c, utils.ServiceAuth, fiber.StatusInternalServerError, "Internal server error")
	}

	return utils.Success(c, utils.ServiceAuth, fiber.StatusOK, "Profile retrieved", user)
}
