package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/nridwan/elysian-realm-sub000/internal/challenge"
	"github.com/nridwan/elysian-realm-sub000/internal/config"
	"github.com/nridwan/elysian-realm-sub000/internal/database"
	"github.com/nridwan/elysian-realm-sub000/internal/middleware"
	"github.com/nridwan/elysian-realm-sub000/internal/models"
	"github.com/nridwan/elysian-realm-sub000/internal/repository"
	"github.com/nridwan/elysian-realm-sub000/internal/services"
	"github.com/nridwan/elysian-realm-sub000/pkg/logger"
	"github.com/nridwan/elysian-realm-sub000/pkg/utils"
	"gorm.io/gorm"
)

const (
	testRPID     = "example.com"
	testRPOrigin = "https://example.com"
	testRPName   = "Elysian Realm Admin"
)

type testEnv struct {
	app        *fiber.App
	db         *gorm.DB
	tokens     *utils.TokenIssuer
	challenges challenge.Store
}

var testSetupOnce sync.Once

type envOptions struct {
	authRateLimit int
	wrapAdmins    func(AdminStore) AdminStore
}

func setupTestEnv(t *testing.T) *testEnv {
	return setupTestEnvWith(t, envOptions{})
}

func setupTestEnvWith(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
		logger.SetOutput(io.Discard)
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed migrating models: %v", err)
	}

	users := repository.NewUserRepository(db)
	credentials := repository.NewCredentialRepository(db)
	challenges := challenge.NewDBStore(db)
	tokens := utils.NewTokenIssuer("test-secret", 1)
	auditService := services.NewAuditService(db, nil)

	passkeys, err := services.NewPasskeyService(services.PasskeyParams{
		WebAuthn: config.WebAuthnConfig{
			RPID:          testRPID,
			RPDisplayName: testRPName,
			RPOrigins:     []string{testRPOrigin},
		},
		Challenges:  challenges,
		Credentials: credentials,
		Users:       users,
	})
	if err != nil {
		t.Fatalf("failed creating passkey service: %v", err)
	}

	var admins AdminStore = users
	if opts.wrapAdmins != nil {
		admins = opts.wrapAdmins(users)
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	routes := &Routes{
		Auth:           NewAuthHandler(users, tokens),
		Passkeys:       NewPasskeyHandler(passkeys, users, tokens),
		Admins:         NewAdminsHandler(admins, repository.NewRoleRepository(db), credentials),
		Audit:          NewAuditHandler(auditService),
		AuthMiddleware: middleware.NewAuthMiddleware(tokens),
		AuditSink:      auditService,
		AuthRateLimit:  opts.authRateLimit,
	}
	routes.Register(app)

	return &testEnv{app: app, db: db, tokens: tokens, challenges: challenges}
}

func createTestRole(t *testing.T, db *gorm.DB, permissions []string) *models.Role {
	t.Helper()

	role := &models.Role{Name: "role-" + uuid.NewString()[:8], Permissions: permissions}
	if err := db.Create(role).Error; err != nil {
		t.Fatalf("failed creating test role: %v", err)
	}
	return role
}

func (e *testEnv) createTestUser(t *testing.T, email, password string, permissions []string) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	role := createTestRole(t, e.db, permissions)
	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         "Test Admin",
		RoleID:       role.ID,
	}
	if err := e.db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}
	user.Role = *role

	token, err := e.tokens.Sign(user.Principal())
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func (e *testEnv) auditLogs(t *testing.T) []models.AuditLog {
	t.Helper()

	var logs []models.AuditLog
	if err := e.db.Order("created_at ASC").Find(&logs).Error; err != nil {
		t.Fatalf("failed loading audit logs: %v", err)
	}
	return logs
}

func (e *testEnv) auditLogsFor(t *testing.T, action string) []models.AuditLog {
	t.Helper()

	var logs []models.AuditLog
	if err := e.db.Where("action = ?", action).Order("created_at ASC").Find(&logs).Error; err != nil {
		t.Fatalf("failed loading audit logs: %v", err)
	}
	return logs
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

// envelope keeps data raw so ceremony options can be handed to the
// virtual authenticator untouched.
type envelope struct {
	Meta utils.Meta      `json:"meta"`
	Data json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("failed decoding envelope: %v", err)
	}
	return env
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertMeta(t *testing.T, body map[string]any, expectedCode, expectedMessage string) {
	t.Helper()

	meta, ok := body["meta"].(map[string]any)
	if !ok {
		t.Fatalf("expected meta object, got %T", body["meta"])
	}
	if got, _ := meta["code"].(string); got != expectedCode {
		t.Fatalf("expected code %q, got %q", expectedCode, got)
	}
	if got, _ := meta["message"].(string); got != expectedMessage {
		t.Fatalf("expected message %q, got %q", expectedMessage, got)
	}
}
