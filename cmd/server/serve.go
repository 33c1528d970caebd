package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/nridwan/elysian-realm-sub000/internal/challenge"
	"github.com/nridwan/elysian-realm-sub000/internal/database"
	"github.com/nridwan/elysian-realm-sub000/internal/handlers"
	"github.com/nridwan/elysian-realm-sub000/internal/middleware"
	"github.com/nridwan/elysian-realm-sub000/internal/repository"
	"github.com/nridwan/elysian-realm-sub000/internal/services"
	"github.com/nridwan/elysian-realm-sub000/internal/storage"
	"github.com/nridwan/elysian-realm-sub000/pkg/logger"
	"github.com/nridwan/elysian-realm-sub000/pkg/utils"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Migrate the database and start the HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// newChallengeStore picks the backend named by CHALLENGE_BACKEND. The
// database backend also starts its expiry sweep.
func newChallengeStore(ctx context.Context, db *gorm.DB) (challenge.Store, func(), error) {
	switch cfg.Challenge.Backend {
	case "database":
		store := challenge.NewDBStore(db)
		store.StartCleanup(ctx, cfg.Challenge.CleanupInterval)
		return store, func() {}, nil
	case "redis", "":
		store, err := challenge.NewRedisStore(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown challenge backend %q", cfg.Challenge.Backend)
	}
}

func newAuditService(ctx context.Context, db *gorm.DB) (*services.AuditService, error) {
	if !cfg.Audit.ExportEnabled {
		return services.NewAuditService(db, nil), nil
	}

	archive, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		return nil, fmt.Errorf("minio initialization failed: %w", err)
	}
	if err := archive.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed ensuring minio bucket: %w", err)
	}

	auditService := services.NewAuditService(db, archive)
	auditService.StartExporter(ctx, cfg.Audit.ExportInterval)
	return auditService, nil
}

func runServe(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	db, err := openDatabase()
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	challenges, closeChallenges, err := newChallengeStore(ctx, db)
	if err != nil {
		return err
	}
	defer closeChallenges()

	auditService, err := newAuditService(ctx, db)
	if err != nil {
		return err
	}

	users := repository.NewUserRepository(db)
	roles := repository.NewRoleRepository(db)
	credentials := repository.NewCredentialRepository(db)
	tokens := utils.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	passkeys, err := services.NewPasskeyService(services.PasskeyParams{
		WebAuthn:    cfg.WebAuthn,
		Challenges:  challenges,
		Credentials: credentials,
		Users:       users,
	})
	if err != nil {
		return err
	}

	app := fiber.New()
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	routes := &handlers.Routes{
		Auth:           handlers.NewAuthHandler(users, tokens),
		Passkeys:       handlers.NewPasskeyHandler(passkeys, users, tokens),
		Admins:         handlers.NewAdminsHandler(users, roles, credentials),
		Audit:          handlers.NewAuditHandler(auditService),
		AuthMiddleware: middleware.NewAuthMiddleware(tokens),
		AuditSink:      auditService,
		AuthRateLimit:  cfg.Server.AuthRateLimit,
	}
	routes.Register(app)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.Info("server_starting", map[string]interface{}{
		"port":              cfg.Server.Port,
		"address":           listenAddr,
		"challenge_backend": cfg.Challenge.Backend,
		"rp_id":             cfg.WebAuthn.RPID,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("server_shutting_down", map[string]interface{}{"signal": sig.String()})
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error("server_shutdown_failed", err, nil)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
