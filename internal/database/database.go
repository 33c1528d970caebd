package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/nridwan/elysian-realm-sub000/internal/config"
	"github.com/nridwan/elysian-realm-sub000/internal/models"
	"github.com/nridwan/elysian-realm-sub000/pkg/logger"
	"github.com/nridwan/elysian-realm-sub000/pkg/utils"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// SuperadminRole holds every known permission and is kept in sync on seed.
const SuperadminRole = "superadmin"

func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)

	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Role{},
		&models.User{},
		&models.PasskeyCredential{},
		&models.Challenge{},
		&models.AuditLog{},
		&models.AuditExportCursor{},
	)
}

// Seed creates the superadmin role and, when no user exists yet, the first
// admin account. It is safe to run repeatedly.
func Seed(ctx context.Context, db *gorm.DB, cfg config.SeedConfig) error {
	role, err := seedSuperadminRole(ctx, db)
	if err != nil {
		return fmt.Errorf("seed superadmin role: %w", err)
	}
	if err := seedAdminUser(ctx, db, role, cfg); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	return nil
}

func seedSuperadminRole(ctx context.Context, db *gorm.DB) (*models.Role, error) {
	var role models.Role
	err := db.WithContext(ctx).Where("name = ?", SuperadminRole).First(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		role = models.Role{
			Name:        SuperadminRole,
			Description: "Full access to every admin operation",
			Permissions: models.AllPermissions,
		}
		if err := db.WithContext(ctx).Create(&role).Error; err != nil {
			return nil, err
		}
		logger.Info("seed_role_created", map[string]interface{}{"role": SuperadminRole})
		return &role, nil
	}
	if err != nil {
		return nil, err
	}

	if !slices.Equal(role.Permissions, models.AllPermissions) {
		role.Permissions = models.AllPermissions
		if err := db.WithContext(ctx).Save(&role).Error; err != nil {
			return nil, err
		}
		logger.Info("seed_role_permissions_synced", map[string]interface{}{"role": SuperadminRole})
	}
	return &role, nil
}

func seedAdminUser(ctx context.Context, db *gorm.DB, role *models.Role, cfg config.SeedConfig) error {
	var count int64
	if err := db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return errors.New("admin email and password are required")
	}

	hash, err := utils.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}

	admin := models.User{
		Email:        strings.ToLower(strings.TrimSpace(cfg.AdminEmail)),
		PasswordHash: hash,
		Name:         cfg.AdminName,
		RoleID:       role.ID,
	}
	if err := db.WithContext(ctx).Create(&admin).Error; err != nil {
		return err
	}

	logger.Info("seed_admin_created", map[string]interface{}{"email": admin.Email})
	return nil
}
