package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/nerrad567/linkpulse/internal/infrastructure/config"
)

const (
	seedPasswordBytes = 16
	defaultSeedEmail  = "admin@linkpulse.local"
	defaultSeedName   = "Administrator"
)

// SeedAdmin creates the first admin account when the store is empty. When
// no bootstrap password is configured a random one is generated, logged
// once and returned. Returns "" when seeding was skipped.
func SeedAdmin(ctx context.Context, users UserRepository, cfg config.BootstrapAdminConfig, logger *slog.Logger) (string, error) {
	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Info("users exist, skipping admin seed")
		return "", nil
	}

	email := NormalizeEmail(cfg.Email)
	if email == "" {
		email = defaultSeedEmail
	}
	name := cfg.Name
	if name == "" {
		name = defaultSeedName
	}

	password := cfg.Password
	generated := password == ""
	if generated {
		b := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("generating seed password: %w", err)
		}
		password = hex.EncodeToString(b)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         RoleAdmin,
	}
	if err := users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	if generated {
		logger.Warn("seed admin account created",
			"email", email,
			"password", password,
			"action_required", "change this password immediately",
		)
	} else {
		logger.Info("seed admin account created", "email", email)
	}
	return password, nil
}
