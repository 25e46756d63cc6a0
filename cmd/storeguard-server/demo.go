package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/storeguard/storeguard"
	"github.com/storeguard/storeguard/cart"
	"github.com/storeguard/storeguard/permission"
)

func demoCatalog() cart.StaticCatalog {
	return cart.NewStaticCatalog(
		cart.Product{ID: "mug", Name: "Enamel mug", Price: 1299, MaxQuantity: 10},
		cart.Product{ID: "tee", Name: "Logo tee", Price: 2400, MaxQuantity: 5},
		cart.Product{ID: "poster", Name: "Signed poster", Price: 4999, MaxQuantity: 1},
	)
}

// seedUsers adds one account per role. DEMO_PASSWORD overrides the shared password.
func seedUsers(svc *storeguard.Service, users *storeguard.MemoryUserRepository) error {
	plain := os.Getenv("DEMO_PASSWORD")
	if plain == "" {
		plain = "Storeguard-demo-1"
	}
	hash, err := svc.HashPassword(plain)
	if err != nil {
		return fmt.Errorf("demo password: %w", err)
	}

	now := svc.Now()
	for _, role := range []permission.Role{permission.User, permission.Manager, permission.Admin} {
		name := role.String()
		err := users.Put(storeguard.User{
			ID:            "demo-" + name,
			Email:         name + "@storeguard.local",
			DisplayName:   "Demo " + name,
			Role:          role,
			PasswordHash:  hash,
			Active:        true,
			EmailVerified: true,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil {
			return err
		}
	}
	svc.Logger().Info("seeded demo users", zap.String("domain", "storeguard.local"))
	return nil
}
