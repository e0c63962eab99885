package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"relaymail/backend/internal/auth"
	"relaymail/backend/internal/auth/jwt"
	"relaymail/backend/internal/config"
	"relaymail/backend/internal/logger"
	"relaymail/backend/internal/service"
	sqlstore "relaymail/backend/internal/storage/sql"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: create-user <email> <password> [name]")
		os.Exit(1)
	}
	email, password := os.Args[1], os.Args[2]
	name := ""
	if len(os.Args) >= 4 {
		name = strings.Join(os.Args[3:], " ")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		fmt.Println("Database is not configured (RELAYMAIL_DATABASE_TYPE / RELAYMAIL_DATABASE_DSN)")
		os.Exit(1)
	}

	log := logger.MustNew(cfg.Log)
	defer log.Sync()

	store, err := sqlstore.NewStore(cfg.Database, log)
	if err != nil {
		fmt.Printf("Failed to connect database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	aliases := service.NewAliasService(cfg.Alias, nil, log)
	apiKeys := service.NewAPIKeyService(store, 0, log)
	defer apiKeys.Close()
	tokens := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry, cfg.JWT.RefreshExpiry)
	authService := auth.NewService(tokens, aliases, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	uow, err := store.Begin(ctx)
	if err != nil {
		fmt.Printf("Failed to begin transaction: %v\n", err)
		os.Exit(1)
	}
	defer uow.Rollback()

	res, err := authService.Register(uow, auth.RegisterInput{Email: email, Password: password, Name: name})
	if err != nil {
		fmt.Printf("Failed to create user: %v\n", err)
		os.Exit(1)
	}
	key, err := apiKeys.Create(uow, res.User.ID, "create-user")
	if err != nil {
		fmt.Printf("Failed to create API key: %v\n", err)
		os.Exit(1)
	}
	if err := uow.Commit(); err != nil {
		fmt.Printf("Failed to commit: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ User created successfully!\n")
	fmt.Printf("  ID:            %s\n", res.User.ID)
	fmt.Printf("  Email:         %s\n", res.User.Email)
	fmt.Printf("  Default alias: %s\n", res.DefaultAlias.Email)
	fmt.Printf("  API key:       %s\n", key.Code)
}
