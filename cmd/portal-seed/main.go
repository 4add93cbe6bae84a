package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/config"
	"github.com/goliatone/go-portal-auth/database"
	"github.com/goliatone/go-print"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("PORTAL_CONFIG"), "path to the YAML config file")
		role       = flag.String("role", string(auth.RoleAdmin), "account role: member, leader, participant or admin")
		email      = flag.String("email", "", "account email")
		password   = flag.String("password", os.Getenv("PORTAL_SEED_PASSWORD"), "account password")
		status     = flag.String("status", string(auth.StatusActive), "initial account status")
	)
	flag.Parse()

	if err := run(*configPath, auth.Role(*role), *email, *password, auth.Status(*status)); err != nil {
		slog.Error("seed failed", "err", err)
		fmt.Fprintln(os.Stderr, print.MaybePrettyJSON(err))
		os.Exit(1)
	}
}

func run(configPath string, role auth.Role, email, password string, status auth.Status) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := auth.Migrate(ctx, db); err != nil {
		return err
	}

	hasher := auth.NewBcryptHasher(cfg.Auth.GetBcryptCost())
	repo := auth.NewRepositoryManager(db, auth.WithAccountsHasher(hasher))

	account, err := auth.NewRegisterAccountHandler(repo, hasher).Execute(ctx, auth.RegisterAccountMessage{
		Role:      role,
		Email:     email,
		Password:  password,
		Status:    status,
		UseHashid: true,
	})
	if err != nil {
		return err
	}

	slog.Info("account created", "id", account.ID, "role", account.Role, "email", account.Email, "status", account.Status)
	return nil
}
