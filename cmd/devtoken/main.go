// Command devtoken mints a bearer token for local development, optionally
// writing the user into the directory so the gateway accepts it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"estatechat/internal/app/db"
	"estatechat/internal/app/user"
	"estatechat/internal/configs"
	"estatechat/internal/pkg/auth/jwt"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		userID      string
		role        string
		displayName string
		avatarRef   string
		ttl         time.Duration
		upsert      bool
	)

	flagSet := pflag.NewFlagSet("devtoken", pflag.ContinueOnError)
	flagSet.StringVarP(&userID, "user", "u", "", "user id to mint the token for (required)")
	flagSet.StringVarP(&role, "role", "r", "", "role to store with --upsert: ADMIN, MANAGER or CLIENT")
	flagSet.StringVarP(&displayName, "name", "n", "", "display name to store with --upsert (default: the user id)")
	flagSet.StringVar(&avatarRef, "avatar", "", "avatar reference to store with --upsert")
	flagSet.DurationVar(&ttl, "ttl", jwt.UserIdentityExpiration, "token lifetime")
	flagSet.BoolVar(&upsert, "upsert", false, "write the user into the configured database before minting")

	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if userID == "" {
		return errors.New("--user is required")
	}

	_ = godotenv.Load(".env")

	cfg, err := configs.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	parsedRole := user.ParseRole(role)
	if upsert {
		if !parsedRole.Valid() {
			return fmt.Errorf("--upsert needs a valid --role, got %q", role)
		}
		if displayName == "" {
			displayName = userID
		}

		if err := upsertUser(cfg, user.Identity{
			ID:          userID,
			Role:        parsedRole,
			DisplayName: displayName,
			AvatarRef:   avatarRef,
		}); err != nil {
			return err
		}
	}

	token, err := jwt.GenerateToken(&jwt.Payload{
		ID:       userID,
		Role:     string(parsedRole),
		Nickname: displayName,
	}, cfg.JWTSecret, ttl)
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func upsertUser(cfg *configs.AppConfig, identity user.Identity) error {
	store, err := db.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.UpsertUser(ctx, identity); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "stored %s as %s\n", identity.ID, identity.Role)
	return nil
}
