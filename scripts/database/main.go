package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/models"
	"github.com/victorgomez09/suivi/internal/auth/service"
	"github.com/victorgomez09/suivi/internal/config"
	"github.com/victorgomez09/suivi/internal/database"
	"github.com/victorgomez09/suivi/internal/database/query"
)

// system acts on behalf of the operator running this tool.
var system = &models.Session{
	Username:    "system",
	AccessLevel: models.AccessAdmin,
	ProfileName: "admin",
	ClientIP:    "local",
}

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		create     = flag.Bool("create", false, "Create an identity")
		listUsers  = flag.Bool("list", false, "List all identities")
		unlock     = flag.Bool("unlock", false, "Unlock an identity")
		username   = flag.String("username", "", "Username of the identity")
		password   = flag.String("password", "", "Password of a new local identity")
		profile    = flag.Int64("profile", 3, "Profile id of a new identity (1 admin, 2 supervisor, 3 employee)")
		branch     = flag.Int64("branch", 1, "Branch id of a new identity")
		displayNm  = flag.String("name", "", "Display name of a new identity")
		directory  = flag.Bool("directory", false, "Authenticate the new identity against the directory")
	)
	flag.Parse()

	zl, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	cfg, err := config.LoadAndValidate(*configPath, zl)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	store, err := database.Open(ctx, cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	authService, err := service.NewAuthService(store, nil, service.AuthConfig{
		JWTSecret:            []byte(cfg.Auth.JWTSecret),
		MaxLoginAttempts:     cfg.Auth.MaxLoginAttempts,
		PasswordHistoryLimit: cfg.Auth.PasswordHistoryLimit,
		BcryptCost:           cfg.Auth.BcryptCost,
	}, service.WithLogger(zl))
	if err != nil {
		log.Fatalf("Failed to initialize auth service: %v", err)
	}

	switch {
	case *listUsers:
		err = listAll(ctx, authService)
	case *create:
		mode := models.AuthLocal
		if *directory {
			mode = models.AuthDirectory
		}
		err = createIdentity(ctx, authService, service.NewIdentity{
			Username:    *username,
			Password:    *password,
			AuthMode:    mode,
			DisplayName: *displayNm,
			ProfileID:   *profile,
			BranchID:    *branch,
		})
	case *unlock:
		err = unlockIdentity(ctx, store, authService, *username)
	default:
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s", describe(err))
	}
}

func describe(err error) string {
	kind := apierr.KindOf(err)
	if kind == apierr.KindStore {
		return err.Error()
	}
	return fmt.Sprintf("%s: %v", kind, err)
}

func createIdentity(ctx context.Context, svc *service.AuthService, in service.NewIdentity) error {
	identity, err := svc.CreateIdentity(ctx, system, in)
	if err != nil {
		return err
	}
	fmt.Printf("Successfully created identity '%s' (id %d, profile %s)\n",
		identity.Username, identity.ID, identity.ProfileName)
	return nil
}

func unlockIdentity(ctx context.Context, store *database.Store, svc *service.AuthService, username string) error {
	if username == "" {
		return apierr.Validation("-username is required")
	}
	identity, err := store.IdentityByUsername(ctx, username)
	if err != nil {
		return err
	}
	if !identity.IsLocked {
		fmt.Printf("Identity '%s' is not locked\n", username)
		return nil
	}
	if _, err := svc.UnlockIdentity(ctx, system, identity.ID, identity.Version); err != nil {
		return err
	}
	fmt.Printf("Unlocked identity '%s' after %d failed logins\n", username, identity.FailedLogins)
	return nil
}

func listAll(ctx context.Context, svc *service.AuthService) error {
	identities, err := svc.SearchIdentities(ctx, system, query.Search{Limit: query.MaxLimit})
	if err != nil {
		return err
	}

	if len(identities) == 0 {
		fmt.Println("No identities found in database")
		return nil
	}

	fmt.Println("\nIdentity List:")
	fmt.Println("--------------------------------------------------------------------------")
	fmt.Printf("%-5s %-20s %-10s %-12s %-8s %-20s\n", "ID", "Username", "Mode", "Profile", "Locked", "Created At")
	fmt.Println("--------------------------------------------------------------------------")

	for _, identity := range identities {
		fmt.Printf("%-5d %-20s %-10s %-12s %-8t %-20s\n",
			identity.ID,
			identity.Username,
			identity.AuthMode,
			identity.ProfileName,
			identity.IsLocked,
			identity.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	fmt.Println("--------------------------------------------------------------------------")
	return nil
}
