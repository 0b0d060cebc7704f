// Command seed creates a demo organization and application for local
// development.
//
// Purpose:
//
//	Requests to the gateway usually need an application api key. This tool
//	creates (or reuses, matched by name) an organization and an application
//	linked to it, optionally registers a user as ORG_ADMIN, and prints the
//	api key.
//
// Debugging Notes:
//   - Requires DATABASE_URL and JWT_SECRET (config validation)
//   - Runs migrations first so it works against an empty database
//   - -force always creates new records instead of reusing existing ones
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/resource-watch/authentication-sub000/internal/config"
	"github.com/resource-watch/authentication-sub000/internal/logging"
	"github.com/resource-watch/authentication-sub000/internal/storage/postgres"
)

func main() {
	var (
		orgName = flag.String("org-name", "Demo Organization", "Organization name")
		appName = flag.String("app-name", "demo", "Application name")
		adminID = flag.String("admin-user-id", "", "Legacy user id to register as ORG_ADMIN (optional)")
		force   = flag.Bool("force", false, "Create new records even if matching names exist")
	)
	flag.Parse()

	cfg := config.MustLoad()
	logger := logging.New(cfg.ServiceName+"-seed", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("create store")
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	org, err := seedOrganization(ctx, store, *orgName, *adminID, *force)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed organization")
	}
	fmt.Printf("✓ Organization: %s (ID: %s)\n", org.Name, org.ID)

	app, err := seedApplication(ctx, store, *appName, org.ID.String(), *force)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed application")
	}
	fmt.Printf("✓ Application: %s (ID: %s)\n", app.Name, app.ID)

	fmt.Println("\n✓ Seed completed successfully!")
	fmt.Printf("\nSend requests with:\n")
	fmt.Printf("  x-api-key: %s\n", app.APIKeyValue)
}

type seedStore interface {
	ListOrganizations(ctx context.Context, filter postgres.OrganizationFilter) ([]postgres.Organization, int, error)
	CreateOrganization(ctx context.Context, params postgres.CreateOrganizationParams) (postgres.Organization, error)
	ListApplications(ctx context.Context, filter postgres.ApplicationFilter) ([]postgres.Application, int, error)
	CreateApplication(ctx context.Context, params postgres.CreateApplicationParams) (postgres.Application, error)
}

func seedOrganization(ctx context.Context, store seedStore, name, adminID string, force bool) (postgres.Organization, error) {
	if !force {
		existing, _, err := store.ListOrganizations(ctx, postgres.OrganizationFilter{Name: name, Limit: 100})
		if err != nil {
			return postgres.Organization{}, fmt.Errorf("list organizations: %w", err)
		}
		for _, o := range existing {
			if o.Name == name {
				return o, nil
			}
		}
	}

	params := postgres.CreateOrganizationParams{Name: name}
	if adminID != "" {
		params.Members = []postgres.MemberParams{{UserID: adminID, Role: postgres.OrgRoleAdmin}}
	}
	org, err := store.CreateOrganization(ctx, params)
	if err != nil {
		return postgres.Organization{}, fmt.Errorf("create organization: %w", err)
	}
	return org, nil
}

func seedApplication(ctx context.Context, store seedStore, name, organizationID string, force bool) (postgres.Application, error) {
	if !force {
		existing, _, err := store.ListApplications(ctx, postgres.ApplicationFilter{Name: name, Limit: 100})
		if err != nil {
			return postgres.Application{}, fmt.Errorf("list applications: %w", err)
		}
		for _, a := range existing {
			if a.Name == name {
				return a, nil
			}
		}
	}

	app, err := store.CreateApplication(ctx, postgres.CreateApplicationParams{
		Name:           name,
		OrganizationID: &organizationID,
	})
	if err != nil {
		return postgres.Application{}, fmt.Errorf("create application: %w", err)
	}
	return app, nil
}
