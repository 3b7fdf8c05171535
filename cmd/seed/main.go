// Package main provides a CLI tool for seeding the catalog and printing
// development tokens.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"lotpool/internal/app"
	"lotpool/internal/config"
	appctx "lotpool/internal/core/context"
	"lotpool/pkg/logger"
)

func main() {
	seedFile := flag.String("file", "", "seed JSON file (defaults to the bundled demo catalog)")
	tokens := flag.Bool("tokens", false, "print development JWTs for the demo users")
	flag.Parse()

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("failed to load config", "error", err)
	}

	ctx := context.Background()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer application.Close()

	seed, err := app.LoadSeed(*seedFile)
	if err != nil {
		log.Fatalw("failed to load seed", "error", err)
	}
	if err := application.ApplySeed(ctx, seed); err != nil {
		log.Fatalw("failed to seed catalog", "error", err)
	}

	if *tokens {
		printTokens(application, seed)
	}

	log.Info("seeding completed successfully")
}

func printTokens(application *app.App, seed *app.Seed) {
	users := []appctx.UserContext{{UserID: "admin", Role: appctx.RoleAdmin}}
	for _, a := range seed.Addresses {
		users = append(users, appctx.UserContext{UserID: a.RetailerID, Role: appctx.RoleRetailer})
	}
	seen := map[string]bool{}
	for _, p := range seed.Products {
		if !seen[p.FactoryID] {
			seen[p.FactoryID] = true
			users = append(users, appctx.UserContext{UserID: p.FactoryID, Role: appctx.RoleFactory})
		}
	}

	for _, u := range users {
		token, expires, err := application.JWT.GenerateAccessToken(u)
		if err != nil {
			fmt.Fprintf(os.Stderr, "token for %s: %v\n", u.UserID, err)
			continue
		}
		fmt.Printf("%-10s %-20s expires %s\n%s\n\n", u.Role, u.UserID, expires.Format("2006-01-02 15:04"), token)
	}
}
