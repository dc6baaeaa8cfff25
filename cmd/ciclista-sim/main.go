// Copyright 2025 CiclistaApp Authors
// SPDX-License-Identifier: Apache-2.0

// ciclista-sim simulates a cyclist's device: it seeds a local SQLite
// database with an account and recorded routes, then pushes the pending
// rows to a running ciclista-server instance.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/CissaMalheiros/CiclistaApp/localstore"
	"github.com/CissaMalheiros/CiclistaApp/remote"
	"github.com/CissaMalheiros/CiclistaApp/server"
	"github.com/CissaMalheiros/CiclistaApp/syncengine"
)

func main() {
	var (
		dbFlag        = flag.String("db", "ciclista-sim.db", "Path to the local SQLite database")
		serverFlag    = flag.String("server", "http://localhost:8080", "Server URL")
		jwtSecretFlag = flag.String("jwt-secret", "", "JWT secret for local token generation (defaults to env CICLISTA_JWT_SECRET)")
		emailFlag     = flag.String("email", "", "Account email (defaults to a random one)")
		routesFlag    = flag.Int("routes", 3, "Number of offline routes to record before syncing")
		passesFlag    = flag.Int("passes", 1, "Number of sync passes to run")
		verboseFlag   = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verboseFlag {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	jwtSecret := *jwtSecretFlag
	if jwtSecret == "" {
		jwtSecret = os.Getenv("CICLISTA_JWT_SECRET")
	}
	if jwtSecret == "" {
		jwtSecret = "dev-secret-change-in-production" // Match the server default
	}

	email := *emailFlag
	if email == "" {
		email = fmt.Sprintf("rider-%s@example.com", uuid.NewString()[:8])
	}

	ctx := context.Background()

	store, err := localstore.Open(*dbFlag)
	if err != nil {
		log.Fatalf("Failed to open local database: %v", err)
	}
	defer store.Close()
	store.SetLogger(logger)

	deviceSerial := uuid.NewString()
	if err := seedDevice(ctx, store, email, deviceSerial, *routesFlag, logger); err != nil {
		log.Fatalf("Failed to seed local data: %v", err)
	}

	// Tokens are minted locally from the shared secret, same as a
	// device that already signed in.
	jwtAuth := server.NewJWTAuth(jwtSecret)
	client := remote.NewClient(*serverFlag, nil)
	client.Token = func(ctx context.Context) (string, error) {
		return jwtAuth.GenerateToken(email, deviceSerial, time.Hour)
	}

	engine := syncengine.New(store, client, logger)
	for pass := 1; pass <= *passesFlag; pass++ {
		logger.Info("running sync pass", "pass", pass)
		engine.RunPassFunc(ctx,
			func(msg string) { logger.Info(msg, "pass", pass) },
			func(msg string) { logger.Error(msg, "pass", pass) },
			func(msg string) { logger.Info(msg, "pass", pass) },
		)
	}

	accounts, err := store.ListPendingAccounts(ctx)
	if err != nil {
		log.Fatalf("Failed to list pending accounts: %v", err)
	}
	routes, err := store.ListPendingRoutes(ctx)
	if err != nil {
		log.Fatalf("Failed to list pending routes: %v", err)
	}
	logger.Info("simulation finished",
		"pending_accounts", len(accounts),
		"pending_routes", len(routes))
}

// seedDevice inserts one pending account and n pending routes, the
// state a phone would be in after offline use.
func seedDevice(ctx context.Context, store *localstore.Store, email, deviceSerial string, n int, logger *slog.Logger) error {
	accountID, err := store.InsertAccount(ctx, &localstore.Account{
		Name:         "Sim Rider",
		Phone:        "+55 48 99999-0000",
		Gender:       "other",
		Email:        email,
		BirthDate:    "1990-01-01",
		Password:     "sim-password",
		DeviceMake:   "SimPhone",
		DeviceModel:  "SP-1",
		DeviceSerial: deviceSerial,
		AppVersion:   "1.0.0",
	})
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	logger.Info("seeded account", "id", accountID, "email", email)

	categories := []string{"commute", "training", "leisure"}
	for i := 0; i < n; i++ {
		track, err := localstore.EncodeTrack(randomTrack(20 + rand.Intn(40)))
		if err != nil {
			return fmt.Errorf("failed to encode track: %w", err)
		}
		routeID, err := store.InsertRoute(ctx, &localstore.Route{
			AccountID: accountID,
			Category:  categories[i%len(categories)],
			Track:     track,
			Duration:  fmt.Sprintf("00:%02d:00", 10+rand.Intn(50)),
		})
		if err != nil {
			return fmt.Errorf("failed to insert route: %w", err)
		}
		logger.Debug("seeded route", "id", routeID)
	}
	return nil
}

// randomTrack generates a GPS trace wandering around Florianópolis.
func randomTrack(points int) []localstore.TrackPoint {
	lat, lon := -27.5954, -48.5480
	start := time.Now().Add(-time.Duration(points) * 5 * time.Second)
	track := make([]localstore.TrackPoint, 0, points)
	for i := 0; i < points; i++ {
		lat += (rand.Float64() - 0.5) * 0.001
		lon += (rand.Float64() - 0.5) * 0.001
		track = append(track, localstore.TrackPoint{
			Lat:        lat,
			Lon:        lon,
			RecordedAt: start.Add(time.Duration(i) * 5 * time.Second),
		})
	}
	return track
}
