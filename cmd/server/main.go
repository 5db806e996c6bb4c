package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"upload-lab/auth"
	"upload-lab/bridge"
	"upload-lab/gateway"
	"upload-lab/internal"
	"upload-lab/repositories"
	"upload-lab/runtime/workers"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting so every defer (database close, worker
// shutdown) executes before the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Check(); err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	for _, dir := range []string{config.SpoolDir, config.FinalDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	// 2. Storage (BadgerDB + bluge index)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		_ = blugeWriter.Close()
	}()

	catalog := repositories.NewCatalogRepository(db, blugeWriter, log)

	// 3. Security services. An invalid token secret is the only fatal
	// error of the whole pipeline, surfaced here before any batch runs.
	uploadTokens, err := auth.NewUploadTokenService([]byte(config.TokenSecret), config.TokenTTL)
	if err != nil {
		return err
	}
	sessionTokens := auth.NewSessionTokenService([]byte(config.SessionSecret), config.SessionTTL)

	seedHash, err := auth.HashPassword(config.SeedPassword)
	if err != nil {
		return fmt.Errorf("seeding user: %w", err)
	}
	users := map[string]string{strings.ToLower(config.SeedUserID): seedHash}

	// 4. Bridge + background workers
	br := bridge.New(log, config.ArtifactTTL, config.TokenTTL)
	sup := workers.NewSupervisor(log)
	sup.Add(
		bridge.NewReclaimerWorker(br, log, config.ReclaimInterval),
		workers.NewSpoolWatchdogWorker(log, br, config.SpoolDir, config.WatchdogInterval, config.SpoolUsedPercentMax),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sup.Run(ctx)

	// 5. Receiving endpoint
	policy := auth.Policy{
		AllowedTypes: config.AllowedTypeList(),
		MaxBytes:     config.MaxFileSizeBytes(),
		IssuedAt:     time.Now().UTC(),
	}
	gw := gateway.New(log, br, uploadTokens, sessionTokens,
		[]byte(config.PolicyKey), policy, config.SpoolDir, users, catalog)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler: gw.Router(),
	}

	// 6. Optional catalog inspector
	if config.DebugPort > 0 {
		internal.StartDebugServer(db, config.DebugPort, func() map[string]any {
			return map[string]any{
				"PendingArtifacts": br.Size(),
				"Time":             time.Now().Format(time.RFC822),
			}
		})
		log.Info("Catalog inspector started", "url", internal.InspectURL(config.DebugPort, "upload:"))
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Gateway listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("gateway failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	sup.Stop()
	log.Info("Program stopped cleanly")
	return nil
}
