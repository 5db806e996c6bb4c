package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"upload-lab/auth"
	"upload-lab/bridge"
	"upload-lab/client"
	"upload-lab/domain"
	"upload-lab/domain/event"
	"upload-lab/gateway"
	"upload-lab/repositories"
	"upload-lab/runtime"
	"upload-lab/sink"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

// Config drives the self-contained uploader: it hosts its own receiving
// endpoint on the loopback interface, so the full pipeline (network stage
// included) runs against real HTTP.
type Config struct {
	LogLevel    string `envconfig:"UPLOADER_LOG_LEVEL" default:"warn"`
	GatewayPort int    `envconfig:"UPLOADER_GATEWAY_PORT" default:"8750"`

	UserID   string `envconfig:"UPLOADER_USER_ID" default:"uploader"`
	Password string `envconfig:"UPLOADER_PASSWORD" required:"true"`

	TokenSecret   string `envconfig:"TOKEN_SECRET" required:"true"`
	SessionSecret string `envconfig:"SESSION_SECRET" required:"true"`
	PolicyKey     string `envconfig:"POLICY_KEY" required:"true"`

	WorkDir      string `envconfig:"UPLOADER_WORK_DIR" default:""`
	AllowedTypes string `envconfig:"ALLOWED_TYPES" default:"image/png,image/jpeg,image/gif,application/pdf,text/plain"`

	MaxFilesPerBatch int   `envconfig:"MAX_FILES_PER_BATCH" default:"50"`
	MaxFileSizeMb    int64 `envconfig:"MAX_FILE_SIZE_MB" default:"512"`
	Uploads          int   `envconfig:"UPLOADER_CONCURRENT_UPLOADS" default:"3"`
	Processors       int   `envconfig:"UPLOADER_CONCURRENT_PROCESSORS" default:"2"`

	LocalDedup  bool `envconfig:"UPLOADER_LOCAL_DEDUP" default:"true"`
	RemoteDedup bool `envconfig:"UPLOADER_REMOTE_DEDUP" default:"true"`
	Persist     bool `envconfig:"UPLOADER_PERSIST" default:"true"`

	Colours bool `envconfig:"UPLOADER_COLOURS" default:"true"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	paths := os.Args[1:]
	if len(paths) == 0 {
		return fmt.Errorf("usage: uploader <file> [file...]")
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "uploader")
	}
	spoolDir := filepath.Join(workDir, "spool")
	finalDir := filepath.Join(workDir, "final")
	for _, dir := range []string{spoolDir, finalDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	// Catalog storage, shared by the remote-duplicate hook and the sink.
	db, err := badger.Open(badger.DefaultOptions(filepath.Join(workDir, "badger")).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() { _ = db.Close() }()

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(filepath.Join(workDir, "bluge")))
	if err != nil {
		return fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() { _ = blugeWriter.Close() }()

	catalog := repositories.NewCatalogRepository(db, blugeWriter, log)

	uploadTokens, err := auth.NewUploadTokenService([]byte(cfg.TokenSecret), auth.DefaultTokenTTL)
	if err != nil {
		return err
	}
	sessionTokens := auth.NewSessionTokenService([]byte(cfg.SessionSecret), time.Hour)

	passwordHash, err := auth.HashPassword(cfg.Password)
	if err != nil {
		return err
	}
	users := map[string]string{strings.ToLower(cfg.UserID): passwordHash}

	br := bridge.New(log, bridge.DefaultRetention, auth.DefaultTokenTTL)
	policy := auth.Policy{
		AllowedTypes: splitTypes(cfg.AllowedTypes),
		MaxBytes:     cfg.MaxFileSizeMb * 1024 * 1024,
		IssuedAt:     time.Now().UTC(),
	}
	gw := gateway.New(log, br, uploadTokens, sessionTokens,
		[]byte(cfg.PolicyKey), policy, spoolDir, users, catalog)

	// Endpoint on loopback. Listening before logging in so the first
	// request cannot race the server start.
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.GatewayPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	server := &http.Server{Handler: gw.Router()}
	go func() { _ = server.Serve(listener) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	endpoint := "http://" + listener.Addr().String()

	ctx := context.Background()
	transport := client.NewHTTPTransport(endpoint, log)
	session, err := transport.Login(ctx, cfg.UserID, cfg.Password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	sealedPolicy, err := transport.FetchPolicy(ctx, session)
	if err != nil {
		return fmt.Errorf("policy fetch failed: %w", err)
	}

	coordinator := runtime.NewCoordinator(log, runtime.Config{
		MaxFilesPerBatch:        cfg.MaxFilesPerBatch,
		MaxBytesPerFile:         cfg.MaxFileSizeMb * 1024 * 1024,
		AllowedTypes:            splitTypes(cfg.AllowedTypes),
		MaxConcurrentUploads:    cfg.Uploads,
		MaxConcurrentProcessors: cfg.Processors,
		Features: runtime.Features{
			LocalDedup:  cfg.LocalDedup,
			RemoteDedup: cfg.RemoteDedup,
			Persist:     cfg.Persist,
		},
	}, uploadTokens, transport, br, runtime.Hooks{
		RemoteDuplicate: repositories.NewCatalogDuplicateChecker(catalog),
		Completion:      sink.NewDiskSink(finalDir, catalog, log, cfg.UserID),
	})
	coordinator.SetSession(cfg.UserID, session, sealedPolicy)

	refs, err := buildRefs(paths)
	if err != nil {
		return err
	}

	printHeader(cfg.Colours, fmt.Sprintf("  ====== uploading %d file(s) to %s ======", len(refs), endpoint))
	coordinator.SubmitBatch(refs)
	drainEvents(coordinator.Events(), cfg.Colours)
	printSummary(coordinator.Batch())
	return nil
}

// buildRefs stats every path and sniffs its magic bytes; the declared type
// sent to the pipeline is what the bytes say, not the file extension.
func buildRefs(paths []string) ([]domain.FileRef, error) {
	refs := make([]domain.FileRef, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}
		detected, err := mimetype.DetectFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot sniff %s: %w", path, err)
		}
		refs = append(refs, domain.FileRef{
			Path:        path,
			Name:        filepath.Base(path),
			ContentType: detected.String(),
			Size:        info.Size(),
		})
	}
	return refs, nil
}

// drainEvents prints the notification stream until the batch reaches a
// terminal event. Progress lines are already throttled by the pipeline.
func drainEvents(events <-chan event.Event, colours bool) {
	for evt := range events {
		switch evt.Type {
		case event.BatchStarted:
			continue
		case event.BatchCompleted, event.BatchFailed, event.BatchCancelled:
			printHeader(colours, fmt.Sprintf("  ====== %s ======", evt.Type.String()))
			return
		case event.FileProgress:
			fmt.Printf("  %5.1f%%  %s (%s)\n",
				evt.Record.LifecyclePercent, evt.Record.Name, evt.Record.Stage.String())
		case event.FileSkipped, event.FileFailed, event.FileCancelled:
			line := fmt.Sprintf("  %-9s %s : %s", evt.Record.Status.String(), evt.Record.Name, evt.Message)
			if colours {
				line = color.New(color.FgYellow).Render(line)
			}
			fmt.Println(line)
		default:
			fmt.Printf("  %-9s %s : %s\n", evt.Record.Stage.String(), evt.Record.Name, evt.Message)
		}
	}
}

func printHeader(colours bool, header string) {
	if colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	fmt.Println(header)
}

func printSummary(snapshots []domain.RecordSnapshot) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"File", "Status", "Stage", "Progress", "Hash", "Message"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, s := range snapshots {
		hash := s.Hash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		table.Append([]string{
			s.Name,
			s.Status.String(),
			s.Stage.String(),
			fmt.Sprintf("%.1f%%", s.LifecyclePercent),
			hash,
			s.Message,
		})
	}
	table.Render()
}

func splitTypes(raw string) []string {
	parts := strings.Split(raw, ",")
	types := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			types = append(types, trimmed)
		}
	}
	return types
}
