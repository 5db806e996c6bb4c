package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the server-side environment surface. Secrets are validated at
// startup so a misconfigured deployment fails before the first upload.
type Config struct {
	Host      string `env:"HOST,default=localhost"`
	Port      int    `env:"PORT,default=8080" validate:"gt=0"`
	DebugPort int    `env:"DEBUG_PORT"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`

	TokenSecret     string        `env:"TOKEN_SECRET,required=true" validate:"min=16"`
	SessionSecret   string        `env:"SESSION_SECRET,required=true" validate:"min=16"`
	PolicyKey       string        `env:"POLICY_KEY,required=true" validate:"len=32"`
	TokenTTL        time.Duration `env:"TOKEN_TTL,default=5m"`
	SessionTTL      time.Duration `env:"SESSION_TTL,default=24h"`
	ArtifactTTL     time.Duration `env:"ARTIFACT_TTL,default=20m"`
	ReclaimInterval time.Duration `env:"RECLAIM_INTERVAL,default=1m"`

	SpoolDir string `env:"SPOOL_DIR,required=true"`
	FinalDir string `env:"FINAL_DIR,required=true"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`

	MaxFilesPerBatch int    `env:"MAX_FILES_PER_BATCH,default=50" validate:"gt=0"`
	MaxFileSizeMb    int    `env:"MAX_FILE_SIZE_MB,default=512" validate:"gt=0"`
	AllowedTypes     string `env:"ALLOWED_TYPES,required=true"`

	WatchdogInterval    time.Duration `env:"WATCHDOG_INTERVAL,default=30s"`
	SpoolUsedPercentMax float64       `env:"SPOOL_USED_PERCENT_MAX,default=90"`

	// Bootstrap account for deployments without an external user store.
	SeedUserID   string `env:"SEED_USER_ID,default=uploader"`
	SeedPassword string `env:"SEED_PASSWORD,required=true" validate:"min=12"`
}

var validate = validator.New()

// Check validates the loaded configuration beyond what the env tags can
// express. The secret lengths are the part that must never slip through.
func (c Config) Check() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// AllowedTypeList splits the comma separated allow-list from the env.
func (c Config) AllowedTypeList() []string {
	parts := strings.Split(c.AllowedTypes, ",")
	types := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			types = append(types, trimmed)
		}
	}
	return types
}

// MaxFileSizeBytes converts the configured ceiling to bytes.
func (c Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMb) * 1024 * 1024
}
