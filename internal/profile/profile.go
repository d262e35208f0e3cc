package profile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Mode can be "prod", "dev" or "demo".
	Mode string
	// Addr is the binding address for the server.
	Addr string
	// Port is the binding port for the server.
	Port int
	// Data is the data directory (MYGPT_DATA_DIR).
	Data string
	// DBPath is the path of the sqlite database file (MYGPT_DB_PATH).
	DBPath string
	// SystemDir holds the base system prompt and its pinned digest.
	SystemDir string
	// LogDir is the directory for server logs (MYGPT_LOG_DIR).
	LogDir string
	// LogLevel is the slog level: debug, info, warn, error (MYGPT_LOG_LEVEL).
	LogLevel string
	// CORSOrigins are the allowed CORS origins (MYGPT_CORS_ORIGINS).
	CORSOrigins []string
	// Version is the current server version.
	Version string
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables. Values already set
// by flags are kept; environment fills the gaps.
func (p *Profile) FromEnv() {
	if p.Data == "" {
		p.Data = getEnvOrDefault("MYGPT_DATA_DIR", "data")
	}
	if p.DBPath == "" {
		p.DBPath = os.Getenv("MYGPT_DB_PATH")
	}
	if p.LogDir == "" {
		p.LogDir = os.Getenv("MYGPT_LOG_DIR")
	}
	if p.LogLevel == "" {
		p.LogLevel = getEnvOrDefault("MYGPT_LOG_LEVEL", "info")
	}
	if p.Port == 0 {
		p.Port = getEnvOrDefaultInt("MYGPT_PORT", 8000)
	}
	if len(p.CORSOrigins) == 0 {
		raw := getEnvOrDefault("MYGPT_CORS_ORIGINS", "http://localhost:1420")
		for _, origin := range strings.Split(raw, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				p.CORSOrigins = append(p.CORSOrigins, origin)
			}
		}
	}
}

// Validate normalizes the profile and creates the data directory. The
// database and log paths default to locations inside the data directory.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	dataDir := strings.TrimRight(p.Data, "\\/")
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return errors.Wrapf(err, "unable to resolve data folder %s", dataDir)
		}
		dataDir = absDir
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return errors.Wrapf(err, "unable to create data folder %s", dataDir)
	}
	p.Data = dataDir

	if p.DBPath == "" {
		p.DBPath = filepath.Join(dataDir, "chat.db")
	}
	if p.LogDir == "" {
		p.LogDir = filepath.Join(dataDir, "logs")
	}
	if p.SystemDir == "" {
		p.SystemDir = "system"
	}
	return nil
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}
