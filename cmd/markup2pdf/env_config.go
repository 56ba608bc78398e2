package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/alnah/go-markup2pdf/internal/config"
)

// defaultDotenv is read at startup unless M2P_ENV_FILE names another file.
const defaultDotenv = ".env"

// envConfig holds configuration from environment variables.
// Pointer fields distinguish "unset" from an explicit false or zero.
type envConfig struct {
	// Tier 1 - Essential
	ConfigPath string        // M2P_CONFIG
	Mode       string        // M2P_MODE, NODE_ENV
	Addr       string        // M2P_ADDR, PORT
	Timeout    time.Duration // M2P_TIMEOUT

	// Tier 2 - I/O
	OutputDir string // M2P_OUTPUT_DIR, OUTPUT_DIR
	UploadDir string // M2P_UPLOAD_DIR
	BaseURL   string // M2P_BASE_URL, BASE_URL

	// Tier 3 - Render
	LoadTimeout    time.Duration // M2P_LOAD_TIMEOUT
	MaxConcurrency int           // M2P_MAX_CONCURRENCY
	NoSandbox      *bool         // M2P_NO_SANDBOX
	LegacyPDFBin   string        // M2P_LEGACY_PDF_BIN
	LegacyImageBin string        // M2P_LEGACY_IMAGE_BIN
	DisableLegacy  *bool         // M2P_DISABLE_LEGACY

	// Tier 4 - Access
	APIKeys   []string // M2P_API_KEYS, API_KEYS (comma separated)
	JWTSecret string   // M2P_JWT_SECRET, JWT_SECRET
	RateLimit float64  // M2P_RATE_LIMIT: requests per minute, 0 = unset
	Proxies   []string // M2P_TRUSTED_PROXIES (comma separated)

	// Tier 5 - Logging
	LogLevel  string // M2P_LOG_LEVEL
	LogFormat string // M2P_LOG_FORMAT
}

// knownEnvVars lists valid M2P_* environment variables.
// Used to detect typos and warn users about unknown variables.
var knownEnvVars = map[string]bool{
	"M2P_CONFIG":           true,
	"M2P_MODE":             true,
	"M2P_ADDR":             true,
	"M2P_TIMEOUT":          true,
	"M2P_OUTPUT_DIR":       true,
	"M2P_UPLOAD_DIR":       true,
	"M2P_BASE_URL":         true,
	"M2P_LOAD_TIMEOUT":     true,
	"M2P_MAX_CONCURRENCY":  true,
	"M2P_NO_SANDBOX":       true,
	"M2P_LEGACY_PDF_BIN":   true,
	"M2P_LEGACY_IMAGE_BIN": true,
	"M2P_DISABLE_LEGACY":   true,
	"M2P_API_KEYS":         true,
	"M2P_JWT_SECRET":       true,
	"M2P_RATE_LIMIT":       true,
	"M2P_TRUSTED_PROXIES":  true,
	"M2P_LOG_LEVEL":        true,
	"M2P_LOG_FORMAT":       true,
	"M2P_ENV_FILE":         true,
	"M2P_CONTAINER":        true,
}

// loadEnvConfig reads configuration from environment variables.
// Prefixed variables win over their deployment aliases. Malformed numbers
// and durations are ignored.
func loadEnvConfig() *envConfig {
	cfg := &envConfig{
		ConfigPath:     os.Getenv("M2P_CONFIG"),
		Mode:           firstEnv("M2P_MODE", "NODE_ENV"),
		OutputDir:      firstEnv("M2P_OUTPUT_DIR", "OUTPUT_DIR"),
		UploadDir:      os.Getenv("M2P_UPLOAD_DIR"),
		BaseURL:        firstEnv("M2P_BASE_URL", "BASE_URL"),
		LegacyPDFBin:   os.Getenv("M2P_LEGACY_PDF_BIN"),
		LegacyImageBin: os.Getenv("M2P_LEGACY_IMAGE_BIN"),
		JWTSecret:      firstEnv("M2P_JWT_SECRET", "JWT_SECRET"),
		LogLevel:       os.Getenv("M2P_LOG_LEVEL"),
		LogFormat:      os.Getenv("M2P_LOG_FORMAT"),
		Timeout:        envDuration("M2P_TIMEOUT"),
		LoadTimeout:    envDuration("M2P_LOAD_TIMEOUT"),
		NoSandbox:      envBool("M2P_NO_SANDBOX"),
		DisableLegacy:  envBool("M2P_DISABLE_LEGACY"),
		APIKeys:        splitList(firstEnv("M2P_API_KEYS", "API_KEYS")),
		Proxies:        splitList(os.Getenv("M2P_TRUSTED_PROXIES")),
	}

	cfg.Addr = os.Getenv("M2P_ADDR")
	if cfg.Addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			if p, err := strconv.Atoi(port); err == nil && p > 0 && p < 65536 {
				cfg.Addr = ":" + port
			}
		}
	}

	if v := os.Getenv("M2P_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrency = n
		}
	}
	if v := os.Getenv("M2P_RATE_LIMIT"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r > 0 {
			cfg.RateLimit = r
		}
	}

	return cfg
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func envDuration(name string) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(name)); err == nil && d > 0 {
		return d
	}
	return 0
}

func envBool(name string) *bool {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}

// splitList splits a comma separated value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// warnUnknownEnvVars logs warnings for unrecognized M2P_* variables.
// Helps catch typos like M2P_TIMOUT instead of M2P_TIMEOUT.
func warnUnknownEnvVars(w io.Writer) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "M2P_") {
			name := strings.SplitN(env, "=", 2)[0]
			if !knownEnvVars[name] {
				fmt.Fprintf(w, "warning: unknown environment variable %s (typo?)\n", name)
			}
		}
	}
}

// applyEnvConfig overlays environment values on cfg.
// Precedence: CLI flags > env vars > config file > defaults
// (CLI flags are applied afterwards by the command).
func applyEnvConfig(env *envConfig, cfg *config.Config) {
	// Tier 1
	if env.Mode != "" {
		cfg.Server.Mode = strings.ToLower(env.Mode)
	}
	if env.Addr != "" {
		cfg.Server.Addr = env.Addr
	}
	if env.Timeout > 0 {
		cfg.Render.Timeout = env.Timeout
	}

	// Tier 2
	if env.OutputDir != "" {
		cfg.Server.OutputDir = env.OutputDir
	}
	if env.UploadDir != "" {
		cfg.Server.UploadDir = env.UploadDir
	}
	if env.BaseURL != "" {
		cfg.Server.BaseURL = env.BaseURL
	}

	// Tier 3
	if env.LoadTimeout > 0 {
		cfg.Render.LoadTimeout = env.LoadTimeout
	}
	if env.MaxConcurrency > 0 {
		cfg.Render.MaxConcurrency = env.MaxConcurrency
	}
	if env.NoSandbox != nil {
		cfg.Render.NoSandbox = *env.NoSandbox
	}
	if env.LegacyPDFBin != "" {
		cfg.Render.LegacyPDFBin = env.LegacyPDFBin
	}
	if env.LegacyImageBin != "" {
		cfg.Render.LegacyImageBin = env.LegacyImageBin
	}
	if env.DisableLegacy != nil {
		cfg.Render.DisableLegacy = *env.DisableLegacy
	}

	// Tier 4
	if len(env.APIKeys) > 0 {
		cfg.Auth.APIKeys = env.APIKeys
	}
	if env.JWTSecret != "" {
		cfg.Auth.JWTSecret = env.JWTSecret
	}
	if env.RateLimit > 0 {
		cfg.RateLimit.RequestsPerMinute = env.RateLimit
	}
	if len(env.Proxies) > 0 {
		cfg.Server.TrustedProxies = env.Proxies
	}

	// Tier 5
	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	if env.LogFormat != "" {
		cfg.Log.Format = env.LogFormat
	}
}

// dotenvPath returns the dotenv file to read at startup.
func dotenvPath() string {
	if p := os.Getenv("M2P_ENV_FILE"); p != "" {
		return p
	}
	return defaultDotenv
}

// loadDotenv exports the variables of a dotenv file that are not already set
// in the process environment. A missing file is not an error.
func loadDotenv(path string, lookup func(string) (string, bool), setenv func(string, string) error) error {
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	for key, value := range values {
		if _, set := lookup(key); set {
			continue
		}
		if err := setenv(key, value); err != nil {
			return fmt.Errorf("exporting %s from %s: %w", key, path, err)
		}
	}
	return nil
}
