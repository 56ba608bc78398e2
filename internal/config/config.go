package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alnah/go-markup2pdf/internal/fileutil"
	"github.com/alnah/go-markup2pdf/internal/hints"
)

// Sentinel errors for config operations.
var (
	ErrConfigNotFound  = errors.New("config file not found")
	ErrEmptyConfigName = errors.New("config name cannot be empty")
	ErrConfigParse     = errors.New("failed to parse config")
	ErrFieldTooLong    = errors.New("field exceeds maximum length")
	ErrInvalidValue    = errors.New("invalid config value")
)

// appDirName is the directory searched under the user config dir.
const appDirName = "markup2pdf"

// Field length limits.
const (
	MaxAddrLength     = 255
	MaxPathLength     = 4096
	MaxURLLength      = 2048 // Browser limit
	MaxSecretLength   = 512
	MaxAPIKeyLength   = 256
	MaxAPIKeys        = 1000
	MaxAllowlistItems = 1000
)

// Server modes. Development disables the API key gate unless it is required.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Config holds all configuration for the conversion service and CLI.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Render    RenderConfig    `yaml:"render"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig defines the HTTP listener and artifact storage.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`              // Listen address, e.g. ":3000"
	Mode              string        `yaml:"mode"`              // development or production
	OutputDir         string        `yaml:"outputDir"`         // Served under /output/
	UploadDir         string        `yaml:"uploadDir"`         // Multipart uploads, removed after use
	BaseURL           string        `yaml:"baseURL"`           // Prefix for fileUrl (empty = derived from the request)
	MaxBodyBytes      int64         `yaml:"maxBodyBytes"`      // JSON and text body limit
	MaxUploadBytes    int64         `yaml:"maxUploadBytes"`    // Multipart body limit
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"` // http.Server.ReadHeaderTimeout
	WriteTimeout      time.Duration `yaml:"writeTimeout"`      // http.Server.WriteTimeout
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`   // Graceful shutdown budget
	TrustedProxies    []string      `yaml:"trustedProxies"`    // Peers whose X-Real-Ip / X-Forwarded-For are honoured
}

// RenderConfig defines engine behavior, mirrored by converter options.
type RenderConfig struct {
	Timeout           time.Duration `yaml:"timeout"`           // Per-engine render budget
	LoadTimeout       time.Duration `yaml:"loadTimeout"`       // Network idle wait
	SettleDelay       time.Duration `yaml:"settleDelay"`       // Pause before measuring
	LegacySettleDelay time.Duration `yaml:"legacySettleDelay"` // wkhtmltopdf --javascript-delay
	BrowserBin        string        `yaml:"browserBin"`        // Empty = ROD_BROWSER_BIN or auto-detect
	NoSandbox         bool          `yaml:"noSandbox"`
	LegacyPDFBin      string        `yaml:"legacyPDFBin"`
	LegacyImageBin    string        `yaml:"legacyImageBin"`
	DisableLegacy     bool          `yaml:"disableLegacy"`
	MaxConcurrency    int           `yaml:"maxConcurrency"` // 0 = derived from GOMAXPROCS
}

// AuthConfig defines the request gates of the HTTP API.
// The JWT and IP allowlist gates only run when their Required flag is set.
type AuthConfig struct {
	APIKeyRequired      bool     `yaml:"apiKeyRequired"`
	APIKeys             []string `yaml:"apiKeys"`
	JWTRequired         bool     `yaml:"jwtRequired"`
	JWTSecret           string   `yaml:"jwtSecret"`
	IPAllowlistRequired bool     `yaml:"ipAllowlistRequired"`
	IPAllowlist         []string `yaml:"ipAllowlist"` // IPs or CIDRs
}

// RateLimitConfig defines the per-client token bucket.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

// LogConfig defines logger output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// DefaultConfig returns a development configuration listening on :3000.
// Rate limiting allows 20 requests per 5 minutes per client.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":3000",
			Mode:              ModeDevelopment,
			OutputDir:         "output",
			UploadDir:         "uploads",
			MaxBodyBytes:      10 << 20,
			MaxUploadBytes:    10 << 20,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      4 * time.Minute,
			ShutdownTimeout:   30 * time.Second,
		},
		Render: RenderConfig{
			Timeout:           90 * time.Second,
			LoadTimeout:       30 * time.Second,
			SettleDelay:       time.Second,
			LegacySettleDelay: 2 * time.Second,
			NoSandbox:         true,
			LegacyPDFBin:      "wkhtmltopdf",
			LegacyImageBin:    "wkhtmltoimage",
		},
		Auth: AuthConfig{
			IPAllowlist: []string{"127.0.0.1", "::1"},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 4,
			Burst:             20,
		},
		Log: LogConfig{Level: "info", Format: "console", Output: "stderr"},
	}
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Mode != ModeProduction
}

// APIKeyGateActive reports whether requests must carry an API key: always in
// production, and in development only when explicitly required.
func (c *Config) APIKeyGateActive() bool {
	return c.Auth.APIKeyRequired || !c.IsDevelopment()
}

// Validate checks field values and their combinations.
func (c *Config) Validate() error {
	if err := validateFieldLength("server.addr", c.Server.Addr, MaxAddrLength); err != nil {
		return err
	}
	if err := validateFieldLength("server.outputDir", c.Server.OutputDir, MaxPathLength); err != nil {
		return err
	}
	if err := validateFieldLength("server.uploadDir", c.Server.UploadDir, MaxPathLength); err != nil {
		return err
	}
	if err := validateFieldLength("server.baseURL", c.Server.BaseURL, MaxURLLength); err != nil {
		return err
	}
	switch c.Server.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("%w: server.mode %q (must be development or production)", ErrInvalidValue, c.Server.Mode)
	}
	if c.Server.OutputDir == "" {
		return fmt.Errorf("%w: server.outputDir is required", ErrInvalidValue)
	}
	if c.Server.MaxBodyBytes <= 0 || c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("%w: server body limits must be positive", ErrInvalidValue)
	}
	if len(c.Server.TrustedProxies) > MaxAllowlistItems {
		return fmt.Errorf("%w: server.trustedProxies has %d entries (max %d)", ErrInvalidValue, len(c.Server.TrustedProxies), MaxAllowlistItems)
	}
	for i, entry := range c.Server.TrustedProxies {
		if !validIPOrCIDR(entry) {
			return fmt.Errorf("%w: server.trustedProxies[%d] %q is not an IP or CIDR", ErrInvalidValue, i, entry)
		}
	}

	if c.Render.Timeout <= 0 {
		return fmt.Errorf("%w: render.timeout must be positive, got %s", ErrInvalidValue, c.Render.Timeout)
	}
	if c.Render.LoadTimeout <= 0 {
		return fmt.Errorf("%w: render.loadTimeout must be positive, got %s", ErrInvalidValue, c.Render.LoadTimeout)
	}
	if c.Render.SettleDelay < 0 || c.Render.LegacySettleDelay < 0 {
		return fmt.Errorf("%w: render settle delays cannot be negative", ErrInvalidValue)
	}
	if c.Render.MaxConcurrency < 0 {
		return fmt.Errorf("%w: render.maxConcurrency cannot be negative, got %d", ErrInvalidValue, c.Render.MaxConcurrency)
	}
	for name, p := range map[string]string{
		"render.browserBin":     c.Render.BrowserBin,
		"render.legacyPDFBin":   c.Render.LegacyPDFBin,
		"render.legacyImageBin": c.Render.LegacyImageBin,
	} {
		if err := validateFieldLength(name, p, MaxPathLength); err != nil {
			return err
		}
	}

	if err := c.validateAuth(); err != nil {
		return err
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerMinute <= 0 {
			return fmt.Errorf("%w: rateLimit.requestsPerMinute must be positive", ErrInvalidValue)
		}
		if c.RateLimit.Burst < 1 {
			return fmt.Errorf("%w: rateLimit.burst must be at least 1", ErrInvalidValue)
		}
	}

	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("%w: log.format %q (must be json or console)", ErrInvalidValue, c.Log.Format)
	}
	return nil
}

func (c *Config) validateAuth() error {
	a := c.Auth
	if len(a.APIKeys) > MaxAPIKeys {
		return fmt.Errorf("%w: auth.apiKeys has %d entries (max %d)", ErrInvalidValue, len(a.APIKeys), MaxAPIKeys)
	}
	for i, k := range a.APIKeys {
		if err := validateFieldLength(fmt.Sprintf("auth.apiKeys[%d]", i), k, MaxAPIKeyLength); err != nil {
			return err
		}
	}
	if c.APIKeyGateActive() && len(a.APIKeys) == 0 {
		return fmt.Errorf("%w: auth.apiKeys required when API key auth is active", ErrInvalidValue)
	}

	if err := validateFieldLength("auth.jwtSecret", a.JWTSecret, MaxSecretLength); err != nil {
		return err
	}
	if a.JWTRequired && a.JWTSecret == "" {
		return fmt.Errorf("%w: auth.jwtSecret required when jwtRequired is set", ErrInvalidValue)
	}

	if len(a.IPAllowlist) > MaxAllowlistItems {
		return fmt.Errorf("%w: auth.ipAllowlist has %d entries (max %d)", ErrInvalidValue, len(a.IPAllowlist), MaxAllowlistItems)
	}
	if a.IPAllowlistRequired && len(a.IPAllowlist) == 0 {
		return fmt.Errorf("%w: auth.ipAllowlist required when ipAllowlistRequired is set", ErrInvalidValue)
	}
	for i, entry := range a.IPAllowlist {
		if !validIPOrCIDR(entry) {
			return fmt.Errorf("%w: auth.ipAllowlist[%d] %q is not an IP or CIDR", ErrInvalidValue, i, entry)
		}
	}
	return nil
}

func validIPOrCIDR(s string) bool {
	if strings.Contains(s, "/") {
		_, _, err := net.ParseCIDR(s)
		return err == nil
	}
	return net.ParseIP(s) != nil
}

// validateFieldLength checks if a field exceeds its maximum allowed length.
func validateFieldLength(fieldName, value string, maxLength int) error {
	if len(value) > maxLength {
		return fmt.Errorf("%w: %s (%d chars, max %d)", ErrFieldTooLong, fieldName, len(value), maxLength)
	}
	return nil
}

// LoadConfig loads configuration from a file path or config name.
// If nameOrPath contains a path separator, it's treated as a file path.
// Otherwise, it's treated as a config name and searched in standard locations.
// Values missing from the file keep their DefaultConfig value.
func LoadConfig(nameOrPath string) (*Config, error) {
	if nameOrPath == "" {
		return nil, ErrEmptyConfigName
	}

	var configPath string
	var err error

	if fileutil.IsFilePath(nameOrPath) {
		configPath = nameOrPath
	} else {
		configPath, err = resolveConfigPath(nameOrPath)
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- config path is user-provided
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := decodeStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolveConfigPath searches for a config file by name in standard locations.
// Tries extensions in order: .yaml, .yml
// Tries locations in order: current directory, ~/.config/markup2pdf/
func resolveConfigPath(name string) (string, error) {
	extensions := []string{".yaml", ".yml"}
	triedPaths := make([]string, 0, len(extensions)*2)

	for _, ext := range extensions {
		localPath := name + ext
		if fileutil.FileExists(localPath) {
			return localPath, nil
		}
		triedPaths = append(triedPaths, localPath)
	}

	userConfigDir, err := os.UserConfigDir()
	if err == nil {
		for _, ext := range extensions {
			userPath := filepath.Join(userConfigDir, appDirName, name+ext)
			if fileutil.FileExists(userPath) {
				return userPath, nil
			}
			triedPaths = append(triedPaths, userPath)
		}
	}

	return "", fmt.Errorf("%w: tried %s%s", ErrConfigNotFound, strings.Join(triedPaths, ", "), hints.ForConfigNotFound(triedPaths))
}
