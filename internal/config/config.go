package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds the gateway runtime configuration. Values come from the
// environment (optionally seeded from a .env file); unset values fall back to
// the defaults below.
type Config struct {
	WorkspaceRoot   string
	BlockedPatterns []string

	DefaultTimeoutSec int
	MaxTimeoutSec     int
	MaxFileSize       int64
	MaxOutputLines    int

	IndexDBPath     string
	IndexDebounceMs int

	HITLTimeoutSec  int
	ApprovalPollMs  int

	GatewayHost string
	GatewayPort int
	MetricsPort int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DataDir      string
	AuditLogPath string

	SecretsFile       string
	SecretsPassphrase string

	LogLevel  string
	LogFormat string
}

const (
	defaultWorkspaceRoot   = "/workspace"
	defaultBlockedPatterns = "*.env,*.key,*.pem,id_rsa,.git/config,**/secrets/**"
	defaultTimeoutSec      = 30
	defaultMaxTimeoutSec   = 300
	defaultMaxFileSize     = 10 * 1024 * 1024
	defaultMaxOutputLines  = 10000
	defaultDebounceMs      = 500
	defaultHITLTimeoutSec  = 120
	defaultApprovalPollMs  = 2000
	defaultGatewayPort     = 9500
	defaultRedisAddr       = "localhost:6379"
	defaultDataDir         = "/var/lib/warden"
)

// Load builds the configuration from the environment. A .env file is applied
// first when present (WARDEN_ENV_FILE, else ./.env); real environment
// variables win over file values per godotenv semantics.
func Load() (*Config, error) {
	if envFile := os.Getenv("WARDEN_ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded env file")
		}
	} else if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}

	dataDir := defaultDataDir
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		dataDir = dir
	}

	cfg := &Config{
		WorkspaceRoot:     defaultWorkspaceRoot,
		BlockedPatterns:   splitPatterns(defaultBlockedPatterns),
		DefaultTimeoutSec: defaultTimeoutSec,
		MaxTimeoutSec:     defaultMaxTimeoutSec,
		MaxFileSize:       defaultMaxFileSize,
		MaxOutputLines:    defaultMaxOutputLines,
		IndexDBPath:       filepath.Join(dataDir, "index.db"),
		IndexDebounceMs:   defaultDebounceMs,
		HITLTimeoutSec:    defaultHITLTimeoutSec,
		ApprovalPollMs:    defaultApprovalPollMs,
		GatewayHost:       "0.0.0.0",
		GatewayPort:       defaultGatewayPort,
		RedisAddr:         defaultRedisAddr,
		DataDir:           dataDir,
		AuditLogPath:      filepath.Join(dataDir, "audit.jsonl"),
		LogLevel:          "info",
		LogFormat:         "auto",
	}

	if root := os.Getenv("WORKSPACE_ROOT"); root != "" {
		cfg.WorkspaceRoot = root
	}
	if patterns := os.Getenv("BLOCKED_PATTERNS"); patterns != "" {
		cfg.BlockedPatterns = splitPatterns(patterns)
	}

	loadInt("DEFAULT_TIMEOUT", &cfg.DefaultTimeoutSec)
	loadInt("MAX_TIMEOUT", &cfg.MaxTimeoutSec)
	loadInt64("MAX_FILE_SIZE", &cfg.MaxFileSize)
	loadInt("MAX_OUTPUT_LINES", &cfg.MaxOutputLines)
	loadInt("INDEX_DEBOUNCE_MS", &cfg.IndexDebounceMs)
	loadInt("HITL_TIMEOUT", &cfg.HITLTimeoutSec)
	loadInt("APPROVAL_POLL_MS", &cfg.ApprovalPollMs)
	loadInt("GATEWAY_PORT", &cfg.GatewayPort)
	loadInt("METRICS_PORT", &cfg.MetricsPort)
	loadInt("REDIS_DB", &cfg.RedisDB)

	if host := os.Getenv("GATEWAY_HOST"); host != "" {
		cfg.GatewayHost = host
	}
	if dbPath := os.Getenv("INDEX_DB_PATH"); dbPath != "" {
		cfg.IndexDBPath = dbPath
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}
	if auditPath := os.Getenv("AUDIT_LOG_PATH"); auditPath != "" {
		cfg.AuditLogPath = auditPath
	}
	if secretsFile := os.Getenv("SECRETS_FILE"); secretsFile != "" {
		cfg.SecretsFile = secretsFile
	}
	if passphrase := os.Getenv("SECRETS_PASSPHRASE"); passphrase != "" {
		cfg.SecretsPassphrase = passphrase
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}

	cfg.clampValues()

	root, err := filepath.Abs(cfg.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root %q: %w", cfg.WorkspaceRoot, err)
	}
	cfg.WorkspaceRoot = root

	return cfg, nil
}

// Validate checks the parts of the configuration the gateway cannot start
// without. The workspace root must exist and be a directory.
func (c *Config) Validate() error {
	info, err := os.Stat(c.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("workspace root %q not accessible: %w", c.WorkspaceRoot, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("workspace root %q is not a directory", c.WorkspaceRoot)
	}
	if c.SecretsFile != "" && c.SecretsPassphrase == "" {
		return fmt.Errorf("SECRETS_FILE is set but SECRETS_PASSPHRASE is empty")
	}
	return nil
}

// clampValues resets out-of-range numbers to their defaults with a warning
// instead of failing startup.
func (c *Config) clampValues() {
	if c.DefaultTimeoutSec <= 0 {
		log.Warn().Int("value", c.DefaultTimeoutSec).Msg("Invalid DEFAULT_TIMEOUT, using default")
		c.DefaultTimeoutSec = defaultTimeoutSec
	}
	if c.MaxTimeoutSec <= 0 {
		log.Warn().Int("value", c.MaxTimeoutSec).Msg("Invalid MAX_TIMEOUT, using default")
		c.MaxTimeoutSec = defaultMaxTimeoutSec
	}
	if c.DefaultTimeoutSec > c.MaxTimeoutSec {
		c.DefaultTimeoutSec = c.MaxTimeoutSec
	}
	if c.MaxFileSize <= 0 {
		log.Warn().Int64("value", c.MaxFileSize).Msg("Invalid MAX_FILE_SIZE, using default")
		c.MaxFileSize = defaultMaxFileSize
	}
	if c.MaxOutputLines <= 0 {
		log.Warn().Int("value", c.MaxOutputLines).Msg("Invalid MAX_OUTPUT_LINES, using default")
		c.MaxOutputLines = defaultMaxOutputLines
	}
	if c.IndexDebounceMs <= 0 {
		c.IndexDebounceMs = defaultDebounceMs
	}
	if c.HITLTimeoutSec <= 0 {
		c.HITLTimeoutSec = defaultHITLTimeoutSec
	}
	if c.ApprovalPollMs <= 0 {
		c.ApprovalPollMs = defaultApprovalPollMs
	}
	if c.GatewayPort <= 0 || c.GatewayPort > 65535 {
		log.Warn().Int("value", c.GatewayPort).Msg("Invalid GATEWAY_PORT, using default")
		c.GatewayPort = defaultGatewayPort
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		c.MetricsPort = 0
	}
}

func splitPatterns(raw string) []string {
	parts := strings.Split(raw, ",")
	patterns := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			patterns = append(patterns, trimmed)
		}
	}
	return patterns
}

func loadInt(name string, dst *int) {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			*dst = v
		} else {
			log.Warn().Str("var", name).Str("value", raw).Msg("Ignoring non-numeric environment value")
		}
	}
}

func loadInt64(name string, dst *int64) {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			*dst = v
		} else {
			log.Warn().Str("var", name).Str("value", raw).Msg("Ignoring non-numeric environment value")
		}
	}
}
