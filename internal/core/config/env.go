// # internal/core/config/env.go
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: SOLAUDIT_[SECTION]_[KEY] (e.g., SOLAUDIT_LLM_MODEL).
func ApplyEnvOverrides(cfg *Config) {
	// Scan
	setEnvInt64(&cfg.Scan.MaxFileSize, "SOLAUDIT_SCAN_MAX_FILE_SIZE")
	setEnvInt(&cfg.Scan.Workers, "SOLAUDIT_SCAN_WORKERS")

	// LLM
	setEnvString(&cfg.LLM.Provider, "SOLAUDIT_LLM_PROVIDER")
	setEnvString(&cfg.LLM.Model, "SOLAUDIT_LLM_MODEL")
	setEnvString(&cfg.LLM.PatchModel, "SOLAUDIT_LLM_PATCH_MODEL")
	setEnvString(&cfg.LLM.BaseURL, "SOLAUDIT_LLM_BASE_URL")
	setEnvInt(&cfg.LLM.MaxTokens, "SOLAUDIT_LLM_MAX_TOKENS")
	setEnvDuration(&cfg.LLM.Timeout, "SOLAUDIT_LLM_TIMEOUT")
	setEnvInt(&cfg.LLM.Retries, "SOLAUDIT_LLM_RETRIES")
	setEnvInt(&cfg.LLM.Concurrency, "SOLAUDIT_LLM_CONCURRENCY")
	setEnvDuration(&cfg.LLM.RequestDelay, "SOLAUDIT_LLM_REQUEST_DELAY")
	setEnvInt(&cfg.LLM.Budget, "SOLAUDIT_LLM_BUDGET")

	// Cache
	setEnvBool(&cfg.Cache.Enabled, "SOLAUDIT_CACHE_ENABLED")
	setEnvString(&cfg.Cache.Dir, "SOLAUDIT_CACHE_DIR")

	// Patch
	setEnvBool(&cfg.Patch.Enabled, "SOLAUDIT_PATCH_ENABLED")
	setEnvBool(&cfg.Patch.RunTests, "SOLAUDIT_PATCH_RUN_TESTS")

	// Report
	setEnvString(&cfg.Report.Dir, "SOLAUDIT_REPORT_DIR")

	// Observability
	setEnvBool(&cfg.Observability.Enabled, "SOLAUDIT_OBSERVABILITY_ENABLED")
	setEnvInt(&cfg.Observability.Port, "SOLAUDIT_OBSERVABILITY_PORT")
	setEnvString(&cfg.Observability.OTLPEndpoint, "SOLAUDIT_OBSERVABILITY_OTLP_ENDPOINT")
}

// Credentials hold provider API keys. They are environment-only so config
// files stay safe to commit.
type Credentials struct {
	MoonshotKey string
	KimiCodeKey string
}

func LoadCredentials() Credentials {
	return Credentials{
		MoonshotKey: strings.TrimSpace(os.Getenv("MOONSHOT_API_KEY")),
		KimiCodeKey: strings.TrimSpace(os.Getenv("KIMI_CODE_API_KEY")),
	}
}

// HasAny reports whether at least one provider key is present.
func (c Credentials) HasAny() bool {
	return c.MoonshotKey != "" || c.KimiCodeKey != ""
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvInt64(target *int64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = b
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		}
	}
}
