package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Version       int           `toml:"version"`
	Scan          Scan          `toml:"scan"`
	LLM           LLM           `toml:"llm"`
	Cache         Cache         `toml:"cache"`
	Patch         Patch         `toml:"patch"`
	Report        Report        `toml:"report"`
	Observability Observability `toml:"observability"`
}

type Scan struct {
	// ExcludeDirs and ExcludeFiles are glob patterns matched against
	// path segments and basenames respectively.
	ExcludeDirs  []string `toml:"exclude_dirs"`
	ExcludeFiles []string `toml:"exclude_files"`
	MaxFileSize  int64    `toml:"max_file_size"`
	Workers      int      `toml:"workers"`
}

type LLM struct {
	Provider          string        `toml:"provider"`
	Model             string        `toml:"model"`
	PatchModel        string        `toml:"patch_model"`
	BaseURL           string        `toml:"base_url"`
	MaxTokens         int           `toml:"max_tokens"`
	Timeout           time.Duration `toml:"timeout"`
	Retries           int           `toml:"retries"`
	Concurrency       int           `toml:"concurrency"`
	RequestDelay      time.Duration `toml:"request_delay"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	SelectionPool     int           `toml:"selection_pool"`
	SelectionBatch    int           `toml:"selection_batch"`
	SelectionHeadroom float64       `toml:"selection_headroom"`
	Budget            int           `toml:"budget"`
}

type Cache struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type Patch struct {
	Enabled      bool          `toml:"enabled"`
	RunTests     bool          `toml:"run_tests"`
	BuildTimeout time.Duration `toml:"build_timeout"`
	TestTimeout  time.Duration `toml:"test_timeout"`
}

type Report struct {
	Dir             string `toml:"dir"`
	SummaryFindings int    `toml:"summary_findings"`
	SummaryMaxChars int    `toml:"summary_max_chars"`
	SARIF           bool   `toml:"sarif"`
}

type Observability struct {
	Enabled      bool   `toml:"enabled"`
	Port         int    `toml:"port"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := validateVersion(&cfg); err != nil {
		return nil, err
	}
	if err := validateScan(&cfg); err != nil {
		return nil, err
	}
	if err := validateLLM(&cfg); err != nil {
		return nil, err
	}
	if err := validatePatch(&cfg); err != nil {
		return nil, err
	}
	if err := validateReport(&cfg); err != nil {
		return nil, err
	}
	if err := validateObservability(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if len(cfg.Scan.ExcludeDirs) == 0 {
		cfg.Scan.ExcludeDirs = []string{
			".git", "target", "node_modules", ".anchor", "test-ledger", "migrations", "tests",
		}
	}
	if len(cfg.Scan.ExcludeFiles) == 0 {
		cfg.Scan.ExcludeFiles = []string{"*.min.js", "*.lock"}
	}
	if cfg.Scan.MaxFileSize <= 0 {
		cfg.Scan.MaxFileSize = 1 << 20
	}

	if strings.TrimSpace(cfg.LLM.Provider) == "" {
		cfg.LLM.Provider = "auto"
	}
	if strings.TrimSpace(cfg.LLM.Model) == "" {
		cfg.LLM.Model = "kimi-k2.5"
	}
	if strings.TrimSpace(cfg.LLM.PatchModel) == "" {
		cfg.LLM.PatchModel = cfg.LLM.Model
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.Timeout <= 0 {
		cfg.LLM.Timeout = 120 * time.Second
	}
	if cfg.LLM.Retries <= 0 {
		cfg.LLM.Retries = 2
	}
	if cfg.LLM.Concurrency <= 0 {
		cfg.LLM.Concurrency = 3
	}
	if cfg.LLM.SelectionPool <= 0 {
		cfg.LLM.SelectionPool = 40
	}
	if cfg.LLM.SelectionBatch <= 0 {
		cfg.LLM.SelectionBatch = 15
	}
	if cfg.LLM.SelectionHeadroom <= 0 {
		cfg.LLM.SelectionHeadroom = 1.5
	}
	if cfg.LLM.Budget <= 0 {
		cfg.LLM.Budget = 10
	}

	if strings.TrimSpace(cfg.Cache.Dir) == "" {
		cfg.Cache.Dir = "data/cache"
	}

	if cfg.Patch.BuildTimeout <= 0 {
		cfg.Patch.BuildTimeout = 10 * time.Minute
	}
	if cfg.Patch.TestTimeout <= 0 {
		cfg.Patch.TestTimeout = 10 * time.Minute
	}

	if strings.TrimSpace(cfg.Report.Dir) == "" {
		cfg.Report.Dir = "reports"
	}
	if cfg.Report.SummaryFindings <= 0 {
		cfg.Report.SummaryFindings = 10
	}
	if cfg.Report.SummaryMaxChars <= 0 {
		cfg.Report.SummaryMaxChars = 4000
	}

	if cfg.Observability.Port == 0 {
		cfg.Observability.Port = 9090
	}
}

func validateVersion(cfg *Config) error {
	if cfg.Version < 1 {
		return fmt.Errorf("version must be >= 1, got %d", cfg.Version)
	}
	if cfg.Version > 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validateScan(cfg *Config) error {
	if cfg.Scan.MaxFileSize <= 0 {
		return fmt.Errorf("scan.max_file_size must be > 0")
	}
	if cfg.Scan.Workers < 0 {
		return fmt.Errorf("scan.workers must be >= 0 (0 selects a CPU-based default)")
	}
	for i, pattern := range cfg.Scan.ExcludeDirs {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("scan.exclude_dirs[%d] must not be empty", i)
		}
	}
	for i, pattern := range cfg.Scan.ExcludeFiles {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("scan.exclude_files[%d] must not be empty", i)
		}
	}
	return nil
}

func validateLLM(cfg *Config) error {
	provider := strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	switch provider {
	case "auto", "kimi_code", "moonshot":
	default:
		return fmt.Errorf("llm.provider must be one of: auto, kimi_code, moonshot")
	}
	if cfg.LLM.MaxTokens < 256 {
		return fmt.Errorf("llm.max_tokens must be >= 256, got %d", cfg.LLM.MaxTokens)
	}
	if cfg.LLM.SelectionBatch > 15 {
		return fmt.Errorf("llm.selection_batch must be <= 15, got %d", cfg.LLM.SelectionBatch)
	}
	if cfg.LLM.SelectionHeadroom < 1.0 {
		return fmt.Errorf("llm.selection_headroom must be >= 1.0, got %g", cfg.LLM.SelectionHeadroom)
	}
	if cfg.LLM.RequestsPerSecond < 0 {
		return fmt.Errorf("llm.requests_per_second must be >= 0")
	}
	if cfg.LLM.RequestDelay < 0 {
		return fmt.Errorf("llm.request_delay must be >= 0")
	}
	return nil
}

func validatePatch(cfg *Config) error {
	if cfg.Patch.BuildTimeout <= 0 {
		return fmt.Errorf("patch.build_timeout must be > 0")
	}
	if cfg.Patch.TestTimeout <= 0 {
		return fmt.Errorf("patch.test_timeout must be > 0")
	}
	return nil
}

func validateReport(cfg *Config) error {
	if strings.TrimSpace(cfg.Report.Dir) == "" {
		return fmt.Errorf("report.dir must not be empty")
	}
	if cfg.Report.SummaryFindings < 1 {
		return fmt.Errorf("report.summary_findings must be >= 1")
	}
	if cfg.Report.SummaryMaxChars < 500 {
		return fmt.Errorf("report.summary_max_chars must be >= 500, got %d", cfg.Report.SummaryMaxChars)
	}
	return nil
}

func validateObservability(cfg *Config) error {
	if cfg.Observability.Port < 1 || cfg.Observability.Port > 65535 {
		return fmt.Errorf("observability.port must be in 1..65535, got %d", cfg.Observability.Port)
	}
	return nil
}
