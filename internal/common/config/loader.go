// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()

	// Base config
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	// Enable ENV override like BACKENDS_SAGE_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay
	envConfigFile := fmt.Sprintf("config.%s", env)
	v.SetConfigName(envConfigFile)
	_ = v.MergeInConfig() // ignore error if not found

	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// Direct override if config values are still empty after expansion
func overrideEmptyConfig(cfg *Config) {
	for id, backend := range cfg.Backends {
		if backend.APIKey == "" {
			envKey := fmt.Sprintf("%s_API_KEY", strings.ToUpper(id))
			if val := os.Getenv(envKey); val != "" {
				backend.APIKey = val
				cfg.Backends[id] = backend
			}
		}
	}

	if cfg.Storage.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Storage.Postgres.User = val
		}
	}
	if cfg.Storage.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Storage.Postgres.Password = val
		}
	}
	if cfg.Storage.Redis.Password == "" {
		if val := os.Getenv("REDIS_PASSWORD"); val != "" {
			cfg.Storage.Redis.Password = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8090"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10000
	}

	// Call client defaults
	if cfg.Call.Timeout == 0 {
		cfg.Call.Timeout = 30000
	}
	if cfg.Call.MaxRetries == 0 {
		cfg.Call.MaxRetries = 3
	}
	if cfg.Call.BackoffBase == 0 {
		cfg.Call.BackoffBase = 1000
	}
	if cfg.Call.JitterMax == 0 {
		cfg.Call.JitterMax = 1000
	}
	if cfg.Call.CoolDown == 0 {
		cfg.Call.CoolDown = 5000
	}

	// Discussion defaults
	if cfg.Discussion.Rounds == 0 {
		cfg.Discussion.Rounds = 3
	}
	if cfg.Discussion.ContextWindow == 0 {
		cfg.Discussion.ContextWindow = 4
	}
	if cfg.Discussion.TurnDelayMin == 0 {
		cfg.Discussion.TurnDelayMin = 1000
	}
	if cfg.Discussion.TurnDelayMax == 0 {
		cfg.Discussion.TurnDelayMax = 2500
	}
	if cfg.Discussion.RoundDelay == 0 {
		cfg.Discussion.RoundDelay = 4000
	}
	if cfg.Discussion.RateLimitWait == 0 {
		cfg.Discussion.RateLimitWait = 15000
	}
	if cfg.Discussion.MaxAnswerWords == 0 {
		cfg.Discussion.MaxAnswerWords = 180
	}
	if cfg.Discussion.Language == "" {
		cfg.Discussion.Language = "Arabic"
	}

	// Sanitizer defaults
	if cfg.Sanitize.TargetScript == "" {
		cfg.Sanitize.TargetScript = "arabic"
	}
	if cfg.Sanitize.MinLength == 0 {
		cfg.Sanitize.MinLength = 40
	}
	if cfg.Sanitize.MaxLength == 0 {
		cfg.Sanitize.MaxLength = 4000
	}
	if cfg.Sanitize.ScriptRatioMin == 0 {
		cfg.Sanitize.ScriptRatioMin = 0.30
	}
	if cfg.Sanitize.NoiseCharMax == 0 {
		cfg.Sanitize.NoiseCharMax = 5
	}
	if cfg.Sanitize.UniqueWordMin == 0 {
		cfg.Sanitize.UniqueWordMin = 0.7
	}
	if cfg.Sanitize.ValidThreshold == 0 {
		cfg.Sanitize.ValidThreshold = 70
	}

	// Search defaults
	if cfg.Search.MinCandidates == 0 {
		cfg.Search.MinCandidates = 10
	}
	if cfg.Search.MaxCandidates == 0 {
		cfg.Search.MaxCandidates = 200
	}
	if cfg.Search.EarlyStopCap == 0 {
		cfg.Search.EarlyStopCap = 10
	}
	if cfg.Search.EarlyStopDivisor == 0 {
		cfg.Search.EarlyStopDivisor = 5
	}
	if cfg.Search.Workers == 0 {
		cfg.Search.Workers = 4
	}

	// Storage defaults
	if cfg.Storage.Redis.TTL == 0 {
		cfg.Storage.Redis.TTL = 86400
	}
	if cfg.Storage.Postgres.MaxConnections == 0 {
		cfg.Storage.Postgres.MaxConnections = 25
	}
	if cfg.Storage.Postgres.MaxIdle == 0 {
		cfg.Storage.Postgres.MaxIdle = 5
	}
	if cfg.Storage.Postgres.SSLMode == "" {
		cfg.Storage.Postgres.SSLMode = "disable"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if len(cfg.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}
	for id, backend := range cfg.Backends {
		if backend.BaseURL == "" {
			return fmt.Errorf("backends.%s.base_url is required", id)
		}
	}

	if cfg.Call.MaxRetries < 1 {
		return fmt.Errorf("call.max_retries must be >= 1")
	}
	if cfg.Discussion.TurnDelayMax < cfg.Discussion.TurnDelayMin {
		return fmt.Errorf("discussion.turn_delay_max must be >= turn_delay_min")
	}
	if cfg.Search.MaxCandidates < cfg.Search.MinCandidates {
		return fmt.Errorf("search.max_candidates must be >= min_candidates")
	}

	if cfg.Storage.Redis.Enabled && cfg.Storage.Redis.Address == "" {
		return fmt.Errorf("storage.redis.address is required when redis is enabled")
	}
	if cfg.Storage.Postgres.Enabled {
		if cfg.Storage.Postgres.Host == "" {
			return fmt.Errorf("storage.postgres.host is required when postgres is enabled")
		}
		if cfg.Storage.Postgres.Database == "" {
			return fmt.Errorf("storage.postgres.database is required when postgres is enabled")
		}
		if cfg.Storage.Postgres.User == "" {
			return fmt.Errorf("storage.postgres.user is required when postgres is enabled")
		}
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
