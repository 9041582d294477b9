// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App        AppConfig                `mapstructure:"app"`
	Server     ServerConfig             `mapstructure:"server"`
	Backends   map[string]BackendConfig `mapstructure:"backends"`
	Call       CallConfig               `mapstructure:"call"`
	Discussion DiscussionConfig         `mapstructure:"discussion"`
	Sanitize   SanitizeConfig           `mapstructure:"sanitize"`
	Search     SearchConfig             `mapstructure:"search"`
	Storage    StorageConfig            `mapstructure:"storage"`
	Logging    LoggingConfig            `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

// BackendConfig describes one generation backend endpoint.
type BackendConfig struct {
	BaseURL     string   `mapstructure:"base_url"`
	APIKey      string   `mapstructure:"api_key"`
	Model       string   `mapstructure:"model"`
	Temperature float64  `mapstructure:"temperature"`
	MaxTokens   int      `mapstructure:"max_tokens"`
	CleanRules  []string `mapstructure:"clean_rules"`
}

// CallConfig holds the resilient call client settings.
type CallConfig struct {
	Timeout     int `mapstructure:"timeout"`      // per-attempt, milliseconds
	MaxRetries  int `mapstructure:"max_retries"`  // attempt budget
	BackoffBase int `mapstructure:"backoff_base"` // milliseconds
	JitterMax   int `mapstructure:"jitter_max"`   // milliseconds
	CoolDown    int `mapstructure:"cool_down"`    // rate-limit fallback, milliseconds
}

// DiscussionConfig holds orchestrator settings.
type DiscussionConfig struct {
	Rounds         int    `mapstructure:"rounds"`
	ContextWindow  int    `mapstructure:"context_window"`   // prior turns shown to a participant
	TurnDelayMin   int    `mapstructure:"turn_delay_min"`   // milliseconds
	TurnDelayMax   int    `mapstructure:"turn_delay_max"`   // milliseconds
	RoundDelay     int    `mapstructure:"round_delay"`      // milliseconds
	RateLimitWait  int    `mapstructure:"rate_limit_wait"`  // cap on cool-down honor, milliseconds
	MaxAnswerWords int    `mapstructure:"max_answer_words"` // style constraint
	Language       string `mapstructure:"language"`         // register participants are told to answer in

	// Panel is the default participant roster, in speaking order.
	Panel []ParticipantConfig `mapstructure:"panel"`

	// Apologies overrides the turn-failure texts per error class
	// (overloaded, rate_limited, timeout, bad_request, generic).
	// Keys are matched case-insensitively; viper lowercases them.
	// Each value must contain one %s for the participant name.
	Apologies map[string]string `mapstructure:"apologies"`
}

// ParticipantConfig binds a persona to a backend in the roster.
type ParticipantConfig struct {
	Backend     string `mapstructure:"backend"`
	DisplayName string `mapstructure:"display_name"`
	Role        string `mapstructure:"role"`
	Style       string `mapstructure:"style"`
}

// SanitizeConfig holds response cleanup and scoring settings.
type SanitizeConfig struct {
	TargetScript   string  `mapstructure:"target_script"` // "arabic" or "latin"
	MinLength      int     `mapstructure:"min_length"`
	MaxLength      int     `mapstructure:"max_length"`
	ScriptRatioMin float64 `mapstructure:"script_ratio_min"`
	NoiseCharMax   int     `mapstructure:"noise_char_max"`
	UniqueWordMin  float64 `mapstructure:"unique_word_min"`
	ValidThreshold int     `mapstructure:"valid_threshold"`
}

// SearchConfig holds candidate search settings.
type SearchConfig struct {
	MinCandidates    int `mapstructure:"min_candidates"`
	MaxCandidates    int `mapstructure:"max_candidates"`
	EarlyStopCap     int `mapstructure:"early_stop_cap"`
	EarlyStopDivisor int `mapstructure:"early_stop_divisor"`
	Workers          int `mapstructure:"workers"`
}

type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTL      int    `mapstructure:"ttl"` // snapshot lifetime, seconds
}

type PostgresConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
