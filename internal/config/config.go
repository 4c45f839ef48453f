// Package config loads the maxbot configuration from a YAML file,
// MAXBOT_* environment variables and command line flags, and validates it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/edgard/webmax"
)

// ErrConfiguration wraps every loading and validation failure.
var ErrConfiguration = errors.New("configuration error")

// Config is the complete maxbot configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Max       webmax.Config   `mapstructure:"max" validate:"-"`
	Bot       BotConfig       `mapstructure:"bot"`
	Messages  MessagesConfig  `mapstructure:"messages"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// BotConfig holds behavior switches of the example bot.
type BotConfig struct {
	AdminUserID      int64         `mapstructure:"admin_user_id" validate:"gte=0"`
	DeletePing       bool          `mapstructure:"delete_ping"`
	HistoryLimit     int           `mapstructure:"history_limit" validate:"gte=1,lte=500"`
	MessageRetention time.Duration `mapstructure:"message_retention" validate:"gte=0"`
}

// MessagesConfig holds the texts the bot sends.
type MessagesConfig struct {
	Welcome         string `mapstructure:"welcome" validate:"required"`
	Help            string `mapstructure:"help" validate:"required"`
	Pong            string `mapstructure:"pong" validate:"required"`
	NotAuthorized   string `mapstructure:"not_authorized" validate:"required"`
	ProvideQuestion string `mapstructure:"provide_question" validate:"required"`
	AskDisabled     string `mapstructure:"ask_disabled" validate:"required"`
	GeneralError    string `mapstructure:"general_error" validate:"required"`
	LoggedOut       string `mapstructure:"logged_out" validate:"required"`
	HistoryCleared  string `mapstructure:"history_cleared" validate:"required"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// GeminiConfig configures /ask. An empty APIKey disables the command.
type GeminiConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	ModelName         string  `mapstructure:"model_name" validate:"required_with=APIKey"`
	Temperature       float32 `mapstructure:"temperature" validate:"gte=0,lte=2"`
	SystemInstruction string  `mapstructure:"system_instruction"`
	MaxRetries        int     `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds" validate:"gte=0,lte=60"`
}

// TaskConfig enables a scheduled task and sets its cron schedule.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// MetricsConfig sets where /metrics is served. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":    "logger.level",
	"log-json":     "logger.json",
	"db":           "database.path",
	"phone":        "max.phone",
	"metrics-addr": "metrics.addr",
}

// RegisterFlags adds the configuration flags to flags. Load binds them when
// given the same set.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "path to the configuration file (default ./config.yaml)")
	flags.String("log-level", DefaultLogLevel, "log level: debug, info, warn or error")
	flags.Bool("log-json", DefaultLogJSON, "log as JSON")
	flags.String("db", DefaultDBPath, "path to the SQLite database")
	flags.String("phone", "", "phone number used for SMS login (E.164)")
	flags.String("metrics-addr", "", "address to serve /metrics on")
}

// Load reads the configuration. Values are taken, from lowest to highest
// precedence, from defaults, the config file, MAXBOT_* environment
// variables and flags set on flags. A missing config file is not an error.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MAXBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: failed to read config file: %w", ErrConfiguration, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("%w: bind flag %s: %w", ErrConfiguration, name, err)
				}
			}
		}
	}

	cfg := defaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %w", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return cfg, nil
}
