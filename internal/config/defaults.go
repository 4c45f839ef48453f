package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/edgard/webmax"
)

// Default values for configuration
const (
	DefaultLogLevel = "info"
	DefaultLogJSON  = false

	DefaultDBPath = "maxbot.db"

	DefaultBotHistoryLimit     = 30
	DefaultBotMessageRetention = 30 * 24 * time.Hour

	DefaultGeminiModel             = "gemini-2.0-flash"
	DefaultGeminiTemperature       = 1.0
	DefaultGeminiMaxRetries        = 3
	DefaultGeminiRetryDelaySeconds = 2

	DefaultSQLMaintenanceSchedule   = "0 0 4 * * *"
	DefaultMessageRetentionSchedule = "0 30 4 * * *"
)

// Task names known to the scheduler section.
const (
	TaskSQLMaintenance   = "sql_maintenance"
	TaskMessageRetention = "message_retention"
)

// DefaultMessages are the texts used when the config file sets none.
var DefaultMessages = MessagesConfig{
	Welcome:         "👋 Hi! I'm a Max bot. Send /help to see what I can do.",
	Help:            "/start - greeting\n/help - this message\n/ping - check that I'm alive\n/ask <question> - ask the AI",
	Pong:            "pong",
	NotAuthorized:   "🚫 Access denied.",
	ProvideQuestion: "ℹ️ Please write your question after /ask.",
	AskDisabled:     "🤖 /ask is not configured.",
	GeneralError:    "❌ An error occurred. Please try again later.",
	LoggedOut:       "👋 Session closed. Bye!",
	HistoryCleared:  "🧹 Chat history cleared.",
}

func defaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level: DefaultLogLevel,
			JSON:  DefaultLogJSON,
		},
		Max: webmax.DefaultConfig(),
		Bot: BotConfig{
			HistoryLimit:     DefaultBotHistoryLimit,
			MessageRetention: DefaultBotMessageRetention,
		},
		Messages: DefaultMessages,
		Database: DatabaseConfig{
			Path: DefaultDBPath,
		},
		Gemini: GeminiConfig{
			ModelName:         DefaultGeminiModel,
			Temperature:       DefaultGeminiTemperature,
			MaxRetries:        DefaultGeminiMaxRetries,
			RetryDelaySeconds: DefaultGeminiRetryDelaySeconds,
		},
		Scheduler: SchedulerConfig{
			Tasks: map[string]TaskConfig{
				TaskSQLMaintenance:   {Enabled: true, Schedule: DefaultSQLMaintenanceSchedule},
				TaskMessageRetention: {Enabled: true, Schedule: DefaultMessageRetentionSchedule},
			},
		},
	}
}

// setDefaults registers every key viper should resolve from the
// environment, with its default value.
func setDefaults(v *viper.Viper) {
	def := defaultConfig()

	v.SetDefault("logger.level", def.Logger.Level)
	v.SetDefault("logger.json", def.Logger.JSON)

	v.SetDefault("max.token", "")
	v.SetDefault("max.phone", "")
	v.SetDefault("max.endpoint", def.Max.Endpoint)
	v.SetDefault("max.origin", def.Max.Origin)
	v.SetDefault("max.request_timeout", def.Max.RequestTimeout)
	v.SetDefault("max.handshake_timeout", def.Max.HandshakeTimeout)
	v.SetDefault("max.keep_alive_interval", def.Max.KeepAliveInterval)
	v.SetDefault("max.max_code_attempts", def.Max.MaxCodeAttempts)
	v.SetDefault("max.reconnect.max_attempts", def.Max.Reconnect.MaxAttempts)
	v.SetDefault("max.reconnect.initial_interval", def.Max.Reconnect.InitialInterval)
	v.SetDefault("max.reconnect.max_interval", def.Max.Reconnect.MaxInterval)
	v.SetDefault("max.reconnect.multiplier", def.Max.Reconnect.Multiplier)
	v.SetDefault("max.user_agent.locale", def.Max.UserAgent.Locale)
	v.SetDefault("max.user_agent.app_version", def.Max.UserAgent.AppVersion)

	v.SetDefault("bot.admin_user_id", 0)
	v.SetDefault("bot.delete_ping", false)
	v.SetDefault("bot.history_limit", def.Bot.HistoryLimit)
	v.SetDefault("bot.message_retention", def.Bot.MessageRetention)

	v.SetDefault("messages.welcome", def.Messages.Welcome)
	v.SetDefault("messages.help", def.Messages.Help)
	v.SetDefault("messages.pong", def.Messages.Pong)
	v.SetDefault("messages.not_authorized", def.Messages.NotAuthorized)
	v.SetDefault("messages.provide_question", def.Messages.ProvideQuestion)
	v.SetDefault("messages.ask_disabled", def.Messages.AskDisabled)
	v.SetDefault("messages.general_error", def.Messages.GeneralError)
	v.SetDefault("messages.logged_out", def.Messages.LoggedOut)
	v.SetDefault("messages.history_cleared", def.Messages.HistoryCleared)

	v.SetDefault("database.path", def.Database.Path)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", def.Gemini.ModelName)
	v.SetDefault("gemini.temperature", def.Gemini.Temperature)
	v.SetDefault("gemini.system_instruction", "")
	v.SetDefault("gemini.max_retries", def.Gemini.MaxRetries)
	v.SetDefault("gemini.retry_delay_seconds", def.Gemini.RetryDelaySeconds)

	for name, task := range def.Scheduler.Tasks {
		v.SetDefault("scheduler.tasks."+name+".enabled", task.Enabled)
		v.SetDefault("scheduler.tasks."+name+".schedule", task.Schedule)
	}

	v.SetDefault("metrics.addr", "")
}
