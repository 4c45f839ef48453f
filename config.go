package webmax

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/edgard/webmax/errs"
	"github.com/edgard/webmax/internal/protocol"
	"github.com/edgard/webmax/internal/resilience"
)

const (
	// DefaultEndpoint is the production WebSocket API.
	DefaultEndpoint = "wss://ws-api.oneme.ru/websocket"
	// DefaultOrigin is sent as the Origin header during the handshake.
	DefaultOrigin = "https://web.max.ru"
)

// UserAgent describes this client to the service in the hello frame.
type UserAgent struct {
	DeviceType      string `mapstructure:"device_type" validate:"required"`
	Locale          string `mapstructure:"locale" validate:"required"`
	OSVersion       string `mapstructure:"os_version"`
	DeviceName      string `mapstructure:"device_name"`
	HeaderUserAgent string `mapstructure:"header_user_agent" validate:"required"`
	DeviceLocale    string `mapstructure:"device_locale"`
	AppVersion      string `mapstructure:"app_version" validate:"required"`
	Screen          string `mapstructure:"screen"`
	Timezone        string `mapstructure:"timezone"`
}

func (u UserAgent) wire() protocol.UserAgent {
	return protocol.UserAgent{
		DeviceType:      u.DeviceType,
		Locale:          u.Locale,
		OSVersion:       u.OSVersion,
		DeviceName:      u.DeviceName,
		HeaderUserAgent: u.HeaderUserAgent,
		DeviceLocale:    u.DeviceLocale,
		AppVersion:      u.AppVersion,
		Screen:          u.Screen,
		Timezone:        u.Timezone,
	}
}

// ReconnectConfig bounds the reconnect backoff.
type ReconnectConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gte=1,lte=100"`
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `mapstructure:"max_interval" validate:"gtefield=InitialInterval"`
	Multiplier      float64       `mapstructure:"multiplier" validate:"gte=1"`
}

func (r ReconnectConfig) retry() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = r.MaxAttempts
	cfg.InitialInterval = r.InitialInterval
	cfg.MaxInterval = r.MaxInterval
	cfg.Multiplier = r.Multiplier
	return cfg
}

// Config holds the client settings. Exactly one of Token or Phone must be
// set: Token logs in directly, Phone runs the SMS challenge through the
// CodePrompter given with WithCodePrompter. A negative KeepAliveInterval
// disables the client keep-alive.
type Config struct {
	Token             string          `mapstructure:"token" validate:"required_without=Phone,excluded_with=Phone"`
	Phone             string          `mapstructure:"phone" validate:"omitempty,e164"`
	Endpoint          string          `mapstructure:"endpoint" validate:"required,url"`
	Origin            string          `mapstructure:"origin" validate:"omitempty,url"`
	Reconnect         ReconnectConfig `mapstructure:"reconnect"`
	RequestTimeout    time.Duration   `mapstructure:"request_timeout" validate:"gt=0"`
	HandshakeTimeout  time.Duration   `mapstructure:"handshake_timeout" validate:"gt=0"`
	KeepAliveInterval time.Duration   `mapstructure:"keep_alive_interval"`
	MaxCodeAttempts   int             `mapstructure:"max_code_attempts" validate:"gte=1"`
	UserAgent         UserAgent       `mapstructure:"user_agent"`
}

// DefaultConfig returns the settings of the official web client. Token or
// Phone still have to be filled in.
func DefaultConfig() Config {
	return Config{
		Endpoint: DefaultEndpoint,
		Origin:   DefaultOrigin,
		Reconnect: ReconnectConfig{
			MaxAttempts:     5,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
			Multiplier:      2,
		},
		RequestTimeout:    15 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		KeepAliveInterval: 30 * time.Second,
		MaxCodeAttempts:   3,
		UserAgent: UserAgent{
			DeviceType:      "WEB",
			Locale:          "ru",
			OSVersion:       "Linux",
			DeviceName:      "Firefox",
			HeaderUserAgent: "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:135.0) Gecko/20100101 Firefox/135.0",
			DeviceLocale:    "ru",
			AppVersion:      "4.8.42",
			Screen:          "1080x1920 1.0x",
			Timezone:        "Europe/Moscow",
		},
	}
}

// withDefaults fills every zero field from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Endpoint == "" {
		c.Endpoint = def.Endpoint
	}
	if c.Origin == "" {
		c.Origin = def.Origin
	}
	if c.Reconnect == (ReconnectConfig{}) {
		c.Reconnect = def.Reconnect
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = def.KeepAliveInterval
	}
	if c.MaxCodeAttempts == 0 {
		c.MaxCodeAttempts = def.MaxCodeAttempts
	}
	if c.UserAgent == (UserAgent{}) {
		c.UserAgent = def.UserAgent
	}
	return c
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration and returns an errs.ConfigError
// describing every invalid field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errs.NewConfigError("invalid configuration", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed on '%s'", fe.Namespace(), fe.Tag()))
	}
	return errs.NewConfigError("invalid configuration", errors.New(strings.Join(msgs, "; ")))
}
