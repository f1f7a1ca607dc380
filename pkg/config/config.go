package config

import (
	"log"
	"os"

	"github.com/code-100-precent/LingCall/pkg/logger"
	"github.com/code-100-precent/LingCall/pkg/utils"
)

// Config system configuration, loaded from environment variables
type Config struct {
	ServerName string `env:"SERVER_NAME"`
	Addr       string `env:"ADDR"`
	Mode       string `env:"MODE"`
	DBDriver   string `env:"DB_DRIVER"`
	DSN        string `env:"DSN"`
	Log        logger.LogConfig

	APIPrefix     string `env:"API_PREFIX"`
	MonitorPrefix string `env:"MONITOR_PREFIX"`

	// Telephony provider selection: twilio, plivo, mock
	Provider string `env:"PROVIDER"`

	// Outbound call control
	FromNumber               string `env:"FROM_NUMBER"`
	MaxConcurrentCalls       int    `env:"MAX_CONCURRENT_CALLS"`
	WebhookURL               string `env:"WEBHOOK_URL"`
	OutboundDefaultMode      string `env:"OUTBOUND_DEFAULT_MODE"` // conversation | notify
	NotifyHangupDelaySec     int    `env:"OUTBOUND_NOTIFY_HANGUP_DELAY_SEC"`
	MaxCallDurationSec       int    `env:"MAX_CALL_DURATION_SEC"`
	TranscriptWaitTimeoutSec int    `env:"TRANSCRIPT_WAIT_TIMEOUT_SEC"`

	// Twilio credentials and voice mapping
	TwilioAccountSID   string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken    string `env:"TWILIO_AUTH_TOKEN"`
	TwilioVoice        string `env:"TWILIO_VOICE"`
	TwilioTunnelCompat bool   `env:"TWILIO_TUNNEL_COMPAT"` // loopback-only dev bypass

	// Plivo credentials and voice mapping
	PlivoAuthID    string `env:"PLIVO_AUTH_ID"`
	PlivoAuthToken string `env:"PLIVO_AUTH_TOKEN"`
	PlivoVoice     string `env:"PLIVO_VOICE"`

	// SSL/TLS
	SSLEnabled  bool   `env:"SSL_ENABLED"`
	SSLCertFile string `env:"SSL_CERT_FILE"`
	SSLKeyFile  string `env:"SSL_KEY_FILE"`
}

var GlobalConfig *Config

func Load() error {
	// Load .env for the current environment; missing files are not fatal.
	env := os.Getenv("APP_ENV")
	if err := utils.LoadEnv(env); err != nil {
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}

	GlobalConfig = &Config{
		ServerName: getStringOrDefault("SERVER_NAME", "lingcall"),
		Addr:       getStringOrDefault("ADDR", ":7080"),
		Mode:       getStringOrDefault("MODE", "development"),
		DBDriver:   getStringOrDefault("DB_DRIVER", "sqlite"),
		DSN:        getStringOrDefault("DSN", "./lingcall.db"),
		Log: logger.LogConfig{
			Level:      getStringOrDefault("LOG_LEVEL", "info"),
			Filename:   getStringOrDefault("LOG_FILENAME", "./logs/app.log"),
			MaxSize:    getIntOrDefault("LOG_MAX_SIZE", 100),
			MaxAge:     getIntOrDefault("LOG_MAX_AGE", 30),
			MaxBackups: getIntOrDefault("LOG_MAX_BACKUPS", 5),
			Daily:      getBoolOrDefault("LOG_DAILY", true),
		},
		APIPrefix:     getStringOrDefault("API_PREFIX", "/api"),
		MonitorPrefix: getStringOrDefault("MONITOR_PREFIX", "/metrics"),

		Provider: getStringOrDefault("PROVIDER", "mock"),

		FromNumber:               getStringOrDefault("FROM_NUMBER", ""),
		MaxConcurrentCalls:       getIntOrDefault("MAX_CONCURRENT_CALLS", 1),
		WebhookURL:               getStringOrDefault("WEBHOOK_URL", ""),
		OutboundDefaultMode:      getStringOrDefault("OUTBOUND_DEFAULT_MODE", "conversation"),
		NotifyHangupDelaySec:     getIntOrDefault("OUTBOUND_NOTIFY_HANGUP_DELAY_SEC", 3),
		MaxCallDurationSec:       getIntOrDefault("MAX_CALL_DURATION_SEC", 600),
		TranscriptWaitTimeoutSec: getIntOrDefault("TRANSCRIPT_WAIT_TIMEOUT_SEC", 60),

		TwilioAccountSID:   getStringOrDefault("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:    getStringOrDefault("TWILIO_AUTH_TOKEN", ""),
		TwilioVoice:        getStringOrDefault("TWILIO_VOICE", "Polly.Joanna"),
		TwilioTunnelCompat: getBoolOrDefault("TWILIO_TUNNEL_COMPAT", false),

		PlivoAuthID:    getStringOrDefault("PLIVO_AUTH_ID", ""),
		PlivoAuthToken: getStringOrDefault("PLIVO_AUTH_TOKEN", ""),
		PlivoVoice:     getStringOrDefault("PLIVO_VOICE", "Polly.Salli"),

		SSLEnabled:  getBoolOrDefault("SSL_ENABLED", false),
		SSLCertFile: getStringOrDefault("SSL_CERT_FILE", ""),
		SSLKeyFile:  getStringOrDefault("SSL_KEY_FILE", ""),
	}
	return nil
}

// getStringOrDefault returns the env value or a default when empty
func getStringOrDefault(key, defaultValue string) string {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getBoolOrDefault returns the boolean env value or a default when unset
func getBoolOrDefault(key string, defaultValue bool) bool {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return utils.GetBoolEnv(key)
}

// getIntOrDefault returns the integer env value or a default when unset or
// not an integer. An explicit "0" is honored.
func getIntOrDefault(key string, defaultValue int) int {
	if value, ok := utils.GetIntEnv(key); ok {
		return int(value)
	}
	return defaultValue
}
