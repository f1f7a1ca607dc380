package bootstrap

import (
	"github.com/code-100-precent/LingCall/pkg/config"
	"github.com/code-100-precent/LingCall/pkg/logger"
	"go.uber.org/zap"
)

// LogConfigInfo prints the effective configuration at startup. Secrets are
// reported by presence only.
func LogConfigInfo() {
	cfg := config.GlobalConfig
	logger.Info("configuration loaded",
		zap.String("serverName", cfg.ServerName),
		zap.String("addr", cfg.Addr),
		zap.String("mode", cfg.Mode),
		zap.String("dbDriver", cfg.DBDriver),
		zap.String("provider", cfg.Provider),
		zap.String("webhookUrl", cfg.WebhookURL),
		zap.Int("maxConcurrentCalls", cfg.MaxConcurrentCalls),
		zap.String("defaultMode", cfg.OutboundDefaultMode),
		zap.Bool("twilioConfigured", cfg.TwilioAccountSID != ""),
		zap.Bool("plivoConfigured", cfg.PlivoAuthID != ""),
		zap.Bool("sslEnabled", cfg.SSLEnabled),
	)
}
