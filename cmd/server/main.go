package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/code-100-precent/LingCall/cmd/bootstrap"
	handlers "github.com/code-100-precent/LingCall/internal/handler"
	"github.com/code-100-precent/LingCall/internal/listeners"
	"github.com/code-100-precent/LingCall/internal/models"
	"github.com/code-100-precent/LingCall/pkg/callmgr"
	"github.com/code-100-precent/LingCall/pkg/config"
	"github.com/code-100-precent/LingCall/pkg/events"
	"github.com/code-100-precent/LingCall/pkg/logger"
	"github.com/code-100-precent/LingCall/pkg/metrics"
	"github.com/code-100-precent/LingCall/pkg/middleware"
	"github.com/code-100-precent/LingCall/pkg/telephony"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type LingCallApp struct {
	db       *gorm.DB
	manager  *callmgr.Manager
	handlers *handlers.Handlers
}

func NewLingCallApp(db *gorm.DB, manager *callmgr.Manager, endpoints handlers.WebhookEndpoints) *LingCallApp {
	return &LingCallApp{
		db:       db,
		manager:  manager,
		handlers: handlers.NewHandlers(db, manager, manager, endpoints),
	}
}

func (app *LingCallApp) RegisterRoutes(r *gin.Engine) {
	app.handlers.Register(r)
}

// webhookEndpoints derives the per-provider callback URLs from the configured
// public base URL.
func webhookEndpoints(baseURL string) handlers.WebhookEndpoints {
	base := strings.TrimRight(baseURL, "/")
	return handlers.WebhookEndpoints{
		Twilio: base + "/webhooks/twilio",
		Plivo:  base + "/webhooks/plivo",
	}
}

// buildProvider constructs the telephony backend named in configuration.
func buildProvider(cfg *config.Config, endpoints handlers.WebhookEndpoints) (telephony.Provider, string, error) {
	kind, err := telephony.ParseKind(cfg.Provider)
	if err != nil {
		return nil, "", err
	}
	switch kind {
	case telephony.KindTwilio:
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
			return nil, "", fmt.Errorf("twilio provider selected but credentials are not configured")
		}
		return telephony.NewTwilioProvider(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioVoice, endpoints.Twilio), endpoints.Twilio, nil
	case telephony.KindPlivo:
		if cfg.PlivoAuthID == "" || cfg.PlivoAuthToken == "" {
			return nil, "", fmt.Errorf("plivo provider selected but credentials are not configured")
		}
		return telephony.NewPlivoProvider(cfg.PlivoAuthID, cfg.PlivoAuthToken, cfg.PlivoVoice, endpoints.Plivo), endpoints.Plivo, nil
	default:
		return telephony.NewMockProvider(), endpoints.Twilio, nil
	}
}

func main() {
	// 1. Parse Command Line Parameters
	mode := flag.String("mode", "", "running environment (development, test, production)")
	initSQL := flag.String("init-sql", "", "path to database init .sql script (optional)")
	flag.Parse()

	// 2. Set Environment Variables
	if *mode != "" {
		os.Setenv("APP_ENV", *mode)
	}

	// 3. Load Global Configuration
	if err := config.Load(); err != nil {
		panic("config load failed: " + err.Error())
	}
	cfg := config.GlobalConfig

	// 4. Load Log Configuration
	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		panic(err)
	}

	// 5. Print Configuration
	bootstrap.LogConfigInfo()

	// 6. Load Data Source
	db, err := bootstrap.SetupDatabase(os.Stdout, &bootstrap.Options{
		InitSQLPath:  *initSQL,
		AutoMigrate:  true,
		RecoverStale: true,
	})
	if err != nil {
		logger.Error("database setup failed", zap.Error(err))
		return
	}

	// 7. Build Telephony Provider
	endpoints := webhookEndpoints(cfg.WebhookURL)
	provider, providerWebhookURL, err := buildProvider(cfg, endpoints)
	if err != nil {
		logger.Error("telephony provider setup failed", zap.Error(err))
		return
	}

	// 8. Build Call Manager
	manager := callmgr.NewManager(callmgr.Options{
		Provider:              provider,
		Store:                 models.NewGormCallStore(db),
		Bus:                   events.Default(),
		FromNumber:            cfg.FromNumber,
		WebhookURL:            providerWebhookURL,
		MaxConcurrentCalls:    cfg.MaxConcurrentCalls,
		DefaultMode:           callmgr.Mode(cfg.OutboundDefaultMode),
		NotifyHangupDelay:     time.Duration(cfg.NotifyHangupDelaySec) * time.Second,
		MaxCallDuration:       time.Duration(cfg.MaxCallDurationSec) * time.Second,
		TranscriptWaitTimeout: time.Duration(cfg.TranscriptWaitTimeoutSec) * time.Second,
	})
	defer manager.Shutdown()

	// 9. Initialize Event Listeners
	listeners.InitCallListeners(events.Default(), metrics.NewMetrics())

	// 10. Initialize Gin Routing
	if cfg.Mode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(logger.GetLogger()))
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	// 11. Register Routes
	app := NewLingCallApp(db, manager, endpoints)
	app.RegisterRoutes(r)

	// 12. Register Metrics Route
	r.GET(cfg.MonitorPrefix, metrics.Handler())
	logger.Info("metrics route registered", zap.String("prefix", cfg.MonitorPrefix))

	// 13. Start HTTP/HTTPS Server
	addr := cfg.Addr
	if addr == "" {
		addr = ":7080"
	}
	httpServer := &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   90 * time.Second, // continue-call waits can be long
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	if cfg.SSLEnabled && cfg.SSLCertFile != "" && cfg.SSLKeyFile != "" {
		logger.Info("Starting HTTPS server", zap.String("addr", addr))
		if err := httpServer.ListenAndServeTLS(cfg.SSLCertFile, cfg.SSLKeyFile); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTPS server run failed", zap.Error(err))
		}
	} else {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server run failed", zap.Error(err))
		}
	}
}
