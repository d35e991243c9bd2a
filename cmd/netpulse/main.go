// netpulse - Client-side real-time telemetry engine for a network-monitoring
// dashboard.
//
// It reconciles periodic snapshot pulls and push events from a capture
// backend into a canonical connection/country dataset and deduplicates
// per-country alerts.
//
// Usage:
//
//	netpulse -backend=http://127.0.0.1:7420 -push=ws://127.0.0.1:7420/ws
//
// Environment variables (alternative to flags):
//
//	NETPULSE_BACKEND   - Backend base URL
//	NETPULSE_PUSH      - Push channel WebSocket URL
//	NETPULSE_REDIS     - Redis URL (optional, cross-process alert dedup)
//	NETPULSE_DATABASE  - PostgreSQL URL (optional, alert journal)
//	NETPULSE_INTERFACE - Capture interface (optional, backend default if empty)
//	NETPULSE_SETTINGS  - Settings file path
//	NETPULSE_LOG_LEVEL - debug, info, warn or error
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"netpulse/pkg/alert"
	"netpulse/pkg/backend"
	"netpulse/pkg/datasync"
	"netpulse/pkg/models"
	"netpulse/pkg/settings"
)

type config struct {
	BackendURL   string `env:"NETPULSE_BACKEND" envDefault:"http://127.0.0.1:7420"`
	PushURL      string `env:"NETPULSE_PUSH" envDefault:"ws://127.0.0.1:7420/ws"`
	RedisURL     string `env:"NETPULSE_REDIS"`
	DatabaseURL  string `env:"NETPULSE_DATABASE"`
	Interface    string `env:"NETPULSE_INTERFACE"`
	SettingsPath string `env:"NETPULSE_SETTINGS" envDefault:"netpulse.yaml"`
	LogLevel     string `env:"NETPULSE_LOG_LEVEL" envDefault:"info"`
}

var (
	backendFlag   = flag.String("backend", "", "Backend base URL")
	pushFlag      = flag.String("push", "", "Push channel WebSocket URL")
	redisFlag     = flag.String("redis", "", "Redis URL (optional)")
	databaseFlag  = flag.String("database", "", "PostgreSQL URL (optional)")
	ifaceFlag     = flag.String("interface", "", "Capture interface (optional)")
	settingsFlag  = flag.String("settings", "", "Settings file path")
	statsInterval = flag.Duration("stats", 30*time.Second, "Stats logging interval")
	listIfaces    = flag.Bool("list-interfaces", false, "List capturable interfaces and exit")
)

func main() {
	flag.Parse()

	// .env first so env.Parse sees it.
	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		logrus.WithError(err).Fatal("invalid environment configuration")
	}
	applyFlagOverrides(&cfg)

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	log.Info("netpulse starting...")

	prefs, err := settings.Load(cfg.SettingsPath)
	if err != nil {
		log.WithError(err).Warn("settings load failed, using defaults")
	}

	svc := backend.NewClient(cfg.BackendURL)
	ctx := context.Background()

	if *listIfaces {
		ifaces, err := svc.ListInterfaces(ctx)
		if err != nil {
			log.WithError(err).Fatal("interface listing failed")
		}
		for _, name := range ifaces {
			os.Stdout.WriteString(name + "\n")
		}
		return
	}

	// Capture permission preflight: check, request once, refuse to start
	// when still denied. This is the one failure that blocks startup.
	granted, err := svc.CheckPermissions(ctx)
	if err != nil {
		log.WithError(err).Fatal("backend unreachable")
	}
	if !granted {
		log.Info("capture permission missing, requesting...")
		granted, err = svc.RequestPermissions(ctx)
		if err != nil {
			log.WithError(err).Fatal("permission request failed")
		}
	}
	if !granted {
		log.Fatal("capture permission denied - grant packet capture access and restart")
	}

	// Connect to Redis (optional)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Warn("invalid Redis URL")
		} else {
			redisClient = redis.NewClient(opt)
			if err := redisClient.Ping(ctx).Err(); err != nil {
				log.WithError(err).Warn("Redis connection failed")
				redisClient = nil
			} else {
				log.WithField("url", cfg.RedisURL).Info("connected to Redis")
			}
		}
	}

	// Alert journal (optional)
	var journal *alert.Journal
	if cfg.DatabaseURL != "" {
		journal, err = alert.NewJournal(cfg.DatabaseURL, log)
		if err != nil {
			log.WithError(err).Warn("alert journal unavailable")
			journal = nil
		} else {
			journal.Start()
		}
	}

	gate := alert.New(alert.Config{
		Notifier: &logNotifier{log: log},
		Log:      log,
		Redis:    redisClient,
		Journal:  journal,
		Enabled:  prefs.NotifyNewCountries,
	})

	ctrl := datasync.NewController(datasync.Config{
		Backend:         svc,
		Log:             log,
		Interval:        prefs.PollInterval(),
		ConnectionLimit: prefs.ConnectionCap,
		OnPush:          gate.HandlePush,
	})

	events := make(chan models.PushEvent, 256)
	sub := backend.NewPushSubscriber(cfg.PushURL, events, log)

	go func() {
		for event := range events {
			ctrl.HandlePush(event)
		}
	}()

	if err := svc.StartCapture(ctx, cfg.Interface); err != nil {
		if errors.Is(err, backend.ErrPermissionDenied) {
			log.Fatal("capture permission denied - grant packet capture access and restart")
		}
		log.WithError(err).Fatal("capture start failed")
	}
	log.WithField("interface", cfg.Interface).Info("capture started")

	ctrl.Start()
	sub.Start()

	// Stats logger
	statsDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(*statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				snap, ok := ctrl.Snapshot()
				fields := logrus.Fields{
					"sync":    ctrl.Stats(),
					"push":    sub.Stats(),
					"alerted": gate.SeenCount(),
				}
				if ok {
					fields["connections"] = len(snap.Connections)
					fields["countries"] = len(snap.Countries)
					fields["seq"] = snap.Seq
				}
				log.WithFields(fields).Info("stats")
			case <-statsDone:
				return
			}
		}
	}()

	// Wait for interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down...")
	close(statsDone)
	sub.Stop()
	close(events)
	ctrl.Stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.StopCapture(stopCtx); err != nil {
		log.WithError(err).Warn("capture stop failed")
	}

	if journal != nil {
		journal.Stop()
	}

	if err := settings.Save(cfg.SettingsPath, prefs); err != nil {
		log.WithError(err).Warn("settings save failed")
	}
	log.Info("netpulse stopped")
}

func applyFlagOverrides(cfg *config) {
	if *backendFlag != "" {
		cfg.BackendURL = *backendFlag
	}
	if *pushFlag != "" {
		cfg.PushURL = *pushFlag
	}
	if *redisFlag != "" {
		cfg.RedisURL = *redisFlag
	}
	if *databaseFlag != "" {
		cfg.DatabaseURL = *databaseFlag
	}
	if *ifaceFlag != "" {
		cfg.Interface = *ifaceFlag
	}
	if *settingsFlag != "" {
		cfg.SettingsPath = *settingsFlag
	}
}

// logNotifier is the default notification sink: delivery to the OS
// notification center is external, so the daemon writes alerts to the log
// and always reports permission as granted.
type logNotifier struct {
	log *logrus.Logger
}

func (n *logNotifier) CheckPermission(context.Context) (bool, error) {
	return true, nil
}

func (n *logNotifier) RequestPermission(context.Context) (bool, error) {
	return true, nil
}

func (n *logNotifier) Send(_ context.Context, title, body string) error {
	n.log.WithFields(logrus.Fields{
		"title": title,
		"body":  body,
	}).Info("ALERT")
	return nil
}
