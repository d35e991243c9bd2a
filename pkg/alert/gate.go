// Package alert deduplicates country-level notifications: at most one alert
// is emitted per distinct country code for the lifetime of the process.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"netpulse/pkg/models"
)

const (
	// sharedSeenKey is the Redis set holding country codes already alerted
	// on this host, shared across processes.
	sharedSeenKey = "netpulse:alert:countries"

	// sharedSeenTTL bounds how long the shared set lingers after the last
	// alert.
	sharedSeenTTL = 24 * time.Hour
)

// Notifier delivers notifications to the user. Send is fire-and-forget;
// failures are logged and never affect the data pipeline.
type Notifier interface {
	CheckPermission(ctx context.Context) (bool, error)
	RequestPermission(ctx context.Context) (bool, error)
	Send(ctx context.Context, title, body string) error
}

// Config configures a Gate. Notifier is required. Redis and Journal are
// optional: Redis extends deduplication across processes on the same host,
// Journal records fired alerts.
type Config struct {
	Notifier Notifier
	Log      *logrus.Logger
	Redis    *redis.Client
	Journal  *Journal
	Enabled  bool
}

// Gate tracks which countries have already been alerted. The seen set only
// grows for the life of the process; data refreshes and filter changes
// never reset it.
type Gate struct {
	notifier Notifier
	log      *logrus.Logger
	redis    *redis.Client
	journal  *Journal

	mu      sync.Mutex
	enabled bool
	seen    map[string]struct{}

	// permMu serializes the lazy permission lookup so it runs at most once.
	permMu     sync.Mutex
	permission *bool
}

// New creates a gate.
func New(cfg Config) *Gate {
	if cfg.Log == nil {
		cfg.Log = logrus.New()
	}
	return &Gate{
		notifier: cfg.Notifier,
		log:      cfg.Log,
		redis:    cfg.Redis,
		journal:  cfg.Journal,
		enabled:  cfg.Enabled,
		seen:     make(map[string]struct{}),
	}
}

// SetEnabled toggles alerting. Disabling does not clear the seen set.
func (g *Gate) SetEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = enabled
}

// SeenCount returns how many distinct countries have been observed.
func (g *Gate) SeenCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// HandlePush processes one push event. The country is marked seen before
// any permission prompt, so a denied grant cannot cause repeated prompts
// for the same country.
func (g *Gate) HandlePush(event models.PushEvent) {
	code := event.CountryCode

	g.mu.Lock()
	if !g.enabled || code == "" {
		g.mu.Unlock()
		return
	}
	if _, ok := g.seen[code]; ok {
		g.mu.Unlock()
		return
	}
	g.seen[code] = struct{}{}
	g.mu.Unlock()

	ctx := context.Background()

	if g.alertedElsewhere(ctx, code) {
		g.log.WithField("country", code).Debug("country already alerted by another process")
		return
	}

	if !g.ensurePermission(ctx) {
		g.log.WithField("country", code).Debug("notification permission not granted, alert skipped")
		return
	}

	g.markShared(ctx, code)

	title := "New country detected"
	body := alertBody(event)
	if err := g.notifier.Send(ctx, title, body); err != nil {
		g.log.WithError(err).WithField("country", code).Warn("notification send failed")
		return
	}

	if g.journal != nil {
		g.journal.Write(Record{
			CountryCode: code,
			Country:     event.Country,
			IP:          event.IP,
			ASN:         event.ASN,
			ASName:      event.ASName,
			AlertedAt:   time.Now(),
		})
	}

	g.log.WithFields(logrus.Fields{
		"country": code,
		"ip":      event.IP,
	}).Info("country alert emitted")
}

func alertBody(event models.PushEvent) string {
	country := event.Country
	if country == "" {
		country = event.CountryCode
	}
	if event.ASName != "" {
		return fmt.Sprintf("First connection from %s: %s (%s)", country, event.IP, event.ASName)
	}
	return fmt.Sprintf("First connection from %s: %s", country, event.IP)
}

// ensurePermission lazily resolves the notification permission and caches
// the outcome. The request is issued at most once; any error counts as not
// granted and is non-fatal.
func (g *Gate) ensurePermission(ctx context.Context) bool {
	g.permMu.Lock()
	defer g.permMu.Unlock()

	if g.permission != nil {
		return *g.permission
	}

	granted, err := g.notifier.CheckPermission(ctx)
	if err != nil {
		g.log.WithError(err).Warn("notification permission check failed")
		granted = false
	}
	if !granted {
		granted, err = g.notifier.RequestPermission(ctx)
		if err != nil {
			g.log.WithError(err).Warn("notification permission request failed")
			granted = false
		}
	}
	g.permission = &granted
	return granted
}

// alertedElsewhere checks the shared Redis set. Redis being down or absent
// just means no cross-process deduplication.
func (g *Gate) alertedElsewhere(ctx context.Context, code string) bool {
	if g.redis == nil {
		return false
	}
	return g.redis.SIsMember(ctx, sharedSeenKey, code).Val()
}

func (g *Gate) markShared(ctx context.Context, code string) {
	if g.redis == nil {
		return
	}
	if err := g.redis.SAdd(ctx, sharedSeenKey, code).Err(); err != nil {
		g.log.WithError(err).Debug("shared seen set update failed")
		return
	}
	g.redis.Expire(ctx, sharedSeenKey, sharedSeenTTL)
}
