// Package datasync maintains the canonical telemetry dataset: it merges
// periodic snapshot pulls and discrete push events from the capture backend
// into a single authoritative snapshot that downstream consumers observe
// through an observable holder.
package datasync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"netpulse/pkg/backend"
	"netpulse/pkg/models"
	"netpulse/pkg/state"
)

const (
	// DefaultPollInterval is the snapshot cadence until SetInterval is called.
	DefaultPollInterval = 3 * time.Second

	// DefaultConnectionLimit caps how many records a refresh pulls.
	DefaultConnectionLimit = 500

	// pulseSweepInterval is how often expired pulses are swept.
	pulseSweepInterval = 500 * time.Millisecond
)

// Snapshot is one complete canonical dataset: connections, aggregates and
// stats from the same refresh cycle. It is replaced wholesale; consumers
// never see connections from one poll mixed with aggregates from another.
type Snapshot struct {
	Connections []models.ConnectionRecord
	Countries   []models.CountryAggregate
	Stats       models.AppStats
	Seq         uint64
	Taken       time.Time
}

// Config configures a Controller. Backend is required; everything else has
// a usable default.
type Config struct {
	Backend backend.Service
	Log     *logrus.Logger

	// Interval is the initial polling cadence.
	Interval time.Duration
	// ConnectionLimit caps the records pulled per refresh.
	ConnectionLimit int
	// PulseTTL overrides the highlight lifetime of newly observed IPs.
	PulseTTL time.Duration
	// OnPush, when set, receives every push event after the pulse mark and
	// refresh trigger. The alert gate hangs off this hook.
	OnPush func(models.PushEvent)
}

// Controller owns the canonical snapshot. At most one refresh is logically
// in flight; overlapping triggers are ignored rather than queued, and a
// monotonic sequence guard keeps a late-arriving older cycle from
// overwriting a newer one.
type Controller struct {
	backend backend.Service
	log     *logrus.Logger
	limit   int

	snap   *state.Holder[Snapshot]
	pulses *PulseRegistry
	onPush func(models.PushEvent)

	inflight atomic.Bool
	seq      atomic.Uint64

	// applyMu serializes snapshot application; applied is the sequence of
	// the newest snapshot that won.
	applyMu sync.Mutex
	applied uint64

	running atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	// timerMu guards the poll timer swap so SetInterval can never leave two
	// timers firing.
	timerMu   sync.Mutex
	interval  time.Duration
	timerStop chan struct{}

	// Stats
	refreshes uint64
	skipped   uint64
	failures  uint64
}

// NewController creates a stopped controller.
func NewController(cfg Config) *Controller {
	if cfg.Log == nil {
		cfg.Log = logrus.New()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.ConnectionLimit <= 0 {
		cfg.ConnectionLimit = DefaultConnectionLimit
	}
	return &Controller{
		backend:  cfg.Backend,
		log:      cfg.Log,
		limit:    cfg.ConnectionLimit,
		snap:     state.NewHolder[Snapshot](),
		pulses:   NewPulseRegistry(cfg.PulseTTL),
		onPush:   cfg.OnPush,
		interval: cfg.Interval,
		done:     make(chan struct{}),
	}
}

// Start begins polling and the pulse sweeper, and issues an immediate
// refresh so consumers do not wait a full interval for data.
func (c *Controller) Start() {
	if c.running.Swap(true) {
		return
	}

	c.timerMu.Lock()
	c.startTimerLocked()
	c.timerMu.Unlock()

	c.wg.Add(1)
	go c.sweepLoop()

	// Not tracked by the WaitGroup: if Stop lands first, the apply guard
	// discards the result.
	go c.Refresh(context.Background())

	c.log.WithField("interval", c.interval).Info("data sync started")
}

// Stop cancels the poll timer and the sweeper. In-flight queries are not
// force-cancelled; their results are discarded once they complete.
func (c *Controller) Stop() {
	if !c.running.Swap(false) {
		return
	}
	c.stopped.Store(true)
	c.timerMu.Lock()
	c.stopTimerLocked()
	c.timerMu.Unlock()
	close(c.done)
	c.wg.Wait()
	c.log.Info("data sync stopped")
}

// SetInterval reconfigures the polling cadence. The previous timer is
// cancelled before the new one is installed, so ticks never double-fire.
func (c *Controller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	c.interval = d
	if !c.running.Load() {
		return
	}
	c.stopTimerLocked()
	c.startTimerLocked()
	c.log.WithField("interval", d).Info("poll interval updated")
}

// startTimerLocked installs a fresh poll loop. Callers hold timerMu.
func (c *Controller) startTimerLocked() {
	stop := make(chan struct{})
	c.timerStop = stop
	interval := c.interval

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Refresh(context.Background())
			case <-stop:
				return
			case <-c.done:
				return
			}
		}
	}()
}

func (c *Controller) stopTimerLocked() {
	if c.timerStop != nil {
		close(c.timerStop)
		c.timerStop = nil
	}
}

func (c *Controller) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(pulseSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.pulses.Sweep()
		case <-c.done:
			return
		}
	}
}

// Refresh pulls connections, country aggregates and stats as one logical
// unit and replaces the canonical snapshot only if all three succeed. It
// reports whether a new snapshot was applied. A trigger that arrives while
// another refresh is outstanding is ignored.
func (c *Controller) Refresh(ctx context.Context) bool {
	if !c.inflight.CompareAndSwap(false, true) {
		atomic.AddUint64(&c.skipped, 1)
		return false
	}
	defer c.inflight.Store(false)

	seq := c.seq.Add(1)

	var (
		conns    []models.ConnectionRecord
		aggs     []models.CountryAggregate
		stats    models.AppStats
		connErr  error
		aggErr   error
		statsErr error
	)

	// The three queries are issued together and joined purely to shrink the
	// staleness window between them.
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		conns, connErr = c.backend.Connections(ctx, c.limit)
	}()
	go func() {
		defer wg.Done()
		aggs, aggErr = c.backend.CountryAggregates(ctx)
	}()
	go func() {
		defer wg.Done()
		stats, statsErr = c.backend.Stats(ctx)
	}()
	wg.Wait()

	for _, err := range []error{connErr, aggErr, statsErr} {
		if err != nil {
			atomic.AddUint64(&c.failures, 1)
			c.log.WithError(err).Warn("refresh failed, keeping previous snapshot")
			return false
		}
	}

	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	if c.stopped.Load() {
		// Torn down while the queries were outstanding.
		return false
	}
	if seq <= c.applied {
		// A later refresh already applied; this cycle lost the race.
		return false
	}
	c.applied = seq
	atomic.AddUint64(&c.refreshes, 1)
	c.snap.Set(Snapshot{
		Connections: conns,
		Countries:   aggs,
		Stats:       stats,
		Seq:         seq,
		Taken:       time.Now(),
	})
	return true
}

// HandlePush processes one push event: the IP starts pulsing, a refresh is
// triggered (subject to the single-in-flight rule), and the event is
// forwarded to the OnPush hook.
func (c *Controller) HandlePush(event models.PushEvent) {
	if event.IP == "" {
		return
	}
	c.pulses.Mark(event.IP)

	if !c.stopped.Load() {
		go c.Refresh(context.Background())
	}

	if c.onPush != nil {
		c.onPush(event)
	}
}

// Snapshot returns the current canonical snapshot. The second return value
// is false until the first successful refresh.
func (c *Controller) Snapshot() (Snapshot, bool) {
	return c.snap.Get()
}

// Subscribe registers a snapshot listener; see state.Holder.Subscribe.
func (c *Controller) Subscribe(buffer int) (<-chan Snapshot, func()) {
	return c.snap.Subscribe(buffer)
}

// Pulses exposes the transient highlight set for newly observed IPs.
func (c *Controller) Pulses() *PulseRegistry {
	return c.pulses
}

// Stats returns current controller statistics.
func (c *Controller) Stats() map[string]interface{} {
	return map[string]interface{}{
		"running":   c.running.Load(),
		"refreshes": atomic.LoadUint64(&c.refreshes),
		"skipped":   atomic.LoadUint64(&c.skipped),
		"failures":  atomic.LoadUint64(&c.failures),
		"pulses":    c.pulses.Len(),
	}
}
