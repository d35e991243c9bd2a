package datasync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"netpulse/pkg/backend"
	"netpulse/pkg/models"
)

// fakeBackend is a scriptable backend.Service. The optional gate channel
// makes Connections block so tests can hold a refresh in flight.
type fakeBackend struct {
	mu    sync.Mutex
	conns []models.ConnectionRecord
	aggs  []models.CountryAggregate
	stats models.AppStats

	connErr  error
	aggErr   error
	statsErr error

	gate chan struct{}

	connCalls  int
	aggCalls   int
	statsCalls int
}

func (f *fakeBackend) CheckPermissions(context.Context) (bool, error) { return true, nil }

func (f *fakeBackend) RequestPermissions(context.Context) (bool, error) { return true, nil }

func (f *fakeBackend) ListInterfaces(context.Context) ([]string, error) { return nil, nil }

func (f *fakeBackend) StartCapture(context.Context, string) error { return nil }

func (f *fakeBackend) StopCapture(context.Context) error { return nil }

func (f *fakeBackend) Connections(context.Context, int) ([]models.ConnectionRecord, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connCalls++
	return f.conns, f.connErr
}

func (f *fakeBackend) CountryAggregates(context.Context) ([]models.CountryAggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggCalls++
	return f.aggs, f.aggErr
}

func (f *fakeBackend) Stats(context.Context) (models.AppStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsCalls++
	return f.stats, f.statsErr
}

func (f *fakeBackend) set(conns []models.ConnectionRecord, aggs []models.CountryAggregate, stats models.AppStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns, f.aggs, f.stats = conns, aggs, stats
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestController(fb *fakeBackend, onPush func(models.PushEvent)) *Controller {
	return NewController(Config{
		Backend: fb,
		Log:     quietLogger(),
		OnPush:  onPush,
	})
}

func TestRefreshReplacesSnapshot(t *testing.T) {
	fb := &fakeBackend{}
	fb.set(
		[]models.ConnectionRecord{{IP: "1.1.1.1", CountryCode: "US", HitCount: 5}},
		[]models.CountryAggregate{{CountryCode: "US", HitCount: 5, UniqueIPs: 1}},
		models.AppStats{TotalIPs: 1, TotalHits: 5, TotalCountries: 1, IsRunning: true},
	)
	c := newTestController(fb, nil)

	if !c.Refresh(context.Background()) {
		t.Fatal("refresh reported failure")
	}

	snap, ok := c.Snapshot()
	if !ok {
		t.Fatal("no snapshot after successful refresh")
	}
	if len(snap.Connections) != 1 || snap.Connections[0].IP != "1.1.1.1" {
		t.Errorf("snapshot connections = %v", snap.Connections)
	}
	if len(snap.Countries) != 1 || snap.Countries[0].CountryCode != "US" {
		t.Errorf("snapshot countries = %v", snap.Countries)
	}
	if snap.Stats.TotalHits != 5 {
		t.Errorf("snapshot stats = %+v", snap.Stats)
	}
	if snap.Seq == 0 {
		t.Error("snapshot missing sequence number")
	}
}

func TestRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	fb := &fakeBackend{}
	fb.set(
		[]models.ConnectionRecord{{IP: "1.1.1.1"}},
		nil,
		models.AppStats{TotalIPs: 1},
	)
	c := newTestController(fb, nil)

	if !c.Refresh(context.Background()) {
		t.Fatal("seed refresh failed")
	}
	before, _ := c.Snapshot()

	// Each of the three queries failing alone must abort the whole cycle.
	failures := []func(){
		func() { fb.connErr = &backend.FetchError{Op: "connections", Err: fmt.Errorf("boom")} },
		func() { fb.aggErr = &backend.FetchError{Op: "countries", Err: fmt.Errorf("boom")} },
		func() { fb.statsErr = &backend.FetchError{Op: "stats", Err: fmt.Errorf("boom")} },
	}
	for i, arm := range failures {
		fb.mu.Lock()
		fb.connErr, fb.aggErr, fb.statsErr = nil, nil, nil
		fb.mu.Unlock()
		arm()
		fb.set([]models.ConnectionRecord{{IP: "9.9.9.9"}}, nil, models.AppStats{TotalIPs: 9})

		if c.Refresh(context.Background()) {
			t.Fatalf("case %d: refresh succeeded despite query failure", i)
		}
		after, _ := c.Snapshot()
		if after.Seq != before.Seq {
			t.Errorf("case %d: snapshot replaced on failed refresh", i)
		}
		if len(after.Connections) != 1 || after.Connections[0].IP != "1.1.1.1" {
			t.Errorf("case %d: canonical state mutated: %v", i, after.Connections)
		}
	}
}

func TestOverlappingRefreshIgnored(t *testing.T) {
	fb := &fakeBackend{gate: make(chan struct{})}
	c := newTestController(fb, nil)

	done := make(chan bool, 1)
	go func() {
		done <- c.Refresh(context.Background())
	}()

	// Wait until the first refresh is parked inside Connections.
	deadline := time.After(time.Second)
	for !c.inflight.Load() {
		select {
		case <-deadline:
			t.Fatal("first refresh never started")
		case <-time.After(time.Millisecond):
		}
	}

	if c.Refresh(context.Background()) {
		t.Error("overlapping refresh was not ignored")
	}

	close(fb.gate)
	select {
	case ok := <-done:
		if !ok {
			t.Error("first refresh failed")
		}
	case <-time.After(time.Second):
		t.Fatal("first refresh never completed")
	}

	if got := c.Stats()["skipped"].(uint64); got != 1 {
		t.Errorf("skipped = %d, want 1", got)
	}
}

func TestStaleResultDiscardedAfterStop(t *testing.T) {
	fb := &fakeBackend{gate: make(chan struct{})}
	fb.set([]models.ConnectionRecord{{IP: "1.1.1.1"}}, nil, models.AppStats{})
	c := newTestController(fb, nil)

	done := make(chan bool, 1)
	go func() {
		done <- c.Refresh(context.Background())
	}()

	deadline := time.After(time.Second)
	for !c.inflight.Load() {
		select {
		case <-deadline:
			t.Fatal("refresh never started")
		case <-time.After(time.Millisecond):
		}
	}

	c.Start()
	c.Stop()

	close(fb.gate)
	select {
	case ok := <-done:
		if ok {
			t.Error("refresh applied its result after Stop")
		}
	case <-time.After(time.Second):
		t.Fatal("refresh never completed")
	}

	if _, ok := c.Snapshot(); ok {
		t.Error("snapshot appeared after teardown")
	}
}

func TestHandlePushMarksPulseAndForwards(t *testing.T) {
	fb := &fakeBackend{}
	var mu sync.Mutex
	var forwarded []models.PushEvent
	c := newTestController(fb, func(e models.PushEvent) {
		mu.Lock()
		defer mu.Unlock()
		forwarded = append(forwarded, e)
	})

	event := models.PushEvent{IP: "8.8.8.8", CountryCode: "US", Country: "United States"}
	c.HandlePush(event)

	if !c.Pulses().Contains("8.8.8.8") {
		t.Error("push event did not mark a pulse")
	}

	mu.Lock()
	got := len(forwarded)
	mu.Unlock()
	if got != 1 {
		t.Fatalf("forwarded %d events, want 1", got)
	}

	// The triggered refresh lands asynchronously.
	deadline := time.After(time.Second)
	for {
		if _, ok := c.Snapshot(); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("push event never triggered a refresh")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestHandlePushWithoutIPIgnored(t *testing.T) {
	fb := &fakeBackend{}
	forwarded := 0
	c := newTestController(fb, func(models.PushEvent) { forwarded++ })

	c.HandlePush(models.PushEvent{CountryCode: "US"})

	if forwarded != 0 {
		t.Error("event without IP was forwarded")
	}
	if c.Pulses().Len() != 0 {
		t.Error("event without IP marked a pulse")
	}
}

func TestSnapshotNeverMixesCycles(t *testing.T) {
	fb := &fakeBackend{}
	c := newTestController(fb, nil)

	for i := 1; i <= 25; i++ {
		ip := fmt.Sprintf("10.0.0.%d", i)
		fb.set(
			[]models.ConnectionRecord{{IP: ip, HitCount: uint64(i)}},
			[]models.CountryAggregate{{CountryCode: "US", HitCount: uint64(i), UniqueIPs: 1}},
			models.AppStats{TotalIPs: uint64(i)},
		)
		if !c.Refresh(context.Background()) {
			t.Fatalf("refresh %d failed", i)
		}

		snap, _ := c.Snapshot()
		if snap.Connections[0].IP != ip {
			t.Fatalf("cycle %d: connections from a different cycle: %v", i, snap.Connections)
		}
		if snap.Stats.TotalIPs != uint64(i) || snap.Countries[0].HitCount != uint64(i) {
			t.Fatalf("cycle %d: snapshot mixes datasets: stats=%+v countries=%v",
				i, snap.Stats, snap.Countries)
		}
	}
}

func TestPollingDeliversSnapshots(t *testing.T) {
	fb := &fakeBackend{}
	fb.set([]models.ConnectionRecord{{IP: "1.1.1.1"}}, nil, models.AppStats{TotalIPs: 1})

	c := NewController(Config{
		Backend:  fb,
		Log:      quietLogger(),
		Interval: 10 * time.Millisecond,
	})

	ch, cancel := c.Subscribe(8)
	defer cancel()

	c.Start()
	defer c.Stop()

	// Initial refresh plus at least one timer tick.
	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for snapshot %d", i+1)
		}
	}
}

func TestSetIntervalSwapsTimerWithoutDoubleFiring(t *testing.T) {
	fb := &fakeBackend{}
	c := NewController(Config{
		Backend:  fb,
		Log:      quietLogger(),
		Interval: time.Hour,
	})

	c.Start()
	c.SetInterval(10 * time.Millisecond)
	c.SetInterval(20 * time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	c.Stop()

	// With a clean swap the tick count tracks the newest cadence. A leaked
	// timer would roughly double it.
	fb.mu.Lock()
	calls := fb.statsCalls
	fb.mu.Unlock()
	if calls < 2 {
		t.Errorf("too few refreshes after SetInterval: %d", calls)
	}
	if calls > 9 {
		t.Errorf("too many refreshes, old timer likely still firing: %d", calls)
	}
}
