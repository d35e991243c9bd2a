// Package backend defines the capture backend surface consumed by the
// engine: request/response operations plus one push channel. The engine
// never talks to the capture stack, the geolocation resolver or the
// persistent store directly.
package backend

import (
	"context"
	"errors"
	"fmt"

	"netpulse/pkg/models"
)

// ErrPermissionDenied is reported when the backend cannot start capturing.
// It is surfaced to the operator and never auto-retried.
var ErrPermissionDenied = errors.New("capture permission denied")

// FetchError wraps a failed snapshot query. A refresh cycle that hits one
// keeps the previous canonical state and retries on the next scheduled tick.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Service is the consumed backend RPC surface.
type Service interface {
	// CheckPermissions reports whether packet capture is currently allowed.
	CheckPermissions(ctx context.Context) (bool, error)
	// RequestPermissions asks the OS for capture access and reports the
	// resulting grant state.
	RequestPermissions(ctx context.Context) (bool, error)
	// ListInterfaces returns the capturable network interfaces.
	ListInterfaces(ctx context.Context) ([]string, error)
	// StartCapture begins capturing on iface, or the backend default when
	// iface is empty. Returns ErrPermissionDenied when capture is not
	// permitted.
	StartCapture(ctx context.Context, iface string) error
	// StopCapture stops an active capture.
	StopCapture(ctx context.Context) error

	// Connections returns up to limit records, most recently seen first.
	Connections(ctx context.Context, limit int) ([]models.ConnectionRecord, error)
	// CountryAggregates returns the per-country rollups, busiest first.
	CountryAggregates(ctx context.Context) ([]models.CountryAggregate, error)
	// Stats returns the global counter snapshot.
	Stats(ctx context.Context) (models.AppStats, error)
}
