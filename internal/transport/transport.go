// Package transport defines the narrow wireless capability the acquisition
// core depends on - scan, dial, resolve, read, release - and provides the
// go-ble backed implementation of it.
//
// Sessions only ever see these interfaces; tests substitute a scripted fake.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Operation errors
var (
	// ErrTimeout indicates a bounded operation that did not complete in time.
	ErrTimeout = errors.New("timeout")
)

// NotFoundError indicates a GATT resource absent from the remote device.
type NotFoundError struct {
	Resource string // "service" or "characteristic"
	UUID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.UUID)
}

// Is allows errors.Is to match any NotFoundError for the same resource kind.
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return e.Resource == t.Resource && (t.UUID == "" || t.UUID == e.UUID)
}

// Advertisement is the subset of a BLE advertisement the core inspects while
// discovering a peripheral.
type Advertisement interface {
	LocalName() string
	Addr() string
	Services() []string
	RSSI() int
	Connectable() bool
}

// Transport is the abstract link capability. One outstanding operation per
// connection; callers sequence their own reads.
type Transport interface {
	// Scan reports advertisements to handler until ctx is cancelled or its
	// deadline passes. A handler returning false stops the scan early.
	// Context expiry is a normal end of scan, not an error.
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement) bool) error

	// Dial establishes a connection to the peripheral at addr within
	// timeout. Failure to connect in time reports ErrTimeout.
	Dial(ctx context.Context, addr string, timeout time.Duration) (Connection, error)
}

// Connection is an established link to one peripheral.
type Connection interface {
	// Service resolves a primary service by UUID. Absence reports a
	// *NotFoundError.
	Service(uuid string) (Service, error)

	// Close releases the connection. Idempotent, always safe to call.
	Close() error
}

// Service is a resolved GATT service.
type Service interface {
	UUID() string

	// Characteristic resolves a characteristic by UUID within timeout.
	// Reports *NotFoundError or ErrTimeout.
	Characteristic(uuid string, timeout time.Duration) (Characteristic, error)
}

// Characteristic is a resolved GATT characteristic supporting timed reads.
type Characteristic interface {
	UUID() string

	// Read fetches the current value, bounded by timeout.
	Read(timeout time.Duration) ([]byte, error)
}
