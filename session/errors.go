package session

import (
	"errors"
	"fmt"
)

// FailureKind classifies where in the acquisition cycle a failure occurred.
type FailureKind string

const (
	// FailureDiscovery - no matching advertiser within the scan window.
	FailureDiscovery FailureKind = "discovery"
	// FailureConnect - timeout or error establishing the link.
	FailureConnect FailureKind = "connect"
	// FailureServiceResolution - link established but the environmental
	// sensing service is absent.
	FailureServiceResolution FailureKind = "service_resolution"
	// FailureCharacteristicResolution - a channel's characteristic is absent
	// or timed out. Isolated per channel.
	FailureCharacteristicResolution FailureKind = "characteristic_resolution"
	// FailureRead - timeout or transport error reading a channel's value.
	// Isolated per channel.
	FailureRead FailureKind = "read"
	// FailureDecode - malformed payload for the declared measurement type.
	// Isolated per channel.
	FailureDecode FailureKind = "decode"
)

// SessionLevel reports whether a failure of this kind aborts the remainder of
// the cycle. Channel-level kinds only skip the affected channel.
func (k FailureKind) SessionLevel() bool {
	switch k {
	case FailureDiscovery, FailureConnect, FailureServiceResolution:
		return true
	}
	return false
}

// ErrDeviceNotFound indicates the scan window elapsed without a matching
// advertiser.
var ErrDeviceNotFound = errors.New("no matching device found")

// Failure wraps an acquisition error with its kind, device and (for
// channel-level kinds) the affected channel caption.
type Failure struct {
	Kind    FailureKind
	Device  string
	Channel string
	Err     error
}

func (f *Failure) Error() string {
	if f.Channel != "" {
		return fmt.Sprintf("%s failure on %s/%s: %v", f.Kind, f.Device, f.Channel, f.Err)
	}
	return fmt.Sprintf("%s failure on %s: %v", f.Kind, f.Device, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is allows errors.Is to match failures by kind.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return f.Kind == t.Kind
}
