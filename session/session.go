// Package session drives the per-device acquisition lifecycle: discover the
// peripheral by advertised name and service, connect, resolve the
// environmental sensing service, read each configured channel in order, and
// release the connection. Every cycle starts from Idle and returns to Idle
// whether it succeeds or fails; the next scheduled cycle simply retries.
package session

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/makosa-irvin/blezero/internal/ringchan"
	"github.com/makosa-irvin/blezero/internal/transport"
	"github.com/makosa-irvin/blezero/sensor"
)

// State identifies the externally observable phase of an acquisition cycle.
type State int

const (
	StateIdle State = iota
	StateDiscovering
	StateConnecting
	StateResolvingService
	StateReadingChannels
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StateResolvingService:
		return "resolving_service"
	case StateReadingChannels:
		return "reading_channels"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Event is a diagnostic notification surfaced for every acquisition failure.
// Events are delivered on a bounded overwrite-oldest channel so a stalled
// consumer can never block acquisition.
type Event struct {
	Time    time.Time
	Device  string
	Channel string // empty for session-level failures
	State   State
	Err     error
}

// Options bounds each blocking operation of a cycle.
type Options struct {
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	ResolveTimeout time.Duration
	ReadTimeout    time.Duration

	// Yield is the cooperative scheduling hook invoked after every channel
	// read. Nil selects runtime.Gosched.
	Yield func()
}

// DefaultOptions returns the reference timing: a 5 second scan window and
// 10/5/5 second connect/resolve/read bounds.
func DefaultOptions() Options {
	return Options{
		ScanTimeout:    5 * time.Second,
		ConnectTimeout: 10 * time.Second,
		ResolveTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
	}
}

const eventBuffer = 64

// Session owns the connection lifecycle to one remote peripheral and the
// channels attached to it. A session never holds more than one live
// connection; channels within it are read strictly sequentially.
type Session struct {
	name        string
	serviceUUID string
	channels    *orderedmap.OrderedMap[string, *sensor.Channel]

	tr     transport.Transport
	logger *logrus.Logger
	opts   Options
	events *ringchan.Ring[Event]

	// cachedAddr remembers the last successfully discovered address so
	// subsequent cycles skip the scan. It is a lookup key, not an owned
	// resource, and is never invalidated - a peripheral that changes
	// address or powers off keeps failing at connect until the process
	// restarts. Preserved reference behavior.
	cachedAddr string

	state State
	yield func()
}

// New creates a session for the peripheral advertising the given local name,
// owning the given channels in configured order. A nil opts uses
// DefaultOptions; a nil logger logs to a fresh default logger.
func New(name string, tr transport.Transport, logger *logrus.Logger, opts *Options, channels ...*sensor.Channel) (*Session, error) {
	if logger == nil {
		logger = logrus.New()
	}
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}

	s := &Session{
		name:        name,
		serviceUUID: sensor.ServiceEnvironmentalSensing,
		channels:    orderedmap.New[string, *sensor.Channel](),
		tr:          tr,
		logger:      logger,
		opts:        o,
		events:      ringchan.New[Event](eventBuffer),
		yield:       o.Yield,
	}
	if s.yield == nil {
		s.yield = runtime.Gosched
	}
	for _, ch := range channels {
		if _, present := s.channels.Get(ch.UUID()); present {
			return nil, fmt.Errorf("device %q: duplicate measurement %q", name, ch.UUID())
		}
		s.channels.Set(ch.UUID(), ch)
	}
	return s, nil
}

// Name returns the advertised local name this session matches during
// discovery.
func (s *Session) Name() string { return s.name }

// State returns the phase most recently entered by Refresh.
func (s *Session) State() State { return s.state }

// CachedAddress returns the remembered peripheral address, empty before the
// first successful discovery.
func (s *Session) CachedAddress() string { return s.cachedAddr }

// Channels returns the session's channels in configured order.
func (s *Session) Channels() []*sensor.Channel {
	channels := make([]*sensor.Channel, 0, s.channels.Len())
	for pair := s.channels.Oldest(); pair != nil; pair = pair.Next() {
		channels = append(channels, pair.Value)
	}
	return channels
}

// Channel looks up a channel by measurement characteristic UUID.
func (s *Session) Channel(uuid string) (*sensor.Channel, bool) {
	return s.channels.Get(sensor.NormalizeUUID(uuid))
}

// Events returns the diagnostic event stream.
func (s *Session) Events() <-chan Event {
	return s.events.C()
}

// Refresh runs one acquisition cycle. Session-level failures (discovery,
// connect, service resolution) abort the cycle and are returned; channel
// failures are isolated, surfaced as events, and never abort the remaining
// channels. The connection, once established, is released exactly once on
// every exit path.
func (s *Session) Refresh(ctx context.Context) error {
	defer func() { s.state = StateIdle }()

	s.logger.WithField("device", s.name).Debug("Refreshing device")

	addr, err := s.discover(ctx)
	if err != nil {
		return s.report(FailureDiscovery, "", err)
	}

	s.state = StateConnecting
	conn, err := s.tr.Dial(ctx, addr, s.opts.ConnectTimeout)
	if err != nil {
		// Cached address is retained: the next cycle retries the same
		// handle rather than re-scanning.
		return s.report(FailureConnect, "", err)
	}
	defer func() {
		s.state = StateDisconnected
		if err := conn.Close(); err != nil {
			s.logger.WithField("device", s.name).WithError(err).Warn("Failed to release connection")
		}
	}()

	s.state = StateResolvingService
	svc, err := conn.Service(s.serviceUUID)
	if err != nil {
		return s.report(FailureServiceResolution, "", err)
	}

	s.state = StateReadingChannels
	for pair := s.channels.Oldest(); pair != nil; pair = pair.Next() {
		s.readChannel(svc, pair.Value)
		// Cooperative scheduling point so sibling work in the host
		// process is not starved by a long read cycle.
		s.yield()
	}
	return nil
}

// readChannel resolves, reads and records one channel. Failures are reported
// and isolated to this channel.
func (s *Session) readChannel(svc transport.Service, ch *sensor.Channel) {
	char, err := svc.Characteristic(ch.UUID(), s.opts.ResolveTimeout)
	if err != nil {
		s.report(FailureCharacteristicResolution, ch.Caption(), err)
		return
	}

	data, err := char.Read(s.opts.ReadTimeout)
	if err != nil {
		s.report(FailureRead, ch.Caption(), err)
		return
	}

	if err := ch.Record(data); err != nil {
		s.report(FailureDecode, ch.Caption(), err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"device":  s.name,
		"channel": ch.Caption(),
	}).Debug("Recorded reading")
}

// discover returns the peripheral address, scanning only when no cached
// address exists. The first advertisement matching both the local name and
// the environmental sensing service wins and is cached.
func (s *Session) discover(ctx context.Context) (string, error) {
	if s.cachedAddr != "" {
		return s.cachedAddr, nil
	}

	s.state = StateDiscovering
	scanCtx, cancel := context.WithTimeout(ctx, s.opts.ScanTimeout)
	defer cancel()

	var found string
	err := s.tr.Scan(scanCtx, false, func(adv transport.Advertisement) bool {
		if adv.LocalName() != s.name || !advertisesService(adv, s.serviceUUID) {
			return true
		}
		found = adv.Addr()
		return false
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", ErrDeviceNotFound
	}

	s.logger.WithFields(logrus.Fields{
		"device":  s.name,
		"address": found,
	}).Info("Discovered device")
	s.cachedAddr = found
	return found, nil
}

func advertisesService(adv transport.Advertisement, uuid string) bool {
	for _, svc := range adv.Services() {
		if sensor.NormalizeUUID(svc) == uuid {
			return true
		}
	}
	return false
}

// report logs a failure, emits it on the event stream, and returns it wrapped
// as a *Failure for session-level kinds.
func (s *Session) report(kind FailureKind, channel string, err error) error {
	f := &Failure{Kind: kind, Device: s.name, Channel: channel, Err: err}

	entry := s.logger.WithFields(logrus.Fields{
		"device": s.name,
		"kind":   string(kind),
		"state":  s.state.String(),
	})
	if channel != "" {
		entry = entry.WithField("channel", channel)
	}
	entry.WithError(err).Warn("Acquisition failure")

	s.events.Send(Event{
		Time:    time.Now(),
		Device:  s.name,
		Channel: channel,
		State:   s.state,
		Err:     f,
	})
	return f
}
