// Package testutils provides a scripted in-memory transport for session and
// command tests: advertisements to report during scans, GATT profiles per
// peripheral, and injectable failures at every step of a cycle.
package testutils

import (
	"context"
	"fmt"
	"time"

	"github.com/makosa-irvin/blezero/internal/transport"
)

// FakeAdvertisement is a scripted scan result.
type FakeAdvertisement struct {
	name        string
	addr        string
	services    []string
	rssi        int
	connectable bool
}

func (a *FakeAdvertisement) LocalName() string  { return a.name }
func (a *FakeAdvertisement) Addr() string       { return a.addr }
func (a *FakeAdvertisement) Services() []string { return a.services }
func (a *FakeAdvertisement) RSSI() int          { return a.rssi }
func (a *FakeAdvertisement) Connectable() bool  { return a.connectable }

// AdvertisementBuilder builds FakeAdvertisements fluently.
type AdvertisementBuilder struct {
	adv FakeAdvertisement
}

// NewAdvertisementBuilder creates a builder with a connectable advertisement.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: FakeAdvertisement{connectable: true, rssi: -50}}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.addr = addr
	return b
}

func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.services = uuids
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.rssi = rssi
	return b
}

func (b *AdvertisementBuilder) Build() *FakeAdvertisement {
	adv := b.adv
	return &adv
}

// FakeCharacteristic yields scripted readings in order, repeating the last
// one once exhausted.
type FakeCharacteristic struct {
	uuid     string
	readings [][]byte
	readErr  error

	// ReadCalls counts Read invocations, including failed ones.
	ReadCalls int
}

func (c *FakeCharacteristic) UUID() string { return c.uuid }

func (c *FakeCharacteristic) Read(time.Duration) ([]byte, error) {
	c.ReadCalls++
	if c.readErr != nil {
		return nil, c.readErr
	}
	if len(c.readings) == 0 {
		return nil, fmt.Errorf("characteristic %q: no scripted readings", c.uuid)
	}
	data := c.readings[0]
	if len(c.readings) > 1 {
		c.readings = c.readings[1:]
	}
	return data, nil
}

// FailReads makes every subsequent Read return err.
func (c *FakeCharacteristic) FailReads(err error) *FakeCharacteristic {
	c.readErr = err
	return c
}

// FakeService resolves scripted characteristics.
type FakeService struct {
	uuid        string
	chars       map[string]*FakeCharacteristic
	resolveErrs map[string]error
}

func (s *FakeService) UUID() string { return s.uuid }

func (s *FakeService) Characteristic(uuid string, _ time.Duration) (transport.Characteristic, error) {
	if err, ok := s.resolveErrs[uuid]; ok {
		return nil, err
	}
	char, ok := s.chars[uuid]
	if !ok {
		return nil, &transport.NotFoundError{Resource: "characteristic", UUID: uuid}
	}
	return char, nil
}

// WithCharacteristic scripts a characteristic with the given readings.
func (s *FakeService) WithCharacteristic(uuid string, readings ...[]byte) *FakeCharacteristic {
	char := &FakeCharacteristic{uuid: uuid, readings: readings}
	s.chars[uuid] = char
	return char
}

// WithResolveError makes the characteristic fail to resolve with err.
func (s *FakeService) WithResolveError(uuid string, err error) *FakeService {
	s.resolveErrs[uuid] = err
	return s
}

// FakePeripheral is one connectable device profile.
type FakePeripheral struct {
	services map[string]*FakeService

	// CloseCalls counts connection releases across all dials.
	CloseCalls int
}

// WithService adds (or returns the existing) service with the given UUID.
func (p *FakePeripheral) WithService(uuid string) *FakeService {
	if svc, ok := p.services[uuid]; ok {
		return svc
	}
	svc := &FakeService{
		uuid:        uuid,
		chars:       make(map[string]*FakeCharacteristic),
		resolveErrs: make(map[string]error),
	}
	p.services[uuid] = svc
	return svc
}

type fakeConnection struct {
	peripheral *FakePeripheral
}

func (c *fakeConnection) Service(uuid string) (transport.Service, error) {
	svc, ok := c.peripheral.services[uuid]
	if !ok {
		return nil, &transport.NotFoundError{Resource: "service", UUID: uuid}
	}
	return svc, nil
}

func (c *fakeConnection) Close() error {
	c.peripheral.CloseCalls++
	return nil
}

// FakeTransport is a scripted transport.Transport.
type FakeTransport struct {
	advs        []transport.Advertisement
	peripherals map[string]*FakePeripheral
	dialErrs    map[string]error

	// ScanCalls and DialCalls count invocations.
	ScanCalls int
	DialCalls int
}

// NewFakeTransport creates an empty scripted transport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		peripherals: make(map[string]*FakePeripheral),
		dialErrs:    make(map[string]error),
	}
}

// WithAdvertisements appends advertisements reported by subsequent scans.
func (t *FakeTransport) WithAdvertisements(advs ...transport.Advertisement) *FakeTransport {
	t.advs = append(t.advs, advs...)
	return t
}

// Peripheral returns (creating if needed) the profile served at addr.
func (t *FakeTransport) Peripheral(addr string) *FakePeripheral {
	p, ok := t.peripherals[addr]
	if !ok {
		p = &FakePeripheral{services: make(map[string]*FakeService)}
		t.peripherals[addr] = p
	}
	return p
}

// FailDial makes Dial to addr fail with err.
func (t *FakeTransport) FailDial(addr string, err error) *FakeTransport {
	t.dialErrs[addr] = err
	return t
}

// Scan reports the scripted advertisements in order, stopping early when the
// handler returns false, then ends as if the scan window elapsed.
func (t *FakeTransport) Scan(ctx context.Context, _ bool, handler func(transport.Advertisement) bool) error {
	t.ScanCalls++
	for _, adv := range t.advs {
		if ctx.Err() != nil {
			return nil
		}
		if !handler(adv) {
			return nil
		}
	}
	return nil
}

// Dial connects to a scripted peripheral.
func (t *FakeTransport) Dial(_ context.Context, addr string, _ time.Duration) (transport.Connection, error) {
	t.DialCalls++
	if err, ok := t.dialErrs[addr]; ok {
		return nil, err
	}
	p, ok := t.peripherals[addr]
	if !ok {
		return nil, fmt.Errorf("no scripted peripheral at %q", addr)
	}
	return &fakeConnection{peripheral: p}, nil
}
