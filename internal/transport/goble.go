package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// Factory creates the platform ble.Device. It is a variable so tests can
// substitute it.
var Factory = func() (ble.Device, error) {
	return newDevice()
}

// BLE is the go-ble backed Transport.
type BLE struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device

	// last advertisement per address, kept across scans for listing
	seen *hashmap.Map[string, Advertisement]
}

// NewBLE creates a Transport backed by the host's BLE adapter. The device
// itself is opened lazily on first use.
func NewBLE(logger *logrus.Logger) *BLE {
	if logger == nil {
		logger = logrus.New()
	}
	return &BLE{
		logger: logger,
		seen:   hashmap.New[string, Advertisement](),
	}
}

func (t *BLE) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := Factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	t.dev = dev
	return dev, nil
}

// bleAdvertisement wraps ble.Advertisement to implement Advertisement.
type bleAdvertisement struct {
	adv ble.Advertisement
}

func (a *bleAdvertisement) LocalName() string { return a.adv.LocalName() }
func (a *bleAdvertisement) Addr() string      { return a.adv.Addr().String() }
func (a *bleAdvertisement) RSSI() int         { return a.adv.RSSI() }
func (a *bleAdvertisement) Connectable() bool { return a.adv.Connectable() }

func (a *bleAdvertisement) Services() []string {
	uuids := a.adv.Services()
	services := make([]string, len(uuids))
	for i, u := range uuids {
		services[i] = u.String()
	}
	return services
}

// Scan reports advertisements until ctx ends or handler returns false.
// The advertisement handler runs on the BLE stack's goroutine, hence the
// concurrent seen map.
func (t *BLE) Scan(ctx context.Context, allowDup bool, handler func(Advertisement) bool) error {
	dev, err := t.device()
	if err != nil {
		return err
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.logger.Debug("Starting BLE scan...")
	err = dev.Scan(scanCtx, allowDup, func(a ble.Advertisement) {
		adv := &bleAdvertisement{adv: a}
		t.seen.Set(adv.Addr(), adv)
		if !handler(adv) {
			cancel()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

// Seen returns a snapshot of every advertisement observed so far, one per
// address.
func (t *BLE) Seen() []Advertisement {
	advs := make([]Advertisement, 0, t.seen.Len())
	t.seen.Range(func(_ string, adv Advertisement) bool {
		advs = append(advs, adv)
		return true
	})
	return advs
}

// Dial connects to the peripheral at addr within timeout.
func (t *BLE) Dial(ctx context.Context, addr string, timeout time.Duration) (Connection, error) {
	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t.logger.WithFields(logrus.Fields{
		"address": addr,
		"timeout": timeout,
	}).Debug("Dialing BLE device...")

	client, err := dev.Dial(dialCtx, ble.NewAddr(addr))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || dialCtx.Err() != nil {
			return nil, fmt.Errorf("connect to %q: %w", addr, ErrTimeout)
		}
		return nil, fmt.Errorf("connect to %q: %w", addr, err)
	}
	return &bleConnection{client: client}, nil
}

// bleConnection wraps a ble.Client. Close is idempotent.
type bleConnection struct {
	client    ble.Client
	closeOnce sync.Once
	closeErr  error
}

func (c *bleConnection) Service(uuid string) (Service, error) {
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", uuid, err)
	}
	services, err := c.client.DiscoverServices([]ble.UUID{u})
	if err != nil {
		return nil, fmt.Errorf("discover service %q: %w", uuid, err)
	}
	if len(services) == 0 {
		return nil, &NotFoundError{Resource: "service", UUID: uuid}
	}
	return &bleService{conn: c, svc: services[0]}, nil
}

func (c *bleConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.client.CancelConnection()
	})
	return c.closeErr
}

type bleService struct {
	conn *bleConnection
	svc  *ble.Service
}

func (s *bleService) UUID() string { return s.svc.UUID.String() }

// Characteristic resolves a characteristic by UUID, bounded by timeout so an
// unresponsive peripheral cannot stall the whole read cycle.
func (s *bleService) Characteristic(uuid string, timeout time.Duration) (Characteristic, error) {
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", uuid, err)
	}

	type result struct {
		chars []*ble.Characteristic
		err   error
	}
	resultCh := make(chan result, 1)
	go func() {
		chars, err := s.conn.client.DiscoverCharacteristics([]ble.UUID{u}, s.svc)
		resultCh <- result{chars: chars, err: err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, fmt.Errorf("discover characteristic %q: %w", uuid, r.err)
		}
		if len(r.chars) == 0 {
			return nil, &NotFoundError{Resource: "characteristic", UUID: uuid}
		}
		return &bleCharacteristic{conn: s.conn, char: r.chars[0]}, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("discover characteristic %q: %w", uuid, ErrTimeout)
	}
}

type bleCharacteristic struct {
	conn *bleConnection
	char *ble.Characteristic
}

func (c *bleCharacteristic) UUID() string { return c.char.UUID.String() }

// Read fetches the current value with a timeout to prevent indefinite
// blocking if the device becomes unresponsive mid-read.
func (c *bleCharacteristic) Read(timeout time.Duration) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		data, err := c.conn.client.ReadCharacteristic(c.char)
		resultCh <- result{data: data, err: err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, fmt.Errorf("read characteristic %q: %w", c.UUID(), r.err)
		}
		return r.data, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("read characteristic %q: %w", c.UUID(), ErrTimeout)
	}
}
