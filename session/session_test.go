package session_test

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/makosa-irvin/blezero/internal/testutils"
	"github.com/makosa-irvin/blezero/internal/transport"
	"github.com/makosa-irvin/blezero/sensor"
	"github.com/makosa-irvin/blezero/session"
)

const (
	deviceName = "enviro-indoor"
	deviceAddr = "AA:BB:CC:DD:EE:FF"
)

func payload(v int16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(v))
	return b
}

type SessionTestSuite struct {
	suite.Suite

	tr     *testutils.FakeTransport
	logger *logrus.Logger
	yields int
	opts   *session.Options
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func (s *SessionTestSuite) SetupTest() {
	s.tr = testutils.NewFakeTransport()
	s.logger = logrus.New()
	s.logger.SetOutput(io.Discard)
	s.yields = 0
	s.opts = &session.Options{
		ScanTimeout:    50 * time.Millisecond,
		ConnectTimeout: 50 * time.Millisecond,
		ResolveTimeout: 50 * time.Millisecond,
		ReadTimeout:    50 * time.Millisecond,
		Yield:          func() { s.yields++ },
	}
}

// advertise scripts an advertisement for the reference device.
func (s *SessionTestSuite) advertise() {
	s.tr.WithAdvertisements(testutils.NewAdvertisementBuilder().
		WithName(deviceName).
		WithAddress(deviceAddr).
		WithServices(sensor.ServiceEnvironmentalSensing).
		WithRSSI(-45).
		Build())
}

func (s *SessionTestSuite) tempChannel(samples int) *sensor.Channel {
	ch, err := sensor.NewChannelWithRange("Temp", samples, sensor.UUIDTemperature, 20, 40)
	s.Require().NoError(err)
	return ch
}

func (s *SessionTestSuite) lightChannel(samples int) *sensor.Channel {
	ch, err := sensor.NewChannelWithRange("Light", samples, sensor.UUIDIrradiance, 0, 150)
	s.Require().NoError(err)
	return ch
}

func (s *SessionTestSuite) newSession(channels ...*sensor.Channel) *session.Session {
	sess, err := session.New(deviceName, s.tr, s.logger, s.opts, channels...)
	s.Require().NoError(err)
	return sess
}

// drainEvents collects everything currently buffered on the event stream.
func drainEvents(sess *session.Session) []session.Event {
	var events []session.Event
	for {
		select {
		case ev := <-sess.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func (s *SessionTestSuite) TestNew_DuplicateMeasurement() {
	a := s.tempChannel(3)
	b := s.tempChannel(3)

	_, err := session.New(deviceName, s.tr, s.logger, s.opts, a, b)
	s.Error(err)
}

func (s *SessionTestSuite) TestRefresh_EndToEndTemperature() {
	s.advertise()
	s.tr.Peripheral(deviceAddr).
		WithService(sensor.ServiceEnvironmentalSensing).
		WithCharacteristic(sensor.UUIDTemperature, payload(2500), payload(2600), payload(2700))

	ch := s.tempChannel(3)
	sess := s.newSession(ch)

	for i := 0; i < 3; i++ {
		s.Require().NoError(sess.Refresh(context.Background()))
	}

	s.Equal(3, ch.Len())
	for i, want := range []float64{25.0, 26.0, 27.0} {
		v, err := ch.At(i)
		s.Require().NoError(err)
		s.Equal(want, v, "slot %d", i)
	}

	avg, max, min := ch.Statistics()
	s.Equal(26.0, avg)
	s.Equal(27.0, max)
	s.Equal(25.0, min)

	s.Equal(1, s.tr.ScanCalls, "discovery cache must skip re-scanning")
	s.Equal(3, s.tr.DialCalls)
	s.Equal(3, s.tr.Peripheral(deviceAddr).CloseCalls, "one release per cycle")
	s.Equal(session.StateIdle, sess.State())
}

func (s *SessionTestSuite) TestRefresh_DiscoveryFailure() {
	s.Run("no advertiser at all", func() {
		tr := testutils.NewFakeTransport()
		ch := s.tempChannel(3)
		sess, err := session.New(deviceName, tr, s.logger, s.opts, ch)
		s.Require().NoError(err)

		err = sess.Refresh(context.Background())

		s.ErrorIs(err, session.ErrDeviceNotFound)
		s.ErrorIs(err, &session.Failure{Kind: session.FailureDiscovery})
		s.Equal(0, ch.Len(), "no channel may be mutated")
		s.Equal(0, tr.DialCalls, "no further steps may run")
		s.Empty(sess.CachedAddress())

		events := drainEvents(sess)
		s.Require().Len(events, 1)
		s.Empty(events[0].Channel, "session-level failures carry no channel")
		s.Equal(session.StateDiscovering, events[0].State)
		s.ErrorIs(events[0].Err, &session.Failure{Kind: session.FailureDiscovery})
	})

	s.Run("name matches but service set does not", func() {
		tr := testutils.NewFakeTransport().WithAdvertisements(
			testutils.NewAdvertisementBuilder().
				WithName(deviceName).
				WithAddress(deviceAddr).
				WithServices("180f"). // battery, not environmental sensing
				Build())
		sess, err := session.New(deviceName, tr, s.logger, s.opts, s.tempChannel(3))
		s.Require().NoError(err)

		err = sess.Refresh(context.Background())

		s.ErrorIs(err, session.ErrDeviceNotFound)
		s.Equal(0, tr.DialCalls)

		events := drainEvents(sess)
		s.Require().Len(events, 1)
		s.ErrorIs(events[0].Err, &session.Failure{Kind: session.FailureDiscovery})
	})
}

func (s *SessionTestSuite) TestRefresh_ConnectTimeoutRetainsCache() {
	s.advertise()
	s.tr.FailDial(deviceAddr, fmt.Errorf("connect: %w", transport.ErrTimeout))

	ch := s.tempChannel(3)
	sess := s.newSession(ch)

	err := sess.Refresh(context.Background())
	s.ErrorIs(err, &session.Failure{Kind: session.FailureConnect})
	s.ErrorIs(err, transport.ErrTimeout)
	s.Equal(deviceAddr, sess.CachedAddress(), "cache is retained on connect failure")
	s.Equal(0, ch.Len())

	events := drainEvents(sess)
	s.Require().Len(events, 1)
	s.Empty(events[0].Channel)
	s.Equal(session.StateConnecting, events[0].State)
	s.ErrorIs(events[0].Err, &session.Failure{Kind: session.FailureConnect})

	// The next cycle reuses the cached handle instead of re-scanning.
	_ = sess.Refresh(context.Background())
	s.Equal(1, s.tr.ScanCalls)
	s.Equal(2, s.tr.DialCalls)
}

func (s *SessionTestSuite) TestRefresh_ServiceNotFound() {
	s.advertise()
	s.tr.Peripheral(deviceAddr).WithService("180f") // connectable, wrong profile

	sess := s.newSession(s.tempChannel(3))

	err := sess.Refresh(context.Background())

	s.ErrorIs(err, &session.Failure{Kind: session.FailureServiceResolution})
	s.ErrorIs(err, &transport.NotFoundError{Resource: "service"})
	s.Equal(1, s.tr.Peripheral(deviceAddr).CloseCalls, "connection released exactly once")

	events := drainEvents(sess)
	s.Require().Len(events, 1)
	s.Empty(events[0].Channel)
	s.Equal(session.StateResolvingService, events[0].State)
	s.ErrorIs(events[0].Err, &session.Failure{Kind: session.FailureServiceResolution})
}

func (s *SessionTestSuite) TestRefresh_ChannelFailuresAreIsolated() {
	s.advertise()
	svc := s.tr.Peripheral(deviceAddr).WithService(sensor.ServiceEnvironmentalSensing)
	svc.WithResolveError(sensor.UUIDIrradiance, fmt.Errorf("discover: %w", transport.ErrTimeout))
	svc.WithCharacteristic(sensor.UUIDTemperature, payload(2500))

	light := s.lightChannel(3)
	temp := s.tempChannel(3)
	sess := s.newSession(light, temp)

	err := sess.Refresh(context.Background())

	s.NoError(err, "channel failures never abort the cycle")
	s.Equal(0, light.Len(), "failed channel stays untouched")
	s.Equal(1, temp.Len(), "sibling channel still read")
	s.Equal(1, s.tr.Peripheral(deviceAddr).CloseCalls, "connection released exactly once")

	events := drainEvents(sess)
	s.Require().Len(events, 1)
	s.Equal("Light", events[0].Channel)
	s.ErrorIs(events[0].Err, &session.Failure{Kind: session.FailureCharacteristicResolution})
}

func (s *SessionTestSuite) TestRefresh_DecodeFailureIsIsolated() {
	s.advertise()
	svc := s.tr.Peripheral(deviceAddr).WithService(sensor.ServiceEnvironmentalSensing)
	svc.WithCharacteristic(sensor.UUIDIrradiance, []byte{0x01}) // malformed: one byte
	svc.WithCharacteristic(sensor.UUIDTemperature, payload(2600))

	light := s.lightChannel(3)
	temp := s.tempChannel(3)
	sess := s.newSession(light, temp)

	s.NoError(sess.Refresh(context.Background()))

	s.Equal(0, light.Len())
	s.Equal(1, temp.Len())

	events := drainEvents(sess)
	s.Require().Len(events, 1)
	s.ErrorIs(events[0].Err, &session.Failure{Kind: session.FailureDecode})
}

func (s *SessionTestSuite) TestRefresh_YieldsOncePerChannel() {
	s.advertise()
	svc := s.tr.Peripheral(deviceAddr).WithService(sensor.ServiceEnvironmentalSensing)
	svc.WithCharacteristic(sensor.UUIDIrradiance, payload(100))
	svc.WithCharacteristic(sensor.UUIDTemperature, payload(2500))

	sess := s.newSession(s.lightChannel(3), s.tempChannel(3))

	s.Require().NoError(sess.Refresh(context.Background()))
	s.Equal(2, s.yields, "one cooperative yield per channel boundary")

	// Failed channels still hit the same scheduling point.
	s.yields = 0
	svc.WithResolveError(sensor.UUIDTemperature, transport.ErrTimeout)
	s.Require().NoError(sess.Refresh(context.Background()))
	s.Equal(2, s.yields)
}

func (s *SessionTestSuite) TestChannels_PreserveConfiguredOrder() {
	light := s.lightChannel(3)
	temp := s.tempChannel(3)
	sess := s.newSession(light, temp)

	channels := sess.Channels()
	s.Require().Len(channels, 2)
	s.Same(light, channels[0])
	s.Same(temp, channels[1])

	got, ok := sess.Channel(sensor.UUIDTemperature)
	s.True(ok)
	s.Same(temp, got)
}
