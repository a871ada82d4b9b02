package sensor

import (
	"errors"
	"fmt"
	"math"
)

// Operation errors
var (
	// ErrUnpopulated indicates a read of a buffer slot that has never been
	// written. Distinct from a decoded zero value.
	ErrUnpopulated = errors.New("unpopulated reading")

	// ErrZeroCapacity indicates a write to a channel configured with zero
	// samples.
	ErrZeroCapacity = errors.New("channel has zero capacity")
)

// Channel holds the bounded, chronologically ordered reading history for one
// measurement type on one peripheral, together with its display range.
//
// The history is a fixed-capacity ring: writes are O(1), external indexing is
// always oldest-first, and slots beyond Len() are absent rather than zero.
// Once full, a write evicts the oldest reading.
//
// A Channel is exclusively owned and mutated by the session that reads the
// corresponding remote characteristic; consumers only read.
type Channel struct {
	caption string
	uuid    string
	decode  Decoder

	values []float64
	head   int
	count  int

	lower     float64
	upper     float64
	autorange bool
}

// NewChannel creates an auto-ranging channel for the given measurement
// characteristic UUID, keeping at most samples readings. The display range
// starts at [0, 1) and is recomputed on every write.
func NewChannel(caption string, samples int, measurementUUID string) (*Channel, error) {
	c, err := newChannel(caption, samples, measurementUUID)
	if err != nil {
		return nil, err
	}
	c.lower = 0
	c.upper = 1
	c.autorange = true
	return c, nil
}

// NewChannelWithRange creates a channel with fixed display bounds.
func NewChannelWithRange(caption string, samples int, measurementUUID string, lower, upper float64) (*Channel, error) {
	c, err := newChannel(caption, samples, measurementUUID)
	if err != nil {
		return nil, err
	}
	c.lower = lower
	c.upper = upper
	return c, nil
}

func newChannel(caption string, samples int, measurementUUID string) (*Channel, error) {
	if samples < 0 {
		return nil, fmt.Errorf("channel %q: negative sample count %d", caption, samples)
	}
	decode, err := DecoderFor(measurementUUID)
	if err != nil {
		return nil, err
	}
	return &Channel{
		caption: caption,
		uuid:    NormalizeUUID(measurementUUID),
		decode:  decode,
		values:  make([]float64, samples),
	}, nil
}

// Caption returns the immutable display label.
func (c *Channel) Caption() string { return c.caption }

// UUID returns the normalized measurement characteristic UUID.
func (c *Channel) UUID() string { return c.uuid }

// Capacity returns the maximum number of retained readings.
func (c *Channel) Capacity() int { return len(c.values) }

// Lower returns the current lower display bound.
func (c *Channel) Lower() float64 { return c.lower }

// Upper returns the current upper display bound.
func (c *Channel) Upper() float64 { return c.upper }

// Autorange reports whether bounds are recomputed on every write.
func (c *Channel) Autorange() bool { return c.autorange }

// Len returns the number of populated slots, up to Capacity once the ring has
// wrapped.
func (c *Channel) Len() int { return c.count }

// Record decodes a raw characteristic payload, adjusts the display range if
// auto-ranging, and appends the value to the history, evicting the oldest
// reading when full.
func (c *Channel) Record(data []byte) error {
	value, err := c.decode(data)
	if err != nil {
		return err
	}
	if len(c.values) == 0 {
		return fmt.Errorf("channel %q: %w", c.caption, ErrZeroCapacity)
	}

	if c.autorange {
		c.adjustRange(value)
	}

	if c.count < len(c.values) {
		c.values[(c.head+c.count)%len(c.values)] = value
		c.count++
	} else {
		c.values[c.head] = value
		c.head = (c.head + 1) % len(c.values)
	}
	return nil
}

// adjustRange widens the display bounds so that both the existing history and
// the incoming value (with headroom of value/2 below and value*2 above) stay
// inside them, rounded to the nearest multiple of ten.
func (c *Channel) adjustRange(value float64) {
	lo, hi := 0.0, 1.0
	if c.count > 0 {
		lo, hi = c.at(0), c.at(0)
		for i := 1; i < c.count; i++ {
			v := c.at(i)
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	c.lower = round10(math.Min(lo, value/2))
	c.upper = round10(math.Max(hi, value*2))
}

func round10(v float64) float64 {
	return math.Round(v/10) * 10
}

// at returns the populated value at chronological index i (0 is oldest).
// Callers must ensure 0 <= i < count.
func (c *Channel) at(i int) float64 {
	return c.values[(c.head+i)%len(c.values)]
}

// At returns the reading at chronological index i, oldest first.
func (c *Channel) At(i int) (float64, error) {
	if i < 0 || i >= c.count {
		return 0, fmt.Errorf("channel %q slot %d: %w", c.caption, i, ErrUnpopulated)
	}
	return c.at(i), nil
}

// Latest returns the most recently recorded value. ok is false when nothing
// has been recorded yet.
func (c *Channel) Latest() (value float64, ok bool) {
	if c.count == 0 {
		return 0, false
	}
	return c.at(c.count - 1), true
}

// Statistics returns the average, maximum and minimum over all populated
// readings in a single pass. An empty channel yields (0, 0, 0) rather than an
// error.
func (c *Channel) Statistics() (avg, max, min float64) {
	if c.count == 0 {
		return 0, 0, 0
	}
	first := c.at(0)
	sum := first
	max, min = first, first
	for i := 1; i < c.count; i++ {
		v := c.at(i)
		if v > max {
			max = v
		} else if v < min {
			min = v
		}
		sum += v
	}
	return sum / float64(c.count), max, min
}

// Scaled clamps the reading at chronological index i into [Lower, Upper],
// normalizes it to [0, 1] and multiplies by scale. Values outside the display
// range clamp rather than error; an absent slot returns ErrUnpopulated.
func (c *Channel) Scaled(i int, scale float64) (float64, error) {
	value, err := c.At(i)
	if err != nil {
		return 0, err
	}
	if c.upper <= c.lower {
		// Degenerate fixed range; every reading collapses to the bottom.
		return 0, nil
	}
	value = math.Min(c.upper, value)
	value = math.Max(c.lower, value)
	return (value - c.lower) / (c.upper - c.lower) * scale, nil
}
