package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makosa-irvin/blezero/config"
	"github.com/makosa-irvin/blezero/sensor"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Second, cfg.Interval.D())
	assert.Equal(t, 5*time.Second, cfg.ScanTimeout.D())
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout.D())
	assert.Empty(t, cfg.Devices)
}

const sampleConfig = `
log_level: debug
interval: 2s
scan_timeout: 3s
devices:
  - name: enviro-indoor
    channels:
      - caption: Light
        measurement: light
      - caption: Temp
        measurement: temperature
        samples: 80
        range: [20, 40]
`

func TestParse(t *testing.T) {
	cfg, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.Interval.D())
	assert.Equal(t, 3*time.Second, cfg.ScanTimeout.D())
	// Unset timeouts keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout.D())

	require.Len(t, cfg.Devices, 1)
	dev := cfg.Devices[0]
	assert.Equal(t, "enviro-indoor", dev.Name)
	require.Len(t, dev.Channels, 2)
	assert.Equal(t, 160, dev.Channels[0].Samples, "samples defaults per channel")
	assert.Equal(t, 80, dev.Channels[1].Samples)
}

func TestParse_ExplicitZeroSamplesTakesDefault(t *testing.T) {
	cfg, err := config.Parse([]byte(
		"devices:\n  - name: dev\n    channels:\n      - {caption: X, measurement: humidity, samples: 0}\n"))
	require.NoError(t, err, "zero reads as unset, not as an invalid count")

	assert.Equal(t, 160, cfg.Devices[0].Channels[0].Samples)
}

func TestBuildChannels(t *testing.T) {
	cfg, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)

	channels, err := cfg.Devices[0].BuildChannels()
	require.NoError(t, err)
	require.Len(t, channels, 2)

	light := channels[0]
	assert.Equal(t, "Light", light.Caption())
	assert.Equal(t, sensor.UUIDIrradiance, light.UUID(), "light is an alias for irradiance")
	assert.True(t, light.Autorange())
	assert.Equal(t, 160, light.Capacity())

	temp := channels[1]
	assert.False(t, temp.Autorange())
	assert.Equal(t, 20.0, temp.Lower())
	assert.Equal(t, 40.0, temp.Upper())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown measurement",
			yaml: "devices:\n  - name: dev\n    channels:\n      - {caption: X, measurement: radon}\n",
		},
		{
			name: "negative samples",
			yaml: "devices:\n  - name: dev\n    channels:\n      - {caption: X, measurement: humidity, samples: -1}\n",
		},
		{
			name: "inverted range",
			yaml: "devices:\n  - name: dev\n    channels:\n      - {caption: X, measurement: humidity, range: [40, 20]}\n",
		},
		{
			name: "one-element range",
			yaml: "devices:\n  - name: dev\n    channels:\n      - {caption: X, measurement: humidity, range: [40]}\n",
		},
		{
			name: "device without name",
			yaml: "devices:\n  - channels:\n      - {caption: X, measurement: humidity}\n",
		},
		{
			name: "device without channels",
			yaml: "devices:\n  - name: dev\n",
		},
		{
			name: "bad log level",
			yaml: "log_level: loud\n",
		},
		{
			name: "bad duration",
			yaml: "interval: fast\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestConfig_NewLogger(t *testing.T) {
	cfg, err := config.Parse([]byte("log_level: warn\n"))
	require.NoError(t, err)

	logger := cfg.NewLogger()
	require.NotNil(t, logger)
	assert.Equal(t, "warning", logger.GetLevel().String())
}
