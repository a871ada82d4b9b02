package main

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makosa-irvin/blezero/config"
	"github.com/makosa-irvin/blezero/internal/testutils"
	"github.com/makosa-irvin/blezero/sensor"
)

func payload(v int16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(v))
	return b
}

func TestDisplayVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", displayVersion("1.2.3"))
	assert.Equal(t, "dev", displayVersion("dev"))
	assert.Equal(t, "", displayVersion(""))
}

func TestLevelBar(t *testing.T) {
	ch, err := sensor.NewChannelWithRange("Temp", 4, sensor.UUIDTemperature, 0, 100)
	require.NoError(t, err)

	assert.Equal(t, "", levelBar(ch, 10), "empty channel renders nothing")

	require.NoError(t, ch.Record(payload(5000))) // 50.0 -> half scale
	assert.Equal(t, "#####.....", levelBar(ch, 10))

	require.NoError(t, ch.Record(payload(20000))) // clamps at the top
	assert.Equal(t, "##########", levelBar(ch, 10))

	require.NoError(t, ch.Record(payload(-1000))) // clamps at the bottom
	assert.Equal(t, "..........", levelBar(ch, 10))
}

func TestBuildSessions(t *testing.T) {
	cfg, err := config.Parse([]byte(`
devices:
  - name: enviro-indoor
    channels:
      - {caption: Temp, measurement: temperature, samples: 8}
  - name: enviro-weather
    channels:
      - {caption: Light, measurement: light, samples: 8}
`))
	require.NoError(t, err)

	sessions, err := buildSessions(cfg, testutils.NewFakeTransport(), nil)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "enviro-indoor", sessions[0].Name())
	assert.Equal(t, "enviro-weather", sessions[1].Name())
}

func TestRenderStats(t *testing.T) {
	color.NoColor = true

	cfg, err := config.Parse([]byte(`
devices:
  - name: enviro-indoor
    channels:
      - {caption: Temp, measurement: temperature, samples: 8, range: [0, 100]}
`))
	require.NoError(t, err)

	sessions, err := buildSessions(cfg, testutils.NewFakeTransport(), nil)
	require.NoError(t, err)

	ch := sessions[0].Channels()[0]
	require.NoError(t, ch.Record(payload(2500)))

	var buf bytes.Buffer
	renderStats(&buf, sessions)

	out := buf.String()
	assert.Contains(t, out, "enviro-indoor")
	assert.Contains(t, out, "Temp")
	assert.Contains(t, out, "25.00")
}
