package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/makosa-irvin/blezero/config"
	"github.com/makosa-irvin/blezero/internal/transport"
	"github.com/makosa-irvin/blezero/sensor"
	"github.com/makosa-irvin/blezero/session"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch [config.yaml]",
	Short: "Poll configured peripherals and display channel statistics",
	Long: `Polls every configured peripheral once per cycle, reading each of its
measurement channels in order, and prints per-channel statistics between
cycles.

A device that cannot be discovered or connected this cycle is retried on the
next one; a channel that fails to resolve or read is skipped without
affecting its siblings.

Example config:

  interval: 1s
  devices:
    - name: enviro-indoor
      channels:
        - {caption: Light, measurement: light, samples: 160}
        - {caption: Temp, measurement: temperature, samples: 160, range: [20, 40]}
        - {caption: Pressure, measurement: pressure, samples: 160}
        - {caption: Humidity, measurement: humidity, samples: 160, range: [0, 100]}`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var (
	watchOnce    bool
	watchBarW    int
	watchNoColor bool
)

func init() {
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "Run a single acquisition cycle and exit")
	watchCmd.Flags().IntVar(&watchBarW, "bar-width", 20, "Width of the textual level bar")
	watchCmd.Flags().BoolVar(&watchNoColor, "no-color", false, "Disable colored output")
}

func runWatch(cmd *cobra.Command, args []string) error {
	configPath := "blezero.yaml"
	if len(args) == 1 {
		configPath = args[0]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Devices) == 0 {
		return fmt.Errorf("no devices configured in %q", configPath)
	}

	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	if watchNoColor {
		color.NoColor = true
	}

	tr := transport.NewBLE(logger)
	sessions, err := buildSessions(cfg, tr, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return watchLoop(ctx, sessions, cfg.Interval.D(), logger)
}

// buildSessions wires the configured device set into sessions sharing one
// transport.
func buildSessions(cfg *config.Config, tr transport.Transport, logger *logrus.Logger) ([]*session.Session, error) {
	opts := &session.Options{
		ScanTimeout:    cfg.ScanTimeout.D(),
		ConnectTimeout: cfg.ConnectTimeout.D(),
		ResolveTimeout: cfg.ResolveTimeout.D(),
		ReadTimeout:    cfg.ReadTimeout.D(),
	}

	sessions := make([]*session.Session, 0, len(cfg.Devices))
	for i := range cfg.Devices {
		channels, err := cfg.Devices[i].BuildChannels()
		if err != nil {
			return nil, err
		}
		s, err := session.New(cfg.Devices[i].Name, tr, logger, opts, channels...)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// watchLoop refreshes every session in order, renders statistics, and sleeps
// until the next cycle. Sessions are serviced strictly one at a time.
func watchLoop(ctx context.Context, sessions []*session.Session, interval time.Duration, logger *logrus.Logger) error {
	for {
		for _, s := range sessions {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := s.Refresh(ctx); err != nil {
				// Already logged and surfaced as an event; the next
				// cycle retries from idle.
				logger.WithField("device", s.Name()).WithError(err).Debug("Cycle aborted")
			}
		}

		renderStats(os.Stdout, sessions)

		if watchOnce {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

var captionColor = color.New(color.Bold)

// renderStats prints one table row per channel: caption, latest reading,
// aggregate statistics, display range and a level bar.
func renderStats(out io.Writer, sessions []*session.Session) {
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tCHANNEL\tLATEST\tAVG\tMAX\tMIN\tRANGE\tLEVEL")

	for _, s := range sessions {
		for _, ch := range s.Channels() {
			latest := "-"
			if v, ok := ch.Latest(); ok {
				latest = fmt.Sprintf("%.2f", v)
			}
			avg, max, min := ch.Statistics()
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%.2f\t[%g, %g]\t%s\n",
				s.Name(),
				captionColor.Sprint(ch.Caption()),
				latest,
				avg, max, min,
				ch.Lower(), ch.Upper(),
				levelBar(ch, watchBarW),
			)
		}
	}
	_ = w.Flush()
}

// levelBar renders the latest reading as a bar scaled to the channel's
// display range, in the spirit of the original bar graphs.
func levelBar(ch *sensor.Channel, width int) string {
	if width <= 0 || ch.Len() == 0 {
		return ""
	}
	scaled, err := ch.Scaled(ch.Len()-1, float64(width))
	if err != nil {
		return ""
	}
	filled := int(scaled)
	if filled > width {
		filled = width
	}
	return strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
}
