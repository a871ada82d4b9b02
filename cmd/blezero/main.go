package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

// Populated at release time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// displayVersion prefixes bare release numbers with 'v'; tags like "dev"
// pass through unchanged.
func displayVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "blezero",
	Short: "Environmental telemetry from enviro-ble peripherals",
	Long: `blezero polls Pimoroni Enviro peripherals running enviro-ble firmware
over Bluetooth Low Energy and keeps a bounded history of their light,
temperature, pressure and humidity readings.

- Discover peripherals advertising the environmental sensing service
- Poll every configured device once per cycle, one channel at a time
- Track per-channel min/max/average and an auto-scaled display range

Peripheral firmware: https://github.com/pimoroni/enviro-ble`,
	Version: displayVersion(version),
}

func init() {
	rootCmd.SilenceErrors = true // errors are printed by main, without Cobra's prefix

	rootCmd.AddCommand(watchCmd, scanCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}

func main() {
	err := rootCmd.Execute()
	if err == nil || errors.Is(err, context.Canceled) {
		// Ctrl+C is a normal exit, not an error.
		return
	}
	fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
	os.Exit(1)
}
