package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/makosa-irvin/blezero/internal/transport"
	"github.com/makosa-irvin/blezero/sensor"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for enviro-ble peripherals",
	Long: `Scan for BLE peripherals advertising the environmental sensing service
and display their names, addresses and signal strength.

Use --all to list every advertiser in range regardless of service.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanAll      bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 5*time.Second, "Scan duration")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List all advertisers, not just environmental sensing ones")
}

func runScan(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "")
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	tr := transport.NewBLE(logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), scanDuration)
	defer cancel()

	fmt.Fprintf(os.Stderr, "Scanning for %v...\n", scanDuration)
	err = tr.Scan(ctx, false, func(transport.Advertisement) bool {
		return true // collect until the window elapses
	})
	if err != nil {
		return err
	}

	advs := tr.Seen()
	if !scanAll {
		filtered := advs[:0]
		for _, adv := range advs {
			if advertisesEnvironmentalSensing(adv) {
				filtered = append(filtered, adv)
			}
		}
		advs = filtered
	}
	sort.Slice(advs, func(i, j int) bool { return advs[i].RSSI() > advs[j].RSSI() })

	if len(advs) == 0 {
		fmt.Println("No devices found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tCONNECTABLE")
	for _, adv := range advs {
		name := adv.LocalName()
		if name == "" {
			name = "(unknown)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", name, adv.Addr(), adv.RSSI(), adv.Connectable())
	}
	return w.Flush()
}

func advertisesEnvironmentalSensing(adv transport.Advertisement) bool {
	for _, svc := range adv.Services() {
		if sensor.NormalizeUUID(svc) == sensor.ServiceEnvironmentalSensing {
			return true
		}
	}
	return false
}
